package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"nkit/internal/database"
	"nkit/internal/models"
)

// InformationSchemaRepository introspects SQL Server and MySQL through
// INFORMATION_SCHEMA with sqlx. Queries are written with '?' bindvars and
// rebound for the dialect.
type InformationSchemaRepository struct {
	db      *sqlx.DB
	dialect *database.Dialect
}

func NewInformationSchemaRepository(db *sqlx.DB, dialect *database.Dialect) *InformationSchemaRepository {
	return &InformationSchemaRepository{db: db, dialect: dialect}
}

// identityExpr reports per dialect whether column c is auto-generated.
var identityExpr = map[string]string{
	"sqlserver": "COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity')",
	"mysql":     "CASE WHEN c.EXTRA LIKE '%auto_increment%' THEN 1 ELSE 0 END",
}

// foreignKeyQueries select (constraint, child column, parent table, parent column).
var foreignKeyQueries = map[string]string{
	"sqlserver": `
		SELECT rc.CONSTRAINT_NAME, kcu.COLUMN_NAME, pk.TABLE_NAME, pk.COLUMN_NAME
		FROM INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON kcu.CONSTRAINT_SCHEMA = rc.CONSTRAINT_SCHEMA
			AND kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE pk
			ON pk.CONSTRAINT_SCHEMA = rc.UNIQUE_CONSTRAINT_SCHEMA
			AND pk.CONSTRAINT_NAME = rc.UNIQUE_CONSTRAINT_NAME
			AND pk.ORDINAL_POSITION = kcu.ORDINAL_POSITION
		WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
		ORDER BY rc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
	"mysql": `
		SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME, kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
}

// resolveSchema maps an empty schema to the connection's current database on
// MySQL, where a schema is a database.
func (r *InformationSchemaRepository) resolveSchema(ctx context.Context, schema string) (string, error) {
	if schema != "" {
		return schema, nil
	}
	if r.dialect.DefaultSchema != "" {
		return r.dialect.DefaultSchema, nil
	}
	var current sql.NullString
	if err := r.db.GetContext(ctx, &current, "SELECT DATABASE()"); err != nil {
		return "", fmt.Errorf("failed to resolve current database: %w", err)
	}
	if !current.Valid || current.String == "" {
		return "", fmt.Errorf("no database selected")
	}
	return current.String, nil
}

func (r *InformationSchemaRepository) GetTables(ctx context.Context, schema string) ([]string, error) {
	schema, err := r.resolveSchema(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		AND TABLE_NAME <> 'sysdiagrams'
		ORDER BY TABLE_NAME`

	var tables []string
	if err := r.db.SelectContext(ctx, &tables, r.dialect.Rebind(query), schema); err != nil {
		return nil, err
	}
	return tables, nil
}

type infoSchemaColumn struct {
	Name       string         `db:"column_name"`
	Position   int            `db:"ordinal_position"`
	DataType   string         `db:"data_type"`
	IsNullable string         `db:"is_nullable"`
	Default    sql.NullString `db:"column_default"`
	Identity   sql.NullInt64  `db:"is_identity"`
}

func (r *InformationSchemaRepository) GetColumns(ctx context.Context, schema, table string) ([]models.Column, error) {
	schema, err := r.resolveSchema(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT c.COLUMN_NAME AS column_name,
			c.ORDINAL_POSITION AS ordinal_position,
			c.DATA_TYPE AS data_type,
			c.IS_NULLABLE AS is_nullable,
			c.COLUMN_DEFAULT AS column_default,
			%s AS is_identity
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ?
		ORDER BY c.ORDINAL_POSITION`, identityExpr[r.dialect.Name])

	var rows []infoSchemaColumn
	if err := r.db.SelectContext(ctx, &rows, r.dialect.Rebind(query), schema, table); err != nil {
		return nil, err
	}

	columns := make([]models.Column, len(rows))
	for i, row := range rows {
		columns[i] = models.Column{
			Name:       row.Name,
			Position:   row.Position,
			DataType:   row.DataType,
			Nullable:   row.IsNullable == "YES",
			IsIdentity: row.Identity.Valid && row.Identity.Int64 == 1,
		}
		if row.Default.Valid {
			def := row.Default.String
			columns[i].Default = &def
		}
	}
	return columns, nil
}

func (r *InformationSchemaRepository) GetPrimaryKeys(ctx context.Context, schema, table string) ([]string, error) {
	schema, err := r.resolveSchema(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			AND tc.TABLE_NAME = kcu.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND tc.TABLE_SCHEMA = ?
			AND tc.TABLE_NAME = ?
		ORDER BY kcu.ORDINAL_POSITION`

	var pks []string
	if err := r.db.SelectContext(ctx, &pks, r.dialect.Rebind(query), schema, table); err != nil {
		return nil, err
	}
	return pks, nil
}

func (r *InformationSchemaRepository) GetForeignKeys(ctx context.Context, schema, table string) ([]models.ForeignKey, error) {
	schema, err := r.resolveSchema(ctx, schema)
	if err != nil {
		return nil, err
	}

	query, ok := foreignKeyQueries[r.dialect.Name]
	if !ok {
		return nil, fmt.Errorf("no foreign key query for dialect %q", r.dialect.Name)
	}

	rows, err := r.db.QueryxContext(ctx, r.dialect.Rebind(query), schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []models.ForeignKey
	for rows.Next() {
		fk := models.ForeignKey{ChildTable: table}
		if err := rows.Scan(&fk.ConstraintName, &fk.ChildColumn, &fk.ParentTable, &fk.ParentColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fks, nil
}

func (r *InformationSchemaRepository) GetUniqueColumns(ctx context.Context, schema, table string) ([]string, error) {
	schema, err := r.resolveSchema(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tc.CONSTRAINT_NAME, kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			AND tc.TABLE_NAME = kcu.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'UNIQUE'
			AND tc.TABLE_SCHEMA = ?
			AND tc.TABLE_NAME = ?`

	rows, err := r.db.QueryxContext(ctx, r.dialect.Rebind(query), schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var constraint, column string
		if err := rows.Scan(&constraint, &column); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{constraint, column})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return singleColumnConstraints(pairs), nil
}
