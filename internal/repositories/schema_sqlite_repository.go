package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"nkit/internal/models"
)

// SQLiteSchemaRepository reads sqlite_master and the table PRAGMAs. SQLite
// has no schemas, so the schema argument is ignored.
type SQLiteSchemaRepository struct {
	db *sqlx.DB
}

func NewSQLiteSchemaRepository(db *sqlx.DB) *SQLiteSchemaRepository {
	// PRAGMA result sets grew columns across SQLite versions.
	return &SQLiteSchemaRepository{db: db.Unsafe()}
}

type sqliteColumnInfo struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

type sqliteForeignKeyInfo struct {
	ID    int            `db:"id"`
	Seq   int            `db:"seq"`
	Table string         `db:"table"`
	From  string         `db:"from"`
	To    sql.NullString `db:"to"`
}

type sqliteIndexInfo struct {
	Name   string `db:"name"`
	Unique int    `db:"unique"`
	Origin string `db:"origin"`
}

type sqliteIndexColumn struct {
	SeqNo int            `db:"seqno"`
	Name  sql.NullString `db:"name"`
}

func (r *SQLiteSchemaRepository) GetTables(ctx context.Context, _ string) ([]string, error) {
	var tables []string
	err := r.db.SelectContext(ctx, &tables, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return tables, nil
}

func (r *SQLiteSchemaRepository) tableInfo(ctx context.Context, table string) ([]sqliteColumnInfo, error) {
	var info []sqliteColumnInfo
	if err := r.db.SelectContext(ctx, &info, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table))); err != nil {
		return nil, err
	}
	return info, nil
}

func (r *SQLiteSchemaRepository) GetColumns(ctx context.Context, _ string, table string) ([]models.Column, error) {
	info, err := r.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}

	pkCount := 0
	for _, c := range info {
		if c.PK > 0 {
			pkCount++
		}
	}

	columns := make([]models.Column, 0, len(info))
	for _, c := range info {
		col := models.Column{
			Name:     c.Name,
			Position: c.CID + 1,
			DataType: c.Type,
			Nullable: c.NotNull == 0 && c.PK == 0,
		}
		if c.Default.Valid {
			def := c.Default.String
			col.Default = &def
		}
		// A lone INTEGER PRIMARY KEY aliases the rowid.
		if c.PK > 0 && pkCount == 1 && strings.EqualFold(c.Type, "INTEGER") {
			col.IsIdentity = true
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func (r *SQLiteSchemaRepository) GetPrimaryKeys(ctx context.Context, _ string, table string) ([]string, error) {
	info, err := r.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}

	var keyed []sqliteColumnInfo
	for _, c := range info {
		if c.PK > 0 {
			keyed = append(keyed, c)
		}
	}
	sort.Slice(keyed, func(i, j int) bool { return keyed[i].PK < keyed[j].PK })

	pks := make([]string, len(keyed))
	for i, c := range keyed {
		pks[i] = c.Name
	}
	return pks, nil
}

func (r *SQLiteSchemaRepository) GetForeignKeys(ctx context.Context, _ string, table string) ([]models.ForeignKey, error) {
	var info []sqliteForeignKeyInfo
	if err := r.db.SelectContext(ctx, &info, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLite(table))); err != nil {
		return nil, err
	}

	fks := make([]models.ForeignKey, 0, len(info))
	for _, fk := range info {
		parentColumn := fk.To.String
		if !fk.To.Valid || parentColumn == "" {
			// REFERENCES parent without a column list targets the parent key
			pks, err := r.GetPrimaryKeys(ctx, "", fk.Table)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve key of %s: %w", fk.Table, err)
			}
			if fk.Seq < len(pks) {
				parentColumn = pks[fk.Seq]
			}
		}
		fks = append(fks, models.ForeignKey{
			ConstraintName: fmt.Sprintf("fk_%s_%d", table, fk.ID),
			ChildTable:     table,
			ChildColumn:    fk.From,
			ParentTable:    fk.Table,
			ParentColumn:   parentColumn,
		})
	}
	return fks, nil
}

func (r *SQLiteSchemaRepository) GetUniqueColumns(ctx context.Context, _ string, table string) ([]string, error) {
	var indexes []sqliteIndexInfo
	if err := r.db.SelectContext(ctx, &indexes, fmt.Sprintf("PRAGMA index_list(%s)", quoteSQLite(table))); err != nil {
		return nil, err
	}

	var pairs [][2]string
	for _, idx := range indexes {
		if idx.Unique == 0 || idx.Origin == "pk" {
			continue
		}
		var cols []sqliteIndexColumn
		if err := r.db.SelectContext(ctx, &cols, fmt.Sprintf("PRAGMA index_info(%s)", quoteSQLite(idx.Name))); err != nil {
			return nil, err
		}
		for _, c := range cols {
			// expression index columns have no name
			if !c.Name.Valid {
				pairs = append(pairs, [2]string{idx.Name, ""})
				continue
			}
			pairs = append(pairs, [2]string{idx.Name, c.Name.String})
		}
	}

	var unique []string
	for _, col := range singleColumnConstraints(pairs) {
		if col != "" {
			unique = append(unique, col)
		}
	}
	return unique, nil
}

func quoteSQLite(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
