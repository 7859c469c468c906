package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nkit/internal/database"
	"nkit/internal/models"
)

// SchemaProvider reads table metadata from a database catalog.
type SchemaProvider interface {
	// GetTables returns all user table names in the specified schema
	GetTables(ctx context.Context, schema string) ([]string, error)
	// GetColumns returns all columns for a table, in ordinal order
	GetColumns(ctx context.Context, schema, table string) ([]models.Column, error)
	// GetPrimaryKeys returns the primary key column names in key order
	GetPrimaryKeys(ctx context.Context, schema, table string) ([]string, error)
	// GetForeignKeys returns the foreign keys declared on a table
	GetForeignKeys(ctx context.Context, schema, table string) ([]models.ForeignKey, error)
	// GetUniqueColumns returns columns that carry a single-column unique constraint
	GetUniqueColumns(ctx context.Context, schema, table string) ([]string, error)
}

// NewSchemaProvider returns the introspector for the connection's dialect.
func NewSchemaProvider(conn *database.Conn) (SchemaProvider, error) {
	switch conn.Dialect.Name {
	case "sqlite":
		return NewSQLiteSchemaRepository(conn.DB), nil
	case "postgres":
		if conn.Pool == nil {
			return nil, fmt.Errorf("postgres introspection requires a pgx pool")
		}
		return NewPostgresSchemaRepository(conn.Pool), nil
	case "sqlserver", "mysql":
		return NewInformationSchemaRepository(conn.DB, conn.Dialect), nil
	default:
		return nil, fmt.Errorf("no schema provider for dialect %q", conn.Dialect.Name)
	}
}

// IntrospectDatabase reads every user table of the dialect's default schema
// and assembles a Database with relations built.
func IntrospectDatabase(ctx context.Context, provider SchemaProvider, name string, dialect *database.Dialect) (*models.Database, error) {
	schema := dialect.DefaultSchema

	tableNames, err := provider.GetTables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	db := &models.Database{
		Name:        name,
		Dialect:     dialect.Name,
		GeneratedAt: time.Now().UTC(),
		Tables:      make([]models.Table, 0, len(tableNames)),
	}

	for _, tableName := range tableNames {
		table, err := introspectTable(ctx, provider, schema, tableName)
		if err != nil {
			return nil, err
		}
		db.Tables = append(db.Tables, table)
	}

	db.BuildRelations()
	return db, nil
}

func introspectTable(ctx context.Context, provider SchemaProvider, schema, tableName string) (models.Table, error) {
	table := models.Table{Name: tableName, Schema: schema}

	columns, err := provider.GetColumns(ctx, schema, tableName)
	if err != nil {
		return table, fmt.Errorf("failed to get columns for %s: %w", tableName, err)
	}
	if len(columns) == 0 {
		return table, fmt.Errorf("table %s has no columns", tableName)
	}
	table.Columns = columns

	pks, err := provider.GetPrimaryKeys(ctx, schema, tableName)
	if err != nil {
		return table, fmt.Errorf("failed to get primary keys for %s: %w", tableName, err)
	}
	table.PrimaryKeys = pks

	fks, err := provider.GetForeignKeys(ctx, schema, tableName)
	if err != nil {
		return table, fmt.Errorf("failed to get foreign keys for %s: %w", tableName, err)
	}
	table.ForeignKeys = fks

	unique, err := provider.GetUniqueColumns(ctx, schema, tableName)
	if err != nil {
		return table, fmt.Errorf("failed to get unique constraints for %s: %w", tableName, err)
	}

	for i := range table.Columns {
		col := &table.Columns[i]
		col.IsKey = containsFold(pks, col.Name)
		col.IsUnique = containsFold(unique, col.Name)
	}

	return table, nil
}

func containsFold(list []string, item string) bool {
	for _, s := range list {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}

// singleColumnConstraints keeps the columns of constraints that cover
// exactly one column. pairs is a list of (constraint, column).
func singleColumnConstraints(pairs [][2]string) []string {
	counts := make(map[string]int)
	for _, p := range pairs {
		counts[p[0]]++
	}
	var cols []string
	for _, p := range pairs {
		if counts[p[0]] == 1 {
			cols = append(cols, p[1])
		}
	}
	return cols
}
