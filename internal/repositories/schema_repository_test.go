package repositories

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nkit/internal/database"
	"nkit/internal/models"
	"nkit/internal/testutil"
)

func TestIntrospectDatabase_SQLite(t *testing.T) {
	conn := testutil.OpenSQLite(t, testutil.ShopSchema)
	provider, err := NewSchemaProvider(conn)
	require.NoError(t, err)

	db, err := IntrospectDatabase(context.Background(), provider, "shop", conn.Dialect)
	require.NoError(t, err)

	assert.Equal(t, "shop", db.Name)
	assert.Equal(t, "sqlite", db.Dialect)
	assert.Equal(t, []string{"customers", "order_items", "orders", "products"}, db.TableNames())

	customers := db.Table("customers")
	require.NotNil(t, customers)
	assert.Equal(t, []string{"id", "name", "email", "created_at"}, customers.ColumnNames())
	assert.Equal(t, []string{"id"}, customers.PrimaryKeys)

	id := customers.Column("id")
	assert.True(t, id.IsKey)
	assert.True(t, id.IsIdentity)
	assert.False(t, id.Nullable)
	assert.Equal(t, 1, id.Position)

	name := customers.Column("name")
	assert.False(t, name.Nullable)
	assert.Equal(t, "TEXT", name.DataType)

	email := customers.Column("email")
	assert.True(t, email.Nullable)
	assert.True(t, email.IsUnique)
	assert.Equal(t, "VARCHAR(120)", email.DataType)

	products := db.Table("products")
	require.NotNil(t, products)
	sku := products.Column("sku")
	assert.True(t, sku.IsKey)
	assert.False(t, sku.IsIdentity)
	require.NotNil(t, products.Column("active").Default)
	assert.Equal(t, "1", *products.Column("active").Default)

	items := db.Table("order_items")
	require.NotNil(t, items)
	assert.Equal(t, []string{"order_id", "sku"}, items.PrimaryKeys)
	assert.False(t, items.Column("order_id").IsIdentity)
	_, hasKey := items.KeyColumn()
	assert.False(t, hasKey)
	require.Len(t, items.ForeignKeys, 2)

	orders := db.Table("orders")
	require.Len(t, orders.ForeignKeys, 1)
	fk := orders.ForeignKeys[0]
	assert.Equal(t, "orders", fk.ChildTable)
	assert.Equal(t, "customer_id", fk.ChildColumn)
	assert.Equal(t, "customers", fk.ParentTable)
	assert.Equal(t, "id", fk.ParentColumn)

	children := db.Children("CUSTOMERS")
	require.Len(t, children, 1)
	assert.Equal(t, "orders", children[0].ChildTable)
	assert.Len(t, db.Children("products"), 1)
}

func TestSQLiteSchemaRepository_ImplicitParentColumn(t *testing.T) {
	conn := testutil.OpenSQLite(t,
		`CREATE TABLE parent (code TEXT PRIMARY KEY)`,
		`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_code TEXT REFERENCES parent)`,
	)
	repo := NewSQLiteSchemaRepository(conn.DB)

	fks, err := repo.GetForeignKeys(context.Background(), "", "child")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "code", fks[0].ParentColumn)
}

func TestIntrospectDatabase_ErrorNamesTable(t *testing.T) {
	conn := testutil.OpenSQLite(t, `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`)
	provider := &failingProvider{SchemaProvider: NewSQLiteSchemaRepository(conn.DB)}

	_, err := IntrospectDatabase(context.Background(), provider, "test", conn.Dialect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "widgets")
	assert.ErrorIs(t, err, errBoom)
}

type failingProvider struct {
	SchemaProvider
}

var errBoom = assert.AnError

func (p *failingProvider) GetForeignKeys(context.Context, string, string) ([]models.ForeignKey, error) {
	return nil, errBoom
}

func newMockDB(t *testing.T, dialect string) (*sqlx.DB, sqlmock.Sqlmock, *database.Dialect) {
	t.Helper()
	d, err := database.Lookup(dialect)
	require.NoError(t, err)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return sqlx.NewDb(mockDB, d.DriverName), mock, d
}

func TestInformationSchemaRepository_MySQL(t *testing.T) {
	db, mock, d := newMockDB(t, "mysql")
	repo := NewInformationSchemaRepository(db, d)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DATABASE()")).
		WillReturnRows(sqlmock.NewRows([]string{"DATABASE()"}).AddRow("shop"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES\s+WHERE TABLE_SCHEMA = \?`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("customers").AddRow("orders"))

	tables, err := repo.GetTables(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)

	mock.ExpectQuery(`EXTRA LIKE '%auto_increment%'`).
		WithArgs("shop", "customers").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "ordinal_position", "data_type", "is_nullable", "column_default", "is_identity"}).
			AddRow("id", 1, "int", "NO", nil, 1).
			AddRow("name", 2, "varchar", "YES", "anon", 0))

	cols, err := repo.GetColumns(ctx, "shop", "customers")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].IsIdentity)
	assert.False(t, cols[0].Nullable)
	assert.Nil(t, cols[0].Default)
	assert.False(t, cols[1].IsIdentity)
	assert.True(t, cols[1].Nullable)
	require.NotNil(t, cols[1].Default)
	assert.Equal(t, "anon", *cols[1].Default)

	mock.ExpectQuery(`REFERENCED_TABLE_NAME IS NOT NULL`).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}).
			AddRow("fk_orders_customer", "customer_id", "customers", "id"))

	fks, err := repo.GetForeignKeys(ctx, "shop", "orders")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "orders", fks[0].ChildTable)
	assert.Equal(t, "customers", fks[0].ParentTable)

	mock.ExpectQuery(`CONSTRAINT_TYPE = 'UNIQUE'`).
		WithArgs("shop", "customers").
		WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME"}).
			AddRow("uq_email", "email").
			AddRow("uq_pair", "first").
			AddRow("uq_pair", "last"))

	unique, err := repo.GetUniqueColumns(ctx, "shop", "customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, unique)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInformationSchemaRepository_SQLServer(t *testing.T) {
	db, mock, d := newMockDB(t, "sqlserver")
	repo := NewInformationSchemaRepository(db, d)
	ctx := context.Background()

	mock.ExpectQuery(`COLUMNPROPERTY\(.*'IsIdentity'\).*WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2`).
		WithArgs("dbo", "Orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "ordinal_position", "data_type", "is_nullable", "column_default", "is_identity"}).
			AddRow("OrderID", 1, "int", "NO", nil, 1).
			AddRow("Code", 2, "uniqueidentifier", "NO", "(newid())", 0))

	cols, err := repo.GetColumns(ctx, "", "Orders")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].IsIdentity)
	assert.Equal(t, "uniqueidentifier", cols[1].DataType)

	mock.ExpectQuery(`CONSTRAINT_TYPE = 'PRIMARY KEY'.*TABLE_SCHEMA = @p1.*TABLE_NAME = @p2`).
		WithArgs("dbo", "Orders").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("OrderID"))

	pks, err := repo.GetPrimaryKeys(ctx, "", "Orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"OrderID"}, pks)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSchemaProvider(t *testing.T) {
	for _, name := range []string{"sqlserver", "mysql"} {
		db, _, d := newMockDB(t, name)
		p, err := NewSchemaProvider(database.NewConn(db, d))
		require.NoError(t, err)
		assert.IsType(t, &InformationSchemaRepository{}, p)
	}

	db, _, d := newMockDB(t, "postgres")
	_, err := NewSchemaProvider(database.NewConn(db, d))
	assert.Error(t, err, "postgres needs a pool")
}
