package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nkit/internal/database"
)

// ShopSchema is a small schema with an identity key, a text key, a foreign
// key, a unique column and a junction table.
const ShopSchema = `
CREATE TABLE customers (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	email VARCHAR(120) UNIQUE,
	created_at DATETIME
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(id),
	total REAL,
	note TEXT
);
CREATE TABLE products (
	sku TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	price NUMERIC,
	active BOOLEAN DEFAULT 1
);
CREATE TABLE order_items (
	order_id INTEGER NOT NULL REFERENCES orders(id),
	sku TEXT NOT NULL REFERENCES products(sku),
	qty INTEGER,
	PRIMARY KEY (order_id, sku)
);
`

// SQLiteDSN is the DSN of a SQLite file with foreign keys enforced.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}

// OpenSQLite opens a file-backed SQLite database in a temp dir and runs the
// given DDL against it. The connection is closed when the test ends.
func OpenSQLite(t testing.TB, ddl ...string) *database.Conn {
	t.Helper()
	return OpenSQLiteFile(t, filepath.Join(t.TempDir(), "test.db"), ddl...)
}

// OpenSQLiteFile is OpenSQLite for a database at path.
func OpenSQLiteFile(t testing.TB, path string, ddl ...string) *database.Conn {
	t.Helper()

	dsn := SQLiteDSN(path)
	conn, err := database.Connect(context.Background(), database.Config{Dialect: "sqlite", DSN: dsn}, NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	for _, stmt := range ddl {
		_, err := conn.DB.Exec(stmt)
		require.NoError(t, err)
	}
	return conn
}
