package synth

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nkit/internal/models"
)

// typeCheck parses and type-checks generated source as a standalone package.
func typeCheck(t *testing.T, src []byte) {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "models.go", src, parser.AllErrors)
	require.NoError(t, err)

	conf := types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
	_, err = conf.Check(file.Name.Name, fset, []*ast.File{file}, nil)
	require.NoError(t, err, "generated source:\n%s", src)
}

func TestGenerate(t *testing.T) {
	db := &models.Database{
		Name:    "shop",
		Dialect: "sqlite",
		Tables: []models.Table{
			*customersTable(),
			{Name: "order_items", Columns: []models.Column{
				{Name: "order_id", DataType: "INTEGER"},
				{Name: "qty", DataType: "INTEGER", Nullable: true},
			}},
		},
	}

	src, err := Generate(db, dialect(t, "sqlite"), "shopdb")
	require.NoError(t, err)

	code := string(src)
	assert.Contains(t, code, "package shopdb")
	assert.Contains(t, code, `"time"`)
	assert.Contains(t, code, "type Customers struct")
	assert.Contains(t, code, "type OrderItems struct")
	assert.Contains(t, code, "CreatedAt *time.Time")
	assert.Contains(t, code, "Avatar    []byte")
	assert.Contains(t, code, "Qty     *int64")
	assert.Contains(t, code, `func (OrderItems) TableName() string { return "order_items" }`)

	typeCheck(t, src)
}

func TestGenerate_ReservedMethodName(t *testing.T) {
	db := &models.Database{
		Name:    "audit",
		Dialect: "sqlite",
		Tables: []models.Table{{Name: "audit_log", Columns: []models.Column{
			{Name: "id", DataType: "INTEGER", IsKey: true, IsIdentity: true},
			{Name: "table_name", DataType: "TEXT"},
		}}},
	}

	src, err := Generate(db, dialect(t, "sqlite"), "auditdb")
	require.NoError(t, err)

	code := string(src)
	assert.Contains(t, code, "TableName2 string")
	assert.Contains(t, code, `func (AuditLog) TableName() string { return "audit_log" }`)
	typeCheck(t, src)
}

func TestGenerateSplit(t *testing.T) {
	db := &models.Database{
		Name:    "shop",
		Dialect: "sqlite",
		Tables: []models.Table{
			*customersTable(),
			{Name: "order items", Columns: []models.Column{{Name: "qty", DataType: "INTEGER"}}},
			{Name: "order_items", Columns: []models.Column{{Name: "qty", DataType: "INTEGER"}}},
			{Name: "log_windows", Columns: []models.Column{{Name: "at", DataType: "DATETIME"}}},
		},
	}

	files, err := GenerateSplit(db, dialect(t, "sqlite"), "shopdb")
	require.NoError(t, err)
	require.Len(t, files, 4)

	names := make([]string, len(files))
	fset := token.NewFileSet()
	parsed := make([]*ast.File, len(files))
	for i, f := range files {
		names[i] = f.Name
		parsed[i], err = parser.ParseFile(fset, f.Name, f.Src, parser.AllErrors)
		require.NoError(t, err, f.Name)
	}
	assert.Equal(t, []string{"customers.go", "orderitems.go", "orderitems2.go", "logwindows.go"}, names)
	assert.NotContains(t, string(files[0].Src), "OrderItems")
	assert.Contains(t, string(files[2].Src), "type OrderItems2 struct")
	assert.Contains(t, string(files[3].Src), `"time"`)
	assert.NotContains(t, string(files[1].Src), `"time"`)

	// the files only type-check as one package if type names never clash
	conf := types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
	_, err = conf.Check("shopdb", fset, parsed, nil)
	require.NoError(t, err)
}

func TestGenerate_Errors(t *testing.T) {
	db := &models.Database{Tables: []models.Table{{Name: "shapes", Columns: []models.Column{{Name: "outline", DataType: "polygon"}}}}}

	_, err := Generate(db, dialect(t, "postgres"), "x")
	assert.Error(t, err)

	_, err = Generate(db, dialect(t, "postgres"), "")
	assert.Error(t, err)
}

func TestEmitter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gen")
	em := NewEmitter(dir, nil)

	path, err := em.Emit("models.go", []byte("package gen\n"))
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = em.Emit("../escape.go", nil)
	assert.Error(t, err)

	other, err := em.Emit("other.go", []byte("package gen\n"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(other))

	assert.Len(t, em.Artifacts(), 2)
	require.NoError(t, em.Cleanup(), "already removed files are ignored")
	assert.NoFileExists(t, path)
	assert.Empty(t, em.Artifacts())
}
