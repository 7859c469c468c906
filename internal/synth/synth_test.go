package synth

import (
	"encoding/json"
	"encoding/xml"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"nkit/internal/database"
	"nkit/internal/models"
)

func dialect(t *testing.T, name string) *database.Dialect {
	t.Helper()
	d, err := database.Lookup(name)
	require.NoError(t, err)
	return d
}

func customersTable() *models.Table {
	return &models.Table{
		Name:        "customers",
		PrimaryKeys: []string{"id"},
		Columns: []models.Column{
			{Name: "id", DataType: "INTEGER", IsKey: true, IsIdentity: true},
			{Name: "full_name", DataType: "TEXT"},
			{Name: "email", DataType: "VARCHAR(120)", Nullable: true},
			{Name: "created_at", DataType: "DATETIME", Nullable: true},
			{Name: "avatar", DataType: "BLOB", Nullable: true},
			{Name: "Full Name", DataType: "TEXT", Nullable: true},
		},
	}
}

func TestFieldName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"id", "ID"},
		{"customer_id", "CustomerID"},
		{"full name", "FullName"},
		{"firstName", "FirstName"},
		{"2fa", "X2fa"},
		{"___", "X"},
		{"api_url", "APIURL"},
		{"größe", "Größe"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, FieldName(tt.input))
		})
	}
}

func TestSynthesize_Fields(t *testing.T) {
	s := New(dialect(t, "sqlite"))
	e, err := s.Synthesize(customersTable())
	require.NoError(t, err)

	assert.Equal(t, "Customers", e.Name)
	require.Len(t, e.Fields, 6)
	assert.Equal(t, 7, e.Type.NumField(), "XMLName plus one field per column")

	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
		assert.Equal(t, e.Table.Columns[i].Name, f.Column)
	}
	assert.Equal(t, []string{"ID", "FullName", "Email", "CreatedAt", "Avatar", "FullName2"}, names)

	id, _ := e.Type.FieldByName("ID")
	assert.Equal(t, reflect.TypeOf(int64(0)), id.Type)
	assert.Equal(t, "id", id.Tag.Get("db"))
	assert.Equal(t, "id", id.Tag.Get("json"))

	email, _ := e.Type.FieldByName("Email")
	assert.Equal(t, reflect.TypeOf((*string)(nil)), email.Type, "nullable columns are pointers")

	avatar, _ := e.Type.FieldByName("Avatar")
	assert.Equal(t, reflect.TypeOf([]byte(nil)), avatar.Type, "slices are already nullable")

	spaced, _ := e.Type.FieldByName("FullName2")
	assert.Equal(t, "Full Name", spaced.Tag.Get("db"))
	assert.Equal(t, "FullName2", spaced.Tag.Get("json"), "unsafe names fall back to the field name")
}

func TestSynthesize_CachesAndResets(t *testing.T) {
	s := New(dialect(t, "sqlite"))
	table := customersTable()

	first, err := s.Synthesize(table)
	require.NoError(t, err)
	second, err := s.Synthesize(table)
	require.NoError(t, err)
	assert.Same(t, first, second)

	s.Reset()
	table.Columns = table.Columns[:2]
	third, err := s.Synthesize(table)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Len(t, third.Fields, 2)
	assert.Len(t, first.Fields, 6, "existing types are never modified")
}

func TestSynthesize_RebuildsForNewTable(t *testing.T) {
	s := New(dialect(t, "sqlite"))
	stale := customersTable()
	stale.Columns = stale.Columns[:2]

	old, err := s.Synthesize(stale)
	require.NoError(t, err)

	fresh := customersTable()
	current, err := s.Synthesize(fresh)
	require.NoError(t, err)
	assert.NotSame(t, old, current)
	assert.Same(t, fresh, current.Table)
	assert.Len(t, current.Fields, 6)

	// a stale table seen in between never leaks into the current one
	_, err = s.Synthesize(stale)
	require.NoError(t, err)
	again, err := s.Synthesize(fresh)
	require.NoError(t, err)
	assert.Len(t, again.Fields, 6)
}

func TestSynthesize_UnmappedType(t *testing.T) {
	s := New(dialect(t, "postgres"))
	table := &models.Table{Name: "shapes", Columns: []models.Column{
		{Name: "id", DataType: "integer"},
		{Name: "outline", DataType: "polygon"},
	}}

	_, err := s.Synthesize(table)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrUnmappedType)
	assert.Contains(t, err.Error(), "shapes")
	assert.Contains(t, err.Error(), "outline")
}

func TestEntity_RecordRoundTrip(t *testing.T) {
	s := New(dialect(t, "sqlite"))
	e, err := s.Synthesize(customersTable())
	require.NoError(t, err)

	created := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	v, err := e.FromRecord(map[string]any{
		"ID":         int64(4),
		"full_name":  "Ada",
		"email":      nil,
		"created_at": created,
	})
	require.NoError(t, err)

	rec, err := e.ToRecord(v)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec["id"])
	assert.Equal(t, "Ada", rec["full_name"])
	assert.Nil(t, rec["email"])
	assert.Equal(t, created, rec["created_at"])
	assert.Len(t, rec, 6, "every column maps to one key")

	_, err = e.FromRecord(map[string]any{"nickname": "x"})
	assert.Error(t, err)

	_, err = e.ToRecord(struct{}{})
	assert.Error(t, err)
}

func TestEntity_Encodings(t *testing.T) {
	s := New(dialect(t, "sqlite"))
	e, err := s.Synthesize(customersTable())
	require.NoError(t, err)

	v := e.New()
	require.NoError(t, json.Unmarshal([]byte(`{"id": 9, "full_name": "Grace", "email": "g@example.com"}`), v))
	rec, err := e.ToRecord(v)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec["id"])
	assert.Equal(t, "g@example.com", rec["email"])

	out, err := xml.Marshal(v)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<customers>"), string(out))
	assert.Contains(t, string(out), "<full_name>Grace</full_name>")

	back := e.New()
	require.NoError(t, xml.Unmarshal(out, back))
	rec, err = e.ToRecord(back)
	require.NoError(t, err)
	assert.Equal(t, "Grace", rec["full_name"])

	y, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(y), "full_name: Grace")
	assert.NotContains(t, string(y), "xmlname")
}
