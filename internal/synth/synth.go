// Package synth builds Go struct types for database tables at runtime and
// renders them as Go source for build-time generation.
package synth

import (
	"encoding/xml"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"nkit/internal/database"
	"nkit/internal/models"
)

var xmlNameType = reflect.TypeOf(xml.Name{})

// Field maps one struct field to one column.
type Field struct {
	Name   string
	Column string
	Index  int
	Kind   database.Kind
	GoType reflect.Type
}

// Entity is the synthesized row type of a table. Field i maps Table.Columns[i].
type Entity struct {
	Name   string
	Table  *models.Table
	Type   reflect.Type
	Fields []Field
}

// Synthesizer builds and caches one Entity per table. A synthesized type is
// never modified; Reset drops the cache so the next call builds fresh types.
type Synthesizer struct {
	dialect *database.Dialect

	mu       sync.Mutex
	entities map[string]*Entity
}

func New(dialect *database.Dialect) *Synthesizer {
	return &Synthesizer{
		dialect:  dialect,
		entities: make(map[string]*Entity),
	}
}

// Synthesize returns the row type of table, building it on first use. A
// cached entity is reused only for the same *models.Table, so a caller
// holding a table from before a refresh never poisons the cache.
func (s *Synthesizer) Synthesize(table *models.Table) (*Entity, error) {
	key := strings.ToLower(table.Name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[key]; ok && e.Table == table {
		return e, nil
	}
	e, err := build(s.dialect, table)
	if err != nil {
		return nil, err
	}
	s.entities[key] = e
	return e, nil
}

// Reset forgets every synthesized type.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*Entity)
}

func build(dialect *database.Dialect, table *models.Table) (*Entity, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table.Name)
	}

	xmlRoot := table.Name
	if !tagSafe(xmlRoot) {
		xmlRoot = TypeName(table.Name)
	}

	structFields := make([]reflect.StructField, 0, len(table.Columns)+1)
	structFields = append(structFields, reflect.StructField{
		Name: "XMLName",
		Type: xmlNameType,
		Tag:  reflect.StructTag(`db:"-" json:"-" yaml:"-" xml:` + strconv.Quote(xmlRoot)),
	})

	names := uniqueNames(table.ColumnNames(), "XMLName", "TableName")
	fields := make([]Field, len(table.Columns))
	for i, col := range table.Columns {
		conv, err := dialect.Types.Lookup(col.DataType)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", table.Name, col.Name, err)
		}

		goType := conv.GoType
		if col.Nullable && goType.Kind() != reflect.Interface && goType.Kind() != reflect.Slice {
			goType = reflect.PointerTo(goType)
		}

		fields[i] = Field{Name: names[i], Column: col.Name, Index: i + 1, Kind: conv.Kind, GoType: goType}
		structFields = append(structFields, reflect.StructField{
			Name: names[i],
			Type: goType,
			Tag:  fieldTag(col.Name, names[i]),
		})
	}

	return &Entity{
		Name:   TypeName(table.Name),
		Table:  table,
		Type:   reflect.StructOf(structFields),
		Fields: fields,
	}, nil
}

func fieldTag(column, field string) reflect.StructTag {
	name := column
	if !tagSafe(name) {
		name = field
	}
	q := strconv.Quote(name)
	return reflect.StructTag(fmt.Sprintf("db:%s json:%s xml:%s yaml:%s", strconv.Quote(column), q, q, q))
}

// New returns a pointer to a zero value of the entity type.
func (e *Entity) New() any {
	return reflect.New(e.Type).Interface()
}

// NewSlice returns a pointer to an empty slice of the entity type.
func (e *Entity) NewSlice() any {
	return reflect.New(reflect.SliceOf(e.Type)).Interface()
}

// ToRecord reads a synthesized value (or pointer to one) into a map keyed by
// column name. nil pointers become nil.
func (e *Entity) ToRecord(v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Type() != e.Type {
		return nil, fmt.Errorf("value of type %s is not a %s row", rv.Type(), e.Table.Name)
	}

	rec := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		fv := rv.Field(f.Index)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				rec[f.Column] = nil
				continue
			}
			fv = fv.Elem()
		}
		if fv.Kind() == reflect.Interface && fv.IsNil() {
			rec[f.Column] = nil
			continue
		}
		rec[f.Column] = fv.Interface()
	}
	return rec, nil
}

// FromRecord builds a synthesized value from a record. Keys match columns
// case-insensitively; unknown keys are an error.
func (e *Entity) FromRecord(rec map[string]any) (any, error) {
	ptr := reflect.New(e.Type)
	rv := ptr.Elem()

	for key, v := range rec {
		f, ok := e.field(key)
		if !ok {
			return nil, fmt.Errorf("%s has no column %q", e.Table.Name, key)
		}
		if err := database.Assign(rv.Field(f.Index), v); err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Column, err)
		}
	}
	return ptr.Interface(), nil
}

func (e *Entity) field(column string) (Field, bool) {
	for _, f := range e.Fields {
		if strings.EqualFold(f.Column, column) {
			return f, true
		}
	}
	return Field{}, false
}
