package models

import (
	"encoding/xml"
	"strings"
	"time"
)

// Column is one column of a table as reported by the schema catalog.
type Column struct {
	Name       string  `json:"name" xml:"name,attr" yaml:"name"`
	Position   int     `json:"position" xml:"position,attr" yaml:"position"`
	DataType   string  `json:"data_type" xml:"data_type,attr" yaml:"data_type"`
	Nullable   bool    `json:"nullable" xml:"nullable,attr" yaml:"nullable"`
	IsKey      bool    `json:"is_key" xml:"is_key,attr" yaml:"is_key"`
	IsIdentity bool    `json:"is_identity" xml:"is_identity,attr" yaml:"is_identity"`
	IsUnique   bool    `json:"is_unique,omitempty" xml:"is_unique,attr,omitempty" yaml:"is_unique,omitempty"`
	Default    *string `json:"default,omitempty" xml:"default,omitempty" yaml:"default,omitempty"`
}

// ForeignKey links a child column to the parent column it references.
type ForeignKey struct {
	ConstraintName string `json:"constraint_name" xml:"constraint_name,attr" yaml:"constraint_name"`
	ChildTable     string `json:"child_table" xml:"child_table,attr" yaml:"child_table"`
	ChildColumn    string `json:"child_column" xml:"child_column,attr" yaml:"child_column"`
	ParentTable    string `json:"parent_table" xml:"parent_table,attr" yaml:"parent_table"`
	ParentColumn   string `json:"parent_column" xml:"parent_column,attr" yaml:"parent_column"`
}

type Table struct {
	Name        string       `json:"name" xml:"name,attr" yaml:"name"`
	Schema      string       `json:"schema,omitempty" xml:"schema,attr,omitempty" yaml:"schema,omitempty"`
	TypeName    string       `json:"type_name,omitempty" xml:"type_name,attr,omitempty" yaml:"type_name,omitempty"`
	Columns     []Column     `json:"columns" xml:"column" yaml:"columns"`
	PrimaryKeys []string     `json:"primary_keys" xml:"primary_key" yaml:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" xml:"foreign_key" yaml:"foreign_keys,omitempty"`
}

// Column returns the named column, matched case-insensitively, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

func (t *Table) HasColumn(name string) bool {
	return t.Column(name) != nil
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumn returns the surrogate key column. Tables without exactly one
// primary key column have no surrogate key.
func (t *Table) KeyColumn() (*Column, bool) {
	if len(t.PrimaryKeys) != 1 {
		return nil, false
	}
	col := t.Column(t.PrimaryKeys[0])
	return col, col != nil
}

// Database is the schema of one connected database. ConnectionString is
// never serialized.
type Database struct {
	XMLName          xml.Name  `json:"-" xml:"database" yaml:"-"`
	Name             string    `json:"name" xml:"name,attr" yaml:"name"`
	Dialect          string    `json:"dialect" xml:"dialect,attr" yaml:"dialect"`
	ConnectionString string    `json:"-" xml:"-" yaml:"-"`
	GeneratedAt      time.Time `json:"generated_at" xml:"generated_at,attr" yaml:"generated_at"`
	Tables           []Table   `json:"tables" xml:"table" yaml:"tables"`

	children map[string][]ForeignKey
}

// Table resolves a table by name or by mapped type name, case-insensitively.
func (d *Database) Table(name string) *Table {
	for i := range d.Tables {
		if strings.EqualFold(d.Tables[i].Name, name) {
			return &d.Tables[i]
		}
	}
	for i := range d.Tables {
		if d.Tables[i].TypeName != "" && strings.EqualFold(d.Tables[i].TypeName, name) {
			return &d.Tables[i]
		}
	}
	return nil
}

func (d *Database) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = t.Name
	}
	return names
}

// BuildRelations recomputes the parent to children adjacency from the
// foreign keys of every table. It must be called after the tables change.
func (d *Database) BuildRelations() {
	d.children = make(map[string][]ForeignKey)
	for _, t := range d.Tables {
		for _, fk := range t.ForeignKeys {
			parent := strings.ToLower(fk.ParentTable)
			d.children[parent] = append(d.children[parent], fk)
		}
	}
}

// Children returns the foreign keys that reference the given parent table.
func (d *Database) Children(parent string) []ForeignKey {
	if d.children == nil {
		d.BuildRelations()
	}
	return d.children[strings.ToLower(parent)]
}

// Relationship is an edge of the ER diagram.
type Relationship struct {
	FromTable string
	ToTable   string
	Type      string // "||--o{", "||--||", etc.
}
