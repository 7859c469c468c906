package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
)

// ReturningStyle selects how a generated key is read back after INSERT.
type ReturningStyle int

const (
	ReturningLastInsertID ReturningStyle = iota
	ReturningClause                      // INSERT ... RETURNING col
	ReturningOutput                      // INSERT ... OUTPUT INSERTED.col VALUES ...
)

// LimitStyle selects how row limits are written.
type LimitStyle int

const (
	LimitSuffix LimitStyle = iota // SELECT ... LIMIT n
	LimitTop                      // SELECT TOP (n) ...
)

// Dialect describes one database backend.
type Dialect struct {
	Name          string
	DriverName    string
	DefaultSchema string
	QuoteOpen     string
	QuoteClose    string
	Returning     ReturningStyle
	Limit         LimitStyle
	Types         *TypeTable

	connect  func(ctx context.Context, d *Dialect, cfg Config) (*Conn, error)
	deadlock func(err error) bool
	decode   func(kind Kind, v any) any
}

// Quote quotes a single identifier, doubling any embedded close quote.
func (d *Dialect) Quote(ident string) string {
	return d.QuoteOpen + strings.ReplaceAll(ident, d.QuoteClose, d.QuoteClose+d.QuoteClose) + d.QuoteClose
}

// QuoteTable quotes a table name, qualified with its schema when one is set.
func (d *Dialect) QuoteTable(schema, name string) string {
	if schema == "" {
		return d.Quote(name)
	}
	return d.Quote(schema) + "." + d.Quote(name)
}

// Rebind rewrites '?' bindvars into the dialect's placeholder syntax.
func (d *Dialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(d.DriverName), query)
}

// IsDeadlock reports whether err is a deadlock or lock-conflict error that
// is worth retrying.
func (d *Dialect) IsDeadlock(err error) bool {
	if err == nil || d.deadlock == nil {
		return false
	}
	return d.deadlock(err)
}

// Decode normalizes a value returned by the driver for a column of the given
// kind. Values that cannot be converted are returned unchanged.
func (d *Dialect) Decode(kind Kind, v any) any {
	if v == nil {
		return nil
	}
	if d.decode != nil {
		v = d.decode(kind, v)
	}
	if kind == KindBytes {
		return v
	}
	out, err := Coerce(kind, v)
	if err != nil {
		return v
	}
	return out
}

// SelectSQL builds "SELECT cols FROM table [WHERE where] [limit]".
func (d *Dialect) SelectSQL(cols, from, where string, limit int) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if limit > 0 && d.Limit == LimitTop {
		fmt.Fprintf(&sb, "TOP (%d) ", limit)
	}
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(from)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if limit > 0 && d.Limit == LimitSuffix {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String()
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Dialect)
	aliases    = make(map[string]string)
)

// Register adds a dialect and its aliases to the registry.
// Called by dialect files in their init() functions.
func Register(d *Dialect, alias ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name] = d
	for _, a := range alias {
		aliases[a] = d.Name
	}
}

// Lookup returns a registered dialect by name or alias.
func Lookup(name string) (*Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	if d, ok := registry[key]; ok {
		return d, nil
	}
	return nil, &UnknownDialectError{Name: name, Available: dialectNames()}
}

// Dialects returns all registered dialect names (sorted).
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return dialectNames()
}

func dialectNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownDialectError is returned when an unregistered dialect is requested.
type UnknownDialectError struct {
	Name      string
	Available []string
}

func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("unknown database dialect %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
