package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"

	"nkit/internal/database"
	"nkit/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrNoKey         = errors.New("table has no single-column primary key")
	ErrUnknownColumn = errors.New("unknown column")
	ErrInvalidValue  = errors.New("invalid value")
)

// Record is one row keyed by column name.
type Record map[string]any

// TableRepository builds and runs parameterized statements for one table.
// Every operation takes an optional sqlx.ExtContext, a *sqlx.DB or a
// *sqlx.Tx; nil runs against the repository's own pool.
type TableRepository struct {
	db      *sqlx.DB
	dialect *database.Dialect
	table   *models.Table
	kinds   []database.Kind
	logger  *slog.Logger
}

// NewTableRepository resolves the parameter kind of every column up front
// and fails on the first unmapped SQL type.
func NewTableRepository(conn *database.Conn, table *models.Table, logger *slog.Logger) (*TableRepository, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	kinds := make([]database.Kind, len(table.Columns))
	for i, col := range table.Columns {
		conv, err := conn.Dialect.Types.Lookup(col.DataType)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", table.Name, col.Name, err)
		}
		kinds[i] = conv.Kind
	}

	return &TableRepository{
		db:      conn.DB,
		dialect: conn.Dialect,
		table:   table,
		kinds:   kinds,
		logger:  logger.With(slog.String("table", table.Name)),
	}, nil
}

func (r *TableRepository) Table() *models.Table {
	return r.table
}

func (r *TableRepository) ext(e sqlx.ExtContext) sqlx.ExtContext {
	if e == nil {
		return r.db
	}
	return e
}

func (r *TableRepository) from() string {
	return r.dialect.QuoteTable(r.table.Schema, r.table.Name)
}

func (r *TableRepository) selectColumns() string {
	quoted := make([]string, len(r.table.Columns))
	for i, col := range r.table.Columns {
		quoted[i] = r.dialect.Quote(col.Name)
	}
	return strings.Join(quoted, ", ")
}

func (r *TableRepository) columnIndex(name string) (int, error) {
	for i := range r.table.Columns {
		if strings.EqualFold(r.table.Columns[i].Name, name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q in table %s", ErrUnknownColumn, name, r.table.Name)
}

func (r *TableRepository) keyIndex() (int, error) {
	key, ok := r.table.KeyColumn()
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrNoKey, r.table.Name)
	}
	return r.columnIndex(key.Name)
}

// compareIndex resolves the comparison column, defaulting to the key.
func (r *TableRepository) compareIndex(column string) (int, error) {
	if column == "" {
		return r.keyIndex()
	}
	return r.columnIndex(column)
}

func (r *TableRepository) bindValue(i int, v any) (any, error) {
	out, err := database.Coerce(r.kinds[i], v)
	if err != nil {
		return nil, fmt.Errorf("%w for column %s: %v", ErrInvalidValue, r.table.Columns[i].Name, err)
	}
	return out, nil
}

// normalize maps a record onto column slots in table order.
func (r *TableRepository) normalize(rec Record) ([]any, []bool, error) {
	values := make([]any, len(r.table.Columns))
	present := make([]bool, len(r.table.Columns))
	for name, v := range rec {
		i, err := r.columnIndex(name)
		if err != nil {
			return nil, nil, err
		}
		bound, err := r.bindValue(i, v)
		if err != nil {
			return nil, nil, err
		}
		values[i] = bound
		present[i] = true
	}
	return values, present, nil
}

func (r *TableRepository) toRecord(values []any, present []bool) Record {
	rec := make(Record, len(values))
	for i, col := range r.table.Columns {
		if present[i] {
			rec[col.Name] = values[i]
		}
	}
	return rec
}

// where builds the comparison for one column. NULL compares with IS NULL.
func (r *TableRepository) where(i int, value any) (string, []any) {
	col := r.dialect.Quote(r.table.Columns[i].Name)
	if value == nil {
		return col + " IS NULL", nil
	}
	return col + " = ?", []any{value}
}

func (r *TableRepository) filter(column string, value any) (string, []any, error) {
	i, err := r.compareIndex(column)
	if err != nil {
		return "", nil, err
	}
	bound, err := r.bindValue(i, value)
	if err != nil {
		return "", nil, err
	}
	clause, args := r.where(i, bound)
	return clause, args, nil
}

func isZero(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

func (r *TableRepository) insertSQL(cols []string, key *models.Column, generated bool) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(r.from())
	if len(cols) > 0 {
		sb.WriteString(" (" + strings.Join(cols, ", ") + ")")
	}
	if generated && r.dialect.Returning == database.ReturningOutput {
		sb.WriteString(" OUTPUT INSERTED." + r.dialect.Quote(key.Name))
	}
	switch {
	case len(cols) > 0:
		sb.WriteString(" VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")")
	case r.dialect.Name == "mysql":
		sb.WriteString(" () VALUES ()")
	default:
		sb.WriteString(" DEFAULT VALUES")
	}
	if generated && r.dialect.Returning == database.ReturningClause {
		sb.WriteString(" RETURNING " + r.dialect.Quote(key.Name))
	}
	return r.dialect.Rebind(sb.String())
}

// Insert writes rec and returns it with the generated key filled in.
// Identity columns without a value are left to the database.
func (r *TableRepository) Insert(ctx context.Context, e sqlx.ExtContext, rec Record) (Record, error) {
	values, present, err := r.normalize(rec)
	if err != nil {
		return nil, err
	}

	var cols []string
	var args []any
	for i, col := range r.table.Columns {
		if !present[i] {
			continue
		}
		if col.IsIdentity && isZero(values[i]) {
			present[i] = false
			continue
		}
		cols = append(cols, r.dialect.Quote(col.Name))
		args = append(args, values[i])
	}

	key, hasKey := r.table.KeyColumn()
	keyIdx := -1
	if hasKey {
		keyIdx, _ = r.columnIndex(key.Name)
	}
	generated := hasKey && key.IsIdentity && !present[keyIdx]

	query := r.insertSQL(cols, key, generated)
	r.logger.Debug("executing insert", slog.String("sql", query))
	out := r.toRecord(values, present)

	if !generated {
		if _, err := r.ext(e).ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", r.table.Name, err)
		}
		return out, nil
	}

	var id any
	if r.dialect.Returning == database.ReturningLastInsertID {
		res, err := r.ext(e).ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", r.table.Name, err)
		}
		lastID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read generated key of %s: %w", r.table.Name, err)
		}
		id = lastID
	} else if err := r.ext(e).QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", r.table.Name, err)
	}

	out[key.Name] = r.dialect.Decode(r.kinds[keyIdx], id)
	return out, nil
}

// Update writes every column present in rec to the rows whose compare
// column equals rec's value for it. An empty compareColumn means the key.
func (r *TableRepository) Update(ctx context.Context, e sqlx.ExtContext, rec Record, compareColumn string) (int64, error) {
	cmp, err := r.compareIndex(compareColumn)
	if err != nil {
		return 0, err
	}
	values, present, err := r.normalize(rec)
	if err != nil {
		return 0, err
	}
	if !present[cmp] {
		return 0, fmt.Errorf("%w: record has no value for %s", ErrInvalidValue, r.table.Columns[cmp].Name)
	}

	var sets []string
	var args []any
	for i, col := range r.table.Columns {
		if !present[i] || i == cmp || col.IsIdentity {
			continue
		}
		sets = append(sets, r.dialect.Quote(col.Name)+" = ?")
		args = append(args, values[i])
	}
	if len(sets) == 0 {
		return 0, fmt.Errorf("%w: no columns to update in %s", ErrInvalidValue, r.table.Name)
	}

	clause, whereArgs := r.where(cmp, values[cmp])
	query := r.dialect.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s", r.from(), strings.Join(sets, ", "), clause))
	r.logger.Debug("executing update", slog.String("sql", query))

	res, err := r.ext(e).ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", r.table.Name, err)
	}
	return res.RowsAffected()
}

// Delete removes the rows whose column equals value. An empty column means the key.
func (r *TableRepository) Delete(ctx context.Context, e sqlx.ExtContext, column string, value any) (int64, error) {
	clause, args, err := r.filter(column, value)
	if err != nil {
		return 0, err
	}

	query := r.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s", r.from(), clause))
	r.logger.Debug("executing delete", slog.String("sql", query))

	res, err := r.ext(e).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", r.table.Name, err)
	}
	return res.RowsAffected()
}

func (r *TableRepository) DeleteAll(ctx context.Context, e sqlx.ExtContext) (int64, error) {
	query := "DELETE FROM " + r.from()
	r.logger.Debug("executing delete", slog.String("sql", query))

	res, err := r.ext(e).ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", r.table.Name, err)
	}
	return res.RowsAffected()
}

// Get returns the first row whose column equals value, or ErrNotFound.
func (r *TableRepository) Get(ctx context.Context, e sqlx.ExtContext, column string, value any) (Record, error) {
	rows, err := r.Find(ctx, e, column, value, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", r.table.Name, ErrNotFound)
	}
	return rows[0], nil
}

// Find returns the rows whose column equals value. limit <= 0 means no limit.
func (r *TableRepository) Find(ctx context.Context, e sqlx.ExtContext, column string, value any, limit int) ([]Record, error) {
	clause, args, err := r.filter(column, value)
	if err != nil {
		return nil, err
	}
	query := r.dialect.Rebind(r.dialect.SelectSQL(r.selectColumns(), r.from(), clause, limit))
	return r.query(ctx, e, query, args...)
}

// All returns every row. limit <= 0 means no limit.
func (r *TableRepository) All(ctx context.Context, e sqlx.ExtContext, limit int) ([]Record, error) {
	query := r.dialect.SelectSQL(r.selectColumns(), r.from(), "", limit)
	return r.query(ctx, e, query)
}

func (r *TableRepository) Count(ctx context.Context, e sqlx.ExtContext) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + r.from()
	if err := r.ext(e).QueryRowxContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.table.Name, err)
	}
	return n, nil
}

func (r *TableRepository) Exists(ctx context.Context, e sqlx.ExtContext, column string, value any) (bool, error) {
	clause, args, err := r.filter(column, value)
	if err != nil {
		return false, err
	}
	query := r.dialect.Rebind(r.dialect.SelectSQL("1", r.from(), clause, 1))

	rows, err := r.ext(e).QueryxContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", r.table.Name, err)
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to query %s: %w", r.table.Name, err)
	}
	return found, nil
}

// Save updates the row with rec's key or inserts rec when there is none.
// The existence check and the write are separate statements: two
// concurrent Saves of the same new key can both attempt the insert.
func (r *TableRepository) Save(ctx context.Context, e sqlx.ExtContext, rec Record) (Record, error) {
	keyIdx, err := r.keyIndex()
	if err != nil {
		return nil, err
	}
	values, present, err := r.normalize(rec)
	if err != nil {
		return nil, err
	}
	// only a generated key can be told missing by its zero value
	if !present[keyIdx] || (r.table.Columns[keyIdx].IsIdentity && isZero(values[keyIdx])) {
		return r.Insert(ctx, e, rec)
	}

	keyName := r.table.Columns[keyIdx].Name
	exists, err := r.Exists(ctx, e, keyName, values[keyIdx])
	if err != nil {
		return nil, err
	}
	if !exists {
		return r.Insert(ctx, e, rec)
	}

	if _, err := r.Update(ctx, e, rec, keyName); err != nil {
		return nil, err
	}
	return r.toRecord(values, present), nil
}

func (r *TableRepository) query(ctx context.Context, e sqlx.ExtContext, query string, args ...any) ([]Record, error) {
	r.logger.Debug("executing query", slog.String("sql", query))

	rows, err := r.ext(e).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.table.Name, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		raw := make(map[string]any, len(r.table.Columns))
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.table.Name, err)
		}
		records = append(records, r.decodeRow(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", r.table.Name, err)
	}
	return records, nil
}

func (r *TableRepository) decodeRow(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for name, v := range raw {
		i, err := r.columnIndex(name)
		if err != nil {
			rec[name] = v
			continue
		}
		rec[r.table.Columns[i].Name] = r.dialect.Decode(r.kinds[i], v)
	}
	return rec
}
