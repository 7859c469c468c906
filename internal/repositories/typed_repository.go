package repositories

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"

	"nkit/internal/database"
)

// Typed exposes a TableRepository through a caller-defined struct whose
// fields carry `db` tags naming columns.
type Typed[T any] struct {
	repo   *TableRepository
	fields map[string][]int // column name -> field index path
}

var dbMapper = reflectx.NewMapper("db")

// NewTyped checks that every db-tagged field of T names a column of the
// repository's table.
func NewTyped[T any](repo *TableRepository) (*Typed[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("typed accessor needs a struct type, got %s", t)
	}

	fields := make(map[string][]int)
	for _, fi := range dbMapper.TypeMap(t).Index {
		tag, ok := fi.Field.Tag.Lookup("db")
		if !ok || tag == "-" || fi.Embedded || strings.Contains(fi.Path, ".") {
			continue
		}
		i, err := repo.columnIndex(fi.Name)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t.Name(), fi.Field.Name, err)
		}
		fields[repo.table.Columns[i].Name] = fi.Index
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("type %s has no db-tagged fields", t)
	}

	return &Typed[T]{repo: repo, fields: fields}, nil
}

func (t *Typed[T]) toRecord(v *T) Record {
	rv := reflect.ValueOf(v).Elem()
	rec := make(Record, len(t.fields))
	for col, index := range t.fields {
		rec[col] = reflectx.FieldByIndexesReadOnly(rv, index).Interface()
	}
	return rec
}

func (t *Typed[T]) fromRecord(rec Record) (*T, error) {
	out := new(T)
	rv := reflect.ValueOf(out).Elem()
	for col, index := range t.fields {
		v, ok := rec[col]
		if !ok {
			continue
		}
		if err := database.Assign(reflectx.FieldByIndexes(rv, index), v); err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
	}
	return out, nil
}

func (t *Typed[T]) fromRecords(recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := t.fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (t *Typed[T]) Get(ctx context.Context, e sqlx.ExtContext, column string, value any) (*T, error) {
	rec, err := t.repo.Get(ctx, e, column, value)
	if err != nil {
		return nil, err
	}
	return t.fromRecord(rec)
}

func (t *Typed[T]) Find(ctx context.Context, e sqlx.ExtContext, column string, value any, limit int) ([]T, error) {
	recs, err := t.repo.Find(ctx, e, column, value, limit)
	if err != nil {
		return nil, err
	}
	return t.fromRecords(recs)
}

func (t *Typed[T]) All(ctx context.Context, e sqlx.ExtContext, limit int) ([]T, error) {
	recs, err := t.repo.All(ctx, e, limit)
	if err != nil {
		return nil, err
	}
	return t.fromRecords(recs)
}

// Insert writes v and copies the generated key back into it.
func (t *Typed[T]) Insert(ctx context.Context, e sqlx.ExtContext, v *T) error {
	rec, err := t.repo.Insert(ctx, e, t.toRecord(v))
	if err != nil {
		return err
	}
	return t.copyKey(v, rec)
}

func (t *Typed[T]) Update(ctx context.Context, e sqlx.ExtContext, v *T) (int64, error) {
	return t.repo.Update(ctx, e, t.toRecord(v), "")
}

func (t *Typed[T]) Save(ctx context.Context, e sqlx.ExtContext, v *T) error {
	rec, err := t.repo.Save(ctx, e, t.toRecord(v))
	if err != nil {
		return err
	}
	return t.copyKey(v, rec)
}

func (t *Typed[T]) Delete(ctx context.Context, e sqlx.ExtContext, v *T) (int64, error) {
	keyIdx, err := t.repo.keyIndex()
	if err != nil {
		return 0, err
	}
	key := t.repo.table.Columns[keyIdx].Name
	index, ok := t.fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: no field maps key column %s", ErrInvalidValue, key)
	}
	value := reflectx.FieldByIndexesReadOnly(reflect.ValueOf(v).Elem(), index).Interface()
	return t.repo.Delete(ctx, e, key, value)
}

func (t *Typed[T]) copyKey(v *T, rec Record) error {
	key, ok := t.repo.table.KeyColumn()
	if !ok {
		return nil
	}
	index, mapped := t.fields[key.Name]
	value, present := rec[key.Name]
	if !mapped || !present {
		return nil
	}
	return database.Assign(reflectx.FieldByIndexes(reflect.ValueOf(v).Elem(), index), value)
}
