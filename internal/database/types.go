package database

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnmappedType is returned when a SQL type has no entry in the type table.
var ErrUnmappedType = errors.New("unmapped sql type")

// Kind is the parameter type a column value is coerced to before binding.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindBytes
	KindDecimal
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	case KindDecimal:
		return "decimal"
	case KindUUID:
		return "uuid"
	default:
		return "any"
	}
}

// TypeConversion maps one SQL type name to its Go type and parameter kind.
type TypeConversion struct {
	SQLType string
	GoType  reflect.Type
	Kind    Kind
}

// TypeTable is an immutable SQL type lookup for one dialect.
type TypeTable struct {
	dialect  string
	entries  map[string]TypeConversion
	fallback func(normalized string) (TypeConversion, bool)
}

// NewTypeTable builds a type table. Every SQL type key must be unique after
// normalization.
func NewTypeTable(dialect string, entries []TypeConversion, fallback func(string) (TypeConversion, bool)) (*TypeTable, error) {
	t := &TypeTable{
		dialect:  dialect,
		entries:  make(map[string]TypeConversion, len(entries)),
		fallback: fallback,
	}
	for _, e := range entries {
		key := NormalizeType(e.SQLType)
		if _, dup := t.entries[key]; dup {
			return nil, fmt.Errorf("%s: duplicate type mapping for %q", dialect, key)
		}
		if e.GoType == nil {
			return nil, fmt.Errorf("%s: type mapping for %q has no go type", dialect, key)
		}
		e.SQLType = key
		t.entries[key] = e
	}
	return t, nil
}

func mustTypeTable(dialect string, entries []TypeConversion, fallback func(string) (TypeConversion, bool)) *TypeTable {
	t, err := NewTypeTable(dialect, entries, fallback)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup resolves a SQL type name as reported by the catalog.
func (t *TypeTable) Lookup(sqlType string) (TypeConversion, error) {
	key := NormalizeType(sqlType)
	if e, ok := t.entries[key]; ok {
		return e, nil
	}
	if t.fallback != nil {
		if e, ok := t.fallback(key); ok {
			return e, nil
		}
	}
	return TypeConversion{}, fmt.Errorf("%w: %s type %q", ErrUnmappedType, t.dialect, sqlType)
}

// Len returns the number of explicit entries.
func (t *TypeTable) Len() int {
	return len(t.entries)
}

var (
	typeArgs   = regexp.MustCompile(`\([^)]*\)`)
	typeSpaces = regexp.MustCompile(`\s+`)
)

// NormalizeType lower-cases a SQL type name and strips size, precision and
// signedness modifiers: "VARCHAR(50)" becomes "varchar" and
// "int(10) unsigned" becomes "int".
func NormalizeType(sqlType string) string {
	s := strings.ToLower(strings.TrimSpace(sqlType))
	s = typeArgs.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " unsigned", "")
	s = strings.ReplaceAll(s, " zerofill", "")
	s = typeSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var (
	typeString  = reflect.TypeOf("")
	typeInt8    = reflect.TypeOf(int8(0))
	typeUint8   = reflect.TypeOf(uint8(0))
	typeInt16   = reflect.TypeOf(int16(0))
	typeInt32   = reflect.TypeOf(int32(0))
	typeInt64   = reflect.TypeOf(int64(0))
	typeFloat32 = reflect.TypeOf(float32(0))
	typeFloat64 = reflect.TypeOf(float64(0))
	typeBool    = reflect.TypeOf(false)
	typeTime    = reflect.TypeOf(time.Time{})
	typeBytes   = reflect.TypeOf([]byte(nil))
	typeAny     = reflect.TypeOf((*any)(nil)).Elem()
)

func entry(sqlType string, goType reflect.Type, kind Kind) TypeConversion {
	return TypeConversion{SQLType: sqlType, GoType: goType, Kind: kind}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a decoded value (JSON, XML, query string or driver value)
// into the Go value bound for a column of the given kind. nil stays nil.
func Coerce(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}

	switch kind {
	case KindInt:
		return toInt(v)
	case KindFloat:
		return toFloat(v)
	case KindBool:
		return toBool(v)
	case KindTime:
		return toTime(v)
	case KindBytes:
		return toBytes(v)
	case KindUUID:
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", s, err)
		}
		return id.String(), nil
	case KindString, KindDecimal:
		return toString(v)
	default:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return v, nil
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return n.Int64()
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func floatToInt(f float64) (int64, error) {
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(i), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(b)))
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	}
	i, err := toInt(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
	return i != 0, nil
}

func toTime(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("binary value must be base64: %w", err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("cannot convert %T to bytes", v)
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case json.Number:
		return s.String(), nil
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case time.Time:
		return s.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Bool:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

// Assign stores v into dst, converting between the driver, decoder and
// field representations. nil zeroes dst; pointer fields are allocated.
func Assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Kind() == reflect.Pointer {
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		src = src.Elem()
		v = src.Interface()
	}
	if dst.Kind() == reflect.Interface || src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, err := toString(v)
		if err != nil {
			return err
		}
		dst.SetString(s)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt(v)
		if err != nil {
			return err
		}
		if dst.OverflowInt(i) {
			return fmt.Errorf("value %d overflows %s", i, dst.Type())
		}
		dst.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := toInt(v)
		if err != nil {
			return err
		}
		if i < 0 || dst.OverflowUint(uint64(i)) {
			return fmt.Errorf("value %d overflows %s", i, dst.Type())
		}
		dst.SetUint(uint64(i))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil
	case reflect.Bool:
		b, err := toBool(v)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			b, err := toBytes(v)
			if err != nil {
				return err
			}
			dst.SetBytes(b)
			return nil
		}
	case reflect.Struct:
		if dst.Type() == typeTime {
			t, err := toTime(v)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}

	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}
