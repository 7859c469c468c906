package database

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLite declares types loosely; anything not in the table is resolved with
// the column affinity rules from https://www.sqlite.org/datatype3.html.
var sqliteTypes = mustTypeTable("sqlite", []TypeConversion{
	entry("integer", typeInt64, KindInt),
	entry("int", typeInt64, KindInt),
	entry("bigint", typeInt64, KindInt),
	entry("smallint", typeInt64, KindInt),
	entry("tinyint", typeInt64, KindInt),
	entry("real", typeFloat64, KindFloat),
	entry("double", typeFloat64, KindFloat),
	entry("float", typeFloat64, KindFloat),
	entry("numeric", typeFloat64, KindFloat),
	entry("decimal", typeFloat64, KindFloat),
	entry("text", typeString, KindString),
	entry("varchar", typeString, KindString),
	entry("nvarchar", typeString, KindString),
	entry("char", typeString, KindString),
	entry("clob", typeString, KindString),
	entry("blob", typeBytes, KindBytes),
	entry("boolean", typeBool, KindBool),
	entry("bool", typeBool, KindBool),
	entry("date", typeTime, KindTime),
	entry("datetime", typeTime, KindTime),
	entry("timestamp", typeTime, KindTime),
	entry("guid", typeString, KindUUID),
	entry("uuid", typeString, KindUUID),
}, sqliteAffinity)

func sqliteAffinity(t string) (TypeConversion, bool) {
	upper := strings.ToUpper(t)
	switch {
	case t == "":
		return entry(t, typeAny, KindAny), true
	case strings.Contains(upper, "INT"):
		return entry(t, typeInt64, KindInt), true
	case strings.Contains(upper, "CHAR"), strings.Contains(upper, "CLOB"), strings.Contains(upper, "TEXT"):
		return entry(t, typeString, KindString), true
	case strings.Contains(upper, "BLOB"):
		return entry(t, typeBytes, KindBytes), true
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return entry(t, typeFloat64, KindFloat), true
	default:
		return entry(t, typeFloat64, KindFloat), true
	}
}

func sqliteDeadlock(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func init() {
	Register(&Dialect{
		Name:       "sqlite",
		DriverName: "sqlite3",
		QuoteOpen:  `"`,
		QuoteClose: `"`,
		Returning:  ReturningLastInsertID,
		Limit:      LimitSuffix,
		Types:      sqliteTypes,
		deadlock:   sqliteDeadlock,
	}, "sqlite3")
}
