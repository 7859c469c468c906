package database

import (
	"errors"

	mssql "github.com/microsoft/go-mssqldb"
)

var sqlserverTypes = mustTypeTable("sqlserver", []TypeConversion{
	entry("bit", typeBool, KindBool),
	entry("tinyint", typeUint8, KindInt),
	entry("smallint", typeInt16, KindInt),
	entry("int", typeInt32, KindInt),
	entry("bigint", typeInt64, KindInt),
	entry("decimal", typeString, KindDecimal),
	entry("numeric", typeString, KindDecimal),
	entry("money", typeString, KindDecimal),
	entry("smallmoney", typeString, KindDecimal),
	entry("float", typeFloat64, KindFloat),
	entry("real", typeFloat32, KindFloat),
	entry("date", typeTime, KindTime),
	entry("datetime", typeTime, KindTime),
	entry("datetime2", typeTime, KindTime),
	entry("smalldatetime", typeTime, KindTime),
	entry("datetimeoffset", typeTime, KindTime),
	entry("time", typeString, KindString),
	entry("char", typeString, KindString),
	entry("varchar", typeString, KindString),
	entry("text", typeString, KindString),
	entry("nchar", typeString, KindString),
	entry("nvarchar", typeString, KindString),
	entry("ntext", typeString, KindString),
	entry("xml", typeString, KindString),
	entry("sysname", typeString, KindString),
	entry("binary", typeBytes, KindBytes),
	entry("varbinary", typeBytes, KindBytes),
	entry("image", typeBytes, KindBytes),
	entry("timestamp", typeBytes, KindBytes),
	entry("rowversion", typeBytes, KindBytes),
	entry("uniqueidentifier", typeString, KindUUID),
}, nil)

const (
	mssqlDeadlockVictim = 1205
	mssqlLockTimeout    = 1222
)

func sqlserverDeadlock(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number == mssqlDeadlockVictim || me.Number == mssqlLockTimeout
	}
	return false
}

// SQL Server returns uniqueidentifier columns as 16 raw bytes in its own
// mixed-endian order.
func sqlserverDecode(kind Kind, v any) any {
	if b, ok := v.([]byte); ok && kind == KindUUID && len(b) == 16 {
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	}
	return v
}

func init() {
	Register(&Dialect{
		Name:          "sqlserver",
		DriverName:    "sqlserver",
		DefaultSchema: "dbo",
		QuoteOpen:     "[",
		QuoteClose:    "]",
		Returning:     ReturningOutput,
		Limit:         LimitTop,
		Types:         sqlserverTypes,
		deadlock:      sqlserverDeadlock,
		decode:        sqlserverDecode,
	}, "mssql")
}
