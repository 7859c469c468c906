package database

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var mysqlTypes = mustTypeTable("mysql", []TypeConversion{
	entry("tinyint", typeInt8, KindInt),
	entry("smallint", typeInt16, KindInt),
	entry("mediumint", typeInt32, KindInt),
	entry("int", typeInt32, KindInt),
	entry("integer", typeInt32, KindInt),
	entry("bigint", typeInt64, KindInt),
	entry("year", typeInt16, KindInt),
	entry("decimal", typeString, KindDecimal),
	entry("numeric", typeString, KindDecimal),
	entry("float", typeFloat32, KindFloat),
	entry("double", typeFloat64, KindFloat),
	entry("real", typeFloat64, KindFloat),
	entry("bool", typeBool, KindBool),
	entry("boolean", typeBool, KindBool),
	entry("char", typeString, KindString),
	entry("varchar", typeString, KindString),
	entry("tinytext", typeString, KindString),
	entry("text", typeString, KindString),
	entry("mediumtext", typeString, KindString),
	entry("longtext", typeString, KindString),
	entry("enum", typeString, KindString),
	entry("set", typeString, KindString),
	entry("json", typeString, KindString),
	entry("time", typeString, KindString),
	entry("bit", typeBytes, KindBytes),
	entry("binary", typeBytes, KindBytes),
	entry("varbinary", typeBytes, KindBytes),
	entry("tinyblob", typeBytes, KindBytes),
	entry("blob", typeBytes, KindBytes),
	entry("mediumblob", typeBytes, KindBytes),
	entry("longblob", typeBytes, KindBytes),
	entry("date", typeTime, KindTime),
	entry("datetime", typeTime, KindTime),
	entry("timestamp", typeTime, KindTime),
}, nil)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

func mysqlDeadlockErr(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout
	}
	return false
}

func init() {
	Register(&Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		QuoteOpen:  "`",
		QuoteClose: "`",
		Returning:  ReturningLastInsertID,
		Limit:      LimitSuffix,
		Types:      mysqlTypes,
		deadlock:   mysqlDeadlockErr,
	}, "mariadb")
}
