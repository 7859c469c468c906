package database

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"VARCHAR(50)", "varchar"},
		{"int(10) unsigned", "int"},
		{"  Timestamp(6)   With  Time Zone ", "timestamp with time zone"},
		{"DECIMAL(10, 2)", "decimal"},
		{"text", "text"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeType(tt.input))
		})
	}
}

func TestNewTypeTable_RejectsDuplicates(t *testing.T) {
	_, err := NewTypeTable("test", []TypeConversion{
		entry("INT", typeInt32, KindInt),
		entry("int(11)", typeInt64, KindInt),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate type mapping for "int"`)
}

func TestNewTypeTable_RejectsMissingGoType(t *testing.T) {
	_, err := NewTypeTable("test", []TypeConversion{{SQLType: "int", Kind: KindInt}}, nil)
	require.Error(t, err)
}

func TestTypeTable_Lookup(t *testing.T) {
	tests := []struct {
		name    string
		table   *TypeTable
		sqlType string
		kind    Kind
		wantErr bool
	}{
		{"postgres varchar", postgresTypes, "character varying(255)", KindString, false},
		{"postgres numeric", postgresTypes, "NUMERIC(12,2)", KindDecimal, false},
		{"postgres array unmapped", postgresTypes, "ARRAY", 0, true},
		{"sqlserver uniqueidentifier", sqlserverTypes, "uniqueidentifier", KindUUID, false},
		{"sqlserver bit", sqlserverTypes, "bit", KindBool, false},
		{"mysql unsigned int", mysqlTypes, "int(10) unsigned", KindInt, false},
		{"mysql geometry unmapped", mysqlTypes, "geometry", 0, true},
		{"sqlite affinity int", sqliteTypes, "UNSIGNED BIG INT", KindInt, false},
		{"sqlite affinity text", sqliteTypes, "VARYING CHARACTER(255)", KindString, false},
		{"sqlite affinity real", sqliteTypes, "DOUBLE PRECISION", KindFloat, false},
		{"sqlite no type", sqliteTypes, "", KindAny, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := tt.table.Lookup(tt.sqlType)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnmappedType))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, conv.Kind)
			assert.NotNil(t, conv.GoType)
		})
	}
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		kind     Kind
		input    any
		expected any
		wantErr  bool
	}{
		{"nil stays nil", KindInt, nil, nil, false},
		{"json float to int", KindInt, float64(42), int64(42), false},
		{"fractional float to int", KindInt, 4.5, nil, true},
		{"float 2^63 overflows int", KindInt, math.Exp2(63), nil, true},
		{"float -2^63 to int", KindInt, -math.Exp2(63), int64(math.MinInt64), false},
		{"largest float below 2^63 to int", KindInt, math.Nextafter(math.Exp2(63), 0), int64(1<<63 - 1024), false},
		{"infinite float to int", KindInt, math.Inf(1), nil, true},
		{"json number to int", KindInt, json.Number("7"), int64(7), false},
		{"string to int", KindInt, " 12 ", int64(12), false},
		{"bytes to int", KindInt, []byte("99"), int64(99), false},
		{"int to float", KindFloat, int64(3), float64(3), false},
		{"string to float", KindFloat, "2.5", 2.5, false},
		{"int to bool", KindBool, int64(1), true, false},
		{"string to bool", KindBool, "false", false, false},
		{"bad bool", KindBool, "maybe", nil, true},
		{"rfc3339 to time", KindTime, "2024-03-01T10:30:00Z", ts, false},
		{"sql datetime to time", KindTime, "2024-03-01 10:30:00", ts, false},
		{"base64 to bytes", KindBytes, "aGVsbG8=", []byte("hello"), false},
		{"float to decimal", KindDecimal, 12.5, "12.5", false},
		{"bytes to string", KindString, []byte("abc"), "abc", false},
		{"uuid upper case", KindUUID, "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"invalid uuid", KindUUID, "nope", nil, true},
		{"any passes through", KindAny, int64(5), int64(5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.kind, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if want, ok := tt.expected.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)), "got %v", got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCoerce_Pointer(t *testing.T) {
	n := int32(8)
	got, err := Coerce(KindInt, &n)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got)

	var nilPtr *string
	got, err = Coerce(KindString, nilPtr)
	require.NoError(t, err)
	assert.Nil(t, got)
}
