package synth

import (
	"strconv"
	"strings"
	"unicode"
)

var initialisms = map[string]string{
	"id":   "ID",
	"ip":   "IP",
	"api":  "API",
	"url":  "URL",
	"uri":  "URI",
	"uuid": "UUID",
	"guid": "GUID",
	"json": "JSON",
	"xml":  "XML",
	"sql":  "SQL",
	"http": "HTTP",
}

// FieldName converts a column name into an exported Go identifier:
// "customer_id" becomes "CustomerID" and "2fa code" becomes "X2faCode".
func FieldName(column string) string {
	parts := strings.FieldsFunc(column, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var sb strings.Builder
	for _, part := range parts {
		if word, ok := initialisms[strings.ToLower(part)]; ok {
			sb.WriteString(word)
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		sb.WriteString(string(runes))
	}

	name := sb.String()
	if name == "" {
		return "X"
	}
	if first := []rune(name)[0]; !unicode.IsUpper(first) {
		name = "X" + name
	}
	return name
}

// TypeName is the Go type name for a table.
func TypeName(table string) string {
	return FieldName(table)
}

// uniqueNames maps each column to a distinct field name, suffixing clashes
// with a counter. reserved names are never handed out.
func uniqueNames(columns []string, reserved ...string) []string {
	taken := make(map[string]bool, len(columns)+len(reserved))
	for _, r := range reserved {
		taken[r] = true
	}

	names := make([]string, len(columns))
	for i, col := range columns {
		base := FieldName(col)
		name := base
		for n := 2; taken[name]; n++ {
			name = base + strconv.Itoa(n)
		}
		taken[name] = true
		names[i] = name
	}
	return names
}

// tagSafe reports whether a column name can be used verbatim inside
// json, xml and yaml struct tags.
func tagSafe(name string) bool {
	if name == "" || strings.ContainsAny(name, ",\"`: ") {
		return false
	}
	first := []rune(name)[0]
	if !unicode.IsLetter(first) && first != '_' {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
