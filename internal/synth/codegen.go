package synth

import (
	"bytes"
	"fmt"
	"go/format"
	"reflect"
	"strconv"
	"strings"
	"text/template"

	"nkit/internal/database"
	"nkit/internal/models"
)

var sourceTemplate = template.Must(template.New("source").Parse(`// Code generated by nkit gen from the {{.Database}} schema. DO NOT EDIT.

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	"{{.}}"
{{- end}}
)
{{end}}
{{range .Types}}
// {{.Name}} is a row of {{.Table}}.
type {{.Name}} struct {
{{- range .Fields}}
	{{.Name}} {{.Type}} ` + "`{{.Tag}}`" + `
{{- end}}
}

// TableName returns the table {{.Name}} is read from.
func ({{.Name}}) TableName() string { return {{printf "%q" .Table}} }
{{end}}`))

type sourceField struct {
	Name string
	Type string
	Tag  string
}

type sourceType struct {
	Name   string
	Table  string
	Fields []sourceField
}

type sourceFile struct {
	Database string
	Package  string
	Imports  []string
	Types    []sourceType
}

// GeneratedFile is one rendered Go source file.
type GeneratedFile struct {
	Name string
	Src  []byte
}

// Generate renders gofmt'ed Go source with one struct per table of db.
// Every table must map cleanly; the first unmapped column fails the run.
func Generate(db *models.Database, dialect *database.Dialect, pkg string) ([]byte, error) {
	types, err := sourceTypes(db, dialect, pkg)
	if err != nil {
		return nil, err
	}
	return render(db.Name, pkg, types)
}

// GenerateSplit is Generate with one file per table. Type names stay unique
// across the files, so together they form one package.
func GenerateSplit(db *models.Database, dialect *database.Dialect, pkg string) ([]GeneratedFile, error) {
	types, err := sourceTypes(db, dialect, pkg)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(types))
	files := make([]GeneratedFile, 0, len(types))
	for _, st := range types {
		// lower-cased type names carry no underscore, so no build constraint
		// or _test suffix can sneak into a file name
		base := strings.ToLower(st.Name)
		name := base
		for n := 2; taken[name]; n++ {
			name = base + strconv.Itoa(n)
		}
		taken[name] = true

		src, err := render(db.Name, pkg, []sourceType{st})
		if err != nil {
			return nil, err
		}
		files = append(files, GeneratedFile{Name: name + ".go", Src: src})
	}
	return files, nil
}

func sourceTypes(db *models.Database, dialect *database.Dialect, pkg string) ([]sourceType, error) {
	if pkg == "" {
		return nil, fmt.Errorf("package name is required")
	}

	typeNames := uniqueNames(db.TableNames())
	types := make([]sourceType, 0, len(db.Tables))
	for i := range db.Tables {
		e, err := build(dialect, &db.Tables[i])
		if err != nil {
			return nil, err
		}

		st := sourceType{Name: typeNames[i], Table: e.Table.Name}
		for _, f := range e.Fields {
			sf, _ := e.Type.FieldByName(f.Name)
			st.Fields = append(st.Fields, sourceField{Name: f.Name, Type: goTypeString(f.GoType), Tag: string(sf.Tag)})
		}
		types = append(types, st)
	}
	return types, nil
}

func render(dbName, pkg string, types []sourceType) ([]byte, error) {
	file := sourceFile{Database: dbName, Package: pkg, Types: types}
	for _, st := range types {
		if st.usesTime() {
			file.Imports = []string{"time"}
			break
		}
	}

	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, file); err != nil {
		return nil, fmt.Errorf("failed to render source: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to format generated source: %w", err)
	}
	return src, nil
}

func (st sourceType) usesTime() bool {
	for _, f := range st.Fields {
		if strings.Contains(f.Type, "time.Time") {
			return true
		}
	}
	return false
}

func goTypeString(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + goTypeString(t.Elem())
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "[]byte"
		}
		return "[]" + goTypeString(t.Elem())
	case reflect.Interface:
		return "any"
	default:
		return t.String()
	}
}
