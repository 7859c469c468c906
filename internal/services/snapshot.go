package services

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"nkit/internal/models"
)

// Format is a schema snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

var ErrInvalidSnapshot = errors.New("invalid schema snapshot")

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "xml":
		return FormatXML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported snapshot format %q", s)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer snapshot format of %q", path)
	}
	return ParseFormat(ext)
}

func EncodeSnapshot(w io.Writer, db *models.Database, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(db)
	case FormatXML:
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(db); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(db); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported snapshot format %q", format)
}

// DecodeSnapshot reads and validates a snapshot and rebuilds its relations.
func DecodeSnapshot(r io.Reader, format Format) (*models.Database, error) {
	var db models.Database
	var err error
	switch format {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&db)
	case FormatXML:
		err = xml.NewDecoder(r).Decode(&db)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&db)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s snapshot: %v", ErrInvalidSnapshot, format, err)
	}

	if err := ValidateSnapshot(&db); err != nil {
		return nil, err
	}
	db.BuildRelations()
	return &db, nil
}

// ValidateSnapshot reports every structural problem at once: empty names,
// duplicate tables or columns, and keys naming missing columns.
func ValidateSnapshot(db *models.Database) error {
	var errs []error
	tables := make(map[string]bool, len(db.Tables))

	for i, t := range db.Tables {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("table #%d has no name", i+1))
			continue
		}
		key := strings.ToLower(t.Name)
		if tables[key] {
			errs = append(errs, fmt.Errorf("duplicate table %s", t.Name))
		}
		tables[key] = true

		if len(t.Columns) == 0 {
			errs = append(errs, fmt.Errorf("table %s has no columns", t.Name))
		}
		cols := make(map[string]bool, len(t.Columns))
		for j, c := range t.Columns {
			if strings.TrimSpace(c.Name) == "" {
				errs = append(errs, fmt.Errorf("table %s column #%d has no name", t.Name, j+1))
				continue
			}
			ck := strings.ToLower(c.Name)
			if cols[ck] {
				errs = append(errs, fmt.Errorf("table %s has duplicate column %s", t.Name, c.Name))
			}
			cols[ck] = true
		}
		for _, pk := range t.PrimaryKeys {
			if !cols[strings.ToLower(pk)] {
				errs = append(errs, fmt.Errorf("table %s primary key %s is not a column", t.Name, pk))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, errors.Join(errs...))
	}
	return nil
}

func ReadSnapshotFile(path string) (*models.Database, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeSnapshot(f, format)
}

func WriteSnapshotFile(path string, db *models.Database) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeSnapshot(f, db, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
