package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"nkit/internal/database"
	"nkit/internal/models"
	"nkit/internal/repositories"
	"nkit/internal/synth"
)

const (
	maxJunctionTableColumns = 6
	minJunctionTableFKs     = 2
)

var (
	ErrUnknownEntity  = errors.New("unknown entity")
	ErrNotInitialized = errors.New("schema is not initialized")
)

// SchemaOptions configures where the schema comes from.
type SchemaOptions struct {
	Name         string
	SnapshotFile string
}

// SchemaService owns the current schema of the connected database.
type SchemaService struct {
	conn     *database.Conn
	provider repositories.SchemaProvider
	cache    *repositories.RedisRepository
	synth    *synth.Synthesizer
	opts     SchemaOptions
	logger   *slog.Logger

	mu      sync.RWMutex
	db      *models.Database
	version uint64
}

// NewSchemaService creates a new SchemaService. provider and cache may be
// nil: without a provider the schema can only come from a snapshot.
func NewSchemaService(
	conn *database.Conn,
	provider repositories.SchemaProvider,
	cache *repositories.RedisRepository,
	synthesizer *synth.Synthesizer,
	opts SchemaOptions,
	logger *slog.Logger,
) *SchemaService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SchemaService{
		conn:     conn,
		provider: provider,
		cache:    cache,
		synth:    synthesizer,
		opts:     opts,
		logger:   logger,
	}
}

// Initialize loads the schema from the snapshot file, then the Redis cache,
// then live introspection, whichever answers first.
func (s *SchemaService) Initialize(ctx context.Context) error {
	if s.opts.SnapshotFile != "" {
		db, err := ReadSnapshotFile(s.opts.SnapshotFile)
		switch {
		case err == nil:
			s.logger.Info("schema loaded from snapshot file", slog.String("path", s.opts.SnapshotFile), slog.Int("tables", len(db.Tables)))
			return s.install(db)
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Info("snapshot file not found, introspecting", slog.String("path", s.opts.SnapshotFile))
		default:
			return fmt.Errorf("failed to load snapshot %s: %w", s.opts.SnapshotFile, err)
		}
	}

	if s.cache != nil {
		db, err := s.cache.LoadSnapshot(ctx, s.opts.Name)
		if err != nil {
			s.logger.Warn("schema cache unavailable", slog.String("error", err.Error()))
		} else if db != nil {
			s.logger.Info("schema loaded from cache", slog.String("database", s.opts.Name), slog.Int("tables", len(db.Tables)))
			return s.install(db)
		}
	}

	return s.Refresh(ctx)
}

// Refresh re-reads the live schema. Entity types and accessors built
// against the previous schema are discarded.
func (s *SchemaService) Refresh(ctx context.Context) error {
	if s.provider == nil || s.conn == nil {
		return fmt.Errorf("schema refresh needs a database connection")
	}

	db, err := repositories.IntrospectDatabase(ctx, s.provider, s.opts.Name, s.conn.Dialect)
	if err != nil {
		return fmt.Errorf("failed to introspect database: %w", err)
	}
	s.logger.Info("schema introspected", slog.String("database", db.Name), slog.Int("tables", len(db.Tables)))

	if err := s.install(db); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.StoreSnapshot(ctx, db); err != nil {
			s.logger.Warn("failed to cache schema", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *SchemaService) install(db *models.Database) error {
	if s.conn != nil && db.Dialect != "" && db.Dialect != s.conn.Dialect.Name {
		return fmt.Errorf("snapshot dialect %s does not match connection dialect %s", db.Dialect, s.conn.Dialect.Name)
	}
	if db.Name == "" {
		db.Name = s.opts.Name
	}
	for i := range db.Tables {
		db.Tables[i].TypeName = synth.TypeName(db.Tables[i].Name)
	}
	db.BuildRelations()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	s.version++
	if s.synth != nil {
		s.synth.Reset()
	}
	return nil
}

// Database returns the current schema and its version. The version changes
// every time the schema is replaced.
func (s *SchemaService) Database() (*models.Database, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, 0, ErrNotInitialized
	}
	return s.db, s.version, nil
}

// Table resolves an entity name (table or type name) to its table.
func (s *SchemaService) Table(entity string) (*models.Table, uint64, error) {
	db, version, err := s.Database()
	if err != nil {
		return nil, 0, err
	}
	t := db.Table(entity)
	if t == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return t, version, nil
}

func (s *SchemaService) Export(w io.Writer, format Format) error {
	db, _, err := s.Database()
	if err != nil {
		return err
	}
	return EncodeSnapshot(w, db, format)
}

// Import replaces the current schema with a snapshot.
func (s *SchemaService) Import(r io.Reader, format Format) error {
	db, err := DecodeSnapshot(r, format)
	if err != nil {
		return err
	}
	return s.install(db)
}

// SaveSnapshot writes the current schema to the configured snapshot file.
func (s *SchemaService) SaveSnapshot(path string) error {
	if path == "" {
		path = s.opts.SnapshotFile
	}
	if path == "" {
		return fmt.Errorf("no snapshot file configured")
	}
	db, _, err := s.Database()
	if err != nil {
		return err
	}
	if err := WriteSnapshotFile(path, db); err != nil {
		return err
	}
	s.logger.Info("schema snapshot written", slog.String("path", path))
	return nil
}

// Visualize generates a Mermaid ER diagram of the current schema
func (s *SchemaService) Visualize() (string, error) {
	db, _, err := s.Database()
	if err != nil {
		return "", err
	}
	relationships := buildRelationships(db.Tables)
	return generateMermaid(db.Tables, relationships), nil
}

func buildRelationships(tables []models.Table) []models.Relationship {
	var relationships []models.Relationship
	junctionTables := detectJunctionTables(tables)

	for _, table := range tables {
		// Junction tables become many-to-many edges between the tables they join
		if junctionTables[table.Name] {
			for i := 0; i < len(table.ForeignKeys); i++ {
				for j := i + 1; j < len(table.ForeignKeys); j++ {
					relationships = append(relationships, models.Relationship{
						FromTable: table.ForeignKeys[i].ParentTable,
						ToTable:   table.ForeignKeys[j].ParentTable,
						Type:      "}o--o{",
					})
				}
			}
			continue
		}

		for _, fk := range table.ForeignKeys {
			relType := "||--o{" // one-to-many
			if col := table.Column(fk.ChildColumn); col != nil && (col.IsUnique || isSoleKey(&table, col.Name)) {
				relType = "||--||" // one-to-one
			}
			relationships = append(relationships, models.Relationship{
				FromTable: fk.ParentTable,
				ToTable:   table.Name,
				Type:      relType,
			})
		}
	}

	return relationships
}

func isSoleKey(t *models.Table, column string) bool {
	return len(t.PrimaryKeys) == 1 && strings.EqualFold(t.PrimaryKeys[0], column)
}

func detectJunctionTables(tables []models.Table) map[string]bool {
	junctionTables := make(map[string]bool)
	for _, table := range tables {
		// at least 2 FKs, few columns, and every FK column is part of the PK
		if len(table.ForeignKeys) < minJunctionTableFKs ||
			len(table.PrimaryKeys) < minJunctionTableFKs ||
			len(table.Columns) > maxJunctionTableColumns {
			continue
		}

		fkCountInPK := 0
		allFKsInPK := true
		for _, fk := range table.ForeignKeys {
			if containsFold(table.PrimaryKeys, fk.ChildColumn) {
				fkCountInPK++
			} else {
				allFKsInPK = false
			}
		}
		if allFKsInPK && fkCountInPK >= minJunctionTableFKs {
			junctionTables[table.Name] = true
		}
	}
	return junctionTables
}

func generateMermaid(tables []models.Table, relationships []models.Relationship) string {
	var sb strings.Builder

	sb.WriteString("erDiagram\n")

	if len(relationships) > 0 {
		seen := make(map[string]bool)
		for _, rel := range relationships {
			key := fmt.Sprintf("%s:%s:%s", rel.FromTable, rel.Type, rel.ToTable)
			if seen[key] {
				continue
			}
			seen[key] = true

			// Mermaid requires a label; an empty one hides it
			fmt.Fprintf(&sb, "    %s %s %s : \"\"\n",
				mermaidName(rel.FromTable),
				rel.Type,
				mermaidName(rel.ToTable))
		}
		sb.WriteString("\n")
	}

	for _, table := range tables {
		fmt.Fprintf(&sb, "    %s {\n", mermaidName(table.Name))

		for _, col := range table.Columns {
			var annotations []string
			if containsFold(table.PrimaryKeys, col.Name) {
				annotations = append(annotations, "PK")
			}
			if isForeignKey(table.ForeignKeys, col.Name) {
				annotations = append(annotations, "FK")
			}
			if col.IsUnique {
				annotations = append(annotations, "UK")
			}

			line := fmt.Sprintf("        %s %s", simplifyDataType(col.DataType), mermaidName(col.Name))
			if len(annotations) > 0 {
				line += " " + strings.Join(annotations, ",")
			}
			sb.WriteString(line + "\n")
		}

		sb.WriteString("    }\n\n")
	}

	return sb.String()
}

// mermaidName upper-cases a name and replaces characters Mermaid rejects.
func mermaidName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '"', '{', '}':
			return '_'
		}
		return r
	}, strings.ToUpper(name))
}

func simplifyDataType(dataType string) string {
	dt := database.NormalizeType(dataType)

	switch {
	case dt == "":
		return "any"
	case dt == "integer" || dt == "int4":
		return "int"
	case strings.HasPrefix(dt, "character varying"):
		return "varchar"
	case dt == "character" || dt == "bpchar":
		return "char"
	case strings.HasPrefix(dt, "timestamp without time zone"):
		return "timestamp"
	case strings.HasPrefix(dt, "timestamp with time zone"):
		return "timestamptz"
	case strings.HasPrefix(dt, "time without time zone"):
		return "time"
	case dt == "double precision":
		return "double"
	default:
		return strings.ReplaceAll(dt, " ", "_")
	}
}

func isForeignKey(fks []models.ForeignKey, colName string) bool {
	for _, fk := range fks {
		if strings.EqualFold(fk.ChildColumn, colName) {
			return true
		}
	}
	return false
}

func containsFold(list []string, item string) bool {
	for _, s := range list {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
