package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"nkit/internal/config"
	"nkit/internal/database"
	"nkit/internal/repositories"
	"nkit/internal/services"
	"nkit/internal/synth"
)

// loadedSchema is a schema service together with what it was built from.
type loadedSchema struct {
	schema  *services.SchemaService
	dialect *database.Dialect
	conn    *database.Conn
}

func (l *loadedSchema) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// loadSchema introspects the configured database. Without a DSN the schema
// comes from the snapshot file alone. live skips the snapshot file.
func loadSchema(ctx context.Context, e *env, live bool) (*loadedSchema, error) {
	cfg := e.cfg
	opts := services.SchemaOptions{Name: cfg.Database.Name, SnapshotFile: cfg.Database.SnapshotFile}
	if live {
		opts.SnapshotFile = ""
	}

	if cfg.Database.DSN == "" {
		d, err := database.Lookup(cfg.Database.Dialect)
		if err != nil {
			return nil, err
		}
		svc := services.NewSchemaService(nil, nil, nil, synth.New(d), opts, e.logger)
		if err := svc.Initialize(ctx); err != nil {
			return nil, err
		}
		return &loadedSchema{schema: svc, dialect: d}, nil
	}

	conn, err := database.Connect(ctx, dbConfig(cfg), e.logger)
	if err != nil {
		return nil, err
	}
	provider, err := repositories.NewSchemaProvider(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	svc := services.NewSchemaService(conn, provider, nil, synth.New(conn.Dialect), opts, e.logger)
	if err := svc.Initialize(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &loadedSchema{schema: svc, dialect: conn.Dialect, conn: conn}, nil
}

func dbConfig(cfg *config.Config) database.Config {
	return database.Config{
		Dialect:         cfg.Database.Dialect,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
}

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect, export and import database schemas",
	}
	cmd.AddCommand(newSchemaExportCommand())
	cmd.AddCommand(newSchemaImportCommand())
	cmd.AddCommand(newSchemaInspectCommand())
	cmd.AddCommand(newSchemaVisualizeCommand())
	return cmd
}

func newSchemaExportCommand() *cobra.Command {
	var (
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Introspect the database and write a schema snapshot",
		Example: `  # Write the schema of a PostgreSQL database as YAML
  nkit schema export --dialect postgres --dsn "$DATABASE_URL" -o schema.yaml

  # Print the schema as JSON
  nkit schema export --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			loaded, err := loadSchema(cmd.Context(), e, true)
			if err != nil {
				return err
			}
			defer loaded.Close()

			if output != "" && format == "" {
				return loaded.schema.SaveSnapshot(output)
			}

			f, err := services.ParseFormat(format)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer file.Close()
				w = file
			}
			return loaded.schema.Export(w, f)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "snapshot file, format taken from its extension")
	cmd.Flags().StringVarP(&format, "format", "f", "", "snapshot format (json|xml|yaml)")
	return cmd
}

func newSchemaImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Validate a snapshot and install it as the configured snapshot file or Redis cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd)
			db, err := services.ReadSnapshotFile(args[0])
			if err != nil {
				return err
			}
			if e.cfg.Database.Name != "" {
				db.Name = e.cfg.Database.Name
			}

			installed := false
			if path := e.cfg.Database.SnapshotFile; path != "" {
				if err := services.WriteSnapshotFile(path, db); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", path)
				installed = true
			}
			if addr := e.cfg.Redis.Addr; addr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: addr, Password: e.cfg.Redis.Password, DB: e.cfg.Redis.DB})
				defer rdb.Close()
				cache := repositories.NewRedisRepository(rdb, e.cfg.Redis.SnapshotTTL)
				if err := cache.StoreSnapshot(cmd.Context(), db); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot cached in Redis as %s\n", db.Name)
				installed = true
			}
			if !installed {
				return errors.New("nowhere to import to: set database.snapshot_file or redis.addr")
			}
			return nil
		},
	}
	cmd.Annotations = map[string]string{annotationNoDatabase: "true"}
	return cmd
}

func newSchemaInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [TABLE]",
		Short: "List tables, or the columns of one table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd)
			loaded, err := loadSchema(cmd.Context(), e, false)
			if err != nil {
				return err
			}
			defer loaded.Close()

			db, _, err := loaded.schema.Database()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 0 {
				fmt.Fprintln(tw, "TABLE\tTYPE\tCOLUMNS\tKEY\tCHILDREN")
				for _, t := range db.Tables {
					var children []string
					for _, fk := range db.Children(t.Name) {
						children = append(children, fk.ChildTable)
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						t.Name, t.TypeName, len(t.Columns), strings.Join(t.PrimaryKeys, ","), strings.Join(children, ","))
				}
				return nil
			}

			table, _, err := loaded.schema.Table(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "COLUMN\tTYPE\tNULLABLE\tKEY\tIDENTITY\tUNIQUE\tDEFAULT")
			for _, c := range table.Columns {
				def := ""
				if c.Default != nil {
					def = *c.Default
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%t\t%s\n", c.Name, c.DataType, c.Nullable, c.IsKey, c.IsIdentity, c.IsUnique, def)
			}
			return nil
		},
	}
}

func newSchemaVisualizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "visualize",
		Short: "Print a Mermaid ER diagram of the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			loaded, err := loadSchema(cmd.Context(), e, false)
			if err != nil {
				return err
			}
			defer loaded.Close()

			diagram, err := loaded.schema.Visualize()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), diagram)
			return nil
		},
	}
}
