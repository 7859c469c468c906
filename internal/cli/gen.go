package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"nkit/internal/synth"
)

func newGenCommand() *cobra.Command {
	var (
		dir      string
		pkg      string
		fileName string
		split    bool
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate Go source with one struct per table",
		Example: `  # Generate structs from a snapshot without touching the database
  nkit gen --dialect postgres --snapshot schema.yaml --dir ./models --package models

  # One file per table
  nkit gen --dsn "$DSN" --dialect sqlite --split`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			if dir == "" {
				dir = e.cfg.Codegen.Dir
			}
			if pkg == "" {
				pkg = e.cfg.Codegen.Package
			}

			loaded, err := loadSchema(cmd.Context(), e, false)
			if err != nil {
				return err
			}
			defer loaded.Close()

			db, _, err := loaded.schema.Database()
			if err != nil {
				return err
			}
			var files []synth.GeneratedFile
			if split {
				files, err = synth.GenerateSplit(db, loaded.dialect, pkg)
			} else {
				var src []byte
				src, err = synth.Generate(db, loaded.dialect, pkg)
				files = []synth.GeneratedFile{{Name: fileName, Src: src}}
			}
			if err != nil {
				return err
			}

			em := synth.NewEmitter(dir, e.logger)
			for _, f := range files {
				if _, err := em.Emit(f.Name, f.Src); err != nil {
					// a partial package does not compile, so drop what was written
					if cerr := em.Cleanup(); cerr != nil {
						e.logger.Warn("failed to remove partial output", slog.String("error", cerr.Error()))
					}
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d types in %s\n", len(db.Tables), strings.Join(em.Artifacts(), ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default: codegen.dir)")
	cmd.Flags().StringVar(&pkg, "package", "", "Go package name (default: codegen.package)")
	cmd.Flags().StringVar(&fileName, "file", "entities.go", "output file name")
	cmd.Flags().BoolVar(&split, "split", false, "write one file per table instead of --file")
	return cmd
}
