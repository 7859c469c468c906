package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Migration is one SQL script, executed as a single batch.
type Migration struct {
	Name string
	SQL  string
}

// LoadMigrations reads each script file in the given order.
func LoadMigrations(paths []string) ([]Migration, error) {
	migrations := make([]Migration, 0, len(paths))
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read SQL file: %w", err)
		}
		migrations = append(migrations, Migration{Name: filepath.Base(path), SQL: string(b)})
	}
	return migrations, nil
}

// RunMigrations executes the scripts in order and stops at the first failure.
// Blank scripts are skipped. MySQL DSNs need multiStatements=true for scripts
// with more than one statement.
func (c *Conn) RunMigrations(ctx context.Context, migrations []Migration) error {
	for i, m := range migrations {
		if strings.TrimSpace(m.SQL) == "" {
			continue
		}
		c.logger.Info("running migration",
			slog.Int("step", i+1),
			slog.Int("total", len(migrations)),
			slog.String("name", m.Name),
		)
		if _, err := c.DB.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.Name, err)
		}
	}

	c.logger.Info("all migrations completed successfully", slog.Int("count", len(migrations)))
	return nil
}
