package synth

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Emitter writes generated files into a directory and remembers them so
// Cleanup can remove every artifact it produced.
type Emitter struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	artifacts []string
}

func NewEmitter(dir string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emitter{dir: dir, logger: logger}
}

// Emit writes src to name inside the emitter directory and returns the path.
func (e *Emitter) Emit(name string, src []byte) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	e.mu.Lock()
	e.artifacts = append(e.artifacts, path)
	e.mu.Unlock()

	e.logger.Info("emitted artifact", slog.String("path", path), slog.Int("bytes", len(src)))
	return path, nil
}

func (e *Emitter) Artifacts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.artifacts...)
}

// Cleanup removes every emitted artifact. Files already gone are ignored.
func (e *Emitter) Cleanup() error {
	e.mu.Lock()
	paths := e.artifacts
	e.artifacts = nil
	e.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
