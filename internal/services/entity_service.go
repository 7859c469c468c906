package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"

	"nkit/internal/database"
	"nkit/internal/repositories"
	"nkit/internal/synth"
)

const defaultRetryDelay = 100 * time.Millisecond

// TxConfig controls how EntityService runs transactions.
type TxConfig struct {
	Retries   int
	Delay     time.Duration
	Isolation sql.IsolationLevel
	Timeout   time.Duration
}

// Accessor pairs the synthesized row type of a table with its repository.
type Accessor struct {
	Entity *synth.Entity
	Repo   *repositories.TableRepository
}

// EntityService resolves entities by name and dispatches CRUD calls to
// their table accessors.
type EntityService struct {
	conn   *database.Conn
	schema *SchemaService
	synth  *synth.Synthesizer
	tx     TxConfig
	logger *slog.Logger

	mu        sync.RWMutex
	version   uint64
	accessors map[string]*Accessor
}

func NewEntityService(
	conn *database.Conn,
	schema *SchemaService,
	synthesizer *synth.Synthesizer,
	tx TxConfig,
	logger *slog.Logger,
) *EntityService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EntityService{
		conn:      conn,
		schema:    schema,
		synth:     synthesizer,
		tx:        tx,
		logger:    logger,
		accessors: make(map[string]*Accessor),
	}
}

// Resolve returns the accessor of an entity, named by table or type name.
// Accessors resolved against an older schema version are discarded.
func (s *EntityService) Resolve(entity string) (*Accessor, error) {
	table, version, err := s.schema.Table(entity)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(table.Name)

	s.mu.RLock()
	acc, ok := s.accessors[key]
	current := s.version == version
	s.mu.RUnlock()
	if ok && current {
		return acc, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if version > s.version {
		s.accessors = make(map[string]*Accessor)
		s.version = version
	}
	if acc, ok := s.accessors[key]; ok && version == s.version {
		return acc, nil
	}

	ent, err := s.synth.Synthesize(table)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize %s: %w", table.Name, err)
	}
	repo, err := repositories.NewTableRepository(s.conn, table, s.logger)
	if err != nil {
		return nil, err
	}

	acc = &Accessor{Entity: ent, Repo: repo}
	// a table read before a refresh serves this call but is not cached
	if version == s.version {
		s.accessors[key] = acc
	}
	return acc, nil
}

// Get returns the row whose surrogate key equals id.
func (s *EntityService) Get(ctx context.Context, entity string, id any) (repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}
	return acc.Repo.Get(ctx, nil, "", id)
}

// Search returns the rows whose column equals value.
func (s *EntityService) Search(ctx context.Context, entity, column string, value any, limit int) ([]repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}
	if column == "" {
		return nil, fmt.Errorf("%w: search column is required", repositories.ErrUnknownColumn)
	}
	return acc.Repo.Find(ctx, nil, column, value, limit)
}

func (s *EntityService) List(ctx context.Context, entity string, limit int) ([]repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}
	return acc.Repo.All(ctx, nil, limit)
}

func (s *EntityService) Count(ctx context.Context, entity string) (int64, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return 0, err
	}
	return acc.Repo.Count(ctx, nil)
}

// Insert writes rec and returns it with its generated key. Nil values of
// columns that have a database default are left to the default.
func (s *EntityService) Insert(ctx context.Context, entity string, rec repositories.Record) (repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}
	return acc.Repo.Insert(ctx, nil, withoutDefaulted(acc, rec))
}

// Update writes rec over the row with the same surrogate key.
func (s *EntityService) Update(ctx context.Context, entity string, rec repositories.Record) error {
	acc, err := s.Resolve(entity)
	if err != nil {
		return err
	}
	n, err := acc.Repo.Update(ctx, nil, rec, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", acc.Entity.Table.Name, repositories.ErrNotFound)
	}
	return nil
}

// Delete removes the row whose surrogate key equals id.
func (s *EntityService) Delete(ctx context.Context, entity string, id any) error {
	acc, err := s.Resolve(entity)
	if err != nil {
		return err
	}
	n, err := acc.Repo.Delete(ctx, nil, "", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", acc.Entity.Table.Name, repositories.ErrNotFound)
	}
	return nil
}

func (s *EntityService) DeleteAll(ctx context.Context, entity string) (int64, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return 0, err
	}
	return acc.Repo.DeleteAll(ctx, nil)
}

func (s *EntityService) Save(ctx context.Context, entity string, rec repositories.Record) (repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}
	return acc.Repo.Save(ctx, nil, withoutDefaulted(acc, rec))
}

// SaveAll saves every record, one statement at a time, in one transaction.
func (s *EntityService) SaveAll(ctx context.Context, entity string, recs []repositories.Record) ([]repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}

	var out []repositories.Record
	err = s.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		out = make([]repositories.Record, 0, len(recs))
		for i, rec := range recs {
			saved, err := acc.Repo.Save(ctx, tx, withoutDefaulted(acc, rec))
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertAll inserts every record in one transaction.
func (s *EntityService) InsertAll(ctx context.Context, entity string, recs []repositories.Record) ([]repositories.Record, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return nil, err
	}

	var out []repositories.Record
	err = s.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		out = make([]repositories.Record, 0, len(recs))
		for i, rec := range recs {
			inserted, err := acc.Repo.Insert(ctx, tx, withoutDefaulted(acc, rec))
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, inserted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteKeys deletes the rows with the given surrogate keys in one
// transaction and returns how many were removed. Missing keys are skipped.
func (s *EntityService) DeleteKeys(ctx context.Context, entity string, ids []any) (int64, error) {
	acc, err := s.Resolve(entity)
	if err != nil {
		return 0, err
	}

	var total int64
	err = s.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		total = 0
		for _, id := range ids {
			n, err := acc.Repo.Delete(ctx, tx, "", id)
			if err != nil {
				return fmt.Errorf("key %v: %w", id, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// WithTx runs fn in a transaction, committing on success and rolling back
// on error or panic. Deadlocks are retried up to Retries times with a
// constant Delay; any other error is returned at once.
func (s *EntityService) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	delay := s.tx.Delay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	retries := s.tx.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := s.runTx(ctx, fn)
		if err != nil && s.conn.Dialect.IsDeadlock(err) {
			s.logger.Warn("transaction deadlocked",
				slog.Int("attempt", attempts),
				slog.Int("max_retries", retries),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && attempts > 1 {
		return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
	}
	return err
}

func (s *EntityService) runTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	if s.tx.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tx.Timeout)
		defer cancel()
	}

	tx, err := s.conn.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: s.tx.Isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("failed to roll back transaction", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func withoutDefaulted(acc *Accessor, rec repositories.Record) repositories.Record {
	out := make(repositories.Record, len(rec))
	for name, v := range rec {
		if v == nil {
			if col := acc.Entity.Table.Column(name); col != nil && col.Default != nil {
				continue
			}
		}
		out[name] = v
	}
	return out
}
