// Package logstore persists the log entries of failed operation runs in a SQL database.
//
// The store works with any database/sql driver that understands $n placeholders. The postgres
// (lib/pq) and in-memory (ramsql) drivers are registered by this package.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"

	_ "github.com/lib/pq"
	_ "github.com/proullon/ramsql/driver"
)

const (
	// DriverPostgres is the driver name registered by lib/pq.
	DriverPostgres = "postgres"
	// DriverMemory is the driver name registered by ramsql.
	DriverMemory = "ramsql"
)

var ErrEntryWithoutID = errors.New("log entry has no id")

// Store is an operations.LogStore backed by a SQL table.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	db       *dbController
	q        queries
	lggr     logger.Logger
	attempts uint
	delay    time.Duration
	closer   func() error
}

var _ operations.LogStore = (*Store)(nil)

type config struct {
	table    string
	lggr     logger.Logger
	attempts uint
	delay    time.Duration
}

// Option configures a Store.
type Option func(*config)

// WithTable sets the table entries are stored in. Defaults to DefaultTable.
func WithTable(table string) Option {
	return func(c *config) {
		c.table = table
	}
}

// WithLogger sets the logger used for queries and write retries.
func WithLogger(lggr logger.Logger) Option {
	return func(c *config) {
		c.lggr = lggr
	}
}

// WithWriteAttempts sets how many times a failed write is attempted. Defaults to 3.
func WithWriteAttempts(attempts uint) Option {
	return func(c *config) {
		c.attempts = attempts
	}
}

// WithRetryDelay sets the base delay between write attempts. Defaults to 100ms.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *config) {
		c.delay = delay
	}
}

// Open connects to the database identified by driver and dsn and prepares the log table.
// The returned store owns the connection and closes it on Close.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.closer = db.Close

	return s, nil
}

// New prepares the log table in db and returns a store using it. The caller keeps ownership
// of db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	cfg := config{
		table:    DefaultTable,
		attempts: 3,
		delay:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lggr == nil {
		cfg.lggr = logger.Nop()
	}
	cfg.attempts = max(cfg.attempts, 1)

	q, err := newQueries(cfg.table)
	if err != nil {
		return nil, err
	}

	ctrl := newDbController(db, cfg.lggr)
	if err = ctrl.Fixture(ctx, q.schema); err != nil {
		return nil, fmt.Errorf("failed to create log entries schema: %w", err)
	}

	return &Store{
		db:       ctrl,
		q:        q,
		lggr:     cfg.lggr,
		attempts: cfg.attempts,
		delay:    cfg.delay,
		closer:   func() error { return nil },
	}, nil
}

// Close closes the database connection when the store opened it.
func (s *Store) Close() error {
	return s.closer()
}

// AddEntry stores entry, retrying failed writes.
func (s *Store) AddEntry(entry operations.LogEntry) error {
	return s.AddEntryContext(context.Background(), entry)
}

// AddEntryContext stores entry, retrying failed writes until ctx is done.
func (s *Store) AddEntryContext(ctx context.Context, entry operations.LogEntry) error {
	args, err := insertArgs(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return retry.Do(func() error {
		_, rerr := s.db.ExecContext(ctx, s.q.insert, args...)
		if rerr != nil && isDuplicate(rerr) {
			return retry.Unrecoverable(fmt.Errorf("entry_id %s already stored: %w", entry.ID, rerr))
		}

		return rerr
	},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.lggr.Warnw("Retrying log entry write", "entry", entry.ID, "attempt", n+1, "error", err)
		}),
	)
}

// Import stores entries in a single transaction: either all of them are stored or none.
func (s *Store) Import(ctx context.Context, entries []operations.LogEntry) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.db.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, s.db.Rollback())
			return
		}
		err = s.db.Commit()
	}()

	for _, entry := range entries {
		args, aerr := insertArgs(entry)
		if aerr != nil {
			return aerr
		}
		if _, err = s.db.ExecContext(ctx, s.q.insert, args...); err != nil {
			return fmt.Errorf("failed to store entry_id %s: %w", entry.ID, err)
		}
	}

	return nil
}

// GetEntry returns the entry with the given id.
// Returns operations.ErrLogEntryNotFound if the entry is not found.
func (s *Store) GetEntry(id string) (operations.LogEntry, error) {
	return s.GetEntryContext(context.Background(), id)
}

// GetEntryContext is GetEntry with a context.
func (s *Store) GetEntryContext(ctx context.Context, id string) (operations.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.query(ctx, s.q.selectOne, id)
	if err != nil {
		return operations.LogEntry{}, err
	}
	if len(entries) == 0 {
		return operations.LogEntry{}, fmt.Errorf("entry_id %s: %w", id, operations.ErrLogEntryNotFound)
	}

	return entries[0], nil
}

// GetEntries returns all entries, oldest first.
func (s *Store) GetEntries() ([]operations.LogEntry, error) {
	return s.GetEntriesContext(context.Background())
}

// GetEntriesContext is GetEntries with a context.
func (s *Store) GetEntriesContext(ctx context.Context) ([]operations.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.query(ctx, s.q.selectAll)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b operations.LogEntry) int {
		if c := createdAt(a).Compare(createdAt(b)); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return entries, nil
}

// Prune deletes the entries created before the given time and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.q.deleteOlder, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune log entries: %w", err)
	}

	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]operations.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []operations.LogEntry
	for rows.Next() {
		var raw string
		if err = rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		var entry operations.LogEntry
		if err = json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func insertArgs(entry operations.LogEntry) ([]any, error) {
	if entry.ID == "" {
		return nil, ErrEntryWithoutID
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry_id %s: %w", entry.ID, err)
	}

	return []any{
		entry.ID,
		entry.PluginID,
		int(entry.Severity),
		entry.Message,
		string(raw),
		createdAt(entry).UnixNano(),
	}, nil
}

// createdAt returns the creation time of entry, the unix epoch when it has none.
func createdAt(entry operations.LogEntry) time.Time {
	if entry.Timestamp == nil {
		return time.Unix(0, 0)
	}

	return *entry.Timestamp
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique") || strings.Contains(msg, "primary key")
}
