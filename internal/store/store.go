// Package store persists accounts and alerts with gorm (SQLite or Postgres).
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

const DefaultDedupWindow = 7 * 24 * time.Hour

// Options configures Open.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver      string
	DSN         string
	DedupWindow time.Duration
	// Clock overrides time.Now for timestamps and the dedup window.
	Clock func() time.Time
}

// Store is the account/alert sink.
type Store struct {
	logger      *zap.Logger
	db          *gorm.DB
	dedupWindow time.Duration
	now         func() time.Time
	locks       *keyedMutex
}

// Open connects to the configured database and migrates the schema.
func Open(logger *zap.Logger, opts Options) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		logger:      logger,
		dedupWindow: opts.DedupWindow,
		now:         opts.Clock,
		locks:       newKeyedMutex(),
	}
	if s.dedupWindow <= 0 {
		s.dedupWindow = DefaultDedupWindow
	}
	if s.now == nil {
		s.now = time.Now
	}

	var dialector gorm.Dialector
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		dsn := opts.DSN
		if dsn == "" {
			dsn = "insiderwatch.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		driver = "postgres"
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return s.now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps
		// transactions from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Account{}, &Alert{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	s.db = db

	logger.Info("store opened",
		zap.String("driver", driver),
		zap.Duration("dedup_window", s.dedupWindow),
	)
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) utcNow() time.Time {
	return s.now().UTC()
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
