package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls the Badger database backing the repository payloads.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without touching disk. Used in tests.
	InMemory bool

	// SyncWrites forces an fsync per write. Slower but payloads survive
	// a crash, which is what a PACS wants.
	SyncWrites bool

	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration

	// GCDiscardRatio is the reclaimable fraction a value-log file needs
	// before it is rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns the production defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a config for an ephemeral in-memory database.
func InMemoryConfig() Config {
	return Config{
		InMemory:       true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenDB opens the Badger database described by cfg.
func OpenDB(cfg Config, logger *slog.Logger) (*badger.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open payload database: %w", err)
	}
	return db, nil
}

// GCRunner runs Badger value-log garbage collection until ctx is done.
// Badger never reclaims value-log space on its own; in-memory databases
// have no value log, so the runner exits immediately for them.
func GCRunner(ctx context.Context, db *badger.DB, cfg Config, logger *slog.Logger) {
	if cfg.InMemory {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Rewriting can expose more garbage; loop until a pass
			// finds nothing to reclaim.
			for {
				err := db.RunValueLogGC(cfg.GCDiscardRatio)
				if err != nil {
					break
				}
				logger.DebugContext(ctx, "Badger value log GC reclaimed a file")
			}
		}
	}
}
