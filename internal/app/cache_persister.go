package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"insiderwatch/clients/gist"
	"insiderwatch/internal/cache"
)

// MaxWalletCacheEntries is the default cap on wallet profiles written to the
// gist. Larger files get truncated by the API.
const MaxWalletCacheEntries = 2000

// CachePersister snapshots the in-memory wallet profile cache to a GitHub
// Gist so restarts don't refetch every wallet.
type CachePersister struct {
	logger        *zap.Logger
	storage       gist.Storage
	memory        *cache.Memory
	prefix        string
	saveInterval  time.Duration
	cacheFileName string
	maxEntries    int
}

// NewCachePersister creates a persister for entries of memory whose key
// starts with prefix.
func NewCachePersister(
	logger *zap.Logger,
	storage gist.Storage,
	memory *cache.Memory,
	prefix string,
	saveInterval time.Duration,
	cacheFileName string,
	maxEntries int,
) *CachePersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheFileName == "" {
		cacheFileName = "wallet_cache.json"
	}
	if maxEntries <= 0 {
		maxEntries = MaxWalletCacheEntries
	}
	if saveInterval <= 0 {
		saveInterval = 10 * time.Minute
	}

	return &CachePersister{
		logger:        logger,
		storage:       storage,
		memory:        memory,
		prefix:        prefix,
		saveInterval:  saveInterval,
		cacheFileName: cacheFileName,
		maxEntries:    maxEntries,
	}
}

func (cp *CachePersister) enabled() bool {
	return cp.storage != nil && cp.storage.IsEnabled() && cp.memory != nil
}

// LoadCache imports a previously saved snapshot. A missing snapshot is not
// an error. Returns the number of entries imported.
func (cp *CachePersister) LoadCache(ctx context.Context) (int, error) {
	if !cp.enabled() {
		cp.logger.Info("gist storage not configured, skipping cache load")
		return 0, nil
	}

	var snap cache.Snapshot
	err := cp.storage.LoadJSON(ctx, cp.cacheFileName, &snap)
	if errors.Is(err, gist.ErrNotFound) {
		cp.logger.Info("no saved wallet cache, starting fresh",
			zap.String("fileName", cp.cacheFileName),
		)
		return 0, nil
	}
	if err != nil {
		cp.logger.Warn("failed to load wallet cache from gist",
			zap.String("fileName", cp.cacheFileName),
			zap.Error(err),
		)
		return 0, err
	}

	imported := cp.memory.Import(&snap)
	cp.logger.Info("loaded wallet cache from gist",
		zap.Int("entries", len(snap.Entries)),
		zap.Int("imported", imported),
	)
	return imported, nil
}

// SaveCache writes the live entries, keeping the ones that expire last when
// there are more than maxEntries.
func (cp *CachePersister) SaveCache(ctx context.Context) error {
	if !cp.enabled() {
		return nil
	}

	pruned := cp.memory.PruneExpired()
	snap := cp.memory.Export(cp.prefix, cp.maxEntries)
	if len(snap.Entries) == 0 {
		cp.logger.Debug("wallet cache is empty, skipping save")
		return nil
	}

	if err := cp.storage.SaveJSON(ctx, cp.cacheFileName, snap); err != nil {
		return err
	}

	cp.logger.Info("saved wallet cache to gist",
		zap.Int("wallets", len(snap.Entries)),
		zap.Int("pruned", pruned),
	)
	return nil
}

// Run saves on every interval and once more on shutdown.
func (cp *CachePersister) Run(ctx context.Context) {
	if !cp.enabled() {
		cp.logger.Info("gist storage not configured, cache persistence disabled")
		return
	}

	ticker := time.NewTicker(cp.saveInterval)
	defer ticker.Stop()

	cp.logger.Info("cache persister started",
		zap.Duration("saveInterval", cp.saveInterval),
	)

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := cp.SaveCache(saveCtx); err != nil {
				cp.logger.Error("failed to save cache on shutdown", zap.Error(err))
			}
			cancel()
			cp.logger.Info("cache persister stopped")
			return

		case <-ticker.C:
			if err := cp.SaveCache(ctx); err != nil {
				cp.logger.Warn("failed to save cache", zap.Error(err))
			}
		}
	}
}
