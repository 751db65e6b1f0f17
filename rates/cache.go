/*
Package rates keeps the current UF exchange rate available to billing.

PURPOSE:
  Late fees are priced in UF, a daily-indexed unit. The Cache holds the latest
  known (value, date) snapshot, persists it to a small JSON file, and refreshes
  it from a remote Source in the background. Billing only ever reads.

FAILURE MODEL:
  A failed refresh (transport, non-2xx, timeout, malformed payload) is logged
  and leaves the previous snapshot in place. Readers never see an error and
  never wait on the network.

CACHE FILE:
  {"date": "2024-03-20", "value": "37452.18"}
  Missing or corrupt on startup -> DefaultValue dated today.

SEE ALSO:
  - source.go: MindicadorSource
  - refresher.go: background refresh loop
*/
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultValue seeds the cache when no usable cache file exists.
var DefaultValue = decimal.RequireFromString("37000.00")

// Snapshot is one observed rate and the date it is effective for.
type Snapshot struct {
	Value decimal.Decimal
	Date  time.Time
}

// Recorder receives refresh outcomes, e.g. for metrics.
type Recorder interface {
	RateRefreshed(s Snapshot)
	RateRefreshFailed()
}

type CacheConfig struct {
	Path     string // empty disables persistence
	Source   Source
	Logger   *zap.Logger
	Recorder Recorder
	Now      func() time.Time
}

type Cache struct {
	mu   sync.RWMutex
	snap Snapshot

	fileMu sync.Mutex
	path   string

	source   Source
	log      *zap.Logger
	recorder Recorder
}

// NewCache seeds a cache from its file, falling back to DefaultValue.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cache{
		path:     cfg.Path,
		source:   cfg.Source,
		log:      cfg.Logger,
		recorder: cfg.Recorder,
	}

	snap, err := readFile(cfg.Path)
	switch {
	case err == nil:
		c.snap = snap
		c.log.Info("rate cache loaded", zap.String("value", snap.Value.String()), zap.Time("date", snap.Date))
	case errors.Is(err, fs.ErrNotExist) || cfg.Path == "":
		c.snap = Snapshot{Value: DefaultValue, Date: dateOf(cfg.Now())}
		c.log.Info("rate cache empty, using default", zap.String("value", DefaultValue.String()))
	default:
		c.snap = Snapshot{Value: DefaultValue, Date: dateOf(cfg.Now())}
		c.log.Warn("rate cache unreadable, using default", zap.String("path", cfg.Path), zap.Error(err))
	}
	return c
}

// Current returns the latest snapshot.
func (c *Cache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Refresh fetches a new snapshot and swaps it in. It reports whether the
// snapshot changed; failures are logged, never returned.
func (c *Cache) Refresh(ctx context.Context) bool {
	if c.source == nil {
		return false
	}
	snap, err := c.source.FetchCurrentRate(ctx)
	if err != nil {
		c.log.Warn("rate refresh failed, keeping previous value",
			zap.String("value", c.Current().Value.String()), zap.Error(err))
		if c.recorder != nil {
			c.recorder.RateRefreshFailed()
		}
		return false
	}

	// fileMu spans swap and write so the file follows the in-memory order.
	c.fileMu.Lock()
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	err = c.persist(snap)
	c.fileMu.Unlock()
	if err != nil {
		c.log.Warn("rate cache not persisted", zap.String("path", c.path), zap.Error(err))
	}
	if c.recorder != nil {
		c.recorder.RateRefreshed(snap)
	}
	c.log.Info("rate refreshed", zap.String("value", snap.Value.String()), zap.Time("date", snap.Date))
	return true
}

// =============================================================================
// CACHE FILE
// =============================================================================

type cacheFile struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

func readFile(path string) (Snapshot, error) {
	if path == "" {
		return Snapshot{}, fs.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Snapshot{}, fmt.Errorf("decode cache file: %w", err)
	}
	date, err := time.Parse("2006-01-02", f.Date)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache file date: %w", err)
	}
	value, err := decimal.NewFromString(f.Value)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cache file value: %w", err)
	}
	if !value.IsPositive() {
		return Snapshot{}, fmt.Errorf("cache file value %s is not positive", value)
	}
	return Snapshot{Value: value, Date: date}, nil
}

// persist writes to a temp file in the same directory and renames it over the
// cache file, so readers never observe a partial write. Callers hold fileMu.
func (c *Cache) persist(s Snapshot) error {
	if c.path == "" {
		return nil
	}

	raw, err := json.Marshal(cacheFile{Date: s.Date.Format("2006-01-02"), Value: s.Value.StringFixed(2)})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".rate-cache-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
