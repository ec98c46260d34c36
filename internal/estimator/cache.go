package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/gnss"
	"github.com/meridian-av/gnssd/internal/store"
)

const (
	cacheKey     = "EphemerisCache"
	cacheVersion = "1.0"

	// Minimum spacing between cache writes, seconds.
	cacheSaveInterval = 60.0
)

// Snapshot is the persisted cache schema. Version gates deserialization:
// a snapshot written by a build with a different schema is discarded.
type Snapshot struct {
	Version       string        `json:"version"`
	LastFetchTime *gnss.Time    `json:"lastFetchTime,omitempty"`
	Orbits        ephemeris.Set `json:"orbits"`
	Nav           ephemeris.Set `json:"nav"`

	// Size is the serialized length in bytes, set on load.
	Size int `json:"-"`
}

// LoadSnapshot reads and validates the persisted ephemeris snapshot from
// params. The daemon restores through its own cache; this entry point is
// for offline tooling inspecting the same database.
func LoadSnapshot(ctx context.Context, params store.Store) (*Snapshot, error) {
	raw, err := params.Get(ctx, cacheKey)
	if err != nil {
		return nil, fmt.Errorf("reading ephemeris cache: %w", err)
	}

	var snap Snapshot
	if err = json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parsing ephemeris cache: %w", err)
	}
	if snap.Version != cacheVersion {
		return nil, fmt.Errorf("ephemeris cache version %q, want %q", snap.Version, cacheVersion)
	}

	snap.Size = len(raw)
	return &snap, nil
}

// ephemerisCache persists the ephemeris store across restarts through the
// parameter store. Writes are asynchronous and throttled; a failed or
// incompatible load degrades to a cold start.
type ephemerisCache struct {
	store   store.Store
	logger  *slog.Logger
	enabled bool

	lastSaved *gnss.Time
}

func newEphemerisCache(s store.Store, enabled bool, logger *slog.Logger) *ephemerisCache {
	return &ephemerisCache{store: s, logger: logger, enabled: enabled && s != nil}
}

// load reads and validates the persisted snapshot. It returns nil on any
// failure so the caller starts cold.
func (c *ephemerisCache) load(ctx context.Context) *Snapshot {
	if !c.enabled {
		return nil
	}

	snap, err := LoadSnapshot(ctx, c.store)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Debug("no ephemeris cache found")
		} else {
			c.logger.Warn("discarding ephemeris cache", slog.Any("error", err))
		}
		return nil
	}

	c.logger.Debug("ephemeris cache loaded",
		slog.Int("nav", snap.Nav.Len()),
		slog.Int("orbits", snap.Orbits.Len()),
		slog.String("size", humanize.Bytes(uint64(snap.Size))))
	return snap
}

// maybeSave snapshots the given store contents unless a save happened less
// than cacheSaveInterval seconds of GPS time ago. The write itself is fire
// and forget.
func (c *ephemerisCache) maybeSave(t gnss.Time, lastFetch *gnss.Time, nav, orbits ephemeris.Set) {
	if !c.enabled {
		return
	}
	if c.lastSaved != nil && t.Sub(*c.lastSaved) <= cacheSaveInterval {
		return
	}

	raw, err := json.Marshal(Snapshot{
		Version:       cacheVersion,
		LastFetchTime: lastFetch,
		Orbits:        orbits,
		Nav:           nav,
	})
	if err != nil {
		c.logger.Warn("error serializing ephemeris cache", slog.Any("error", err))
		return
	}

	c.store.PutAsync(cacheKey, raw)
	saved := t
	c.lastSaved = &saved
	c.logger.Debug("ephemeris cache saved",
		slog.String("size", humanize.Bytes(uint64(len(raw)))))
}
