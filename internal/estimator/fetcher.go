package estimator

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/gnss"
)

// Minimum spacing between orbit fetch attempts, seconds of GPS time.
const fetchInterval = 60.0

// fetchResult is the self-contained outcome of one fetch job. It carries
// values only, never references into main-loop state.
type fetchResult struct {
	orbits ephemeris.Set
	span   ephemeris.Span
	err    error
}

// orbitFetcher schedules downloads of precise orbit products. At most one
// background job exists at a time; its only link back to the main loop is
// a one-slot result channel drained on later requests. The job works from
// a copied config and its own downloader, so the main loop never shares
// mutable state with it.
type orbitFetcher struct {
	cfg           ephemeris.FetchConfig
	newDownloader func() ephemeris.Downloader
	logger        *slog.Logger

	store *ephemeris.Store
	cache *ephemerisCache

	pending   chan fetchResult
	lastFetch *gnss.Time
}

func newOrbitFetcher(cfg ephemeris.FetchConfig, newDownloader func() ephemeris.Downloader,
	store *ephemeris.Store, cache *ephemerisCache, logger *slog.Logger) *orbitFetcher {
	return &orbitFetcher{
		cfg:           cfg,
		newDownloader: newDownloader,
		logger:        logger,
		store:         store,
		cache:         cache,
	}
}

// request asks for orbit coverage of t. Nothing happens when a completed
// fetch already covers t or the last attempt finished under fetchInterval
// ago. In blocking mode the fetch runs inline and the attempt time is not
// recorded. Otherwise the request either starts a background job, or
// polls the running one and folds a finished result into the store.
func (f *orbitFetcher) request(ctx context.Context, t gnss.Time, block bool) {
	if f.store.CoversOrbit(t) {
		return
	}
	if f.lastFetch != nil && t.Sub(*f.lastFetch) <= fetchInterval {
		return
	}

	if block {
		f.apply(t, runFetch(ctx, t, f.cfg, f.newDownloader(), f.logger))
		return
	}

	if f.pending == nil {
		done := make(chan fetchResult, 1)
		f.pending = done
		cfg := f.cfg
		d := f.newDownloader()
		logger := f.logger
		go func() {
			done <- runFetch(context.Background(), t, cfg, d, logger)
		}()
		return
	}

	select {
	case res := <-f.pending:
		f.pending = nil
		fetched := t
		f.lastFetch = &fetched
		f.apply(t, res)
	default:
	}
}

// apply folds a fetch outcome into the store and cache. Failures only
// warn; the estimator keeps running on whatever ephemerides it has.
func (f *orbitFetcher) apply(t gnss.Time, res fetchResult) {
	if res.err != nil {
		f.logger.Warn("no orbit data found or parsing failure", slog.Any("error", res.err))
		return
	}
	f.store.AddOrbits(res.orbits)
	f.store.RecordOrbitSpan(res.span)
	f.cache.maybeSave(t, f.lastFetch, f.store.Navs(), f.store.Orbits())
}

func runFetch(ctx context.Context, t gnss.Time, cfg ephemeris.FetchConfig,
	d ephemeris.Downloader, logger *slog.Logger) fetchResult {
	logger.Info("fetching orbit products", slog.String("time", t.String()))
	start := time.Now()
	orbits, span, err := ephemeris.FetchOrbits(ctx, t, d, cfg, logger)
	if err != nil {
		return fetchResult{err: err}
	}
	logger.Info("orbit fetch complete",
		slog.Int("ephemerides", orbits.Len()),
		slog.Duration("took", time.Since(start).Round(time.Millisecond)))
	return fetchResult{orbits: orbits, span: span}
}
