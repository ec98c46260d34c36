package estimator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/gnss"
	"github.com/meridian-av/gnssd/internal/kalman"
	"github.com/meridian-av/gnssd/internal/solver"
	"github.com/meridian-av/gnssd/internal/store"
)

// Default orbit product archives: NASA CDDIS for the GPS ultra-rapid
// products, the Russian IAC mirror for GLONASS.
const (
	DefaultGPSBaseURL     = "https://cddis.nasa.gov/archive/gnss/products"
	DefaultGlonassBaseURL = "https://ftp.glonass-iac.ru/MCC/PRODUCTS"
)

const (
	// minPosFixInterval is the reuse window of the Gauss-Newton position
	// fix, seconds. A younger fix is served from cache.
	minPosFixInterval = 2.0

	// downloadTimeout bounds each orbit product request.
	downloadTimeout = 30 * time.Second
)

// Config carries the estimator's operational knobs. The zero value is a
// GPS+GLONASS estimator with background fetches from the default archives
// and no persistence.
type Config struct {
	// Constellations the estimator accepts measurements and ephemerides
	// from. Defaults to GPS and GLONASS.
	Constellations []gnss.Constellation

	// EphemerisTypes restricts the ephemeris sources the store keeps.
	// Defaults to broadcast records plus ultra-rapid orbit products.
	EphemerisTypes []ephemeris.Type

	// Fetch points at the orbit product archives. Constellations on it are
	// overwritten with the estimator's own.
	Fetch ephemeris.FetchConfig

	// DisableOrbitFetch turns automatic orbit product downloads off, for
	// air-gapped operation.
	DisableOrbitFetch bool

	// BlockingFetch runs orbit fetches inline instead of in the
	// background. Meant for replay, where determinism beats latency.
	BlockingFetch bool

	// PersistEphemeris enables the snapshot cache in the parameter store.
	PersistEphemeris bool
}

// gnssFilter is the slice of the Kalman filter the estimator drives.
// *kalman.Filter implements it; tests substitute recording wrappers.
type gnssFilter interface {
	Time() float64
	State() [kalman.StateDim]float64
	CovarianceDiag() [kalman.StateDim]float64
	InitState(x, covDiag [kalman.StateDim]float64)
	Predict(t float64)
	PredictAndObserve(t float64, kind kalman.ObservationKind, obs []kalman.Observation)
}

// Estimator owns the long-lived state of the pipeline: the ephemeris
// store, the Kalman filter, the orbit fetch scheduler, the snapshot cache,
// and the cached position fix. Not safe for concurrent use; a single
// goroutine threads messages through ProcessMessage.
type Estimator struct {
	logger *slog.Logger
	cfg    Config

	ephStore *ephemeris.Store
	filter   gnssFilter
	cache    *ephemerisCache
	fetcher  *orbitFetcher

	newDownloader func() ephemeris.Downloader

	lastPosFix         []float64
	lastPosFixResidual []float64
	lastPosFixT        *float64
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDownloaderFactory overrides how per-fetch downloaders are built.
func WithDownloaderFactory(f func() ephemeris.Downloader) Option {
	return func(e *Estimator) {
		if f != nil {
			e.newDownloader = f
		}
	}
}

// New builds an estimator and restores the ephemeris snapshot from params
// when persistence is enabled. A nil params store disables persistence
// regardless of config.
func New(params store.Store, cfg Config, opts ...Option) *Estimator {
	if len(cfg.Constellations) == 0 {
		cfg.Constellations = []gnss.Constellation{gnss.ConstellationGPS, gnss.ConstellationGLONASS}
	}
	if len(cfg.EphemerisTypes) == 0 {
		cfg.EphemerisTypes = []ephemeris.Type{ephemeris.TypeNav, ephemeris.TypeUltraRapidOrbit}
	}
	if cfg.Fetch.GPSBaseURL == "" {
		cfg.Fetch.GPSBaseURL = DefaultGPSBaseURL
	}
	if cfg.Fetch.GlonassBaseURL == "" {
		cfg.Fetch.GlonassBaseURL = DefaultGlonassBaseURL
	}
	cfg.Fetch.Constellations = cfg.Constellations

	e := &Estimator{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:      cfg,
		ephStore: ephemeris.NewStore(cfg.Constellations, ephemeris.WithAcceptedTypes(cfg.EphemerisTypes...)),
		filter:   kalman.NewFilter(),
		newDownloader: func() ephemeris.Downloader {
			return ephemeris.NewHTTPDownloader(downloadTimeout)
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cache = newEphemerisCache(params, cfg.PersistEphemeris, e.logger)
	e.fetcher = newOrbitFetcher(cfg.Fetch, e.newDownloader, e.ephStore, e.cache, e.logger)
	e.restoreCache(context.Background())
	return e
}

// restoreCache seeds the store and fetch throttle from the persisted
// snapshot, if a usable one exists.
func (e *Estimator) restoreCache(ctx context.Context) {
	snap := e.cache.load(ctx)
	if snap == nil {
		return
	}
	e.ephStore.AddNavs(snap.Nav)
	e.ephStore.AddOrbits(snap.Orbits)
	e.fetcher.lastFetch = snap.LastFetchTime
}

// ProcessMessage consumes one receiver message. Measurement reports yield
// an output message; ephemeris payloads update the store and yield nil, as
// do unrecognized payloads. The only error is a contract violation during
// output assembly, which the caller must treat as fatal.
func (e *Estimator) ProcessMessage(ctx context.Context, msg *ReceiverMessage, monoTime int64) (*Output, error) {
	switch {
	case msg == nil:
		return nil, nil
	case msg.MeasurementReport != nil:
		return e.processReport(ctx, msg.MeasurementReport, monoTime)
	case msg.Ephemeris != nil:
		e.processEphemeris(msg.Ephemeris)
		return nil, nil
	default:
		return nil, nil
	}
}

func (e *Estimator) processEphemeris(eph *ephemeris.Ephemeris) {
	e.ephStore.AddNav(eph)
	e.cache.maybeSave(eph.Epoch, e.fetcher.lastFetch, e.ephStore.Navs(), e.ephStore.Orbits())
}

func (e *Estimator) processReport(ctx context.Context, report *MeasurementReport, monoTime int64) (*Output, error) {
	t := float64(monoTime) * 1e-9

	if report.GPSWeek > 0 && !e.cfg.DisableOrbitFetch {
		reportTime := gnss.NewTime(report.GPSWeek, report.RcvTow)
		e.fetcher.request(ctx, reportTime.Add(fetchInterval), e.cfg.BlockingFetch)
	}

	processed := ephemeris.ProcessMeasurements(e.ephStore, report.rawMeasurements())
	estPos := e.positionFix(t, processed)

	var corrected []gnss.CorrectedMeasurement
	if len(estPos) > 0 {
		corrected = ephemeris.CorrectMeasurements([3]float64{estPos[0], estPos[1], estPos[2]}, processed)
	}

	health := e.updateFilter(t, estPos, corrected)
	return e.assembleOutput(report, monoTime, corrected, health)
}

// positionFix returns the most recent Gauss-Newton solution, recomputing
// when the cached one is at least minPosFixInterval old. The fix time
// advances only on successful recomputation; failures keep serving the old
// value.
func (e *Estimator) positionFix(t float64, processed []gnss.ProcessedMeasurement) []float64 {
	if e.lastPosFixT != nil && math.Abs(*e.lastPosFixT-t) < minPosFixInterval {
		return e.lastPosFix
	}

	min := 4
	for _, m := range processed {
		if m.Satellite.Constellation == gnss.ConstellationGLONASS {
			min = 5
			break
		}
	}
	fix, err := solver.SolvePositionFix(processed, min)
	if err != nil {
		e.logger.Debug("position fix unavailable", slog.Any("error", err))
		return e.lastPosFix
	}

	e.lastPosFix = fix.Position[:]
	e.lastPosFixResidual = fix.Residuals
	fixT := t
	e.lastPosFixT = &fixT
	return e.lastPosFix
}

func (e *Estimator) assembleOutput(report *MeasurementReport, monoTime int64,
	corrected []gnss.CorrectedMeasurement, health filterHealth) (*Output, error) {
	t := float64(monoTime) * 1e-9

	msgs := make([]CorrectedMeasurementMsg, 0, len(corrected))
	for _, c := range corrected {
		m, err := newCorrectedMeasurementMsg(c)
		if err != nil {
			return nil, fmt.Errorf("assembling output: %w", err)
		}
		msgs = append(msgs, m)
	}

	valid := health.ok()
	state := e.filter.State()
	cov := e.filter.CovarianceDiag()

	return &Output{
		GPSWeek:          report.GPSWeek,
		GPSTimeOfWeek:    report.RcvTow,
		ReceiverMonoTime: monoTime,
		PositionECEF: Estimate{
			Value: []float64{state[kalman.IdxPosX], state[kalman.IdxPosY], state[kalman.IdxPosZ]},
			Std:   stdTriple(cov, kalman.IdxPosX),
			Valid: valid,
		},
		VelocityECEF: Estimate{
			Value: []float64{state[kalman.IdxVelX], state[kalman.IdxVelY], state[kalman.IdxVelZ]},
			Std:   stdTriple(cov, kalman.IdxVelX),
			Valid: valid,
		},
		PositionFixECEF: Estimate{
			Value: append([]float64(nil), e.lastPosFix...),
			Std:   append([]float64(nil), e.lastPosFixResidual...),
			Valid: e.lastPosFixT != nil && *e.lastPosFixT == t,
		},
		CorrectedMeasurements: msgs,
	}, nil
}

func stdTriple(cov [kalman.StateDim]float64, base int) []float64 {
	out := make([]float64, 3)
	for i := range out {
		out[i] = math.Sqrt(math.Abs(cov[base+i]))
	}
	return out
}
