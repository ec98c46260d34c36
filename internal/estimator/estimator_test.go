package estimator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/gnss"
	"github.com/meridian-av/gnssd/internal/kalman"
	"github.com/meridian-av/gnssd/internal/store"
)

// memStore is an in-memory store.Store that counts writes per key.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	puts map[string]int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte), puts: make(map[string]int)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	m.puts[key]++
	return nil
}

func (m *memStore) PutAsync(key string, value []byte) {
	_ = m.Put(context.Background(), key, value)
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) putCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[key]
}

func (m *memStore) seed(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// countingDownloader fails every request and counts them.
type countingDownloader struct {
	mu sync.Mutex
	n  int
}

func (d *countingDownloader) Get(context.Context, string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return nil, errors.New("offline")
}

func (d *countingDownloader) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// recordingFilter wraps the real filter and records submitted batches.
type batchRecord struct {
	kind kalman.ObservationKind
	size int
}

type recordingFilter struct {
	*kalman.Filter
	batches []batchRecord
}

func (r *recordingFilter) PredictAndObserve(t float64, kind kalman.ObservationKind, obs []kalman.Observation) {
	r.batches = append(r.batches, batchRecord{kind, len(obs)})
	r.Filter.PredictAndObserve(t, kind, obs)
}

// receiverPos is the fixed test receiver, San Francisco area.
func receiverPos() [3]float64 {
	return gnss.LLH2ECEF(gnss.LLH{Lat: 37.77 * math.Pi / 180, Lon: -122.47 * math.Pi / 180, Height: 100})
}

func gpsNav(prn uint8, epoch gnss.Time, omega0, m0 float64) *ephemeris.Ephemeris {
	return &ephemeris.Ephemeris{
		Satellite: gnss.SatelliteID{Constellation: gnss.ConstellationGPS, PRN: prn},
		Type:      ephemeris.TypeNav,
		Epoch:     epoch,
		Kepler: &ephemeris.KeplerParams{
			TOE:    epoch,
			TOC:    epoch,
			AF0:    2e-6 * float64(prn),
			AF1:    1e-12,
			SqrtA:  5153.655,
			Ecc:    0.01,
			M0:     m0,
			Omega0: omega0,
			I0:     0.96,
			Omega:  0.5,
		},
	}
}

// syntheticReport builds a measurement report whose pseudoranges are
// consistent with the given broadcast ephemerides and receiver position,
// iterating the light-time equation the same way the pipeline resolves it.
func syntheticReport(t *testing.T, navs []*ephemeris.Ephemeris, rx [3]float64, recv gnss.Time) *MeasurementReport {
	t.Helper()

	report := &MeasurementReport{GPSWeek: recv.Week, RcvTow: recv.TOW}
	for _, nav := range navs {
		pr := 0.075 * gnss.SpeedOfLight
		var pos, vel [3]float64
		var drift float64
		for i := 0; i < 10; i++ {
			tx := recv.Add(-pr / gnss.SpeedOfLight)
			var clk float64
			var err error
			pos, vel, clk, drift, err = nav.SatelliteState(tx)
			require.NoError(t, err)
			next := gnss.Norm(gnss.Sub3(pos, rx)) - gnss.SpeedOfLight*clk
			if math.Abs(next-pr) < 1e-9 {
				pr = next
				break
			}
			pr = next
		}

		los := gnss.Sub3(pos, rx)
		rng := gnss.Norm(los)
		rate := (los[0]*vel[0]+los[1]*vel[1]+los[2]*vel[2])/rng - gnss.SpeedOfLight*drift

		report.Measurements = append(report.Measurements, RawObservation{
			ConstellationID:    gnss.ConstellationGPS,
			SvID:               nav.Satellite.PRN,
			Pseudorange:        pr,
			PseudorangeStd:     1,
			PseudorangeRate:    rate,
			PseudorangeRateStd: 0.1,
		})
	}
	return report
}

func gpsScenario(t *testing.T, recv gnss.Time) ([]*ephemeris.Ephemeris, *MeasurementReport, [3]float64) {
	t.Helper()
	rx := receiverPos()
	navs := []*ephemeris.Ephemeris{
		gpsNav(1, recv, 0.3, 0.2),
		gpsNav(7, recv, 1.8, 1.1),
		gpsNav(13, recv, 3.4, 2.3),
		gpsNav(24, recv, 5.0, 4.1),
	}
	return navs, syntheticReport(t, navs, rx, recv), rx
}

// syntheticProcessed builds already-processed measurements for satellites
// surrounding rx at GPS altitude, with zero satellite clock error.
func syntheticProcessed(rx [3]float64) []gnss.ProcessedMeasurement {
	dirs := [][3]float64{
		{1, 0.2, 0.3},
		{-0.4, 1, 0.2},
		{0.3, -0.5, 1},
		{-1, -0.3, 0.6},
		{0.2, 1, -0.8},
	}
	out := make([]gnss.ProcessedMeasurement, 0, len(dirs))
	for i, d := range dirs {
		n := gnss.Norm(d)
		var pos [3]float64
		for k := 0; k < 3; k++ {
			pos[k] = rx[k] + d[k]/n*2.2e7
		}
		out = append(out, gnss.ProcessedMeasurement{
			RawMeasurement: gnss.RawMeasurement{
				Satellite:      gnss.SatelliteID{Constellation: gnss.ConstellationGPS, PRN: uint8(i + 1)},
				Pseudorange:    2.2e7,
				PseudorangeStd: 1,
			},
			SatPos: pos,
		})
	}
	return out
}

func TestColdStartTwoEpochSequence(t *testing.T) {
	t.Parallel()

	est := New(nil, Config{DisableOrbitFetch: true})
	ctx := context.Background()
	recv := gnss.NewTime(2200, 100000)
	navs, report, rx := gpsScenario(t, recv)

	for _, nav := range navs {
		out, err := est.ProcessMessage(ctx, &ReceiverMessage{Ephemeris: nav}, 4_000_000_000)
		require.NoError(t, err)
		assert.Nil(t, out, "ephemeris messages produce no output")
	}

	out1, err := est.ProcessMessage(ctx, &ReceiverMessage{MeasurementReport: report}, 5_000_000_000)
	require.NoError(t, err)
	require.NotNil(t, out1)

	assert.False(t, out1.PositionECEF.Valid, "first epoch after cold start is invalid")
	assert.False(t, out1.VelocityECEF.Valid)
	assert.True(t, out1.PositionFixECEF.Valid, "fix computed this epoch")
	require.Len(t, out1.PositionFixECEF.Value, 3)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, rx[i], out1.PositionFixECEF.Value[i], 0.5)
	}
	require.Len(t, out1.CorrectedMeasurements, 4)
	for _, m := range out1.CorrectedMeasurements {
		assert.Equal(t, SourceNav, m.EphemerisSource.Type)
		assert.Equal(t, -1, m.EphemerisSource.GPSWeek)
		assert.Equal(t, -1, m.EphemerisSource.GPSTimeOfWeek)
		assert.Equal(t, gnss.ConstellationGPS, m.ConstellationID)
		assert.Zero(t, m.GlonassFrequency)
	}
	assert.Equal(t, 2200, out1.GPSWeek)
	assert.InDelta(t, 100000.0, out1.GPSTimeOfWeek, 1e-9)
	assert.Equal(t, int64(5_000_000_000), out1.ReceiverMonoTime)

	out2, err := est.ProcessMessage(ctx, &ReceiverMessage{MeasurementReport: report}, 6_000_000_000)
	require.NoError(t, err)
	require.NotNil(t, out2)

	assert.True(t, out2.PositionECEF.Valid, "second epoch is valid")
	assert.True(t, out2.VelocityECEF.Valid)
	assert.False(t, out2.PositionFixECEF.Valid, "fix reused from epoch one keeps its old timestamp")
	assert.Equal(t, out1.PositionFixECEF.Value, out2.PositionFixECEF.Value)
	require.Len(t, out2.PositionECEF.Std, 3)
	for _, s := range out2.PositionECEF.Std {
		assert.False(t, math.IsNaN(s))
	}
}

func TestReportWithoutEphemerides(t *testing.T) {
	t.Parallel()

	est := New(nil, Config{DisableOrbitFetch: true})
	recv := gnss.NewTime(2200, 100000)
	_, report, _ := gpsScenario(t, recv)

	out, err := est.ProcessMessage(context.Background(), &ReceiverMessage{MeasurementReport: report}, 5_000_000_000)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.False(t, out.PositionECEF.Valid)
	assert.False(t, out.PositionFixECEF.Valid)
	assert.Empty(t, out.PositionFixECEF.Value)
	assert.Empty(t, out.CorrectedMeasurements)
}

func TestUnrecognizedPayloadIgnored(t *testing.T) {
	t.Parallel()

	est := New(nil, Config{DisableOrbitFetch: true})
	out, err := est.ProcessMessage(context.Background(), &ReceiverMessage{}, 1_000_000_000)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = est.ProcessMessage(context.Background(), nil, 1_000_000_000)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPositionFixRecomputeInterval(t *testing.T) {
	t.Parallel()

	est := New(nil, Config{DisableOrbitFetch: true})
	rx1 := receiverPos()
	rx2 := rx1
	rx2[0] += 5

	fix1 := est.positionFix(100, syntheticProcessed(rx1))
	require.Len(t, fix1, 3)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, rx1[i], fix1[i], 0.01)
	}
	require.NotNil(t, est.lastPosFixT)
	assert.Equal(t, 100.0, *est.lastPosFixT)

	// One second later the data moved, but the cached fix is served.
	fix2 := est.positionFix(101, syntheticProcessed(rx2))
	assert.Equal(t, fix1, fix2)
	assert.Equal(t, 100.0, *est.lastPosFixT)

	// Three seconds later the fix is recomputed.
	fix3 := est.positionFix(103, syntheticProcessed(rx2))
	assert.InDelta(t, rx2[0], fix3[0], 0.01)
	assert.Equal(t, 103.0, *est.lastPosFixT)

	// A failed recomputation keeps the old fix and its timestamp.
	fix4 := est.positionFix(106, nil)
	assert.Equal(t, fix3, fix4)
	assert.Equal(t, 103.0, *est.lastPosFixT)
}

func TestPositionFixMinimumWithGlonass(t *testing.T) {
	t.Parallel()

	est := New(nil, Config{DisableOrbitFetch: true})
	rx := receiverPos()

	// Four measurements normally suffice, but one GLONASS raises the
	// minimum to five.
	processed := syntheticProcessed(rx)[:4]
	processed[3].Satellite.Constellation = gnss.ConstellationGLONASS

	fix := est.positionFix(100, processed)
	assert.Empty(t, fix)
	assert.Nil(t, est.lastPosFixT)
}

func TestSourceDescriptor(t *testing.T) {
	t.Parallel()

	fe := gnss.NewTime(2200, 86400.7)

	tests := []struct {
		name    string
		ref     gnss.EphemerisRef
		want    EphemerisSourceMsg
		wantErr bool
	}{
		{
			name: "broadcast",
			ref:  gnss.EphemerisRef{},
			want: EphemerisSourceMsg{Type: SourceNav, GPSWeek: -1, GPSTimeOfWeek: -1},
		},
		{
			name: "nasa ultra rapid",
			ref:  gnss.EphemerisRef{Precise: true, FileEpoch: fe, FilePrefix: "igu"},
			want: EphemerisSourceMsg{Type: SourceNASAUltraRapid, GPSWeek: 2200, GPSTimeOfWeek: 86400},
		},
		{
			name: "glonass iac ultra rapid",
			ref:  gnss.EphemerisRef{Precise: true, FileEpoch: fe, FilePrefix: "Sta"},
			want: EphemerisSourceMsg{Type: SourceGlonassIACUltraRapid, GPSWeek: 2200, GPSTimeOfWeek: 86400},
		},
		{
			name:    "unknown product family",
			ref:     gnss.EphemerisRef{Precise: true, FileEpoch: fe, FilePrefix: "abc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sourceDescriptor(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unexpected ephemeris file source")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnknownOrbitSourceAbortsProcessing(t *testing.T) {
	t.Parallel()

	est := New(nil, Config{DisableOrbitFetch: true})
	recv := gnss.NewTime(2200, 100000)
	rx := receiverPos()
	fe := gnss.NewTime(2200, 86400)

	// Precise ephemerides from a product family output assembly does not
	// know how to label.
	set := ephemeris.NewSet()
	report := &MeasurementReport{GPSWeek: recv.Week, RcvTow: recv.TOW}
	for i, m := range syntheticProcessed(rx)[:4] {
		set.Add(&ephemeris.Ephemeris{
			Satellite: m.Satellite,
			Type:      ephemeris.TypeUltraRapidOrbit,
			Epoch:     recv,
			FileEpoch: &fe,
			FileName:  "abc22000_12.sp3",
			Poly: &ephemeris.PolyParams{
				T0:  recv,
				XYZ: [3][]float64{{m.SatPos[0]}, {m.SatPos[1]}, {m.SatPos[2]}},
			},
		})
		report.Measurements = append(report.Measurements, RawObservation{
			ConstellationID: gnss.ConstellationGPS,
			SvID:            uint8(i + 1),
			Pseudorange:     gnss.Norm(gnss.Sub3(m.SatPos, rx)),
			PseudorangeStd:  1,
		})
	}
	est.ephStore.AddOrbits(set)

	out, err := est.ProcessMessage(context.Background(), &ReceiverMessage{MeasurementReport: report}, 5_000_000_000)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "unexpected ephemeris file source")
}

func TestZeroWeekReportSkipsFetch(t *testing.T) {
	t.Parallel()

	dl := &countingDownloader{}
	est := New(nil, Config{BlockingFetch: true},
		WithDownloaderFactory(func() ephemeris.Downloader { return dl }))

	report := &MeasurementReport{GPSWeek: 0, RcvTow: 100}
	out, err := est.ProcessMessage(context.Background(), &ReceiverMessage{MeasurementReport: report}, 1_000_000_000)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Zero(t, dl.calls(), "no time solution means no fetch")
}
