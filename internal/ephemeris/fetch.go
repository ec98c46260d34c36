package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/meridian-av/gnssd/internal/gnss"
)

// Publication cadence of ultra-rapid products: a file appears every six
// hours, and the fetcher walks back up to a day looking for one that
// exists.
const (
	publishInterval  = 6 * 3600.0
	maxPublishLookup = 4
)

// ErrNoOrbitData is returned when no orbit product could be downloaded and
// parsed for any configured constellation.
var ErrNoOrbitData = errors.New("no orbit data found")

// Downloader retrieves a product file by URL. Implementations must be safe
// to construct per fetch; background jobs never share one with the main
// loop.
type Downloader interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPDownloader fetches products over HTTP(S).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader returns a downloader with the given per-request
// timeout.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}}
}

// Get downloads url, returning the body on HTTP 200.
func (d *HTTPDownloader) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: status %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

// FetchConfig carries everything a fetch needs. Values are copied into
// background jobs wholesale; the struct must stay free of references to
// main-loop state.
type FetchConfig struct {
	Constellations []gnss.Constellation

	// GPSBaseURL and GlonassBaseURL are the product archive roots, e.g.
	// "https://cddis.nasa.gov/archive/gnss/products" and the IAC mirror.
	GPSBaseURL     string
	GlonassBaseURL string
}

// orbitSource describes one product family: where its files live and how
// they are named. The name prefix doubles as the source identity on output
// messages.
type orbitSource struct {
	constellation gnss.Constellation
	baseURL       string
	prefix        string
}

func (c FetchConfig) sources() []orbitSource {
	var out []orbitSource
	for _, cons := range c.Constellations {
		switch cons {
		case gnss.ConstellationGPS:
			out = append(out, orbitSource{gnss.ConstellationGPS, c.GPSBaseURL, "igu"})
		case gnss.ConstellationGLONASS:
			out = append(out, orbitSource{gnss.ConstellationGLONASS, c.GlonassBaseURL, "Sta"})
		}
	}
	return out
}

// fileName builds the ultra-rapid product name for a publication instant,
// e.g. "igu22600_18.sp3".
func (s orbitSource) fileName(pub gnss.Time) string {
	hour := int(pub.TOW-float64(pub.DayOfWeek())*gnss.SecondsPerDay) / 3600
	hour = (hour / 6) * 6
	return fmt.Sprintf("%s%04d%d_%02d.sp3", s.prefix, pub.Week, pub.DayOfWeek(), hour)
}

func (s orbitSource) url(pub gnss.Time) string {
	return fmt.Sprintf("%s/%04d/%s", s.baseURL, pub.Week, s.fileName(pub))
}

// FetchOrbits downloads and fits ultra-rapid orbit products covering t for
// the configured constellations. Candidate files are tried newest first,
// walking publication slots backwards. Partial results are fine; only a
// complete miss is an error.
func FetchOrbits(ctx context.Context, t gnss.Time, d Downloader, cfg FetchConfig, logger *slog.Logger) (Set, Span, error) {
	set := NewSet()
	var span Span
	haveSpan := false

	for _, src := range cfg.sources() {
		fetched := false
		for back := 0; back < maxPublishLookup && !fetched; back++ {
			pub := t.Add(-float64(back) * publishInterval)
			url := src.url(pub)
			body, err := d.Get(ctx, url)
			if err != nil {
				logger.Debug("orbit product unavailable", slog.String("url", url), slog.Any("error", err))
				continue
			}
			samples, fileEpoch, err := parseSP3(body)
			if err != nil {
				logger.Warn("orbit product unparsable", slog.String("url", url), slog.Any("error", err))
				continue
			}
			orbits, fileSpan := fitOrbits(samples, fileEpoch, src.fileName(pub))
			if orbits.Len() == 0 {
				continue
			}
			set.Merge(orbits)
			if !haveSpan {
				span, haveSpan = fileSpan, true
			} else {
				if fileSpan.Start.Before(span.Start) {
					span.Start = fileSpan.Start
				}
				if span.End.Before(fileSpan.End) {
					span.End = fileSpan.End
				}
			}
			fetched = true
			logger.Info("orbit product fetched",
				slog.String("constellation", src.constellation.String()),
				slog.String("file", src.fileName(pub)),
				slog.Int("ephemerides", orbits.Len()))
		}
	}

	if set.Len() == 0 {
		return nil, Span{}, ErrNoOrbitData
	}
	return set, span, nil
}
