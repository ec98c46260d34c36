// Package app implements the sky plot tool. It reads the ephemeris cache
// gnssd persists in its parameter database and renders the satellite sky
// as seen from a receiver position at a chosen time.
package app

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"math"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/meridian-av/gnssd/internal/estimator"
	"github.com/meridian-av/gnssd/internal/gnss"
	"github.com/meridian-av/gnssd/internal/store"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil {
		return fmt.Errorf("database file %q: %w", config.DBPath, err)
	}

	params := store.NewSqliteStore(config.DBPath, store.WithLogger(logger))
	defer params.Close()

	snap, err := estimator.LoadSnapshot(ctx, params)
	if err != nil {
		return err
	}

	t := gnss.NewTime(config.GPSWeek, config.TOW)
	if config.GPSWeek == 0 {
		var ok bool
		if t, ok = defaultPlotTime(snap); !ok {
			return errors.New("ephemeris cache holds no ephemerides")
		}
		logger.Info("no plot time given, using newest cached epoch", slog.String("epoch", t.String()))
	}

	receiver := gnss.LLH2ECEF(gnss.LLH{
		Lat:    config.Latitude * math.Pi / 180,
		Lon:    config.Longitude * math.Pi / 180,
		Height: config.Altitude,
	})

	view := buildSkyView(snap, receiver, t, config.ElevationMask*math.Pi/180)

	logger.Info("sky view assembled",
		slog.Int("satellites", len(view)),
		slog.Int("nav", snap.Nav.Len()),
		slog.Int("orbits", snap.Orbits.Len()),
		slog.String("cacheSize", humanize.Bytes(uint64(snap.Size))))

	renderer, err := newRenderer(config.Size, config.FontPath)
	if err != nil {
		return err
	}
	defer renderer.Close()

	img := renderer.Render(view, plotInfo{
		Latitude:   config.Latitude,
		Longitude:  config.Longitude,
		Altitude:   config.Altitude,
		Week:       t.Week,
		TOW:        t.TOW,
		NavCount:   snap.Nav.Len(),
		OrbitCount: snap.Orbits.Len(),
		CacheSize:  humanize.Bytes(uint64(snap.Size)),
	})

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	if err = png.Encode(out, img); err != nil {
		_ = out.Close()
		return fmt.Errorf("encoding sky plot: %w", err)
	}
	if err = out.Close(); err != nil {
		return err
	}

	logger.Info("sky plot written", slog.String("destination", config.OutputFile))
	return nil
}
