package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

const (
	defaultPlotSize = 800

	secondsPerWeek = 604800.0
)

type Config struct {
	DBPath     string
	OutputFile string
	FontPath   string

	Latitude  float64 // degrees, north positive
	Longitude float64 // degrees, east positive
	Altitude  float64 // meters above the ellipsoid

	// GPSWeek of zero plots at the newest cached ephemeris epoch.
	GPSWeek int
	TOW     float64

	Size          int     // plot diameter in pixels
	ElevationMask float64 // degrees, satellites below are not drawn
}

func NewConfig() *Config {
	return &Config{
		Size: defaultPlotSize,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	flag.StringVar(&c.DBPath, "db", "", "Path to the gnssd parameter database")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	flag.StringVar(&c.FontPath, "font", "", "Path to a TTF font for labels (built-in bitmap font when omitted)")
	flag.Float64Var(&c.Latitude, "lat", 0, "Receiver latitude in degrees")
	flag.Float64Var(&c.Longitude, "lon", 0, "Receiver longitude in degrees")
	flag.Float64Var(&c.Altitude, "alt", 0, "Receiver altitude in meters")
	flag.IntVar(&c.GPSWeek, "week", 0, "GPS week to plot at (0 = newest cached epoch)")
	flag.Float64Var(&c.TOW, "tow", 0, "GPS time of week in seconds")
	flag.IntVar(&c.Size, "size", defaultPlotSize, "Plot diameter in pixels")
	flag.Float64Var(&c.ElevationMask, "min-el", 0, "Elevation mask in degrees")
	flag.Parse()

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.Latitude < -90 || c.Latitude > 90:
		err = fmt.Errorf("latitude %0.5f out of range [-90, 90]", c.Latitude)
	case c.Longitude < -180 || c.Longitude > 180:
		err = fmt.Errorf("longitude %0.5f out of range [-180, 180]", c.Longitude)
	case c.GPSWeek < 0:
		err = fmt.Errorf("gps week %d must not be negative", c.GPSWeek)
	case c.TOW < 0 || c.TOW >= secondsPerWeek:
		err = fmt.Errorf("time of week %0.1f out of range [0, %0.0f)", c.TOW, secondsPerWeek)
	case c.Size < 256:
		err = fmt.Errorf("plot size %d is too small, minimum is 256", c.Size)
	case c.ElevationMask < 0 || c.ElevationMask >= 90:
		err = fmt.Errorf("elevation mask %0.1f out of range [0, 90)", c.ElevationMask)
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.OutputFile = strings.TrimSuffix(c.OutputFile, ".png") + ".png"
	return c, nil
}
