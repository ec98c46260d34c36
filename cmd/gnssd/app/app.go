// Package app wires the GNSS measurement daemon: the parameter store, the
// estimator and the MQTT bus, with a single goroutine threading receiver
// messages through the estimator in arrival order.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meridian-av/gnssd/internal/estimator"
	"github.com/meridian-av/gnssd/internal/store"
	"github.com/meridian-av/gnssd/internal/transport"
)

// messageBuffer bounds the receiver queue between the MQTT router and
// the processing goroutine. Receivers report at a few Hz; the buffer
// absorbs bursts while a blocking orbit fetch is in flight.
const messageBuffer = 256

// envelope is the wire form on the receiver topic: one receiver payload
// plus the driver's monotonic receive stamp in nanoseconds. Unstamped
// messages are stamped on arrival.
type envelope struct {
	LogMonoTime int64 `json:"logMonoTime"`
	estimator.ReceiverMessage
}

// publisher is the slice of the bus the daemon publishes through.
type publisher interface {
	Publish(topic string, payload []byte) error
}

type daemon struct {
	logger      *slog.Logger
	est         *estimator.Estimator
	bus         publisher
	outputTopic string
	start       time.Time
}

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if err := checkStorageDir(config.Storage.DatabasePath); err != nil {
		return err
	}

	params := store.NewSqliteStore(config.Storage.DatabasePath, store.WithLogger(logger))
	defer func() {
		if err := params.Close(); err != nil {
			logger.Warn("closing parameter store", slog.Any("error", err))
		}
	}()

	est := estimator.New(params, config.estimatorConfig(), estimator.WithLogger(logger))

	bus := transport.New(config.Broker.URL, config.Broker.ClientID, transport.WithLogger(logger))
	if err := bus.Connect(); err != nil {
		return err
	}
	defer bus.Close()

	d := &daemon{
		logger:      logger,
		est:         est,
		bus:         bus,
		outputTopic: config.Broker.OutputTopic,
		start:       time.Now(),
	}

	messages := make(chan []byte, messageBuffer)
	err := bus.Subscribe(config.Broker.ReceiverTopic, func(_ string, payload []byte) {
		select {
		case messages <- payload:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}

	logger.Info("gnssd running",
		slog.String("receiverTopic", config.Broker.ReceiverTopic),
		slog.String("outputTopic", config.Broker.OutputTopic))

	for {
		select {
		case <-ctx.Done():
			return d.drain(ctx, messages)
		case payload := <-messages:
			if err := d.handle(ctx, payload); err != nil {
				return err
			}
		}
	}
}

// handle decodes one receiver envelope, runs it through the estimator and
// publishes the resulting output message, if any. Malformed payloads and
// publish failures are logged and skipped; estimator errors are fatal.
func (d *daemon) handle(ctx context.Context, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.logger.Warn("dropping malformed receiver message", slog.Any("error", err))
		return nil
	}
	if env.LogMonoTime == 0 {
		env.LogMonoTime = time.Since(d.start).Nanoseconds()
	}

	out, err := d.est.ProcessMessage(ctx, &env.ReceiverMessage, env.LogMonoTime)
	if err != nil {
		return fmt.Errorf("processing receiver message: %w", err)
	}
	if out == nil {
		return nil
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding output message: %w", err)
	}
	if err = d.bus.Publish(d.outputTopic, raw); err != nil {
		d.logger.Warn("publishing output failed", slog.Any("error", err))
	}
	return nil
}

// drain processes messages the router queued before shutdown, so a replay
// ends on a complete epoch rather than mid-stream.
func (d *daemon) drain(ctx context.Context, messages chan []byte) error {
	for {
		select {
		case payload := <-messages:
			if err := d.handle(ctx, payload); err != nil {
				return err
			}
		default:
			d.logger.Info("shutting down")
			return nil
		}
	}
}

// checkStorageDir verifies the parameter database's parent directory
// exists; the database file itself is created on first write.
func checkStorageDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	stat, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("storage directory %q: %w", dir, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("storage path %q is not a directory", dir)
	}
	return nil
}
