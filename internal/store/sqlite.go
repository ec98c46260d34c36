package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const asyncWriteTimeout = 10 * time.Second

// SqliteStore implements Store on a single sqlite database file. Writes go
// through a WAL connection, reads through a separate read-only connection;
// both open lazily on first use.
type SqliteStore struct {
	dbPath string
	logger *slog.Logger

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error

	asyncWrites sync.WaitGroup
}

// Option configures a SqliteStore.
type Option func(*SqliteStore)

// WithLogger sets the logger used for background write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SqliteStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSqliteStore creates a parameter store backed by the database at
// dbPath. The file and schema are created on first write.
func NewSqliteStore(dbPath string, opts ...Option) *SqliteStore {
	s := &SqliteStore{
		dbPath: dbPath,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The write connection creates the file and schema; reads before
		// the first write would otherwise fail to open read-only.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Get returns the value stored under key, or ErrNotFound.
func (s *SqliteStore) Get(ctx context.Context, key string) (value []byte, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectParamSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if err = stmt.QueryRowContext(ctx, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("scanning param: %w", err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *SqliteStore) Put(ctx context.Context, key string, value []byte) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, upsertParamSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("upserting param: %w", err)
	}
	return nil
}

// PutAsync stores value from a background goroutine. Failures are logged,
// not returned; Close waits for inflight writes.
func (s *SqliteStore) PutAsync(key string, value []byte) {
	s.asyncWrites.Add(1)
	go func() {
		defer s.asyncWrites.Done()

		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()

		if err := s.Put(ctx, key, value); err != nil {
			s.logger.Warn("background param write failed",
				slog.String("key", key),
				slog.Any("error", err))
		}
	}()
}

// Delete removes key.
func (s *SqliteStore) Delete(ctx context.Context, key string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, deleteParamSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("deleting param: %w", err)
	}
	return nil
}

// Close waits for background writes and closes both connections.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		s.asyncWrites.Wait()

		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
