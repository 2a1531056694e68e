package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"; lib/pq and go-sqlite3 register via errors.go

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
)

// SQLStore implements Store on database/sql. One instance owns one
// connection pool.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  loggingpkg.ServiceLogger
}

var _ Store = (*SQLStore)(nil)

// NewOpener returns an Opener that calls Open with cfg on every invocation.
func NewOpener(cfg configpkg.StoreConfig, logger loggingpkg.ServiceLogger) Opener {
	return func(ctx context.Context) (Store, error) {
		return Open(ctx, cfg, logger)
	}
}

// Open connects to the configured database, verifies the connection and
// creates the participant table when it does not exist.
func Open(ctx context.Context, cfg configpkg.StoreConfig, logger loggingpkg.ServiceLogger) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	db, err := sql.Open(d.driverName, d.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.driverName, err)
	}
	configurePool(db, cfg, d)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &StoreUnavailableError{Op: "connect", Err: err}
	}

	s := &SQLStore{db: db, dialect: d, logger: logger.With(loggingpkg.LogFields{"driver": d.driverName})}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Participant store opened", loggingpkg.LogFields{"driver": d.driverName})
	return s, nil
}

func configurePool(db *sql.DB, cfg configpkg.StoreConfig, d dialect) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	if d.singleConnection(cfg) {
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify("init schema", 0, err)
		}
	}
	return nil
}

// GetAll returns every participant ordered by id.
func (s *SQLStore) GetAll(ctx context.Context) ([]Participant, error) {
	// #nosec G202 - table name is a package constant
	rows, err := s.db.QueryContext(ctx, "SELECT id, phone_number FROM "+TableName+" ORDER BY id")
	if err != nil {
		return nil, classify("get all", 0, err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.PhoneNumber); err != nil {
			return nil, classify("get all", 0, err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get all", 0, err)
	}
	return participants, nil
}

// FindByPhoneNumber looks up a single participant by phone number.
func (s *SQLStore) FindByPhoneNumber(ctx context.Context, phoneNumber int64) (Participant, bool, error) {
	var p Participant
	err := s.db.QueryRowContext(ctx, s.dialect.findQuery, phoneNumber).Scan(&p.ID, &p.PhoneNumber)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Participant{}, false, nil
	case err != nil:
		return Participant{}, false, classify("find", phoneNumber, err)
	}
	return p, true, nil
}

// Create inserts a participant and returns its id. The insert and the id
// read happen in one transaction that is committed before returning.
func (s *SQLStore) Create(ctx context.Context, phoneNumber int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin", phoneNumber, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back participant insert", err, loggingpkg.LogFields{"phone_number": phoneNumber})
		}
	}()

	var id int64
	if err := tx.QueryRowContext(ctx, s.dialect.insertQuery, phoneNumber).Scan(&id); err != nil {
		return 0, classify("create", phoneNumber, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit", phoneNumber, err)
	}
	return id, nil
}

// Ping verifies the connection, classifying failures like every other call.
func (s *SQLStore) Ping(ctx context.Context) error {
	return classify("ping", 0, s.db.PingContext(ctx))
}

// Close releases the pool. It is safe to call more than once.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
