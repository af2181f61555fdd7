package archive

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds the archive database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Sink = (*PostgresSink)(nil)

// PostgresSink stores snapshots in a single negotiations table with JSONB
// payload columns.
type PostgresSink struct {
	db     *stdsql.DB
	logger *slog.Logger
}

// NewPostgresSink opens the database, applies pending migrations and returns
// the sink.
func NewPostgresSink(ctx context.Context, cfg Config, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping database: %w", err)
	}
	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresSink{db: db, logger: logger.With("component", "archive")}, nil
}

func runMigrations(db *stdsql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("archive: create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive: create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("archive: create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive: apply migrations: %w", err)
	}
	// Close only the source driver. Closing the migrate instance would also
	// close the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("archive: close migration source: %w", err)
	}
	return nil
}

// Save implements Sink. Saving the same negotiation twice overwrites the
// earlier row.
func (s *PostgresSink) Save(ctx context.Context, snap *Snapshot) error {
	participants, err := json.Marshal(snap.Participants)
	if err != nil {
		return fmt.Errorf("archive: marshal participants: %w", err)
	}
	trace, err := json.Marshal(snap.Trace)
	if err != nil {
		return fmt.Errorf("archive: marshal trace: %w", err)
	}
	eventHistory, err := json.Marshal(snap.Events)
	if err != nil {
		return fmt.Errorf("archive: marshal events: %w", err)
	}
	metadata, err := json.Marshal(snap.Metadata)
	if err != nil {
		return fmt.Errorf("archive: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO negotiations (
			negotiation_id, parent_negotiation_id, state, user_id, scope,
			demand_raw, demand_formulated, plan_output, coordinator_rounds,
			participants, trace, events, metadata, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (negotiation_id) DO UPDATE SET
			state = EXCLUDED.state,
			demand_formulated = EXCLUDED.demand_formulated,
			plan_output = EXCLUDED.plan_output,
			coordinator_rounds = EXCLUDED.coordinator_rounds,
			participants = EXCLUDED.participants,
			trace = EXCLUDED.trace,
			events = EXCLUDED.events,
			metadata = EXCLUDED.metadata,
			completed_at = EXCLUDED.completed_at`,
		snap.NegotiationID, nullString(snap.ParentNegotiationID), snap.State,
		snap.UserID, snap.Scope, snap.DemandRaw, snap.DemandFormulated,
		snap.PlanOutput, snap.CoordinatorRounds,
		participants, trace, eventHistory, metadata,
		snap.CreatedAt, snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: save negotiation %s: %w", snap.NegotiationID, err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
