package location

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/platform/sentinel"
	"trackhub/pkg/requestcontext"
)

//go:embed schema.sql
var schema string

const (
	upsertPositionSQL = `
INSERT INTO vehicle_positions (vehicle_id, company_id, lat, lng, speed, heading, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (vehicle_id) DO UPDATE SET
    company_id = EXCLUDED.company_id,
    lat = EXCLUDED.lat,
    lng = EXCLUDED.lng,
    speed = EXCLUDED.speed,
    heading = EXCLUDED.heading,
    recorded_at = EXCLUDED.recorded_at`

	insertHistorySQL = `
INSERT INTO vehicle_position_history (vehicle_id, company_id, lat, lng, speed, heading, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectPositionSQL = `
SELECT vehicle_id, company_id, lat, lng, speed, heading, recorded_at
FROM vehicle_positions WHERE vehicle_id = $1`

	selectFleetSQL = `
SELECT vehicle_id, company_id, lat, lng, speed, heading, recorded_at
FROM vehicle_positions WHERE company_id = $1 ORDER BY vehicle_id`
)

// PostgresStore persists latest positions plus an append-only history.
type PostgresStore struct {
	pool        *pgxpool.Pool
	keepHistory bool
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithHistory also appends every report to vehicle_position_history.
func WithHistory(enabled bool) PostgresOption {
	return func(s *PostgresStore) { s.keepHistory = enabled }
}

// NewPostgres creates a PostgreSQL-backed location store.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the position tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure location schema: %w", err)
	}
	return nil
}

// RecordPosition upserts the latest snapshot and, when enabled, appends it to
// the history table in the same batch.
func (s *PostgresStore) RecordPosition(ctx context.Context, report models.PositionReport) (*models.VehicleSnapshot, error) {
	snap := models.Normalize(report, requestcontext.Now(ctx))
	args := []any{
		int64(snap.VehicleID), int64(snap.CompanyID),
		snap.Lat, snap.Lng, snap.Speed, snap.Heading, snap.Timestamp,
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(upsertPositionSQL, args...)
		if s.keepHistory {
			batch.Queue(insertHistorySQL, args...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("record position for vehicle %d: %w", snap.VehicleID, classify(err))
	}
	return &snap, nil
}

// LatestPosition returns sentinel.ErrNotFound for vehicles never reported.
func (s *PostgresStore) LatestPosition(ctx context.Context, vehicle models.VehicleID) (*models.VehicleSnapshot, error) {
	rows, err := s.pool.Query(ctx, selectPositionSQL, int64(vehicle))
	if err != nil {
		return nil, fmt.Errorf("get position for vehicle %d: %w", vehicle, classify(err))
	}
	snap, err := pgx.CollectExactlyOneRow(rows, scanSnapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position for vehicle %d: %w", vehicle, classify(err))
	}
	return &snap, nil
}

// FleetSnapshot returns the company's vehicles ordered by vehicle id.
func (s *PostgresStore) FleetSnapshot(ctx context.Context, company models.CompanyID) ([]models.VehicleSnapshot, error) {
	rows, err := s.pool.Query(ctx, selectFleetSQL, int64(company))
	if err != nil {
		return nil, fmt.Errorf("list fleet %d: %w", company, classify(err))
	}
	fleet, err := pgx.CollectRows(rows, scanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("list fleet %d: %w", company, classify(err))
	}
	if fleet == nil {
		fleet = []models.VehicleSnapshot{}
	}
	return fleet, nil
}

// Health pings the pool.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanSnapshot(row pgx.CollectableRow) (models.VehicleSnapshot, error) {
	var (
		snap             models.VehicleSnapshot
		vehicle, company int64
	)
	err := row.Scan(&vehicle, &company, &snap.Lat, &snap.Lng, &snap.Speed, &snap.Heading, &snap.Timestamp)
	snap.VehicleID = models.VehicleID(vehicle)
	snap.CompanyID = models.CompanyID(company)
	snap.Timestamp = snap.Timestamp.UTC()
	return snap, err
}

// classify marks connection-level failures as sentinel.ErrUnavailable while
// keeping server-reported errors (constraint violations, syntax) as they are.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
}
