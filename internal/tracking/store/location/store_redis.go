package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/platform/sentinel"
	"trackhub/pkg/requestcontext"
)

const (
	vehicleKeyPrefix = "trackhub:vehicle:"
	fleetKeyPrefix   = "trackhub:fleet:"

	// DefaultPositionTTL expires vehicles that stop reporting.
	DefaultPositionTTL = 24 * time.Hour
)

// RedisStore keeps latest snapshots as JSON strings with a per-company set of
// vehicle ids. Shared by every hub instance.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPositionTTL sets how long a snapshot lives without a new report.
func WithPositionTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedis creates a Redis-backed location store.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: DefaultPositionTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func vehicleKey(id models.VehicleID) string { return vehicleKeyPrefix + id.String() }
func fleetKey(id models.CompanyID) string   { return fleetKeyPrefix + id.String() }

// RecordPosition writes the snapshot and fleet membership in one transaction.
func (s *RedisStore) RecordPosition(ctx context.Context, report models.PositionReport) (*models.VehicleSnapshot, error) {
	snapshot := models.Normalize(report, requestcontext.Now(ctx))
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, vehicleKey(snapshot.VehicleID), payload, s.ttl)
		pipe.SAdd(ctx, fleetKey(snapshot.CompanyID), snapshot.VehicleID.String())
		pipe.Expire(ctx, fleetKey(snapshot.CompanyID), s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record position for vehicle %d: %w: %w", snapshot.VehicleID, sentinel.ErrUnavailable, err)
	}
	return &snapshot, nil
}

// LatestPosition returns sentinel.ErrNotFound when the vehicle has no live key.
func (s *RedisStore) LatestPosition(ctx context.Context, vehicle models.VehicleID) (*models.VehicleSnapshot, error) {
	raw, err := s.client.Get(ctx, vehicleKey(vehicle)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position for vehicle %d: %w: %w", vehicle, sentinel.ErrUnavailable, err)
	}
	var snapshot models.VehicleSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode position for vehicle %d: %w", vehicle, err)
	}
	return &snapshot, nil
}

// FleetSnapshot returns the latest snapshot of every vehicle in the company's
// fleet set. Members whose snapshot expired or moved to another company are
// pruned from the set.
func (s *RedisStore) FleetSnapshot(ctx context.Context, company models.CompanyID) ([]models.VehicleSnapshot, error) {
	members, err := s.client.SMembers(ctx, fleetKey(company)).Result()
	if err != nil {
		return nil, fmt.Errorf("list fleet %d: %w: %w", company, sentinel.ErrUnavailable, err)
	}
	out := make([]models.VehicleSnapshot, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = vehicleKeyPrefix + m
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load fleet %d: %w: %w", company, sentinel.ErrUnavailable, err)
	}

	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		var snapshot models.VehicleSnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil || snapshot.CompanyID != company {
			stale = append(stale, members[i])
			continue
		}
		out = append(out, snapshot)
	}
	if len(stale) > 0 {
		// best effort; a failed prune is retried on the next snapshot
		_ = s.client.SRem(ctx, fleetKey(company), stale...).Err()
	}
	sortByVehicle(out)
	return out, nil
}
