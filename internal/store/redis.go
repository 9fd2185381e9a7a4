package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultSnapshotTTL bounds how long a saved attendance snapshot survives in Redis.
const DefaultSnapshotTTL = 24 * time.Hour

const snapshotKeyPrefix = "classassist:attendance:"

// SnapshotStore holds attendance snapshots outside the session database.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, snap models.AttendanceSnapshot) error
	Get(ctx context.Context, sessionID string) (*models.AttendanceSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// RedisSnapshotStore keeps attendance snapshots in Redis with a TTL.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore connects to the Redis URL given by WithRedisURL.
func NewRedisSnapshotStore(ctx context.Context, opts ...Option) (*RedisSnapshotStore, error) {
	cfg := Opts{SnapshotTTL: DefaultSnapshotTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Debug("RedisSnapshotStore.New: connected", "addr", redisOpts.Addr, "ttl", cfg.SnapshotTTL)
	return &RedisSnapshotStore{client: client, ttl: cfg.SnapshotTTL}, nil
}

func snapshotKey(sessionID string) string { return snapshotKeyPrefix + sessionID }

func (r *RedisSnapshotStore) Save(ctx context.Context, sessionID string, snap models.AttendanceSnapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, snapshotKey(sessionID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotStore) Get(ctx context.Context, sessionID string) (*models.AttendanceSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	var snap models.AttendanceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisSnapshotStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, snapshotKey(sessionID)).Err()
}

func (r *RedisSnapshotStore) Close() error { return r.client.Close() }

// LayeredStore routes attendance snapshots to a SnapshotStore and everything else to Base.
type LayeredStore struct {
	SessionStore
	Snapshots SnapshotStore
}

// NewLayeredStore wraps base so attendance snapshots go to snaps.
func NewLayeredStore(base SessionStore, snaps SnapshotStore) *LayeredStore {
	return &LayeredStore{SessionStore: base, Snapshots: snaps}
}

func (l *LayeredStore) SaveAttendanceSnapshot(ctx context.Context, sessionID string, snap models.AttendanceSnapshot) error {
	return l.Snapshots.Save(ctx, sessionID, snap)
}

func (l *LayeredStore) GetAttendanceSnapshot(ctx context.Context, sessionID string) (*models.AttendanceSnapshot, error) {
	return l.Snapshots.Get(ctx, sessionID)
}

func (l *LayeredStore) DeleteSession(ctx context.Context, id string) error {
	if err := l.Snapshots.Delete(ctx, id); err != nil {
		slog.Warn("LayeredStore.DeleteSession: snapshot delete failed", "session", id, "error", err)
	}
	return l.SessionStore.DeleteSession(ctx, id)
}

func (l *LayeredStore) Close() error {
	return errors.Join(l.Snapshots.Close(), l.SessionStore.Close())
}

// Open builds the SessionStore described by opts: PostgreSQL or SQLite when a DSN is
// set, in-memory otherwise, with snapshots layered onto Redis when a Redis URL is set.
func Open(ctx context.Context, opts ...Option) (SessionStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		base SessionStore
		err  error
	)
	switch {
	case cfg.DSN == "":
		slog.Info("Store.Open: using in-memory store")
		base = NewInMemoryStore()
	case DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("Store.Open: using PostgreSQL store")
		base, err = NewPostgresStore(opts...)
	default:
		slog.Info("Store.Open: using SQLite store", "path", cfg.DSN)
		base, err = NewSQLiteStore(opts...)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return base, nil
	}

	snaps, err := NewRedisSnapshotStore(ctx, opts...)
	if err != nil {
		base.Close()
		return nil, err
	}
	slog.Info("Store.Open: attendance snapshots stored in Redis")
	return NewLayeredStore(base, snaps), nil
}
