// Package store provides session storage backends for ClassAssist.
//
// A session store keeps the conversation log, the ConversationState snapshot and the
// attendance snapshot written by the most recent manual save. In-memory, SQLite and
// PostgreSQL backends are provided; attendance snapshots can be moved to Redis with a TTL.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// SessionStore persists sessions, their turns and attendance snapshots.
type SessionStore interface {
	SaveSession(ctx context.Context, rec models.SessionRecord) error
	// GetSession returns models.ErrSessionNotFound when the session does not exist.
	GetSession(ctx context.Context, id string) (*models.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error
	UpdateTurn(ctx context.Context, sessionID string, turn models.Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error)
	SaveAttendanceSnapshot(ctx context.Context, sessionID string, snap models.AttendanceSnapshot) error
	// GetAttendanceSnapshot returns nil without error when no snapshot was saved.
	GetAttendanceSnapshot(ctx context.Context, sessionID string) (*models.AttendanceSnapshot, error)
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN         string // database connection string
	RedisURL    string // redis:// URL for the snapshot store
	SnapshotTTL time.Duration
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the Redis URL used for attendance snapshots.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithSnapshotTTL sets how long attendance snapshots live in Redis.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SnapshotTTL = ttl }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]models.SessionRecord
	turns     map[string][]models.Turn
	snapshots map[string]models.AttendanceSnapshot
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]models.SessionRecord),
		turns:     make(map[string][]models.Turn),
		snapshots: make(map[string]models.AttendanceSnapshot),
	}
}

func cloneRecord(rec models.SessionRecord) models.SessionRecord {
	rec.Roles = append([]string(nil), rec.Roles...)
	rec.State = rec.State.Clone()
	return rec
}

func cloneTurn(t models.Turn) models.Turn {
	if t.Reply != nil {
		reply := *t.Reply
		reply.Rows = models.CloneRows(reply.Rows)
		t.Reply = &reply
	}
	return t
}

func (s *InMemoryStore) SaveSession(ctx context.Context, rec models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.turns, id)
	delete(s.snapshots, id)
	return nil
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], cloneTurn(turn))
	return nil
}

func (s *InMemoryStore) UpdateTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.turns[sessionID] {
		if t.Index == turn.Index {
			s.turns[sessionID][i] = cloneTurn(turn)
			return nil
		}
	}
	return models.ErrInvalidTurnIndex
}

func (s *InMemoryStore) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.turns[sessionID]
	out := make([]models.Turn, len(src))
	for i, t := range src {
		out[i] = cloneTurn(t)
	}
	return out, nil
}

func (s *InMemoryStore) SaveAttendanceSnapshot(ctx context.Context, sessionID string, snap models.AttendanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Rows = models.CloneRows(snap.Rows)
	s.snapshots[sessionID] = snap
	return nil
}

func (s *InMemoryStore) GetAttendanceSnapshot(ctx context.Context, sessionID string) (*models.AttendanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, nil
	}
	snap.Rows = models.CloneRows(snap.Rows)
	return &snap, nil
}

func (s *InMemoryStore) Close() error { return nil }
