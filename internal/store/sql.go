package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

// sqlSessions implements SessionStore over database/sql. Queries are written with ?
// placeholders and rewritten by bind for drivers that use numbered parameters.
type sqlSessions struct {
	db   *sql.DB
	name string
	bind func(string) string
}

func questionMarks(q string) string { return q }

// dollarParams rewrites ? placeholders to $1, $2, ...
func dollarParams(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlSessions) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.bind(q), args...)
}

func (s *sqlSessions) SaveSession(ctx context.Context, rec models.SessionRecord) error {
	roles, err := json.Marshal(rec.Roles)
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}
	tenant, err := json.Marshal(rec.Tenant)
	if err != nil {
		return fmt.Errorf("failed to encode tenant: %w", err)
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO sessions (id, user_id, roles, tenant, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET roles = excluded.roles, tenant = excluded.tenant,
			state = excluded.state, updated_at = excluded.updated_at`,
		rec.ID, rec.UserID, string(roles), string(tenant), string(state), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.name+".SaveSession: upsert failed", "session", rec.ID, "error", err)
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	slog.Debug(s.name+".SaveSession: saved", "session", rec.ID, "activeFlow", rec.State.ActiveFlow)
	return nil
}

func (s *sqlSessions) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	var (
		rec                  models.SessionRecord
		roles, tenant, state string
	)
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT id, user_id, roles, tenant, state, created_at, updated_at FROM sessions WHERE id = ?`), id)
	if err := row.Scan(&rec.ID, &rec.UserID, &roles, &tenant, &state, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(roles), &rec.Roles); err != nil {
		return nil, fmt.Errorf("failed to decode roles: %w", err)
	}
	if err := json.Unmarshal([]byte(tenant), &rec.Tenant); err != nil {
		return nil, fmt.Errorf("failed to decode tenant: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &rec, nil
}

func (s *sqlSessions) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM attendance_snapshots WHERE session_id = ?`,
		`DELETE FROM turns WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.bind(q), id); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug(s.name+".DeleteSession: deleted", "session", id)
	return nil
}

func (s *sqlSessions) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO turns (session_id, turn_index, role, flow, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, turn.Index, string(turn.Role), nilIfEmpty(string(turn.Flow)), string(payload), turn.CreatedAt.UTC())
	if err != nil {
		slog.Error(s.name+".AppendTurn: insert failed", "session", sessionID, "index", turn.Index, "error", err)
		return fmt.Errorf("failed to append turn %d: %w", turn.Index, err)
	}
	return nil
}

func (s *sqlSessions) UpdateTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE turns SET payload = ? WHERE session_id = ? AND turn_index = ?`, string(payload), sessionID, turn.Index)
	if err != nil {
		return fmt.Errorf("failed to update turn %d: %w", turn.Index, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrInvalidTurnIndex
	}
	return nil
}

func (s *sqlSessions) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT payload FROM turns WHERE session_id = ? ORDER BY turn_index`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		var t models.Turn
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *sqlSessions) SaveAttendanceSnapshot(ctx context.Context, sessionID string, snap models.AttendanceSnapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO attendance_snapshots (session_id, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		sessionID, string(payload), snap.SavedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save attendance snapshot: %w", err)
	}
	slog.Debug(s.name+".SaveAttendanceSnapshot: saved", "session", sessionID, "rows", len(snap.Rows))
	return nil
}

func (s *sqlSessions) GetAttendanceSnapshot(ctx context.Context, sessionID string) (*models.AttendanceSnapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT payload FROM attendance_snapshots WHERE session_id = ?`), sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance snapshot: %w", err)
	}
	var snap models.AttendanceSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode attendance snapshot: %w", err)
	}
	return &snap, nil
}

func (s *sqlSessions) Close() error {
	slog.Debug(s.name + ".Close: closing database")
	return s.db.Close()
}
