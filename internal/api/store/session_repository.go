package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

func sessionSpan(ctx context.Context, name, op, userID string, sessionID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer("StoreRepo").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", tableSessions),
		attribute.String("user.id", userID),
		attribute.String("session.id", sessionID.String()),
	))
}

// UpsertSession writes the session record. History and shortlist columns are left untouched.
// A stored record with a higher version is kept, so a write-behind that lands late cannot regress it.
func (r *RepositoryImpl) UpsertSession(ctx context.Context, state *types.SessionState) (err error) {
	ctx, span := sessionSpan(ctx, "UpsertSession", "INSERT", state.UserID, state.SessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "INSERT", start, err) }()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	query := `
		INSERT INTO planner_sessions (user_id, session_id, title, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, session_id) DO UPDATE
		SET title = EXCLUDED.title, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
		WHERE planner_sessions.state IS NULL
		   OR COALESCE((planner_sessions.state->>'version')::bigint, 0) <= $7`

	tag, err := r.db.Exec(ctx, query, state.UserID, state.SessionID, state.Title, payload, state.CreatedAt, state.UpdatedAt, state.Version)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to upsert session",
			slog.String("user_id", state.UserID), slog.String("session_id", state.SessionID.String()), slog.Any("error", err))
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("session.stale", true))
		r.logger.DebugContext(ctx, "Skipped stale session snapshot",
			slog.String("session_id", state.SessionID.String()), slog.Int64("version", state.Version))
	}
	return nil
}

func (r *RepositoryImpl) GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (_ *types.SessionState, err error) {
	ctx, span := sessionSpan(ctx, "GetSession", "SELECT", userID, sessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "SELECT", start, err) }()

	var payload []byte
	err = r.db.QueryRow(ctx,
		`SELECT state FROM planner_sessions WHERE user_id = $1 AND session_id = $2 AND state IS NOT NULL`,
		userID, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var state types.SessionState
	if err = json.Unmarshal(payload, &state); err != nil {
		r.logger.WarnContext(ctx, "Session record failed to decode",
			slog.String("user_id", userID), slog.String("session_id", sessionID.String()), slog.Any("error", err))
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrInvalidRecord)
	}
	state.EnsureKeys()
	return &state, nil
}

func (r *RepositoryImpl) ListSessionsByUser(ctx context.Context, userID string) (_ []types.SessionState, err error) {
	ctx, span := otel.Tracer("StoreRepo").Start(ctx, "ListSessionsByUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", tableSessions),
		attribute.String("user.id", userID),
	))
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "SELECT", start, err) }()

	rows, err := r.db.Query(ctx, `
		SELECT session_id, state FROM planner_sessions
		WHERE user_id = $1 AND state IS NOT NULL
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []types.SessionState
	skipped := 0
	for rows.Next() {
		var id uuid.UUID
		var payload []byte
		if err = rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var state types.SessionState
		if jerr := json.Unmarshal(payload, &state); jerr != nil {
			skipped++
			r.logger.WarnContext(ctx, "Skipping undecodable session record",
				slog.String("user_id", userID), slog.String("session_id", id.String()), slog.Any("error", jerr))
			continue
		}
		state.EnsureKeys()
		sessions = append(sessions, state)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading session rows: %w", err)
	}

	span.SetAttributes(attribute.Int("sessions.count", len(sessions)), attribute.Int("sessions.skipped", skipped))
	return sessions, nil
}

func (r *RepositoryImpl) DeleteSession(ctx context.Context, userID string, sessionID uuid.UUID) (err error) {
	ctx, span := sessionSpan(ctx, "DeleteSession", "DELETE", userID, sessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "DELETE", start, err) }()

	tag, err := r.db.Exec(ctx, `DELETE FROM planner_sessions WHERE user_id = $1 AND session_id = $2`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveHistory replaces the stored history. It upserts on (user_id, session_id) so a history sync
// that lands before the session record still persists.
func (r *RepositoryImpl) SaveHistory(ctx context.Context, userID string, sessionID uuid.UUID, history []types.History) (err error) {
	ctx, span := sessionSpan(ctx, "SaveHistory", "INSERT", userID, sessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "INSERT", start, err) }()

	if history == nil {
		history = []types.History{}
	}
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.Exec(ctx, `
		INSERT INTO planner_sessions (user_id, session_id, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, session_id) DO UPDATE
		SET history = EXCLUDED.history, updated_at = EXCLUDED.updated_at`,
		userID, sessionID, payload, now)
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	span.SetAttributes(attribute.Int("history.length", len(history)))
	return nil
}

func (r *RepositoryImpl) GetHistory(ctx context.Context, userID string, sessionID uuid.UUID) (_ []types.History, err error) {
	ctx, span := sessionSpan(ctx, "GetHistory", "SELECT", userID, sessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "SELECT", start, err) }()

	var payload []byte
	err = r.db.QueryRow(ctx,
		`SELECT history FROM planner_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var history []types.History
	if err = json.Unmarshal(payload, &history); err != nil {
		return nil, fmt.Errorf("history of %s: %w", sessionID, ErrInvalidRecord)
	}
	return history, nil
}

// SaveShortlist updates the shortlist of an existing session. It never creates the session row.
func (r *RepositoryImpl) SaveShortlist(ctx context.Context, userID string, sessionID uuid.UUID, items []types.ShortlistItem) (err error) {
	ctx, span := sessionSpan(ctx, "SaveShortlist", "UPDATE", userID, sessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "UPDATE", start, err) }()

	if items == nil {
		items = []types.ShortlistItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode shortlist: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE planner_sessions SET shortlist = $3, updated_at = $4
		WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save shortlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepositoryImpl) GetShortlist(ctx context.Context, userID string, sessionID uuid.UUID) (_ []types.ShortlistItem, err error) {
	ctx, span := sessionSpan(ctx, "GetShortlist", "SELECT", userID, sessionID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSessions, "SELECT", start, err) }()

	var payload []byte
	err = r.db.QueryRow(ctx,
		`SELECT shortlist FROM planner_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shortlist: %w", err)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var items []types.ShortlistItem
	if err = json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("shortlist of %s: %w", sessionID, ErrInvalidRecord)
	}
	return items, nil
}
