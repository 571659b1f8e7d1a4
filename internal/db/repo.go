package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"flockvet/pkg"
)

// ErrNotFound is returned when a session or visit does not exist.
var ErrNotFound = errors.New("not found")

// Repository wraps database operations for sessions, messages, summaries and
// visits.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// parseID rejects malformed identifiers before they reach Postgres, which
// would otherwise report a syntax error instead of a missing row.
func parseID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	return u, nil
}

// CreateSession starts a new session.
func (r *Repository) CreateSession(ctx context.Context, messageCap int, farmerName, farmName *string) (*pkg.Session, error) {
	s := pkg.Session{
		ID:         uuid.NewString(),
		MessageCap: messageCap,
		FarmerName: farmerName,
		FarmName:   farmName,
	}
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO sessions (id, message_cap, farmer_name, farm_name)
         VALUES ($1, $2, $3, $4)
         RETURNING created_at`,
		s.ID, messageCap, farmerName, farmName,
	).Scan(&s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

// GetSession loads a session by ID.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*pkg.Session, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return nil, err
	}
	var s pkg.Session
	var closed sql.NullTime
	err = r.DB.QueryRowContext(ctx,
		`SELECT id, created_at, closed_at, message_cap, farmer_name, farm_name
         FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.CreatedAt, &closed, &s.MessageCap, &s.FarmerName, &s.FarmName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if closed.Valid {
		s.ClosedAt = &closed.Time
	}
	return &s, nil
}

// CloseSession marks a session closed.  Closing twice is a no-op.
func (r *Repository) CloseSession(ctx context.Context, sessionID string) error {
	id, err := parseID(sessionID)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE sessions SET closed_at = NOW() WHERE id = $1 AND closed_at IS NULL`, id)
	return err
}

// CreateMessage stores a message built by core.NewMessage.
func (r *Repository) CreateMessage(ctx context.Context, m pkg.Message) error {
	sid, err := parseID(m.SessionID)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at)
         VALUES ($1, $2, $3, $4, $5)`,
		m.ID, sid, m.Role, m.Text, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// GetTranscript returns the messages of a session ordered by creation time.
func (r *Repository) GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
         FROM messages
         WHERE session_id = $1
         ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transcript []pkg.Message
	for rows.Next() {
		var m pkg.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		transcript = append(transcript, m)
	}
	return transcript, rows.Err()
}

// CountFarmerMessages counts farmer messages in a session for message-cap
// enforcement.
func (r *Repository) CountFarmerMessages(ctx context.Context, sessionID string) (int, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1 AND role = $2`,
		id, pkg.RoleFarmer,
	).Scan(&count)
	return count, err
}

// UpsertSummary stores the latest summary of a session.
func (r *Repository) UpsertSummary(ctx context.Context, s *pkg.Summary) error {
	id, err := parseID(s.SessionID)
	if err != nil {
		return err
	}
	structured, err := json.Marshal(s.Structured)
	if err != nil {
		return fmt.Errorf("encode structured summary: %w", err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO summaries (session_id, key_points, structured, free_text, emergency, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (session_id) DO UPDATE
         SET key_points = EXCLUDED.key_points,
             structured = EXCLUDED.structured,
             free_text  = EXCLUDED.free_text,
             emergency  = EXCLUDED.emergency,
             updated_at = EXCLUDED.updated_at`,
		id, pq.Array(s.KeyPoints), structured, s.FreeText, s.Emergency, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetSummary returns the summary of a session, or nil if none was written yet.
func (r *Repository) GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return nil, err
	}
	s := pkg.Summary{SessionID: sessionID}
	var structured []byte
	err = r.DB.QueryRowContext(ctx,
		`SELECT key_points, structured, free_text, emergency, updated_at
         FROM summaries WHERE session_id = $1`, id,
	).Scan(pq.Array(&s.KeyPoints), &structured, &s.FreeText, &s.Emergency, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(structured, &s.Structured); err != nil {
		return nil, fmt.Errorf("decode structured summary: %w", err)
	}
	return &s, nil
}

// ListActiveSessions returns previews of open sessions for the veterinary
// dashboard, emergencies first, then most recently active.
func (r *Repository) ListActiveSessions(ctx context.Context) ([]pkg.VetSessionPreview, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT s.id, s.farm_name,
                COALESCE(sm.key_points, '{}'),
                COALESCE(sm.emergency, FALSE),
                COALESCE(sm.updated_at, s.created_at),
                COALESCE(MAX(m.created_at), s.created_at) AS last_message
         FROM sessions s
         LEFT JOIN summaries sm ON sm.session_id = s.id
         LEFT JOIN messages m ON m.session_id = s.id
         WHERE s.closed_at IS NULL
         GROUP BY s.id, s.farm_name, s.created_at, sm.key_points, sm.emergency, sm.updated_at
         ORDER BY COALESCE(sm.emergency, FALSE) DESC, last_message DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	previews := []pkg.VetSessionPreview{}
	for rows.Next() {
		var p pkg.VetSessionPreview
		if err := rows.Scan(&p.SessionID, &p.FarmName, pq.Array(&p.KeyPoints), &p.Emergency, &p.UpdatedAt, &p.LastMessage); err != nil {
			return nil, err
		}
		previews = append(previews, p)
	}
	return previews, rows.Err()
}
