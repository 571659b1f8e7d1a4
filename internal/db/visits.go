package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flockvet/pkg"
)

const visitColumns = `id, session_id, title, description, visit_type, status, priority,
       scheduled_for, notes, results, created_at, updated_at`

// visitOrder puts urgent visits first, then the soonest.
const visitOrder = `ORDER BY CASE priority
             WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
         scheduled_for ASC, id ASC`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVisit(row rowScanner) (*pkg.Visit, error) {
	var v pkg.Visit
	var results []byte
	err := row.Scan(&v.ID, &v.SessionID, &v.Title, &v.Description, &v.Type, &v.Status, &v.Priority,
		&v.ScheduledFor, &v.Notes, &results, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		v.Results = &pkg.VisitResults{}
		if err := json.Unmarshal(results, v.Results); err != nil {
			return nil, fmt.Errorf("decode visit results: %w", err)
		}
	}
	return &v, nil
}

func encodeResults(r *pkg.VisitResults) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode visit results: %w", err)
	}
	return b, nil
}

// CreateVisit stores a visit built by core.NewVisit.
func (r *Repository) CreateVisit(ctx context.Context, v pkg.Visit) error {
	id, err := parseID(v.ID)
	if err != nil {
		return err
	}
	sid, err := parseID(v.SessionID)
	if err != nil {
		return err
	}
	results, err := encodeResults(v.Results)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO visits (id, session_id, title, description, visit_type, status, priority,
                             scheduled_for, notes, results, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, sid, v.Title, v.Description, v.Type, v.Status, v.Priority,
		v.ScheduledFor, v.Notes, results, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create visit: %w", err)
	}
	return nil
}

// GetVisit loads a visit by ID.
func (r *Repository) GetVisit(ctx context.Context, visitID string) (*pkg.Visit, error) {
	id, err := parseID(visitID)
	if err != nil {
		return nil, err
	}
	v, err := scanVisit(r.DB.QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit %s: %w", visitID, ErrNotFound)
	}
	return v, err
}

// ListVisits returns the visits matching f, urgent first.
func (r *Repository) ListVisits(ctx context.Context, f pkg.VisitFilter) ([]pkg.Visit, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.SessionID != "" {
		sid, err := parseID(f.SessionID)
		if err != nil {
			return nil, err
		}
		args = append(args, sid)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + visitColumns + ` FROM visits`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, query+` `+visitOrder, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	visits := []pkg.Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

// UpdateVisitStatus applies u to a visit inside a transaction, so two
// concurrent changes cannot both pass the transition check.
func (r *Repository) UpdateVisitStatus(ctx context.Context, visitID string, u pkg.VisitUpdate) (*pkg.Visit, error) {
	id, err := parseID(visitID)
	if err != nil {
		return nil, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin visit update: %w", err)
	}
	defer tx.Rollback()

	v, err := scanVisit(tx.QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit %s: %w", visitID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := u.Apply(v, time.Now().UTC()); err != nil {
		return nil, err
	}
	results, err := encodeResults(v.Results)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE visits
         SET status = $2, scheduled_for = $3, notes = $4, results = $5, updated_at = $6
         WHERE id = $1`,
		id, v.Status, v.ScheduledFor, v.Notes, results, v.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update visit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit visit update: %w", err)
	}
	return v, nil
}
