package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lherron/subsync/internal/db"
	"github.com/lherron/subsync/internal/domain"
)

// Event types written by subsync
const (
	TypeRunStarted         = "run.started"
	TypeRunFinished        = "run.finished"
	TypeRunFailed          = "run.failed"
	TypeUsersCreated       = "users.created"
	TypeUserConsentUpdated = "user.consent_updated"
	ResourceTypeRun        = "run"
	ResourceTypeUser       = "user"
	defaultListLimit       = 50
)

// NewRunUUID returns a fresh identifier for one command run
func NewRunUUID() string {
	return uuid.New().String()
}

// Writer handles writing events to the event log
type Writer struct {
	db *db.DB
}

// NewWriter creates a new event writer
func NewWriter(database *db.DB) *Writer {
	return &Writer{db: database}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LogEvent writes an event to the event log. When tx is nil the event is
// written outside any transaction.
func (w *Writer) LogEvent(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	query := w.db.Rebind(`
		INSERT INTO event_log (run_uuid, event_type, resource_type, resource_id, payload)
		VALUES (?, ?, ?, ?, ?)
	`)

	var executor execer = w.db.DB
	if tx != nil {
		executor = tx
	}
	_, err := executor.ExecContext(ctx, query, event.RunUUID, event.EventType, event.ResourceType, event.ResourceID, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogRunEvent logs a run-level event with an arbitrary JSON payload
func (w *Writer) LogRunEvent(ctx context.Context, runUUID, eventType string, payload any) error {
	event := &domain.Event{
		RunUUID:      runUUID,
		EventType:    eventType,
		ResourceType: ResourceTypeRun,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		s := string(data)
		event.Payload = &s
	}
	return w.LogEvent(ctx, nil, event)
}

// ListOptions filters List results
type ListOptions struct {
	RunUUID string
	Limit   int
}

// List returns events newest first
func (w *Writer) List(ctx context.Context, opts ListOptions) ([]domain.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, run_uuid, event_type, resource_type, resource_id, payload, created_at FROM event_log`
	var args []any
	if opts.RunUUID != "" {
		query += ` WHERE run_uuid = ?`
		args = append(args, opts.RunUUID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := w.db.QueryContext(ctx, w.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.RunUUID, &e.EventType, &e.ResourceType, &e.ResourceID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return out, nil
}
