package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/platform/database"
)

// Record is a persisted audit event.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	UserID       *uuid.UUID      `json:"user_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *uuid.UUID      `json:"resource_id"`
	Metadata     json.RawMessage `json:"metadata"`
	Source       string          `json:"source"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// buildBatchInsert constructs a multi-row INSERT statement.
func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(user_id, action, resource_type, resource_id, metadata, source)"
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))

		metaJSON := []byte("{}")
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		source := e.Source
		if source == "" {
			source = SourceAPI
		}
		args = append(args, e.UserID, e.Action, e.ResourceType, e.ResourceID, metaJSON, source)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

// ListEventsParams defines filters for querying audit events.
type ListEventsParams struct {
	Action       *string
	ResourceType *string
	ResourceID   *uuid.UUID
	UserID       *uuid.UUID
	Source       *string
	After        *time.Time
	Before       *time.Time
	Limit        int
}

// ListEvents returns matching events, newest first. Rows are only visible to
// privileged sessions.
func (s *Store) ListEvents(ctx context.Context, db database.Querier, p ListEventsParams) ([]Record, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Action, &r.ResourceType, &r.ResourceID, &r.Metadata, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// buildListQuery constructs a parameterized SELECT for audit events.
func buildListQuery(p ListEventsParams) (string, []any) {
	conditions := []string{"TRUE"}
	var args []any
	argN := 1

	add := func(expr string, v any) {
		conditions = append(conditions, fmt.Sprintf(expr, argN))
		args = append(args, v)
		argN++
	}

	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ResourceType != nil {
		add("resource_type = $%d", *p.ResourceType)
	}
	if p.ResourceID != nil {
		add("resource_id = $%d", *p.ResourceID)
	}
	if p.UserID != nil {
		add("user_id = $%d", *p.UserID)
	}
	if p.Source != nil {
		add("source = $%d", *p.Source)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	sql := fmt.Sprintf(
		`SELECT id, user_id, action, resource_type, resource_id, metadata, source, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		strings.Join(conditions, " AND "), argN,
	)
	args = append(args, limit)

	return sql, args
}
