package concierge

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

const kbTitleConstraint = "knowledge_base_entries_property_id_title_key"

// Store handles knowledge base and chat history database operations.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const entryColumns = `id, property_id, landlord_id, category, title, content, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PropertyID, &e.LandlordID, &e.Category, &e.Title, &e.Content, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CreateEntry adds an entry to one of landlordID's properties.
func (s *Store) CreateEntry(ctx context.Context, q database.Querier, landlordID, propertyID string, in EntryInput) (*Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx,
		`INSERT INTO knowledge_base_entries (property_id, landlord_id, category, title, content)
		 SELECT p.id, p.landlord_id, $3::text, $4::text, $5::text
		 FROM properties p
		 WHERE p.id = $1 AND p.landlord_id = $2
		 RETURNING `+entryColumns,
		propertyID, landlordID, in.Category, in.Title, in.Content,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPropertyNotFound
		}
		if database.IsUniqueViolation(err, kbTitleConstraint) {
			return nil, ErrDuplicateTitle
		}
		return nil, fmt.Errorf("creating entry: %w", err)
	}
	return e, nil
}

// ListEntries returns the entries of one of landlordID's properties ordered
// by category and title.
func (s *Store) ListEntries(ctx context.Context, q database.Querier, landlordID, propertyID string) ([]Entry, error) {
	var owned bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1 AND landlord_id = $2)`,
		propertyID, landlordID,
	).Scan(&owned)
	if err != nil {
		return nil, fmt.Errorf("checking property: %w", err)
	}
	if !owned {
		return nil, ErrPropertyNotFound
	}

	rows, err := q.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM knowledge_base_entries
		 WHERE property_id = $1 AND landlord_id = $2
		 ORDER BY category, title`,
		propertyID, landlordID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return collectEntries(rows)
}

// GetEntry returns one of landlordID's entries.
func (s *Store) GetEntry(ctx context.Context, q database.Querier, landlordID, id string) (*Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM knowledge_base_entries WHERE id = $1 AND landlord_id = $2`,
		id, landlordID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return e, nil
}

// UpdateEntry replaces the writable fields of one of landlordID's entries.
func (s *Store) UpdateEntry(ctx context.Context, q database.Querier, landlordID, id string, in EntryInput) (*Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx,
		`UPDATE knowledge_base_entries
		 SET category = $3, title = $4, content = $5, updated_at = now()
		 WHERE id = $1 AND landlord_id = $2
		 RETURNING `+entryColumns,
		id, landlordID, in.Category, in.Title, in.Content,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		if database.IsUniqueViolation(err, kbTitleConstraint) {
			return nil, ErrDuplicateTitle
		}
		return nil, fmt.Errorf("updating entry: %w", err)
	}
	return e, nil
}

// DeleteEntry removes one of landlordID's entries.
func (s *Store) DeleteEntry(ctx context.Context, q database.Querier, landlordID, id string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM knowledge_base_entries WHERE id = $1 AND landlord_id = $2`, id, landlordID)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Import upserts entries into propertyID by title on behalf of the property's
// landlord. It runs as the system session from the command line.
func (s *Store) Import(ctx context.Context, q database.Querier, propertyID string, entries []EntryInput) (created, updated int, err error) {
	var landlordID string
	err = q.QueryRow(ctx, `SELECT landlord_id FROM properties WHERE id = $1`, propertyID).Scan(&landlordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrPropertyNotFound
		}
		return 0, 0, fmt.Errorf("looking up property: %w", err)
	}

	for _, in := range entries {
		var inserted bool
		err := q.QueryRow(ctx,
			`INSERT INTO knowledge_base_entries (property_id, landlord_id, category, title, content)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT ON CONSTRAINT `+kbTitleConstraint+`
			 DO UPDATE SET category = EXCLUDED.category, content = EXCLUDED.content, updated_at = now()
			 RETURNING (xmax = 0)`,
			propertyID, landlordID, in.Category, in.Title, in.Content,
		).Scan(&inserted)
		if err != nil {
			return created, updated, fmt.Errorf("importing %q: %w", in.Title, err)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

// ResolveProperty returns the property tenantID chats about. With propertyID
// set it must be one they hold an active lease on. Otherwise the property of
// their most recently started active lease is used.
func (s *Store) ResolveProperty(ctx context.Context, q database.Querier, tenantID string, propertyID *string) (Property, error) {
	var p Property
	err := q.QueryRow(ctx,
		`SELECT p.id, p.name
		 FROM leases l
		 JOIN properties p ON p.id = l.property_id
		 WHERE l.tenant_id = $1 AND l.status = 'active'
		   AND ($2::uuid IS NULL OR l.property_id = $2::uuid)
		 ORDER BY l.start_date DESC, l.id
		 LIMIT 1`,
		tenantID, propertyID,
	).Scan(&p.ID, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNoActiveLease
		}
		return Property{}, fmt.Errorf("resolving property: %w", err)
	}
	return p, nil
}

// ContextEntries returns the entries of a property tenantID actively leases,
// most recently updated first.
func (s *Store) ContextEntries(ctx context.Context, q database.Querier, tenantID, propertyID string) ([]Entry, error) {
	rows, err := q.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM knowledge_base_entries k
		 WHERE k.property_id = $2
		   AND EXISTS (SELECT 1 FROM leases l
		               WHERE l.property_id = k.property_id AND l.tenant_id = $1 AND l.status = 'active')
		 ORDER BY k.updated_at DESC, k.id`,
		tenantID, propertyID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading context entries: %w", err)
	}
	return collectEntries(rows)
}

const messageColumns = `id, property_id, role, content, flagged, flag_reason, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.PropertyID, &m.Role, &m.Content, &m.Flagged, &m.FlagReason, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMessage stores one chat turn.
func (s *Store) SaveMessage(ctx context.Context, q database.Querier, tenantID, propertyID string, m Message) (*Message, error) {
	saved, err := scanMessage(q.QueryRow(ctx,
		`INSERT INTO concierge_messages (tenant_id, property_id, role, content, flagged, flag_reason)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+messageColumns,
		tenantID, propertyID, m.Role, m.Content, m.Flagged, m.FlagReason,
	))
	if err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}
	return saved, nil
}

// History returns tenantID's latest limit messages in chronological order,
// optionally for one property. Flagged messages are skipped when
// includeFlagged is false.
func (s *Store) History(ctx context.Context, q database.Querier, tenantID, propertyID string, limit int, includeFlagged bool) ([]Message, error) {
	rows, err := q.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM concierge_messages
		 WHERE tenant_id = $1
		   AND ($2 = '' OR property_id::text = $2)
		   AND ($4 OR NOT flagged)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		tenantID, propertyID, limit, includeFlagged,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ClearHistory deletes tenantID's messages, optionally for one property, and
// returns how many were removed.
func (s *Store) ClearHistory(ctx context.Context, q database.Querier, tenantID, propertyID string) (int64, error) {
	tag, err := q.Exec(ctx,
		`DELETE FROM concierge_messages WHERE tenant_id = $1 AND ($2 = '' OR property_id::text = $2)`,
		tenantID, propertyID,
	)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	return tag.RowsAffected(), nil
}
