package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles ticket database operations. Every query is scoped to the
// landlord or tenant on the ticket in addition to row-level security.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const ticketColumns = `id, unit_id, property_id, landlord_id, tenant_id, opened_by, title, description,
	category, priority, status, version, resolved_at, closed_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.UnitID, &t.PropertyID, &t.LandlordID, &t.TenantID, &t.OpenedBy, &t.Title,
		&t.Description, &t.Category, &t.Priority, &t.Status, &t.Version, &t.ResolvedAt, &t.ClosedAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// OpenAsTenant opens a ticket on a unit the tenant holds an active lease on.
func (s *Store) OpenAsTenant(ctx context.Context, q database.Querier, tenantID string, in OpenInput) (*Ticket, error) {
	return s.open(ctx, q, tenantID,
		`INSERT INTO maintenance_tickets (unit_id, property_id, landlord_id, tenant_id, opened_by,
		                                  title, description, category, priority)
		 SELECT u.id, u.property_id, u.landlord_id, l.tenant_id, $2::uuid, $3::text, $4::text, $5::text, $6::text
		 FROM units u
		 JOIN leases l ON l.unit_id = u.id AND l.status = 'active'
		 WHERE u.id = $1 AND l.tenant_id = $2
		 RETURNING id`,
		in.UnitID, tenantID, in.Title, in.Description, in.Category, in.Priority)
}

// OpenAsLandlord opens a ticket on one of the landlord's units. The unit's
// current tenant, if any, joins the ticket.
func (s *Store) OpenAsLandlord(ctx context.Context, q database.Querier, landlordID string, in OpenInput) (*Ticket, error) {
	return s.open(ctx, q, landlordID,
		`INSERT INTO maintenance_tickets (unit_id, property_id, landlord_id, tenant_id, opened_by,
		                                  title, description, category, priority)
		 SELECT u.id, u.property_id, u.landlord_id,
		        (SELECT l.tenant_id FROM leases l WHERE l.unit_id = u.id AND l.status = 'active'),
		        $2::uuid, $3::text, $4::text, $5::text, $6::text
		 FROM units u
		 WHERE u.id = $1 AND u.landlord_id = $2
		 RETURNING id`,
		in.UnitID, landlordID, in.Title, in.Description, in.Category, in.Priority)
}

func (s *Store) open(ctx context.Context, q database.Querier, actorID, sql string, args ...any) (*Ticket, error) {
	var id string
	if err := q.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		if database.IsCheckViolation(err) {
			return nil, ErrInvalidTicket
		}
		return nil, fmt.Errorf("opening ticket: %w", err)
	}
	return s.Get(ctx, q, actorID, id)
}

// Get returns a ticket userID participates in.
func (s *Store) Get(ctx context.Context, q database.Querier, userID, id string) (*Ticket, error) {
	t, err := scanTicket(q.QueryRow(ctx,
		`SELECT `+ticketColumns+`
		 FROM maintenance_tickets
		 WHERE id = $1 AND (landlord_id = $2 OR tenant_id = $2)`,
		id, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("getting ticket: %w", err)
	}
	return t, nil
}

// List returns tickets userID participates in, most recently changed first.
func (s *Store) List(ctx context.Context, q database.Querier, userID string, f Filter) ([]Ticket, error) {
	rows, err := q.Query(ctx,
		`SELECT `+ticketColumns+`
		 FROM maintenance_tickets
		 WHERE (landlord_id = $1 OR tenant_id = $1)
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR priority = $3)
		   AND ($4 = '' OR property_id = NULLIF($4, '')::uuid)
		 ORDER BY updated_at DESC, id
		 LIMIT $5 OFFSET $6`,
		userID, f.Status, f.Priority, f.PropertyID, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// Update applies in to a ticket when in.Version matches the stored version
// and returns the updated ticket with its previous status. A stale version
// yields a *ConflictError. Run it in a transaction.
func (s *Store) Update(ctx context.Context, q database.Querier, actorID, id string, in UpdateInput) (*Ticket, string, error) {
	current, err := scanTicket(q.QueryRow(ctx,
		`SELECT `+ticketColumns+`
		 FROM maintenance_tickets
		 WHERE id = $1 AND (landlord_id = $2 OR tenant_id = $2)
		 FOR UPDATE`,
		id, actorID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrTicketNotFound
		}
		return nil, "", fmt.Errorf("locking ticket: %w", err)
	}
	if current.Version != in.Version {
		return nil, "", &ConflictError{Current: current}
	}

	isLandlord := actorID == current.LandlordID
	if !isLandlord && in.editsDetails() && (current.OpenedBy != actorID || current.Status != StatusOpen) {
		return nil, "", fmt.Errorf("%w: tenants can only edit open tickets they opened", ErrNotAllowed)
	}

	status := current.Status
	if in.Status != nil && *in.Status != current.Status {
		if !CanTransition(current.Status, *in.Status) {
			return nil, "", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, *in.Status)
		}
		if !CanParticipantTransition(isLandlord, current.Status, *in.Status) {
			return nil, "", fmt.Errorf("%w: tenants can only close resolved tickets", ErrNotAllowed)
		}
		status = *in.Status
	}

	_, err = q.Exec(ctx,
		`UPDATE maintenance_tickets SET
		     title = COALESCE($2::text, title),
		     description = COALESCE($3::text, description),
		     category = COALESCE($4::text, category),
		     priority = COALESCE($5::text, priority),
		     status = $6,
		     resolved_at = CASE
		         WHEN $6 = 'resolved' AND status <> 'resolved' THEN now()
		         WHEN $6 = 'in_progress' THEN NULL
		         ELSE resolved_at END,
		     closed_at = CASE WHEN $6 = 'closed' AND status <> 'closed' THEN now() ELSE closed_at END,
		     version = version + 1,
		     updated_at = now()
		 WHERE id = $1`,
		id, in.Title, in.Description, in.Category, in.Priority, status,
	)
	if err != nil {
		if database.IsCheckViolation(err) {
			return nil, "", ErrInvalidTicket
		}
		return nil, "", fmt.Errorf("updating ticket: %w", err)
	}

	t, err := s.Get(ctx, q, actorID, id)
	if err != nil {
		return nil, "", err
	}
	return t, current.Status, nil
}

// AddComment appends a comment from a participant and returns it with the
// ticket it belongs to.
func (s *Store) AddComment(ctx context.Context, q database.Querier, authorID, ticketID, body string) (*Comment, *Ticket, error) {
	t, err := s.Get(ctx, q, authorID, ticketID)
	if err != nil {
		return nil, nil, err
	}

	c := Comment{TicketID: ticketID, AuthorID: authorID, Body: body}
	err = q.QueryRow(ctx,
		`WITH c AS (
		     INSERT INTO ticket_comments (ticket_id, author_id, body)
		     VALUES ($1, $2, $3)
		     RETURNING id, created_at
		 )
		 SELECT c.id, c.created_at, COALESCE(p.full_name, '')
		 FROM c LEFT JOIN profiles p ON p.id = $2`,
		ticketID, authorID, body,
	).Scan(&c.ID, &c.CreatedAt, &c.AuthorName)
	if err != nil {
		return nil, nil, fmt.Errorf("adding comment: %w", err)
	}
	return &c, t, nil
}

// ListComments returns a ticket's comments oldest first.
func (s *Store) ListComments(ctx context.Context, q database.Querier, userID, ticketID string) ([]Comment, error) {
	if _, err := s.Get(ctx, q, userID, ticketID); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT c.id, c.ticket_id, c.author_id, COALESCE(p.full_name, ''), c.body, c.created_at
		 FROM ticket_comments c
		 LEFT JOIN profiles p ON p.id = c.author_id
		 WHERE c.ticket_id = $1
		 ORDER BY c.created_at, c.id`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AddPhoto attaches an uploaded image to a ticket. Run it in a transaction.
func (s *Store) AddPhoto(ctx context.Context, q database.Querier, userID, ticketID, key, contentType string) (*Photo, *Ticket, error) {
	t, err := scanTicket(q.QueryRow(ctx,
		`SELECT `+ticketColumns+`
		 FROM maintenance_tickets
		 WHERE id = $1 AND (landlord_id = $2 OR tenant_id = $2)
		 FOR SHARE`,
		ticketID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrTicketNotFound
		}
		return nil, nil, fmt.Errorf("locking ticket: %w", err)
	}

	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM ticket_photos WHERE ticket_id = $1`, ticketID).Scan(&count); err != nil {
		return nil, nil, fmt.Errorf("counting photos: %w", err)
	}
	if count >= MaxPhotos {
		return nil, nil, fmt.Errorf("%w: at most %d photos", ErrTooManyPhotos, MaxPhotos)
	}

	p := Photo{TicketID: ticketID, UploadedBy: userID, ObjectKey: key, ContentType: contentType}
	err = q.QueryRow(ctx,
		`INSERT INTO ticket_photos (ticket_id, uploaded_by, object_key, content_type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		ticketID, userID, key, contentType,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("adding photo: %w", err)
	}
	p.URL = PhotoURL(ticketID, p.ID)
	return &p, t, nil
}

// ListPhotos returns a ticket's photos oldest first.
func (s *Store) ListPhotos(ctx context.Context, q database.Querier, userID, ticketID string) ([]Photo, error) {
	if _, err := s.Get(ctx, q, userID, ticketID); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT id, ticket_id, uploaded_by, object_key, content_type, created_at
		 FROM ticket_photos
		 WHERE ticket_id = $1
		 ORDER BY created_at, id`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.ID, &p.TicketID, &p.UploadedBy, &p.ObjectKey, &p.ContentType, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		p.URL = PhotoURL(ticketID, p.ID)
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// GetPhoto returns one photo of a ticket userID participates in.
func (s *Store) GetPhoto(ctx context.Context, q database.Querier, userID, ticketID, photoID string) (*Photo, error) {
	var p Photo
	err := q.QueryRow(ctx,
		`SELECT p.id, p.ticket_id, p.uploaded_by, p.object_key, p.content_type, p.created_at
		 FROM ticket_photos p
		 JOIN maintenance_tickets t ON t.id = p.ticket_id
		 WHERE p.id = $1 AND p.ticket_id = $2 AND (t.landlord_id = $3 OR t.tenant_id = $3)`,
		photoID, ticketID, userID,
	).Scan(&p.ID, &p.TicketID, &p.UploadedBy, &p.ObjectKey, &p.ContentType, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPhotoNotFound
		}
		return nil, fmt.Errorf("getting photo: %w", err)
	}
	p.URL = PhotoURL(ticketID, p.ID)
	return &p, nil
}
