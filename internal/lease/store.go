package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles lease database operations. Reads and writes are scoped to
// the acting party in addition to row-level security.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const leaseColumns = `id, unit_id, property_id, landlord_id, tenant_id, inquiry_id, status,
	to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'), rent_cents, deposit_cents, terms,
	tenant_signature_key, landlord_signature_key, sent_at, tenant_signed_at, landlord_signed_at, ended_at,
	created_at, updated_at`

func scanLease(row pgx.Row) (*Lease, error) {
	var l Lease
	err := row.Scan(&l.ID, &l.UnitID, &l.PropertyID, &l.LandlordID, &l.TenantID, &l.InquiryID, &l.Status,
		&l.StartDate, &l.EndDate, &l.RentCents, &l.DepositCents, &l.Terms,
		&l.TenantSignatureKey, &l.LandlordSignatureKey, &l.SentAt, &l.TenantSignedAt, &l.LandlordSignedAt, &l.EndedAt,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create inserts a draft lease on one of landlordID's units. inquiryID links
// the lease to the inquiry it was converted from and may be nil.
func (s *Store) Create(ctx context.Context, q database.Querier, landlordID string, in Input, inquiryID *string) (*Lease, error) {
	var role string
	err := q.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, in.TenantID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && role != PartyTenant) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up tenant: %w", err)
	}

	var id string
	err = q.QueryRow(ctx,
		`INSERT INTO leases (unit_id, property_id, landlord_id, tenant_id, inquiry_id, start_date, end_date,
		                     rent_cents, deposit_cents, terms)
		 SELECT u.id, u.property_id, u.landlord_id, $3::uuid, $4::uuid, $5::date, $6::date, $7::bigint,
		        COALESCE($8::bigint, 0), COALESCE($9::text, '')
		 FROM units u
		 WHERE u.id = $1 AND u.landlord_id = $2
		 RETURNING id`,
		in.UnitID, landlordID, in.TenantID, inquiryID, in.StartDate, in.EndDate, in.RentCents,
		in.DepositCents, in.Terms,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		if database.IsCheckViolation(err) {
			return nil, fmt.Errorf("%w: end_date must be after start_date", ErrInvalidLease)
		}
		return nil, fmt.Errorf("creating lease: %w", err)
	}
	return s.Get(ctx, q, landlordID, id)
}

// Get returns a lease visible to userID: any of their leases as landlord, or
// a non-draft lease as tenant.
func (s *Store) Get(ctx context.Context, q database.Querier, userID, id string) (*Lease, error) {
	l, err := scanLease(q.QueryRow(ctx,
		`SELECT `+leaseColumns+`
		 FROM leases
		 WHERE id = $1 AND (landlord_id = $2 OR (tenant_id = $2 AND status <> 'draft'))`,
		id, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeaseNotFound
		}
		return nil, fmt.Errorf("getting lease: %w", err)
	}
	return l, nil
}

// LockForSigning returns the lease with its row locked for the rest of the
// transaction. A tenant cannot lock a lease that is no longer awaiting their
// signature, so that case returns the current row unlocked for the caller's
// state check.
func (s *Store) LockForSigning(ctx context.Context, q database.Querier, userID, id string) (*Lease, error) {
	l, err := scanLease(q.QueryRow(ctx,
		`SELECT `+leaseColumns+`
		 FROM leases
		 WHERE id = $1 AND (landlord_id = $2 OR (tenant_id = $2 AND status <> 'draft'))
		 FOR UPDATE`,
		id, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.Get(ctx, q, userID, id)
		}
		return nil, fmt.Errorf("locking lease: %w", err)
	}
	return l, nil
}

// List returns the leases userID is a party to, newest first.
func (s *Store) List(ctx context.Context, q database.Querier, userID, status string) ([]Lease, error) {
	rows, err := q.Query(ctx,
		`SELECT `+leaseColumns+`
		 FROM leases
		 WHERE (landlord_id = $1 OR (tenant_id = $1 AND status <> 'draft'))
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id`,
		userID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("listing leases: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lease: %w", err)
		}
		leases = append(leases, *l)
	}
	return leases, rows.Err()
}

// UpdateDraft changes the terms of a draft lease. Run it in a transaction.
func (s *Store) UpdateDraft(ctx context.Context, q database.Querier, landlordID, id string, in Input) (*Lease, error) {
	var status string
	err := q.QueryRow(ctx,
		`SELECT status FROM leases WHERE id = $1 AND landlord_id = $2 FOR UPDATE`, id, landlordID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeaseNotFound
		}
		return nil, fmt.Errorf("locking lease: %w", err)
	}
	if status != StatusDraft {
		return nil, ErrNotDraft
	}

	_, err = q.Exec(ctx,
		`UPDATE leases SET
		     start_date = COALESCE($3::date, start_date),
		     end_date = COALESCE($4::date, end_date),
		     rent_cents = COALESCE($5::bigint, rent_cents),
		     deposit_cents = COALESCE($6::bigint, deposit_cents),
		     terms = COALESCE($7::text, terms),
		     updated_at = now()
		 WHERE id = $1 AND landlord_id = $2`,
		id, landlordID, in.StartDate, in.EndDate, in.RentCents, in.DepositCents, in.Terms,
	)
	if err != nil {
		if database.IsCheckViolation(err) {
			return nil, fmt.Errorf("%w: end_date must be after start_date", ErrInvalidLease)
		}
		return nil, fmt.Errorf("updating lease: %w", err)
	}
	return s.Get(ctx, q, landlordID, id)
}

// apply runs a guarded UPDATE whose first two parameters are the lease id and
// the acting user. No affected row means the lease is missing for the actor
// or not in a state the statement accepts.
func (s *Store) apply(ctx context.Context, q database.Querier, actorID, id, sql string, args ...any) (*Lease, error) {
	tag, err := q.Exec(ctx, sql, append([]any{id, actorID}, args...)...)
	if err != nil {
		if database.IsUniqueViolation(err, "leases_one_active_per_unit") {
			return nil, ErrUnitLeased
		}
		return nil, fmt.Errorf("updating lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.Get(ctx, q, actorID, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: lease is %s", ErrInvalidTransition, current.Status)
	}
	return s.Get(ctx, q, actorID, id)
}

// Send offers a draft lease to the tenant for signature.
func (s *Store) Send(ctx context.Context, q database.Querier, landlordID, id string) (*Lease, error) {
	return s.apply(ctx, q, landlordID, id,
		`UPDATE leases SET status = 'pending_signature', sent_at = now(), updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND status = 'draft'`)
}

// SignAsTenant records the tenant's signature on a pending lease.
func (s *Store) SignAsTenant(ctx context.Context, q database.Querier, tenantID, id, signatureKey string) (*Lease, error) {
	return s.apply(ctx, q, tenantID, id,
		`UPDATE leases SET status = 'tenant_signed', tenant_signature_key = $3,
		     tenant_signed_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'pending_signature'`,
		signatureKey)
}

// Countersign records the landlord's signature and activates the lease.
// Run it in a transaction with the unit status change.
func (s *Store) Countersign(ctx context.Context, q database.Querier, landlordID, id, signatureKey string) (*Lease, error) {
	return s.apply(ctx, q, landlordID, id,
		`UPDATE leases SET status = 'active', landlord_signature_key = $3,
		     landlord_signed_at = now(), updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND status = 'tenant_signed'`,
		signatureKey)
}

// Cancel withdraws a lease that has not become active.
func (s *Store) Cancel(ctx context.Context, q database.Querier, landlordID, id string) (*Lease, error) {
	return s.apply(ctx, q, landlordID, id,
		`UPDATE leases SET status = 'cancelled', ended_at = now(), updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND status IN ('draft', 'pending_signature', 'tenant_signed')`)
}

// Terminate ends an active lease early.
func (s *Store) Terminate(ctx context.Context, q database.Querier, landlordID, id string) (*Lease, error) {
	return s.apply(ctx, q, landlordID, id,
		`UPDATE leases SET status = 'terminated', ended_at = now(), updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND status = 'active'`)
}

// ExpireDue moves up to limit active leases whose end date is before asOf to
// expired. It runs as the system session.
func (s *Store) ExpireDue(ctx context.Context, q database.Querier, asOf time.Time, limit int) ([]Expired, error) {
	rows, err := q.Query(ctx,
		`UPDATE leases
		 SET status = 'expired', ended_at = now(), updated_at = now()
		 WHERE id IN (
		     SELECT id FROM leases
		     WHERE status = 'active' AND end_date < $1::date
		     ORDER BY end_date
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, unit_id, landlord_id, tenant_id`,
		asOf.Format(time.DateOnly), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("expiring leases: %w", err)
	}
	defer rows.Close()

	var expired []Expired
	for rows.Next() {
		var e Expired
		if err := rows.Scan(&e.ID, &e.UnitID, &e.LandlordID, &e.TenantID); err != nil {
			return nil, fmt.Errorf("scanning expired lease: %w", err)
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}
