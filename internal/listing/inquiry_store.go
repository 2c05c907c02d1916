package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

const inquiryColumns = `i.id, i.listing_id, l.title, i.landlord_id, i.applicant_id, i.name, i.email, i.phone,
	i.message, i.status, i.lease_id, i.created_at, i.updated_at`

func scanInquiry(row pgx.Row) (*Inquiry, error) {
	var i Inquiry
	err := row.Scan(&i.ID, &i.ListingID, &i.ListingTitle, &i.LandlordID, &i.ApplicantID, &i.Name, &i.Email,
		&i.Phone, &i.Message, &i.Status, &i.LeaseID, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// SubmitInquiry records an inquiry on a published listing. applicantID is
// empty for anonymous visitors. The id is generated here because anonymous
// sessions cannot read the row back.
func (s *Store) SubmitInquiry(ctx context.Context, q database.Querier, listingID, applicantID string, in InquiryInput) (*Inquiry, error) {
	inq := Inquiry{
		ID:        uuid.NewString(),
		ListingID: listingID,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Message:   in.Message,
		Status:    InquiryNew,
	}
	err := q.QueryRow(ctx,
		`SELECT landlord_id, title FROM listings WHERE id = $1 AND status = 'published'`, listingID,
	).Scan(&inq.LandlordID, &inq.ListingTitle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("looking up listing: %w", err)
	}
	if applicantID != "" {
		inq.ApplicantID = &applicantID
	}

	_, err = q.Exec(ctx,
		`INSERT INTO inquiries (id, listing_id, landlord_id, applicant_id, name, email, phone, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inq.ID, inq.ListingID, inq.LandlordID, inq.ApplicantID, inq.Name, inq.Email, inq.Phone, inq.Message,
	)
	if err != nil {
		return nil, fmt.Errorf("submitting inquiry: %w", err)
	}
	now := time.Now().UTC()
	inq.CreatedAt, inq.UpdatedAt = now, now
	return &inq, nil
}

// ListInquiries returns landlordID's inquiries newest first, optionally
// filtered by status and listing.
func (s *Store) ListInquiries(ctx context.Context, q database.Querier, landlordID, status, listingID string, limit, offset int) ([]Inquiry, error) {
	rows, err := q.Query(ctx,
		`SELECT `+inquiryColumns+`
		 FROM inquiries i JOIN listings l ON l.id = i.listing_id
		 WHERE i.landlord_id = $1
		   AND ($2 = '' OR i.status = $2)
		   AND ($3 = '' OR i.listing_id::text = $3)
		 ORDER BY i.created_at DESC, i.id
		 LIMIT $4 OFFSET $5`,
		landlordID, status, listingID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing inquiries: %w", err)
	}
	defer rows.Close()

	var inquiries []Inquiry
	for rows.Next() {
		i, err := scanInquiry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning inquiry: %w", err)
		}
		inquiries = append(inquiries, *i)
	}
	return inquiries, rows.Err()
}

// GetInquiry returns one of landlordID's inquiries.
func (s *Store) GetInquiry(ctx context.Context, q database.Querier, landlordID, id string) (*Inquiry, error) {
	return s.getInquiry(ctx, q, landlordID, id, "")
}

func (s *Store) getInquiry(ctx context.Context, q database.Querier, landlordID, id, suffix string) (*Inquiry, error) {
	i, err := scanInquiry(q.QueryRow(ctx,
		`SELECT `+inquiryColumns+`
		 FROM inquiries i JOIN listings l ON l.id = i.listing_id
		 WHERE i.id = $1 AND i.landlord_id = $2`+suffix,
		id, landlordID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInquiryNotFound
		}
		return nil, fmt.Errorf("getting inquiry: %w", err)
	}
	return i, nil
}

// OpenInquiry returns an inquiry, marking it read if it was new.
func (s *Store) OpenInquiry(ctx context.Context, q database.Querier, landlordID, id string) (*Inquiry, error) {
	if _, err := q.Exec(ctx,
		`UPDATE inquiries SET status = 'read', updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND status = 'new'`,
		id, landlordID,
	); err != nil {
		return nil, fmt.Errorf("marking inquiry read: %w", err)
	}
	return s.GetInquiry(ctx, q, landlordID, id)
}

// TransitionInquiry moves an inquiry to status to and returns it with the
// status it left. Run it in a transaction.
func (s *Store) TransitionInquiry(ctx context.Context, q database.Querier, landlordID, id, to string) (*Inquiry, string, error) {
	current, err := s.getInquiry(ctx, q, landlordID, id, " FOR UPDATE OF i")
	if err != nil {
		return nil, "", err
	}
	if !CanTransitionInquiry(current.Status, to) {
		return nil, "", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}

	if _, err := q.Exec(ctx,
		`UPDATE inquiries SET status = $3, updated_at = now() WHERE id = $1 AND landlord_id = $2`,
		id, landlordID, to,
	); err != nil {
		return nil, "", fmt.Errorf("transitioning inquiry: %w", err)
	}
	updated, err := s.GetInquiry(ctx, q, landlordID, id)
	return updated, current.Status, err
}

// ConversionSource locks an inquiry and returns the data a lease draft needs.
// Run it in a transaction together with LinkLease.
func (s *Store) ConversionSource(ctx context.Context, q database.Querier, landlordID, inquiryID string) (*ConversionSource, error) {
	var (
		src         ConversionSource
		applicantID *string
		leaseID     *string
		status      string
	)
	err := q.QueryRow(ctx,
		`SELECT i.id, i.status, i.applicant_id, i.lease_id, l.unit_id, l.property_id, l.rent_cents, l.deposit_cents,
		        to_char(l.available_from, 'YYYY-MM-DD')
		 FROM inquiries i JOIN listings l ON l.id = i.listing_id
		 WHERE i.id = $1 AND i.landlord_id = $2
		 FOR UPDATE OF i`,
		inquiryID, landlordID,
	).Scan(&src.InquiryID, &status, &applicantID, &leaseID, &src.UnitID, &src.PropertyID, &src.RentCents,
		&src.DepositCents, &src.AvailableFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInquiryNotFound
		}
		return nil, fmt.Errorf("loading inquiry: %w", err)
	}
	if leaseID != nil {
		return nil, ErrAlreadyConverted
	}
	if status == InquiryArchived {
		return nil, fmt.Errorf("%w: inquiry is archived", ErrInvalidTransition)
	}
	if applicantID == nil {
		return nil, ErrNoApplicant
	}
	src.ApplicantID = *applicantID
	return &src, nil
}

// LinkLease archives a converted inquiry and records its lease.
func (s *Store) LinkLease(ctx context.Context, q database.Querier, landlordID, inquiryID, leaseID string) error {
	tag, err := q.Exec(ctx,
		`UPDATE inquiries SET status = 'archived', lease_id = $3, updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND lease_id IS NULL`,
		inquiryID, landlordID, leaseID,
	)
	if err != nil {
		return fmt.Errorf("linking inquiry lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConverted
	}
	return nil
}
