package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles listing, photo and inquiry database operations.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const listingColumns = `l.id, l.unit_id, l.property_id, l.landlord_id, l.title, l.description, l.rent_cents,
	l.deposit_cents, to_char(l.available_from, 'YYYY-MM-DD'), l.status, l.published_at, l.created_at, l.updated_at`

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.UnitID, &l.PropertyID, &l.LandlordID, &l.Title, &l.Description, &l.RentCents,
		&l.DepositCents, &l.AvailableFrom, &l.Status, &l.PublishedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const photoColumns = `id, listing_id, object_key, content_type, position, created_at`

func scanPhoto(row pgx.Row) (*Photo, error) {
	var p Photo
	if err := row.Scan(&p.ID, &p.ListingID, &p.ObjectKey, &p.ContentType, &p.Position, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a draft listing for one of landlordID's units.
func (s *Store) Create(ctx context.Context, q database.Querier, landlordID string, in Input) (*Listing, error) {
	var id string
	err := q.QueryRow(ctx,
		`INSERT INTO listings (unit_id, property_id, landlord_id, title, description, rent_cents, deposit_cents, available_from)
		 SELECT u.id, u.property_id, u.landlord_id, $3::text, COALESCE($4::text, ''), $5::bigint,
		        COALESCE($6::bigint, 0), $7::date
		 FROM units u
		 WHERE u.id = $1 AND u.landlord_id = $2
		 RETURNING id`,
		in.UnitID, landlordID, in.Title, in.Description, in.RentCents, in.DepositCents, in.AvailableFrom,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("creating listing: %w", err)
	}
	return s.Get(ctx, q, landlordID, id)
}

// Get returns one of landlordID's listings with its photos.
func (s *Store) Get(ctx context.Context, q database.Querier, landlordID, id string) (*Listing, error) {
	l, err := scanListing(q.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings l WHERE l.id = $1 AND l.landlord_id = $2`,
		id, landlordID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("getting listing: %w", err)
	}
	if l.Photos, err = s.ListPhotos(ctx, q, id); err != nil {
		return nil, err
	}
	return l, nil
}

// List returns landlordID's listings, optionally filtered by status.
func (s *Store) List(ctx context.Context, q database.Querier, landlordID, status string) ([]Listing, error) {
	rows, err := q.Query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings l
		 WHERE l.landlord_id = $1 AND ($2 = '' OR l.status = $2)
		 ORDER BY l.created_at DESC, l.id`,
		landlordID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, s.attachPhotos(ctx, q, len(listings), func(i int) (string, *[]Photo) {
		return listings[i].ID, &listings[i].Photos
	})
}

// Update changes the non-nil fields of a draft or published listing.
func (s *Store) Update(ctx context.Context, q database.Querier, landlordID, id string, in Input) (*Listing, error) {
	var status string
	err := q.QueryRow(ctx,
		`SELECT status FROM listings WHERE id = $1 AND landlord_id = $2 FOR UPDATE`,
		id, landlordID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("locking listing: %w", err)
	}
	if status == StatusArchived {
		return nil, ErrListingArchived
	}

	_, err = q.Exec(ctx,
		`UPDATE listings SET
		     title = COALESCE($3::text, title),
		     description = COALESCE($4::text, description),
		     rent_cents = COALESCE($5::bigint, rent_cents),
		     deposit_cents = COALESCE($6::bigint, deposit_cents),
		     available_from = COALESCE($7::date, available_from),
		     updated_at = now()
		 WHERE id = $1 AND landlord_id = $2`,
		id, landlordID, in.Title, in.Description, in.RentCents, in.DepositCents, in.AvailableFrom,
	)
	if err != nil {
		return nil, fmt.Errorf("updating listing: %w", err)
	}
	return s.Get(ctx, q, landlordID, id)
}

// Publish moves a draft or archived listing to published.
func (s *Store) Publish(ctx context.Context, q database.Querier, landlordID, id string) (*Listing, error) {
	return s.setStatus(ctx, q, landlordID, id, StatusPublished, StatusDraft, StatusArchived)
}

// Archive takes a draft or published listing off the market.
func (s *Store) Archive(ctx context.Context, q database.Querier, landlordID, id string) (*Listing, error) {
	return s.setStatus(ctx, q, landlordID, id, StatusArchived, StatusDraft, StatusPublished)
}

func (s *Store) setStatus(ctx context.Context, q database.Querier, landlordID, id, to string, from ...string) (*Listing, error) {
	tag, err := q.Exec(ctx,
		`UPDATE listings SET
		     status = $3,
		     published_at = CASE WHEN $3 = 'published' THEN now() ELSE published_at END,
		     updated_at = now()
		 WHERE id = $1 AND landlord_id = $2 AND status = ANY($4::text[])`,
		id, landlordID, to, from,
	)
	if err != nil {
		return nil, fmt.Errorf("setting listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, q, landlordID, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot move listing to %s", ErrInvalidTransition, to)
	}
	return s.Get(ctx, q, landlordID, id)
}

// ListPhotos returns a listing's photos in display order.
func (s *Store) ListPhotos(ctx context.Context, q database.Querier, listingID string) ([]Photo, error) {
	rows, err := q.Query(ctx,
		`SELECT `+photoColumns+` FROM listing_photos WHERE listing_id = $1 ORDER BY position`,
		listingID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing photos: %w", err)
	}
	defer rows.Close()

	photos := []Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		photos = append(photos, *p)
	}
	return photos, rows.Err()
}

// attachPhotos loads photos for n listings in one query. at returns the
// listing id and photo slot for index i.
func (s *Store) attachPhotos(ctx context.Context, q database.Querier, n int, at func(i int) (string, *[]Photo)) error {
	if n == 0 {
		return nil
	}
	ids := make([]string, n)
	slots := make(map[string]*[]Photo, n)
	for i := range n {
		id, slot := at(i)
		*slot = []Photo{}
		ids[i] = id
		slots[id] = slot
	}

	rows, err := q.Query(ctx,
		`SELECT `+photoColumns+`
		 FROM listing_photos
		 WHERE listing_id = ANY($1::text[]::uuid[])
		 ORDER BY listing_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("loading photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return fmt.Errorf("scanning photo: %w", err)
		}
		if slot, ok := slots[p.ListingID]; ok {
			*slot = append(*slot, *p)
		}
	}
	return rows.Err()
}

func (s *Store) lockListing(ctx context.Context, q database.Querier, landlordID, id string) error {
	var locked string
	err := q.QueryRow(ctx,
		`SELECT id FROM listings WHERE id = $1 AND landlord_id = $2 FOR UPDATE`,
		id, landlordID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrListingNotFound
	}
	if err != nil {
		return fmt.Errorf("locking listing: %w", err)
	}
	return nil
}

// AddPhoto appends a photo to the end of a listing. Run it in a transaction.
func (s *Store) AddPhoto(ctx context.Context, q database.Querier, landlordID, listingID, key, contentType string) (*Photo, error) {
	if err := s.lockListing(ctx, q, landlordID, listingID); err != nil {
		return nil, err
	}

	var count int
	if err := q.QueryRow(ctx,
		`SELECT count(*) FROM listing_photos WHERE listing_id = $1`, listingID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting photos: %w", err)
	}
	if count >= MaxPhotos {
		return nil, ErrTooManyPhotos
	}

	p, err := scanPhoto(q.QueryRow(ctx,
		`INSERT INTO listing_photos (listing_id, landlord_id, object_key, content_type, position)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+photoColumns,
		listingID, landlordID, key, contentType, count,
	))
	if err != nil {
		return nil, fmt.Errorf("adding photo: %w", err)
	}
	return p, nil
}

// DeletePhoto removes a photo, closes the gap in positions and returns the
// removed object key. Run it in a transaction.
func (s *Store) DeletePhoto(ctx context.Context, q database.Querier, landlordID, listingID, photoID string) (string, error) {
	if err := s.lockListing(ctx, q, landlordID, listingID); err != nil {
		return "", err
	}

	var (
		key      string
		position int
	)
	err := q.QueryRow(ctx,
		`DELETE FROM listing_photos
		 WHERE id = $1 AND listing_id = $2 AND landlord_id = $3
		 RETURNING object_key, position`,
		photoID, listingID, landlordID,
	).Scan(&key, &position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPhotoNotFound
		}
		return "", fmt.Errorf("deleting photo: %w", err)
	}

	if _, err := q.Exec(ctx,
		`UPDATE listing_photos SET position = position - 1 WHERE listing_id = $1 AND position > $2`,
		listingID, position,
	); err != nil {
		return "", fmt.Errorf("compacting photo positions: %w", err)
	}
	return key, nil
}

// ReorderPhotos sets positions 0..n-1 in the order of photoIDs, which must be
// exactly the listing's photo set. Run it in a transaction; the position
// uniqueness check is deferred to commit.
func (s *Store) ReorderPhotos(ctx context.Context, q database.Querier, landlordID, listingID string, photoIDs []string) ([]Photo, error) {
	if err := s.lockListing(ctx, q, landlordID, listingID); err != nil {
		return nil, err
	}

	current, err := s.ListPhotos(ctx, q, listingID)
	if err != nil {
		return nil, err
	}
	if len(photoIDs) != len(current) {
		return nil, ErrInvalidPhotoOrder
	}
	known := make(map[string]bool, len(current))
	for _, p := range current {
		known[p.ID] = true
	}
	seen := make(map[string]bool, len(photoIDs))
	for _, id := range photoIDs {
		if !known[id] || seen[id] {
			return nil, ErrInvalidPhotoOrder
		}
		seen[id] = true
	}

	if _, err := q.Exec(ctx,
		`UPDATE listing_photos p
		 SET position = o.ord - 1
		 FROM unnest($1::text[]) WITH ORDINALITY AS o(id, ord)
		 WHERE p.id = o.id::uuid AND p.listing_id = $2`,
		photoIDs, listingID,
	); err != nil {
		return nil, fmt.Errorf("reordering photos: %w", err)
	}
	return s.ListPhotos(ctx, q, listingID)
}

const publicColumns = `l.id, l.title, l.description, l.rent_cents, l.deposit_cents,
	to_char(l.available_from, 'YYYY-MM-DD'), l.published_at, u.label, u.bedrooms, u.bathrooms, u.square_feet,
	p.name, p.address_line, p.city, p.region, p.postal_code, p.country`

const publicFrom = ` FROM listings l
	JOIN units u ON u.id = l.unit_id
	JOIN properties p ON p.id = l.property_id`

func scanPublic(row pgx.Row) (*PublicListing, error) {
	var l PublicListing
	err := row.Scan(&l.ID, &l.Title, &l.Description, &l.RentCents, &l.DepositCents, &l.AvailableFrom,
		&l.PublishedAt, &l.UnitLabel, &l.Bedrooms, &l.Bathrooms, &l.SquareFeet, &l.PropertyName,
		&l.AddressLine, &l.City, &l.Region, &l.PostalCode, &l.Country)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Search returns published listings matching f, newest first.
func (s *Store) Search(ctx context.Context, q database.Querier, f SearchFilter) ([]PublicListing, error) {
	rows, err := q.Query(ctx,
		`SELECT `+publicColumns+publicFrom+`
		 WHERE l.status = 'published'
		   AND ($1 = '' OR lower(p.city) = lower($1))
		   AND ($2::bigint = 0 OR l.rent_cents <= $2::bigint)
		   AND u.bedrooms >= $3
		 ORDER BY l.published_at DESC, l.id
		 LIMIT $4 OFFSET $5`,
		f.City, f.MaxRent, f.MinBedrooms, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("searching listings: %w", err)
	}
	defer rows.Close()

	var listings []PublicListing
	for rows.Next() {
		l, err := scanPublic(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, s.attachPhotos(ctx, q, len(listings), func(i int) (string, *[]Photo) {
		return listings[i].ID, &listings[i].Photos
	})
}

// GetPublished returns one published listing.
func (s *Store) GetPublished(ctx context.Context, q database.Querier, id string) (*PublicListing, error) {
	l, err := scanPublic(q.QueryRow(ctx,
		`SELECT `+publicColumns+publicFrom+` WHERE l.id = $1 AND l.status = 'published'`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("getting listing: %w", err)
	}
	if l.Photos, err = s.ListPhotos(ctx, q, id); err != nil {
		return nil, err
	}
	return l, nil
}
