package property

import (
	"context"
	"errors"
	"fmt"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles property and unit database operations. Every method scopes
// by landlord in addition to row-level security.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const propertyColumns = `p.id, p.landlord_id, p.name, p.address_line, p.city, p.region, p.postal_code, p.country,
	p.description, (SELECT count(*) FROM units u WHERE u.property_id = p.id), p.created_at, p.updated_at`

func scanProperty(row pgx.Row) (*Property, error) {
	var p Property
	err := row.Scan(&p.ID, &p.LandlordID, &p.Name, &p.AddressLine, &p.City, &p.Region, &p.PostalCode,
		&p.Country, &p.Description, &p.UnitCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const unitColumns = `id, property_id, landlord_id, label, bedrooms, bathrooms, square_feet, rent_cents, status, created_at, updated_at`

func scanUnit(row pgx.Row) (*Unit, error) {
	var u Unit
	err := row.Scan(&u.ID, &u.PropertyID, &u.LandlordID, &u.Label, &u.Bedrooms, &u.Bathrooms,
		&u.SquareFeet, &u.RentCents, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateProperty inserts a property owned by landlordID.
func (s *Store) CreateProperty(ctx context.Context, q database.Querier, landlordID string, in PropertyInput) (*Property, error) {
	var id string
	err := q.QueryRow(ctx,
		`INSERT INTO properties (landlord_id, name, address_line, city, region, postal_code, country, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		landlordID, deref(in.Name), deref(in.AddressLine), deref(in.City), deref(in.Region),
		deref(in.PostalCode), deref(in.Country), deref(in.Description),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting property: %w", err)
	}
	return s.GetProperty(ctx, q, landlordID, id)
}

// GetProperty returns a property owned by landlordID.
func (s *Store) GetProperty(ctx context.Context, q database.Querier, landlordID, id string) (*Property, error) {
	p, err := scanProperty(q.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM properties p WHERE p.id = $1 AND p.landlord_id = $2`,
		id, landlordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("getting property: %w", err)
	}
	return p, nil
}

// ListProperties returns landlordID's properties by name.
func (s *Store) ListProperties(ctx context.Context, q database.Querier, landlordID string) ([]Property, error) {
	rows, err := q.Query(ctx,
		`SELECT `+propertyColumns+` FROM properties p WHERE p.landlord_id = $1 ORDER BY p.name, p.id`,
		landlordID)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	defer rows.Close()

	var properties []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		properties = append(properties, *p)
	}
	return properties, rows.Err()
}

// UpdateProperty applies the non-nil fields of in.
func (s *Store) UpdateProperty(ctx context.Context, q database.Querier, landlordID, id string, in PropertyInput) (*Property, error) {
	tag, err := q.Exec(ctx,
		`UPDATE properties SET
			name = COALESCE($3, name),
			address_line = COALESCE($4, address_line),
			city = COALESCE($5, city),
			region = COALESCE($6, region),
			postal_code = COALESCE($7, postal_code),
			country = COALESCE($8, country),
			description = COALESCE($9, description),
			updated_at = now()
		 WHERE id = $1 AND landlord_id = $2`,
		id, landlordID, in.Name, in.AddressLine, in.City, in.Region, in.PostalCode, in.Country, in.Description)
	if err != nil {
		return nil, fmt.Errorf("updating property: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrPropertyNotFound
	}
	return s.GetProperty(ctx, q, landlordID, id)
}

// DeleteProperty removes a property and its units. It refuses while any unit
// has an active lease, and while past leases still reference it.
func (s *Store) DeleteProperty(ctx context.Context, q database.Querier, landlordID, id string) error {
	var exists, active bool
	err := q.QueryRow(ctx,
		`SELECT
			EXISTS (SELECT 1 FROM properties WHERE id = $1 AND landlord_id = $2),
			EXISTS (SELECT 1 FROM leases WHERE property_id = $1 AND status = 'active')`,
		id, landlordID,
	).Scan(&exists, &active)
	if err != nil {
		return fmt.Errorf("checking property leases: %w", err)
	}
	if !exists {
		return ErrPropertyNotFound
	}
	if active {
		return ErrActiveLease
	}

	if _, err := q.Exec(ctx, `DELETE FROM properties WHERE id = $1 AND landlord_id = $2`, id, landlordID); err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrLeaseHistory
		}
		return fmt.Errorf("deleting property: %w", err)
	}
	return nil
}

// CreateUnit adds a unit to one of landlordID's properties.
func (s *Store) CreateUnit(ctx context.Context, q database.Querier, landlordID, propertyID string, in UnitInput) (*Unit, error) {
	status := UnitVacant
	if in.Status != nil {
		status = *in.Status
	}
	u, err := scanUnit(q.QueryRow(ctx,
		`INSERT INTO units (property_id, landlord_id, label, bedrooms, bathrooms, square_feet, rent_cents, status)
		 SELECT p.id, p.landlord_id, $3::text, COALESCE($4::integer, 0), COALESCE($5::numeric, 1),
		        COALESCE($6::integer, 0), COALESCE($7::bigint, 0), $8::text
		 FROM properties p WHERE p.id = $1 AND p.landlord_id = $2
		 RETURNING `+unitColumns,
		propertyID, landlordID, deref(in.Label), in.Bedrooms, in.Bathrooms, in.SquareFeet, in.RentCents, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPropertyNotFound
		}
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateUnit
		}
		return nil, fmt.Errorf("inserting unit: %w", err)
	}
	return u, nil
}

// ListUnits returns the units of a property owned by landlordID.
func (s *Store) ListUnits(ctx context.Context, q database.Querier, landlordID, propertyID string) ([]Unit, error) {
	if _, err := s.GetProperty(ctx, q, landlordID, propertyID); err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+unitColumns+` FROM units WHERE property_id = $1 AND landlord_id = $2 ORDER BY label, id`,
		propertyID, landlordID)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// GetUnit returns a unit owned by landlordID.
func (s *Store) GetUnit(ctx context.Context, q database.Querier, landlordID, id string) (*Unit, error) {
	u, err := scanUnit(q.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM units WHERE id = $1 AND landlord_id = $2`, id, landlordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	return u, nil
}

// UpdateUnit applies the non-nil fields of in. A unit under an active lease
// stays occupied.
func (s *Store) UpdateUnit(ctx context.Context, q database.Querier, landlordID, id string, in UnitInput) (*Unit, error) {
	if in.Status != nil && *in.Status != UnitOccupied {
		active, err := s.hasActiveLease(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, ErrActiveLease
		}
	}

	u, err := scanUnit(q.QueryRow(ctx,
		`UPDATE units SET
			label = COALESCE($3, label),
			bedrooms = COALESCE($4, bedrooms),
			bathrooms = COALESCE($5, bathrooms),
			square_feet = COALESCE($6, square_feet),
			rent_cents = COALESCE($7, rent_cents),
			status = COALESCE($8, status),
			updated_at = now()
		 WHERE id = $1 AND landlord_id = $2
		 RETURNING `+unitColumns,
		id, landlordID, in.Label, in.Bedrooms, in.Bathrooms, in.SquareFeet, in.RentCents, in.Status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateUnit
		}
		return nil, fmt.Errorf("updating unit: %w", err)
	}
	return u, nil
}

// DeleteUnit removes a unit that has no lease history.
func (s *Store) DeleteUnit(ctx context.Context, q database.Querier, landlordID, id string) error {
	active, err := s.hasActiveLease(ctx, q, id)
	if err != nil {
		return err
	}
	if active {
		return ErrActiveLease
	}

	tag, err := q.Exec(ctx, `DELETE FROM units WHERE id = $1 AND landlord_id = $2`, id, landlordID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrLeaseHistory
		}
		return fmt.Errorf("deleting unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

// SetUnitStatus sets a unit's status without a landlord predicate. Callers
// run it as the lease's landlord or as the system session.
func (s *Store) SetUnitStatus(ctx context.Context, q database.Querier, unitID, status string) error {
	if !ValidUnitStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidUnit, status)
	}
	tag, err := q.Exec(ctx,
		`UPDATE units SET status = $2, updated_at = now() WHERE id = $1`, unitID, status)
	if err != nil {
		return fmt.Errorf("setting unit status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

// ListTenants returns the tenants with an active lease in a property owned
// by landlordID.
func (s *Store) ListTenants(ctx context.Context, q database.Querier, landlordID, propertyID string) ([]Tenant, error) {
	if _, err := s.GetProperty(ctx, q, landlordID, propertyID); err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx,
		`SELECT l.tenant_id, p.full_name, u.email, p.phone, l.id, l.unit_id, un.label, l.start_date, l.end_date
		 FROM leases l
		 JOIN profiles p ON p.id = l.tenant_id
		 JOIN users u ON u.id = l.tenant_id
		 JOIN units un ON un.id = l.unit_id
		 WHERE l.property_id = $1 AND l.landlord_id = $2 AND l.status = 'active'
		 ORDER BY un.label, p.full_name`,
		propertyID, landlordID)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.TenantID, &t.FullName, &t.Email, &t.Phone, &t.LeaseID, &t.UnitID,
			&t.UnitLabel, &t.StartDate, &t.EndDate); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *Store) hasActiveLease(ctx context.Context, q database.Querier, unitID string) (bool, error) {
	var active bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM leases WHERE unit_id = $1 AND status = 'active')`, unitID,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("checking unit leases: %w", err)
	}
	return active, nil
}
