// Package property manages a landlord's properties and the units inside them.
package property

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrPropertyNotFound = errors.New("property not found")
	ErrUnitNotFound     = errors.New("unit not found")
	ErrInvalidProperty  = errors.New("invalid property")
	ErrInvalidUnit      = errors.New("invalid unit")
	ErrDuplicateUnit    = errors.New("unit label already exists in this property")
	ErrActiveLease      = errors.New("an active lease exists")
	ErrLeaseHistory     = errors.New("leases reference this record")
)

// Unit statuses.
const (
	UnitVacant      = "vacant"
	UnitOccupied    = "occupied"
	UnitMaintenance = "maintenance"
)

// Property is a building or lot owned by a landlord.
type Property struct {
	ID          string    `json:"id"`
	LandlordID  string    `json:"landlord_id"`
	Name        string    `json:"name"`
	AddressLine string    `json:"address_line"`
	City        string    `json:"city"`
	Region      string    `json:"region"`
	PostalCode  string    `json:"postal_code"`
	Country     string    `json:"country"`
	Description string    `json:"description"`
	UnitCount   int       `json:"unit_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Unit is a rentable space within a property.
type Unit struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	LandlordID string    `json:"landlord_id"`
	Label      string    `json:"label"`
	Bedrooms   int       `json:"bedrooms"`
	Bathrooms  float64   `json:"bathrooms"`
	SquareFeet int       `json:"square_feet"`
	RentCents  int64     `json:"rent_cents"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tenant is a tenant holding an active lease in a property.
type Tenant struct {
	TenantID  string    `json:"tenant_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	LeaseID   string    `json:"lease_id"`
	UnitID    string    `json:"unit_id"`
	UnitLabel string    `json:"unit_label"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// PropertyInput carries the writable property fields. On update, nil
// fields are left unchanged.
type PropertyInput struct {
	Name        *string `json:"name"`
	AddressLine *string `json:"address_line"`
	City        *string `json:"city"`
	Region      *string `json:"region"`
	PostalCode  *string `json:"postal_code"`
	Country     *string `json:"country"`
	Description *string `json:"description"`
}

// Validate trims string fields and checks lengths. creating requires a name.
func (in *PropertyInput) Validate(creating bool) error {
	fields := []struct {
		name string
		v    **string
		max  int
	}{
		{"name", &in.Name, 200},
		{"address_line", &in.AddressLine, 300},
		{"city", &in.City, 120},
		{"region", &in.Region, 120},
		{"postal_code", &in.PostalCode, 32},
		{"country", &in.Country, 120},
		{"description", &in.Description, 5000},
	}
	for _, f := range fields {
		if *f.v == nil {
			continue
		}
		s := strings.TrimSpace(**f.v)
		if utf8.RuneCountInString(s) > f.max {
			return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidProperty, f.name, f.max)
		}
		*f.v = &s
	}
	if in.Name != nil && *in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProperty)
	}
	if creating && in.Name == nil {
		return fmt.Errorf("%w: name is required", ErrInvalidProperty)
	}
	return nil
}

// UnitInput carries the writable unit fields. On update, nil fields are
// left unchanged.
type UnitInput struct {
	Label      *string  `json:"label"`
	Bedrooms   *int     `json:"bedrooms"`
	Bathrooms  *float64 `json:"bathrooms"`
	SquareFeet *int     `json:"square_feet"`
	RentCents  *int64   `json:"rent_cents"`
	Status     *string  `json:"status"`
}

// Validate checks ranges and the status value. creating requires a label.
func (in *UnitInput) Validate(creating bool) error {
	if in.Label != nil {
		s := strings.TrimSpace(*in.Label)
		if s == "" || utf8.RuneCountInString(s) > 60 {
			return fmt.Errorf("%w: label must be 1-60 characters", ErrInvalidUnit)
		}
		in.Label = &s
	} else if creating {
		return fmt.Errorf("%w: label is required", ErrInvalidUnit)
	}
	if in.Bedrooms != nil && (*in.Bedrooms < 0 || *in.Bedrooms > 50) {
		return fmt.Errorf("%w: bedrooms must be between 0 and 50", ErrInvalidUnit)
	}
	if in.Bathrooms != nil {
		b := *in.Bathrooms
		if b < 0 || b > 50 || b*2 != float64(int(b*2)) {
			return fmt.Errorf("%w: bathrooms must be a multiple of 0.5 between 0 and 50", ErrInvalidUnit)
		}
	}
	if in.SquareFeet != nil && *in.SquareFeet < 0 {
		return fmt.Errorf("%w: square_feet must not be negative", ErrInvalidUnit)
	}
	if in.RentCents != nil && *in.RentCents < 0 {
		return fmt.Errorf("%w: rent_cents must not be negative", ErrInvalidUnit)
	}
	if in.Status != nil && !ValidUnitStatus(*in.Status) {
		return fmt.Errorf("%w: status must be vacant, occupied or maintenance", ErrInvalidUnit)
	}
	return nil
}

// ValidUnitStatus reports whether s is a unit status.
func ValidUnitStatus(s string) bool {
	switch s {
	case UnitVacant, UnitOccupied, UnitMaintenance:
		return true
	}
	return false
}
