// Package lease drafts, signs and ends leases between a landlord and a tenant.
package lease

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrLeaseNotFound     = errors.New("lease not found")
	ErrUnitNotFound      = errors.New("unit not found")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrInvalidLease      = errors.New("invalid lease")
	ErrInvalidTransition = errors.New("invalid lease transition")
	ErrUnitLeased        = errors.New("unit already has an active lease")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrSignatureNotFound = errors.New("signature not found")
	ErrNotDraft          = errors.New("only draft leases can be edited")
)

// Lease statuses.
const (
	StatusDraft            = "draft"
	StatusPendingSignature = "pending_signature"
	StatusTenantSigned     = "tenant_signed"
	StatusActive           = "active"
	StatusTerminated       = "terminated"
	StatusExpired          = "expired"
	StatusCancelled        = "cancelled"
)

// Signing parties.
const (
	PartyTenant   = "tenant"
	PartyLandlord = "landlord"
)

// Signature image limits.
const (
	MaxSignatureBytes     = 512 << 10
	MinSignatureWidth     = 50
	MinSignatureHeight    = 20
	signatureDataURLStart = "data:image/png;base64,"
)

// Lease is an agreement for one unit between a landlord and a tenant.
// Dates are calendar days formatted YYYY-MM-DD.
type Lease struct {
	ID                   string     `json:"id"`
	UnitID               string     `json:"unit_id"`
	PropertyID           string     `json:"property_id"`
	LandlordID           string     `json:"landlord_id"`
	TenantID             string     `json:"tenant_id"`
	InquiryID            *string    `json:"inquiry_id"`
	Status               string     `json:"status"`
	StartDate            string     `json:"start_date"`
	EndDate              string     `json:"end_date"`
	RentCents            int64      `json:"rent_cents"`
	DepositCents         int64      `json:"deposit_cents"`
	Terms                string     `json:"terms"`
	TenantSignatureKey   string     `json:"-"`
	LandlordSignatureKey string     `json:"-"`
	SentAt               *time.Time `json:"sent_at"`
	TenantSignedAt       *time.Time `json:"tenant_signed_at"`
	LandlordSignedAt     *time.Time `json:"landlord_signed_at"`
	EndedAt              *time.Time `json:"ended_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SignatureKey returns the object key holding party's signature, or "".
func (l *Lease) SignatureKey(party string) string {
	switch party {
	case PartyTenant:
		return l.TenantSignatureKey
	case PartyLandlord:
		return l.LandlordSignatureKey
	}
	return ""
}

// SignatureObjectKey is where party's signature for leaseID is stored.
func SignatureObjectKey(leaseID, party string) string {
	return "leases/" + leaseID + "/" + party + "-signature.png"
}

// Expired is a lease moved to expired by the expiry sweep.
type Expired struct {
	ID         string
	UnitID     string
	LandlordID string
	TenantID   string
}

// Input carries the writable lease terms. On update, nil fields are left
// unchanged. UnitID and TenantID are only read on create.
type Input struct {
	UnitID       string  `json:"unit_id"`
	TenantID     string  `json:"tenant_id"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
	RentCents    *int64  `json:"rent_cents"`
	DepositCents *int64  `json:"deposit_cents"`
	Terms        *string `json:"terms"`
}

// Validate checks the provided fields. creating requires dates and rent.
// When both dates are present the end must be after the start.
func (in *Input) Validate(creating bool) error {
	if creating && (in.StartDate == nil || in.EndDate == nil || in.RentCents == nil) {
		return fmt.Errorf("%w: start_date, end_date and rent_cents are required", ErrInvalidLease)
	}
	var start, end time.Time
	if in.StartDate != nil {
		t, err := time.Parse(time.DateOnly, *in.StartDate)
		if err != nil {
			return fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidLease)
		}
		start = t
	}
	if in.EndDate != nil {
		t, err := time.Parse(time.DateOnly, *in.EndDate)
		if err != nil {
			return fmt.Errorf("%w: end_date must be YYYY-MM-DD", ErrInvalidLease)
		}
		end = t
	}
	if in.StartDate != nil && in.EndDate != nil && !end.After(start) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidLease)
	}
	if in.RentCents != nil && *in.RentCents <= 0 {
		return fmt.Errorf("%w: rent_cents must be positive", ErrInvalidLease)
	}
	if in.DepositCents != nil && *in.DepositCents < 0 {
		return fmt.Errorf("%w: deposit_cents must not be negative", ErrInvalidLease)
	}
	if in.Terms != nil {
		s := strings.TrimSpace(*in.Terms)
		if utf8.RuneCountInString(s) > 20000 {
			return fmt.Errorf("%w: terms must be at most 20000 characters", ErrInvalidLease)
		}
		in.Terms = &s
	}
	return nil
}

// DecodeSignature parses a PNG data URL and checks its size and dimensions.
func DecodeSignature(dataURL string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(dataURL, signatureDataURLStart)
	if !ok {
		return nil, fmt.Errorf("%w: expected a data:image/png;base64 URL", ErrInvalidSignature)
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxSignatureBytes+3 {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidSignature, MaxSignatureBytes)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrInvalidSignature)
	}
	if len(data) > MaxSignatureBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidSignature, MaxSignatureBytes)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: not a PNG image", ErrInvalidSignature)
	}
	b := img.Bounds()
	if b.Dx() < MinSignatureWidth || b.Dy() < MinSignatureHeight {
		return nil, fmt.Errorf("%w: image must be at least %dx%d", ErrInvalidSignature, MinSignatureWidth, MinSignatureHeight)
	}
	return data, nil
}
