// Package listing publishes units for rent and collects inquiries about them.
package listing

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrListingNotFound   = errors.New("listing not found")
	ErrUnitNotFound      = errors.New("unit not found")
	ErrPhotoNotFound     = errors.New("photo not found")
	ErrInquiryNotFound   = errors.New("inquiry not found")
	ErrInvalidListing    = errors.New("invalid listing")
	ErrInvalidInquiry    = errors.New("invalid inquiry")
	ErrInvalidPhotoOrder = errors.New("photo ids must match the listing's photos exactly")
	ErrTooManyPhotos     = errors.New("listing photo limit reached")
	ErrListingArchived   = errors.New("archived listings cannot be edited")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyConverted  = errors.New("inquiry already converted to a lease")
	ErrNoApplicant       = errors.New("inquiry has no registered applicant")
)

// Listing statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Inquiry statuses.
const (
	InquiryNew      = "new"
	InquiryRead     = "read"
	InquiryReplied  = "replied"
	InquiryArchived = "archived"
)

// MaxPhotos bounds the photos attached to one listing.
const MaxPhotos = 20

// Listing advertises one unit.
type Listing struct {
	ID            string     `json:"id"`
	UnitID        string     `json:"unit_id"`
	PropertyID    string     `json:"property_id"`
	LandlordID    string     `json:"landlord_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	RentCents     int64      `json:"rent_cents"`
	DepositCents  int64      `json:"deposit_cents"`
	AvailableFrom *string    `json:"available_from"`
	Status        string     `json:"status"`
	PublishedAt   *time.Time `json:"published_at"`
	Photos        []Photo    `json:"photos"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Photo is an image attached to a listing. Position orders photos from 0.
type Photo struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listing_id"`
	ObjectKey   string    `json:"-"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// PublicListing is a published listing with the unit and address details a
// prospective tenant sees.
type PublicListing struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	RentCents     int64      `json:"rent_cents"`
	DepositCents  int64      `json:"deposit_cents"`
	AvailableFrom *string    `json:"available_from"`
	PublishedAt   *time.Time `json:"published_at"`
	UnitLabel     string     `json:"unit_label"`
	Bedrooms      int        `json:"bedrooms"`
	Bathrooms     float64    `json:"bathrooms"`
	SquareFeet    int        `json:"square_feet"`
	PropertyName  string     `json:"property_name"`
	AddressLine   string     `json:"address_line"`
	City          string     `json:"city"`
	Region        string     `json:"region"`
	PostalCode    string     `json:"postal_code"`
	Country       string     `json:"country"`
	Photos        []Photo    `json:"photos"`
}

// SearchFilter narrows the public browse. Zero values do not filter.
type SearchFilter struct {
	City        string
	MaxRent     int64
	MinBedrooms int
	Limit       int
	Offset      int
}

// Inquiry is a prospective tenant's message about a listing.
type Inquiry struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listing_id"`
	ListingTitle string    `json:"listing_title,omitempty"`
	LandlordID   string    `json:"landlord_id"`
	ApplicantID  *string   `json:"applicant_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	LeaseID      *string   `json:"lease_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConversionSource is what a lease draft needs from a converted inquiry.
type ConversionSource struct {
	InquiryID     string
	ApplicantID   string
	UnitID        string
	PropertyID    string
	RentCents     int64
	DepositCents  int64
	AvailableFrom *string
}

// Input carries the writable listing fields. On update, nil fields are left
// unchanged. UnitID is only read on create.
type Input struct {
	UnitID        string  `json:"unit_id"`
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	RentCents     *int64  `json:"rent_cents"`
	DepositCents  *int64  `json:"deposit_cents"`
	AvailableFrom *string `json:"available_from"`
}

// Validate trims text and checks amounts and the date format.
func (in *Input) Validate(creating bool) error {
	if in.Title != nil {
		s := strings.TrimSpace(*in.Title)
		if s == "" || utf8.RuneCountInString(s) > 200 {
			return fmt.Errorf("%w: title must be 1-200 characters", ErrInvalidListing)
		}
		in.Title = &s
	} else if creating {
		return fmt.Errorf("%w: title is required", ErrInvalidListing)
	}
	if in.Description != nil {
		s := strings.TrimSpace(*in.Description)
		if utf8.RuneCountInString(s) > 10000 {
			return fmt.Errorf("%w: description must be at most 10000 characters", ErrInvalidListing)
		}
		in.Description = &s
	}
	if in.RentCents != nil && *in.RentCents <= 0 {
		return fmt.Errorf("%w: rent_cents must be positive", ErrInvalidListing)
	}
	if creating && in.RentCents == nil {
		return fmt.Errorf("%w: rent_cents is required", ErrInvalidListing)
	}
	if in.DepositCents != nil && *in.DepositCents < 0 {
		return fmt.Errorf("%w: deposit_cents must not be negative", ErrInvalidListing)
	}
	if in.AvailableFrom != nil {
		if _, err := time.Parse(time.DateOnly, *in.AvailableFrom); err != nil {
			return fmt.Errorf("%w: available_from must be YYYY-MM-DD", ErrInvalidListing)
		}
	}
	return nil
}

// InquiryInput is the body of a public inquiry.
type InquiryInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Validate trims the fields and checks the email address.
func (in *InquiryInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Message = strings.TrimSpace(in.Message)

	if in.Name == "" || utf8.RuneCountInString(in.Name) > 200 {
		return fmt.Errorf("%w: name must be 1-200 characters", ErrInvalidInquiry)
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: invalid email", ErrInvalidInquiry)
	}
	if utf8.RuneCountInString(in.Phone) > 32 {
		return fmt.Errorf("%w: phone must be at most 32 characters", ErrInvalidInquiry)
	}
	if utf8.RuneCountInString(in.Message) > 5000 {
		return fmt.Errorf("%w: message must be at most 5000 characters", ErrInvalidInquiry)
	}
	return nil
}

var inquiryTransitions = map[string][]string{
	InquiryNew:     {InquiryRead, InquiryReplied, InquiryArchived},
	InquiryRead:    {InquiryReplied, InquiryArchived},
	InquiryReplied: {InquiryArchived},
}

// CanTransitionInquiry reports whether an inquiry may move from one status
// to another.
func CanTransitionInquiry(from, to string) bool {
	for _, s := range inquiryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
