// Package profile manages the profile record attached to every user.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrInvalidRole     = errors.New("role must be landlord, tenant or admin")
	ErrOwnRole         = errors.New("users cannot change their own role")
)

// Profile is a user's public-facing record. Role gates what they may do.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	AvatarKey string    `json:"-"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateParams holds the fields a user may change on their own profile.
// Nil fields are left as they are.
type UpdateParams struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
}

// Validate trims and checks the provided fields.
func (p *UpdateParams) Validate() error {
	if p.FullName != nil {
		v := strings.TrimSpace(*p.FullName)
		if v == "" || utf8.RuneCountInString(v) > 200 {
			return fmt.Errorf("%w: full_name must be 1-200 characters", ErrInvalidProfile)
		}
		p.FullName = &v
	}
	if p.Phone != nil {
		v := strings.TrimSpace(*p.Phone)
		if len(v) > 32 {
			return fmt.Errorf("%w: phone must be at most 32 characters", ErrInvalidProfile)
		}
		for _, r := range v {
			if !strings.ContainsRune("0123456789+-() .", r) {
				return fmt.Errorf("%w: phone contains invalid characters", ErrInvalidProfile)
			}
		}
		p.Phone = &v
	}
	if p.FullName == nil && p.Phone == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidProfile)
	}
	return nil
}

// ValidRole reports whether role is a profile role.
func ValidRole(role string) bool {
	switch role {
	case "landlord", "tenant", "admin":
		return true
	}
	return false
}
