package property_test

import (
	"strings"
	"testing"

	"github.com/ireside/ireside/internal/property"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestPropertyInput_Validate(t *testing.T) {
	in := property.PropertyInput{Name: strPtr("  Maple Court "), City: strPtr(" Portland ")}
	require.NoError(t, in.Validate(true))
	assert.Equal(t, "Maple Court", *in.Name)
	assert.Equal(t, "Portland", *in.City)

	assert.ErrorIs(t, (&property.PropertyInput{City: strPtr("x")}).Validate(true), property.ErrInvalidProperty)
	assert.NoError(t, (&property.PropertyInput{City: strPtr("x")}).Validate(false))
	assert.ErrorIs(t, (&property.PropertyInput{Name: strPtr("  ")}).Validate(false), property.ErrInvalidProperty)
	assert.ErrorIs(t, (&property.PropertyInput{Name: strPtr("a"), PostalCode: strPtr(strings.Repeat("9", 33))}).Validate(true),
		property.ErrInvalidProperty)
}

func TestUnitInput_Validate(t *testing.T) {
	intPtr := func(n int) *int { return &n }
	floatPtr := func(f float64) *float64 { return &f }
	int64Ptr := func(n int64) *int64 { return &n }

	ok := property.UnitInput{Label: strPtr(" 2B "), Bedrooms: intPtr(2), Bathrooms: floatPtr(1.5), RentCents: int64Ptr(180000)}
	require.NoError(t, ok.Validate(true))
	assert.Equal(t, "2B", *ok.Label)

	tests := []struct {
		name     string
		in       property.UnitInput
		creating bool
	}{
		{"missing label", property.UnitInput{}, true},
		{"blank label", property.UnitInput{Label: strPtr(" ")}, false},
		{"negative bedrooms", property.UnitInput{Bedrooms: intPtr(-1)}, false},
		{"quarter bathroom", property.UnitInput{Bathrooms: floatPtr(1.25)}, false},
		{"negative rent", property.UnitInput{RentCents: int64Ptr(-5)}, false},
		{"unknown status", property.UnitInput{Status: strPtr("demolished")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.in.Validate(tt.creating), property.ErrInvalidUnit)
		})
	}
}
