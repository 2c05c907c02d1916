package messaging_test

import (
	"strings"
	"testing"

	"github.com/ireside/ireside/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_Recipient(t *testing.T) {
	c := messaging.Conversation{LandlordID: "l", TenantID: "t"}
	assert.Equal(t, "t", c.Recipient("l"))
	assert.Equal(t, "l", c.Recipient("t"))
}

func TestNormalizeBody(t *testing.T) {
	body, err := messaging.NormalizeBody("  hello\n")
	require.NoError(t, err)
	assert.Equal(t, "hello", body)

	_, err = messaging.NormalizeBody(" \t ")
	assert.ErrorIs(t, err, messaging.ErrInvalidMessage)
	_, err = messaging.NormalizeBody(strings.Repeat("é", 10001))
	assert.ErrorIs(t, err, messaging.ErrInvalidMessage)
}

func TestStartInput_Validate(t *testing.T) {
	empty := ""
	in := messaging.StartInput{Subject: "  Rent question ", PropertyID: &empty}
	require.NoError(t, in.Validate())
	assert.Equal(t, "Rent question", in.Subject)
	assert.Nil(t, in.PropertyID)

	in = messaging.StartInput{Subject: strings.Repeat("s", 201)}
	assert.ErrorIs(t, in.Validate(), messaging.ErrInvalidConversation)
}
