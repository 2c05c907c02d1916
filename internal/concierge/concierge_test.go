package concierge

import (
	"strings"
	"testing"

	"github.com/ireside/ireside/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryInput_Validate(t *testing.T) {
	in := EntryInput{Category: "  Amenities ", Title: " Laundry ", Content: " Basement "}
	require.NoError(t, in.Validate())
	assert.Equal(t, EntryInput{Category: "amenities", Title: "Laundry", Content: "Basement"}, in)

	in = EntryInput{Title: "Gym", Content: "Floor 2"}
	require.NoError(t, in.Validate())
	assert.Equal(t, DefaultCategory, in.Category)

	for name, bad := range map[string]EntryInput{
		"no title":      {Content: "x"},
		"no content":    {Title: "x"},
		"long title":    {Title: strings.Repeat("t", MaxTitleLength+1), Content: "x"},
		"long content":  {Title: "x", Content: strings.Repeat("c", MaxContentLength+1)},
		"long category": {Title: "x", Content: "x", Category: strings.Repeat("c", MaxCategoryLength+1)},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, bad.Validate(), ErrInvalidEntry)
		})
	}
}

func TestChatInput_Validate(t *testing.T) {
	blank := "  "
	in := ChatInput{Message: "  Where is the gym? ", PropertyID: &blank}
	require.NoError(t, in.Validate())
	assert.Equal(t, "Where is the gym?", in.Message)
	assert.Nil(t, in.PropertyID)

	empty := ChatInput{Message: "   "}
	assert.ErrorIs(t, empty.Validate(), ErrInvalidMessage)

	long := ChatInput{Message: strings.Repeat("a", MaxMessageLength+1)}
	assert.ErrorIs(t, long.Validate(), ErrInvalidMessage)
}

func TestSelectEntries(t *testing.T) {
	entries := []Entry{
		{Title: "Parking", Category: "building", Content: "Garage spots are assigned by the office."},
		{Title: "Laundry room", Category: "amenities", Content: "Basement level, open 7am to 10pm."},
		{Title: "Trash", Category: "building", Content: "Bins go out Tuesday night. Laundry detergent boxes are recycling."},
		{Title: "Gym", Category: "amenities", Content: "Second floor."},
	}

	got := SelectEntries(entries, "When is the laundry open?", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Laundry room", got[0].Title)
	assert.Equal(t, "Trash", got[1].Title)

	got = SelectEntries(entries, "hello", 3)
	require.Len(t, got, 3)
	assert.Equal(t, "Parking", got[0].Title, "no matches keeps the input order")

	assert.Len(t, SelectEntries(entries, "gym", 10), 4)
	assert.Nil(t, SelectEntries(entries, "gym", 0))
	assert.Nil(t, SelectEntries(nil, "gym", 5))
}

func TestBuildRequest(t *testing.T) {
	req := BuildRequest(
		Property{ID: "p1", Name: "Maple Court"},
		[]Entry{{Title: "Gym", Category: "amenities", Content: "Second floor, 24/7."}},
		[]Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: "Hello! How can I help?"},
		},
		"Where is the gym?",
	)

	assert.Contains(t, req.System, "Maple Court")
	assert.Contains(t, req.System, "### Gym [amenities]\nSecond floor, 24/7.")
	assert.Equal(t, "Where is the gym?", req.Prompt)
	assert.False(t, req.JSON)
	assert.Equal(t, []ai.Turn{
		{Role: ai.RoleUser, Text: "Hi"},
		{Role: ai.RoleModel, Text: "Hello! How can I help?"},
	}, req.History)

	empty := BuildRequest(Property{}, nil, nil, "q")
	assert.Contains(t, empty.System, "this property")
	assert.Contains(t, empty.System, "(none provided)")
	assert.Empty(t, empty.History)
}

func TestParseKnowledgeBaseYAML(t *testing.T) {
	doc := `
entries:
  - category: Amenities
    title: Laundry room
    content: Basement level, open 7am to 10pm.
  - title: Quiet hours
    content: |
      10pm to 7am on weekdays.
      Midnight to 8am on weekends.
`
	entries, err := ParseKnowledgeBaseYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "amenities", entries[0].Category)
	assert.Equal(t, DefaultCategory, entries[1].Category)
	assert.Equal(t, "10pm to 7am on weekdays.\nMidnight to 8am on weekends.", entries[1].Content)
}

func TestParseKnowledgeBaseYAML_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty file", ""},
		{"no entries", "entries: []\n"},
		{"missing content", "entries:\n  - title: Gym\n"},
		{"duplicate title", "entries:\n  - title: Gym\n    content: a\n  - title: Gym\n    content: b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKnowledgeBaseYAML(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}

	_, err := ParseKnowledgeBaseYAML(strings.NewReader("entries:\n  - title: Gym\n    body: x\n"))
	require.Error(t, err, "unknown fields are rejected")

	_, err = ParseKnowledgeBaseYAML(strings.NewReader("entries: [unterminated\n"))
	require.Error(t, err)
}
