package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBatchInsert(t *testing.T) {
	userID := uuid.New()
	leaseID := uuid.New()

	events := []Event{
		{
			UserID:       &userID,
			Action:       ActionLeaseSigned,
			ResourceType: "lease",
			ResourceID:   &leaseID,
			Metadata:     map[string]any{"party": "tenant"},
			Source:       SourceAPI,
		},
		{
			Action:       ActionLeaseExpired,
			ResourceType: "lease",
		},
	}

	sql, args, err := buildBatchInsert(events)
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO audit_events")
	assert.Contains(t, sql, "($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)")
	// 6 params per event x 2 events = 12 args
	assert.Len(t, args, 12)
	assert.Equal(t, &userID, args[0])
	assert.Equal(t, []byte("{}"), args[10])
	assert.Equal(t, SourceAPI, args[11])
}

func TestBuildBatchInsert_Empty(t *testing.T) {
	store := NewStore()
	err := store.InsertBatch(context.Background(), nil, nil)
	require.NoError(t, err)
}

func TestBuildListQuery_NoFilters(t *testing.T) {
	sql, args := buildListQuery(ListEventsParams{})
	assert.Contains(t, sql, "WHERE TRUE")
	assert.Contains(t, sql, "LIMIT $1")
	assert.Equal(t, []any{50}, args)
}

func TestBuildListQuery_AllFilters(t *testing.T) {
	userID := uuid.New()
	resourceID := uuid.New()
	action := "lease.signed"
	resType := "lease"
	source := "api"
	after := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	params := ListEventsParams{
		Action:       &action,
		ResourceType: &resType,
		ResourceID:   &resourceID,
		UserID:       &userID,
		Source:       &source,
		After:        &after,
		Before:       &before,
		Limit:        100,
	}
	sql, args := buildListQuery(params)
	assert.Contains(t, sql, "action = $1")
	assert.Contains(t, sql, "resource_type = $2")
	assert.Contains(t, sql, "resource_id = $3")
	assert.Contains(t, sql, "user_id = $4")
	assert.Contains(t, sql, "source = $5")
	assert.Contains(t, sql, "created_at > $6")
	assert.Contains(t, sql, "created_at < $7")
	assert.Contains(t, sql, "LIMIT $8")
	assert.Len(t, args, 8)
}

func TestBuildListQuery_PartialFilters(t *testing.T) {
	action := "access.denied"
	sql, args := buildListQuery(ListEventsParams{Action: &action, Limit: 20})
	assert.Contains(t, sql, "action = $1")
	assert.Contains(t, sql, "LIMIT $2")
	assert.Equal(t, []any{"access.denied", 20}, args)
}

func TestStore_InsertAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, connStr := dbtest.Migrated(t)
	ctx := context.Background()
	store := NewStore()

	userID := uuid.MustParse(dbtest.CreateUser(t, pool, "owner@example.com", "landlord", "Owner"))
	propertyID := uuid.New()
	require.NoError(t, store.InsertBatch(ctx, pool, []Event{
		{UserID: &userID, Action: ActionPropertyCreated, ResourceType: "property", ResourceID: &propertyID},
		{UserID: &userID, Action: ActionAccessDenied, Metadata: map[string]any{"permission": "leases:sign"}},
		{Action: ActionLeaseExpired, ResourceType: "lease", Source: SourceWorker},
	}))

	all, err := store.ListEvents(ctx, pool, ListEventsParams{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	action := ActionAccessDenied
	denied, err := store.ListEvents(ctx, pool, ListEventsParams{Action: &action})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.JSONEq(t, `{"permission":"leases:sign"}`, string(denied[0].Metadata))
	assert.Equal(t, SourceAPI, denied[0].Source)

	// Non-privileged sessions cannot read the log.
	rls := dbtest.RLSPool(t, connStr)
	err = database.WithSession(ctx, rls, database.Session{UserID: userID.String(), Role: "landlord"}, func(ctx context.Context, q database.Querier) error {
		got, err := store.ListEvents(ctx, q, ListEventsParams{})
		assert.Empty(t, got)
		return err
	})
	require.NoError(t, err)

	err = database.WithSession(ctx, rls, database.Session{UserID: userID.String(), Role: "admin"}, func(ctx context.Context, q database.Querier) error {
		got, err := store.ListEvents(ctx, q, ListEventsParams{})
		assert.Len(t, got, 3)
		return err
	})
	require.NoError(t, err)
}
