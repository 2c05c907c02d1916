package database_test

import (
	"context"
	"testing"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rlsFixture struct {
	a, b      dbtest.Portfolio
	tenantID  string
	otherID   string
	listingID string
}

// seedRLS creates two landlords, a tenant with an active lease on landlord A's
// unit, and a published listing for landlord B. Uses the superuser pool.
func seedRLS(t *testing.T, super database.Querier) rlsFixture {
	t.Helper()
	ctx := context.Background()

	f := rlsFixture{
		a: dbtest.CreatePortfolio(t, super, "a@example.com", "Lagos", 2, 150000),
		b: dbtest.CreatePortfolio(t, super, "b@example.com", "Accra", 3, 200000),
	}
	f.tenantID = dbtest.CreateUser(t, super, "tenant@example.com", "tenant", "Tenant")
	f.otherID = dbtest.CreateUser(t, super, "other@example.com", "tenant", "Other Tenant")
	dbtest.CreateActiveLease(t, super, f.a, f.tenantID)

	err := super.QueryRow(ctx,
		`INSERT INTO listings (unit_id, property_id, landlord_id, title, rent_cents, status, published_at)
		 VALUES ($1, $2, $3, 'Sunny 3 bed', 200000, 'published', now()) RETURNING id`,
		f.b.UnitID, f.b.PropertyID, f.b.LandlordID,
	).Scan(&f.listingID)
	require.NoError(t, err)

	_, err = super.Exec(ctx,
		`INSERT INTO listings (unit_id, property_id, landlord_id, title, rent_cents)
		 VALUES ($1, $2, $3, 'Draft listing', 150000)`,
		f.a.UnitID, f.a.PropertyID, f.a.LandlordID)
	require.NoError(t, err)

	_, err = super.Exec(ctx,
		`INSERT INTO knowledge_base_entries (property_id, landlord_id, title, content) VALUES ($1, $2, 'Wifi', 'Password is hunter2')`,
		f.a.PropertyID, f.a.LandlordID)
	require.NoError(t, err)
	return f
}

func countRows(t *testing.T, ctx context.Context, q database.Querier, table string) int {
	t.Helper()
	var count int
	// Safe: table names are hardcoded constants in test code, not user input.
	err := q.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	require.NoError(t, err)
	return count
}

func asUser(t *testing.T, pool *database.Pool, s database.Session, fn func(ctx context.Context, q database.Querier)) {
	t.Helper()
	err := database.WithSession(context.Background(), pool, s, func(ctx context.Context, q database.Querier) error {
		fn(ctx, q)
		return nil
	})
	require.NoError(t, err)
}

func TestRLS_LandlordIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	super, connStr := dbtest.Migrated(t)
	f := seedRLS(t, super)
	rls := dbtest.RLSPool(t, connStr)

	asUser(t, rls, database.Session{UserID: f.a.LandlordID, Role: "landlord"}, func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 1, countRows(t, ctx, q, "properties"), "landlord A sees only own property")
		assert.Equal(t, 1, countRows(t, ctx, q, "units"))
		assert.Equal(t, 1, countRows(t, ctx, q, "leases"))
		// own draft plus B's published listing
		assert.Equal(t, 2, countRows(t, ctx, q, "listings"))
	})

	asUser(t, rls, database.Session{UserID: f.b.LandlordID, Role: "landlord"}, func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 0, countRows(t, ctx, q, "leases"), "landlord B cannot see A's lease")
		assert.Equal(t, 0, countRows(t, ctx, q, "knowledge_base_entries"))

		tag, err := q.Exec(ctx, "UPDATE properties SET name = 'hijacked' WHERE id = $1", f.a.PropertyID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), tag.RowsAffected())
	})
}

func TestRLS_CrossLandlordInsertRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	super, connStr := dbtest.Migrated(t)
	f := seedRLS(t, super)
	rls := dbtest.RLSPool(t, connStr)

	err := database.WithSession(context.Background(), rls, database.Session{UserID: f.b.LandlordID, Role: "landlord"}, func(ctx context.Context, q database.Querier) error {
		_, err := q.Exec(ctx, "INSERT INTO properties (landlord_id, name) VALUES ($1, 'sneaky')", f.a.LandlordID)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row-level security")
}

func TestRLS_TenantVisibility(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	super, connStr := dbtest.Migrated(t)
	f := seedRLS(t, super)
	rls := dbtest.RLSPool(t, connStr)

	asUser(t, rls, database.Session{UserID: f.tenantID, Role: "tenant"}, func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 1, countRows(t, ctx, q, "leases"))
		assert.Equal(t, 1, countRows(t, ctx, q, "knowledge_base_entries"), "tenant reads KB of leased property")
		// leased property A and listed property B
		assert.Equal(t, 2, countRows(t, ctx, q, "properties"))
	})

	asUser(t, rls, database.Session{UserID: f.otherID, Role: "tenant"}, func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 0, countRows(t, ctx, q, "leases"))
		assert.Equal(t, 0, countRows(t, ctx, q, "knowledge_base_entries"))
	})
}

func TestRLS_Anonymous(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	super, connStr := dbtest.Migrated(t)
	f := seedRLS(t, super)
	rls := dbtest.RLSPool(t, connStr)

	asUser(t, rls, database.Anonymous(), func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 1, countRows(t, ctx, q, "listings"), "anon sees published listings only")
		assert.Equal(t, 0, countRows(t, ctx, q, "profiles"))
		assert.Equal(t, 0, countRows(t, ctx, q, "leases"))

		_, err := q.Exec(ctx,
			`INSERT INTO inquiries (listing_id, landlord_id, name, email) VALUES ($1, $2, 'Ada', 'ada@example.com')`,
			f.listingID, f.b.LandlordID)
		assert.NoError(t, err, "anon can submit an inquiry on a published listing")
	})

	asUser(t, rls, database.Session{UserID: f.b.LandlordID, Role: "landlord"}, func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 1, countRows(t, ctx, q, "inquiries"))
	})
}

func TestRLS_AuditReadRequiresPrivilege(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	super, connStr := dbtest.Migrated(t)
	f := seedRLS(t, super)
	rls := dbtest.RLSPool(t, connStr)

	asUser(t, rls, database.Session{UserID: f.a.LandlordID, Role: "landlord"}, func(ctx context.Context, q database.Querier) {
		_, err := q.Exec(ctx, "INSERT INTO audit_events (user_id, action) VALUES ($1, 'property.updated')", f.a.LandlordID)
		require.NoError(t, err)
		assert.Equal(t, 0, countRows(t, ctx, q, "audit_events"))
	})

	asUser(t, rls, database.Session{UserID: "00000000-0000-0000-0000-000000000001", Role: "admin"}, func(ctx context.Context, q database.Querier) {
		assert.Equal(t, 1, countRows(t, ctx, q, "audit_events"))
	})
}
