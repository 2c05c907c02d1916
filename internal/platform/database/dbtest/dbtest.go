// Package dbtest starts throwaway Postgres containers for integration tests.
package dbtest

import (
	"context"
	"net/url"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MigrationsURL returns the file:// source URL of the repository migrations.
func MigrationsURL() string {
	_, file, _, _ := runtime.Caller(0)
	return "file://" + filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
}

// Postgres starts an empty postgres:16-alpine container and returns its
// superuser connection string. The container is removed when t finishes.
func Postgres(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ireside_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// Migrated starts a container, applies migrations and returns a superuser
// pool (RLS bypassed) together with the connection string.
func Migrated(t testing.TB) (*database.Pool, string) {
	t.Helper()

	connStr := Postgres(t)
	require.NoError(t, database.RunMigrations(connStr, MigrationsURL()))

	pool, err := database.Connect(context.Background(), connStr, 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, connStr
}

// RLSPool creates a non-superuser login role and returns a pool connected as
// it, so row-level security policies are enforced.
func RLSPool(t testing.TB, superConnStr string) *database.Pool {
	t.Helper()
	ctx := context.Background()

	super, err := database.Connect(ctx, superConnStr, 2)
	require.NoError(t, err)
	_, err = super.Exec(ctx, `
		CREATE ROLE rls_user LOGIN PASSWORD 'rls_pass';
		GRANT USAGE ON SCHEMA public TO rls_user;
		GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO rls_user;
	`)
	super.Close()
	require.NoError(t, err)

	u, err := url.Parse(superConnStr)
	require.NoError(t, err)
	u.User = url.UserPassword("rls_user", "rls_pass")

	pool, err := database.Connect(ctx, u.String(), 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// CreateUser inserts a user and profile directly and returns the user id.
func CreateUser(t testing.TB, q database.Querier, email, role, fullName string) string {
	t.Helper()
	ctx := context.Background()

	var id string
	err := q.QueryRow(ctx,
		"INSERT INTO users (email, password_hash) VALUES ($1, 'x') RETURNING id", email,
	).Scan(&id)
	require.NoError(t, err)

	_, err = q.Exec(ctx,
		"INSERT INTO profiles (id, role, full_name) VALUES ($1, $2, $3)", id, role, fullName)
	require.NoError(t, err)
	return id
}

// Portfolio is a landlord with one property and one vacant unit.
type Portfolio struct {
	LandlordID string
	PropertyID string
	UnitID     string
}

// CreatePortfolio seeds a landlord, a property in city and a unit with the
// given bedrooms and rent.
func CreatePortfolio(t testing.TB, q database.Querier, email, city string, bedrooms int, rentCents int64) Portfolio {
	t.Helper()
	ctx := context.Background()

	p := Portfolio{LandlordID: CreateUser(t, q, email, "landlord", "Landlord "+email)}
	err := q.QueryRow(ctx,
		`INSERT INTO properties (landlord_id, name, address_line, city) VALUES ($1, $2, '1 Main St', $3) RETURNING id`,
		p.LandlordID, "Property of "+email, city,
	).Scan(&p.PropertyID)
	require.NoError(t, err)

	err = q.QueryRow(ctx,
		`INSERT INTO units (property_id, landlord_id, label, bedrooms, rent_cents) VALUES ($1, $2, '1A', $3, $4) RETURNING id`,
		p.PropertyID, p.LandlordID, bedrooms, rentCents,
	).Scan(&p.UnitID)
	require.NoError(t, err)
	return p
}

// CreateActiveLease inserts an active lease for tenantID on the portfolio unit.
func CreateActiveLease(t testing.TB, q database.Querier, p Portfolio, tenantID string) string {
	t.Helper()

	var id string
	err := q.QueryRow(context.Background(),
		`INSERT INTO leases (unit_id, property_id, landlord_id, tenant_id, status, start_date, end_date, rent_cents)
		 VALUES ($1, $2, $3, $4, 'active', current_date - 30, current_date + 335, 150000)
		 RETURNING id`,
		p.UnitID, p.PropertyID, p.LandlordID, tenantID,
	).Scan(&id)
	require.NoError(t, err)
	return id
}
