package database_test

import (
	"context"
	"testing"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr := dbtest.Postgres(t)
	err := database.RunMigrations(connStr, dbtest.MigrationsURL())
	require.NoError(t, err)

	// Second run is a no-op
	require.NoError(t, database.RunMigrations(connStr, dbtest.MigrationsURL()))

	pool, err := database.Connect(context.Background(), connStr, 5)
	require.NoError(t, err)
	defer pool.Close()

	for _, table := range []string{"users", "profiles", "properties", "units", "listings", "listing_photos",
		"inquiries", "leases", "maintenance_tickets", "conversations", "messages", "notifications",
		"knowledge_base_entries", "concierge_messages", "audit_events"} {
		var tableName string
		err = pool.QueryRow(context.Background(),
			"SELECT table_name FROM information_schema.tables WHERE table_name = $1", table).
			Scan(&tableName)
		require.NoError(t, err, table)
		assert.Equal(t, table, tableName)
	}

	// RLS is on for tenant data, off for credentials
	for table, want := range map[string]bool{"properties": true, "leases": true, "messages": true, "users": false} {
		var rlsEnabled bool
		err = pool.QueryRow(context.Background(),
			"SELECT relrowsecurity FROM pg_class WHERE relname = $1", table).
			Scan(&rlsEnabled)
		require.NoError(t, err)
		assert.Equal(t, want, rlsEnabled, table)
	}

	version, dirty, err := database.MigrationVersion(connStr, dbtest.MigrationsURL())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestRollbackMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr := dbtest.Postgres(t)
	require.NoError(t, database.RunMigrations(connStr, dbtest.MigrationsURL()))
	require.NoError(t, database.RollbackMigrations(connStr, dbtest.MigrationsURL(), 0))

	pool, err := database.Connect(context.Background(), connStr, 2)
	require.NoError(t, err)
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(context.Background(),
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'leases')").Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists)

	version, _, err := database.MigrationVersion(connStr, dbtest.MigrationsURL())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}
