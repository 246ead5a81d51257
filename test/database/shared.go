// Package database holds integration tests that need a real PostgreSQL:
// the conversation store, the rule set store, and NOTIFY/LISTEN delivery.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/database"
	"github.com/switchboard-io/switchboard/test/util"
)

// SharedTestDB creates one schema shared by multiple replicas. Each replica
// gets its own connection pool pointing at the same schema, which is what
// cross-replica NOTIFY/LISTEN tests need.
type SharedTestDB struct {
	connStrWithSchema string
	baseConnStr       string
	schemaName        string
}

// NewSharedTestDB creates the schema, runs migrations once, and registers
// a cleanup that drops the schema after replica cleanups have run.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)

	admin, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	connStrWithSchema := util.AddSearchPathToConnString(baseConnStr, schemaName)
	migrator, err := database.Open(ctx, database.Config{URL: connStrWithSchema, Migrate: true})
	require.NoError(t, err)
	require.NoError(t, migrator.Close())

	t.Cleanup(func() {
		drop, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("SharedTestDB: could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = drop.Close() }()
		if _, err := drop.ExecContext(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName)); err != nil {
			t.Logf("SharedTestDB: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return &SharedTestDB{
		connStrWithSchema: connStrWithSchema,
		baseConnStr:       baseConnStr,
		schemaName:        schemaName,
	}
}

// NewClient opens an independent pool on the shared schema. Replicas can be
// shut down independently because nothing is shared below the schema.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()

	client, err := database.Open(context.Background(), database.Config{URL: s.connStrWithSchema})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// ListenerConnString returns the schema-scoped connection string for
// components that hold their own pgx connection, like the bus listener.
func (s *SharedTestDB) ListenerConnString() string {
	return s.connStrWithSchema
}
