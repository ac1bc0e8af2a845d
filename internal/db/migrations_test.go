package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestLedgerMigrationIsAppendOnly(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, "migrations/000001_ledger.up.sql")
	require.NoError(t, err)

	sql := string(body)
	assert.Contains(t, sql, "BEFORE UPDATE OR DELETE ON audit_events")
	assert.Contains(t, sql, "UNIQUE (organization_id, idempotency_key)")
}

func TestRunMigrations_RejectsDirection(t *testing.T) {
	err := RunMigrations(nil, "sideways")
	assert.Error(t, err)
}

func TestLedgerMigrationOrdersBySequence(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, "migrations/000002_audit_event_seq.up.sql")
	require.NoError(t, err)

	sql := string(body)
	assert.Contains(t, sql, "ADD COLUMN seq BIGSERIAL")
	assert.Contains(t, sql, "(organization_id, created_at, seq)")
}
