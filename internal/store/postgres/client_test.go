package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/dexarb?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "dexarb"}))
	assert.Equal(t, "postgres://u:p@db:6543/dexarb?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Port: 6543, Database: "dexarb", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"venue_quotes", "opportunities", "audit_log"} {
		assert.True(t, strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}

func TestOpportunityColumnsMatchPlaceholders(t *testing.T) {
	cols := strings.Split(opportunitySelectCols, ",")
	assert.Len(t, cols, 27)
}

func TestAuditListQuery(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	q, args := auditListQuery(domain.AuditFilter{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1", q)
	assert.Equal(t, []any{maxAuditPage}, args)

	q, args = auditListQuery(domain.AuditFilter{
		Event:    domain.AuditScanTargetChanged,
		ListOpts: domain.ListOpts{Limit: 20, Offset: 40, Since: &since},
	})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log"+
		" WHERE event = $1 AND created_at >= $2"+
		" ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"scan_target_changed", since, 20, 40}, args)

	_, args = auditListQuery(domain.AuditFilter{ListOpts: domain.ListOpts{Limit: 10_000}})
	assert.Equal(t, []any{maxAuditPage}, args)
}

func TestAuditLogRejectsUnknownEvent(t *testing.T) {
	err := NewAuditStore(nil).Log(context.Background(), domain.AuditEvent("order_filled"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
