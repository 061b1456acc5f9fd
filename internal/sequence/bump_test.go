package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dryRun(t *testing.T, dialector gorm.Dialector) string {
	t.Helper()
	db, err := gorm.Open(dialector, &gorm.Config{DryRun: true})
	require.NoError(t, err)
	stmt := bump(db, ScopeReceipt, "20260417").Statement
	return stmt.SQL.String()
}

func TestBumpRendersPerDialect(t *testing.T) {
	mysqlSQL := dryRun(t, mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/tillpoint",
		SkipInitializeWithVersion: true,
	}))
	assert.Contains(t, mysqlSQL, "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, mysqlSQL, "RETURNING")

	pgSQL := dryRun(t, postgres.New(postgres.Config{
		DSN:                  "host=127.0.0.1 user=tillpoint dbname=tillpoint sslmode=disable",
		PreferSimpleProtocol: true,
	}))
	assert.Contains(t, pgSQL, "ON CONFLICT")
	assert.Contains(t, pgSQL, "daily_sequences.value + 1")
}
