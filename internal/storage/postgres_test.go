package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaCarriesUniquenessGuarantees(t *testing.T) {
	ddl := Schema()
	for _, want := range []string{
		"UNIQUE (dedup_hash)",
		"CREATE UNIQUE INDEX IF NOT EXISTS bank_movements_matched_entry_key",
		"UNIQUE (date, type, source)",
		"name TEXT NOT NULL UNIQUE",
		"status <> 'reconciled' OR (matched_entry_id IS NOT NULL AND matched_by IS NOT NULL)",
	} {
		assert.Contains(t, ddl, want)
	}
}

func TestSchemaIsRerunnable(t *testing.T) {
	for _, stmt := range strings.Split(Schema(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		assert.True(t,
			strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS") ||
				strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") ||
				strings.HasPrefix(stmt, "CREATE UNIQUE INDEX IF NOT EXISTS"),
			stmt)
	}
}
