package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres("postgres://u:p@localhost/db"))
	assert.True(t, IsPostgres("postgresql://localhost/db"))
	assert.False(t, IsPostgres("file:posm.db"))
}

func TestWithPragmas(t *testing.T) {
	assert.Equal(t, "file:posm.db?"+sqlitePragmas, withPragmas("file:posm.db"))
	assert.Equal(t, "file:posm.db?mode=rwc&"+sqlitePragmas, withPragmas("file:posm.db?mode=rwc"))
	assert.Equal(t, "file:x.db?_pragma=journal_mode(WAL)", withPragmas("file:x.db?_pragma=journal_mode(WAL)"))
}
