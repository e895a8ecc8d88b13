package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/migrations"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- header comment
CREATE TABLE a (x TEXT DEFAULT 'a;b');
-- between
CREATE INDEX i ON a (x);
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x TEXT DEFAULT 'a;b')", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a (x)", stmts[1])
}

func TestSplitStatements_NoTrailingSemicolon(t *testing.T) {
	stmts := splitStatements("DROP TABLE a")
	assert.Equal(t, []string{"DROP TABLE a"}, stmts)
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, dbType := range []string{"postgres", "mysql"} {
		for _, action := range []string{"up", "down"} {
			content, err := migrations.Read(dbType, action)
			require.NoError(t, err, "%s/%s", dbType, action)
			assert.NotEmpty(t, splitStatements(string(content)))
		}
	}

	_, err := migrations.Read("postgres", "sideways")
	assert.Error(t, err)
}

func TestRun_RejectsUnknownType(t *testing.T) {
	assert.Error(t, run("sqlite", "file::memory:", "up"))
}
