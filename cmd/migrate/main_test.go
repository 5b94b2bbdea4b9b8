package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	stmts := statements(`-- header
CREATE TABLE a (
    id INT -- trailing is kept
);

-- only a comment
;
CREATE TABLE b (id INT);
`)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a (")
	assert.NotContains(t, stmts[0], "-- header")
	assert.Equal(t, "CREATE TABLE b (id INT)", stmts[1])
}

func TestShippedMigrationParses(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "migrations", "create_inference_log_table.sql"))
	require.NoError(t, err)
	stmts := statements(string(raw))
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS inference_log (", firstLine(stmts[0]))
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS inference_daily_stats (", firstLine(stmts[1]))
}
