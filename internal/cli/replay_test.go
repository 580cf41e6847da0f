package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayMatches(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "", "replay", specsDir, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Replayed 2 commits through seq 2: graph matches")
}

func TestReplayJSON(t *testing.T) {
	db := seedDatabase(t)

	// A cascade delete lands in the log as explicit ops.
	_, err := execute(t, `{"ops":[{"op":"delete","type":"$users","id":"u1"}]}`,
		"transact", specsDir, "--db", db, "--admin")
	require.NoError(t, err)

	out, err := execute(t, "", "replay", specsDir, "--db", db, "--format", "json")
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Match)
	assert.Equal(t, 3, result.Commits)
	assert.Equal(t, int64(3), result.LastSeq)
	assert.Equal(t, result.CurrentHash, result.ReplayedHash)
}

func TestReplayEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "livegraph.db")
	_, err := execute(t, `{"ops":[{"op":"create","type":"posts","id":"a"}]}`, "transact", specsDir, "--db", db)
	require.Error(t, err)

	out, err := execute(t, "", "replay", specsDir, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No commits found in database.")
}

func TestReplayMissingDatabase(t *testing.T) {
	_, err := execute(t, "", "replay", specsDir, "--db", "/nonexistent/livegraph.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplayRequiresDB(t *testing.T) {
	_, err := execute(t, "", "replay", specsDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
