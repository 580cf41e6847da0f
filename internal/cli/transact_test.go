package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/engine"
)

func TestTransactCommits(t *testing.T) {
	db := filepath.Join(t.TempDir(), "livegraph.db")

	out, err := execute(t, `{"ops":[{"op":"create","type":"$users","id":"u1","attrs":{"email":"alyssa@example.com"}}]}`,
		"transact", specsDir, "--db", db, "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Committed at seq 1")
	assert.Contains(t, out, "create $users[u1].email")
	assert.Contains(t, out, "create $users[u1].id")
}

func TestTransactFromFileJSON(t *testing.T) {
	db := seedDatabase(t)
	file := filepath.Join(t.TempDir(), "tx.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"ops":[{"op":"update","type":"profiles","id":"p1","attrs":{"fullName":"Alyssa P. Hacker"}}]}`), 0o644))

	out, err := execute(t, "", "transact", specsDir, "--db", db, "--as", "u1", "--file", file, "--format", "json")
	require.NoError(t, err)

	var receipt engine.Receipt
	resp := decodeResponse(t, out, &receipt)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(3), receipt.Seq)
	require.Len(t, receipt.Changelog.Touches, 1)
	assert.Equal(t, "fullName", receipt.Changelog.Touches[0].Name)
}

func TestTransactRejected(t *testing.T) {
	db := seedDatabase(t)

	// Only the admin creates profiles.
	out, err := execute(t, `{"ops":[{"op":"create","type":"profiles","id":"p2","attrs":{"handle":"eve","fullName":"Eve"}}]}`,
		"transact", specsDir, "--db", db, "--as", "u1", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PERMISSION_DENIED", resp.Error.Code)
	assert.Equal(t, map[string]any{"op_index": float64(0), "type": "profiles", "id": "p2"}, resp.Error.Details)

	// The rejection consumed no seq.
	out, err = execute(t, `{"ops":[{"op":"update","type":"profiles","id":"p1","attrs":{"handle":"alyssa2"}}]}`,
		"transact", specsDir, "--db", db, "--as", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "seq 3")
}

func TestTransactUniquenessViolation(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, `{"ops":[
		{"op":"create","type":"$users","id":"u2","attrs":{"email":"ben@example.com"}},
		{"op":"create","type":"profiles","id":"p2","attrs":{"handle":"alyssa","fullName":"Ben"}}
	]}`, "transact", specsDir, "--db", db, "--admin")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [UNIQUENESS_VIOLATION]")
	assert.Contains(t, out, "op 1")
}

func TestTransactInvalidInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "livegraph.db")

	tests := []struct {
		name  string
		input string
	}{
		{"malformed json", `{"ops":`},
		{"unknown field", `{"ops":[{"op":"create","type":"posts","id":"a"}],"extra":1}`},
		{"no ops", `{"ops":[]}`},
		{"unknown op", `{"ops":[{"op":"upsert","type":"posts","id":"a"}]}`},
		{"link without peer", `{"ops":[{"op":"link","type":"posts","id":"a","link":"author"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.input, "transact", specsDir, "--db", db, "--admin")
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error ["+ErrCodeInvalidInput+"]")
		})
	}
}

func TestTransactMissingFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "livegraph.db")
	_, err := execute(t, "", "transact", specsDir, "--db", db, "--file", "/nonexistent/tx.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeReadFailed)
}

func TestTransactSchemaDrift(t *testing.T) {
	db := seedDatabase(t)
	other := writeSpecs(t, `entities: things: name: "string"`)

	_, err := execute(t, `{"ops":[{"op":"create","type":"things","id":"t1","attrs":{"name":"x"}}]}`,
		"transact", other, "--db", db, "--admin")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeDatabase)
}
