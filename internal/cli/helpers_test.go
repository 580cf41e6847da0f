package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var specsDir = filepath.Join("..", "..", "specs")

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeSpecs writes a single-file specs directory.
func writeSpecs(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specs.cue"), []byte(src), 0o644))
	return dir
}

// decodeResponse parses a JSON CLIResponse, decoding Data into data.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

// seedDatabase commits a user and the profile they own, returning the
// database path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "livegraph.db")

	_, err := execute(t, `{"ops":[{"op":"create","type":"$users","id":"u1","attrs":{"email":"alyssa@example.com"}}]}`,
		"transact", specsDir, "--db", db, "--admin")
	require.NoError(t, err)

	_, err = execute(t, `{"ops":[
		{"op":"create","type":"profiles","id":"p1","attrs":{"handle":"alyssa","fullName":"Alyssa"}},
		{"op":"link","type":"profiles","id":"p1","link":"owner","peer_id":"u1"}
	]}`, "transact", specsDir, "--db", db, "--admin")
	require.NoError(t, err)
	return db
}
