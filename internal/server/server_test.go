package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/identity"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/testutil"
	"github.com/roach88/livegraph/internal/txn"
)

func setup(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	e, err := engine.New(context.Background(), testutil.PhotoRegistry(), testutil.PhotoRules(),
		engine.WithIDGenerator(testutil.NewSequentialIDs("e")))
	require.NoError(t, err)
	t.Cleanup(e.Close)

	var seed [32]byte
	ids := identity.NewService(e,
		identity.WithTokenGenerator(testutil.NewSequentialIDs("tok")),
		identity.WithSeed(seed))

	ts := httptest.NewServer(New(e, ids, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return body.Error.Code
}

func bootstrap(t *testing.T, ts *httptest.Server) identity.Bootstrap {
	t.Helper()
	status, data := do(t, ts, http.MethodPost, "/api/sessions/anonymous", "", nil)
	require.Equal(t, http.StatusCreated, status, string(data))
	var b identity.Bootstrap
	require.NoError(t, json.Unmarshal(data, &b))
	return b
}

func postOp(id, profile string) []OpRequest {
	return []OpRequest{
		{Op: "create", Type: "posts", ID: id, Attrs: ir.IRObject{"content": ir.IRString("hello")}},
		{Op: "link", Type: "posts", ID: id, Link: "author", PeerID: profile},
	}
}

func TestHealth(t *testing.T) {
	ts := setup(t)

	status, data := do(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","seq":0,"subscriptions":0}`, string(data))
}

func TestMetrics(t *testing.T) {
	ts := setup(t)
	do(t, ts, http.MethodGet, "/health", "", nil)

	status, data := do(t, ts, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "livegraph_http_requests_total")
}

func TestIssueSessionAndMe(t *testing.T) {
	ts := setup(t)

	status, data := do(t, ts, http.MethodPost, "/api/sessions", "", SessionRequest{Email: "alyssa@example.com"})
	require.Equal(t, http.StatusCreated, status, string(data))
	var sess ir.Session
	require.NoError(t, json.Unmarshal(data, &sess))
	assert.Equal(t, "tok-0001", sess.Token)

	status, data = do(t, ts, http.MethodGet, "/api/me", sess.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var who ir.Identity
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, sess.UserID, who.ID)
	assert.Equal(t, "alyssa@example.com", who.Email)
}

func TestIssueSessionRejectsBadRequests(t *testing.T) {
	ts := setup(t)

	for name, body := range map[string]string{
		"bad email":     `{"email":"nope"}`,
		"missing email": `{}`,
		"unknown field": `{"email":"a@example.com","admin":true}`,
		"not json":      `{`,
	} {
		t.Run(name, func(t *testing.T) {
			status, data := do(t, ts, http.MethodPost, "/api/sessions", "", body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, CodeBadRequest, errorCode(t, data))
		})
	}
}

func TestMeNeedsSession(t *testing.T) {
	ts := setup(t)

	status, data := do(t, ts, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeUnauthorized, errorCode(t, data))

	status, _ = do(t, ts, http.MethodGet, "/api/me", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRevokeSession(t *testing.T) {
	ts := setup(t)
	b := bootstrap(t, ts)

	status, _ := do(t, ts, http.MethodDelete, "/api/sessions", b.Session.Token, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, ts, http.MethodGet, "/api/me", b.Session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTransactStatuses(t *testing.T) {
	ts := setup(t)
	alyssa := bootstrap(t, ts)
	ben := bootstrap(t, ts)

	status, data := do(t, ts, http.MethodPost, "/api/transact", alyssa.Session.Token,
		TransactRequest{ID: "c1", Ops: postOp("p1", alyssa.ProfileID)})
	require.Equal(t, http.StatusOK, status, string(data))
	var receipt engine.Receipt
	require.NoError(t, json.Unmarshal(data, &receipt))
	assert.Equal(t, "c1", receipt.ClientID)
	assert.Equal(t, int64(3), receipt.Seq, "each bootstrap commits once")

	tests := []struct {
		name   string
		token  string
		body   any
		status int
		code   string
	}{
		{
			name:   "not the author",
			token:  ben.Session.Token,
			body:   TransactRequest{Ops: []OpRequest{{Op: "update", Type: "posts", ID: "p1", Attrs: ir.IRObject{"content": ir.IRString("mine")}}}},
			status: http.StatusForbidden,
			code:   string(txn.CodePermissionDenied),
		},
		{
			name:  "taken handle",
			token: alyssa.Session.Token,
			body: TransactRequest{Ops: []OpRequest{{
				Op: "update", Type: "profiles", ID: alyssa.ProfileID,
				Attrs: ir.IRObject{"handle": ir.IRString(ben.Handle)},
			}}},
			status: http.StatusConflict,
			code:   string(txn.CodeUniqueness),
		},
		{
			name:   "missing entity",
			token:  alyssa.Session.Token,
			body:   TransactRequest{Ops: []OpRequest{{Op: "delete", Type: "posts", ID: "nope"}}},
			status: http.StatusNotFound,
			code:   string(txn.CodeNotFound),
		},
		{
			name:   "link without peer",
			token:  alyssa.Session.Token,
			body:   TransactRequest{Ops: []OpRequest{{Op: "link", Type: "posts", ID: "p1", Link: "hearters"}}},
			status: http.StatusBadRequest,
			code:   CodeBadRequest,
		},
		{
			name:   "unknown op",
			token:  alyssa.Session.Token,
			body:   TransactRequest{Ops: []OpRequest{{Op: "merge", Type: "posts", ID: "p1"}}},
			status: http.StatusBadRequest,
			code:   CodeBadRequest,
		},
		{
			name:   "no ops",
			token:  alyssa.Session.Token,
			body:   `{"ops":[]}`,
			status: http.StatusBadRequest,
			code:   CodeBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := do(t, ts, http.MethodPost, "/api/transact", tt.token, tt.body)
			assert.Equal(t, tt.status, status, string(data))
			assert.Equal(t, tt.code, errorCode(t, data))
		})
	}
}

func TestRejectionReportsOpIndex(t *testing.T) {
	ts := setup(t)
	alyssa := bootstrap(t, ts)
	ben := bootstrap(t, ts)

	ops := append(postOp("p1", ben.ProfileID), OpRequest{Op: "create", Type: "posts", ID: "p2"})
	status, data := do(t, ts, http.MethodPost, "/api/transact", alyssa.Session.Token, TransactRequest{Ops: ops})
	require.Equal(t, http.StatusForbidden, status, string(data))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(data, &body))
	require.NotNil(t, body.Error.OpIndex)
}

func TestQuery(t *testing.T) {
	ts := setup(t)
	alyssa := bootstrap(t, ts)

	status, data := do(t, ts, http.MethodPost, "/api/transact", alyssa.Session.Token,
		TransactRequest{Ops: postOp("p1", alyssa.ProfileID)})
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = do(t, ts, http.MethodPost, "/api/query", "", livequery.Query{
		Type:  "posts",
		Where: ir.IRObject{"author.handle": ir.IRString(alyssa.Handle)},
	})
	require.Equal(t, http.StatusOK, status, string(data))
	var res livequery.Result
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "p1", res.Nodes[0].ID)

	status, data = do(t, ts, http.MethodPost, "/api/query", "", livequery.Query{Type: "comments"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeBadRequest, errorCode(t, data))
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/subscribe"
	if token != "" {
		url += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestSubscribeStreamsResults(t *testing.T) {
	ts := setup(t)
	alyssa := bootstrap(t, ts)

	ws := dial(t, ts, alyssa.Session.Token)
	require.NoError(t, ws.WriteJSON(livequery.Query{Type: "posts"}))

	initial := read(t, ws)
	require.Equal(t, "result", initial.Kind)
	assert.Empty(t, initial.Result.Nodes)

	status, data := do(t, ts, http.MethodPost, "/api/transact", alyssa.Session.Token,
		TransactRequest{Ops: postOp("p1", alyssa.ProfileID)})
	require.Equal(t, http.StatusOK, status, string(data))

	update := read(t, ws)
	require.Equal(t, "result", update.Kind)
	require.Len(t, update.Result.Nodes, 1)
	assert.Equal(t, "p1", update.Result.Nodes[0].ID)
}

func TestSubscribeInvalidQuery(t *testing.T) {
	ts := setup(t)

	ws := dial(t, ts, "")
	require.NoError(t, ws.WriteJSON(livequery.Query{Type: "comments"}))

	m := read(t, ws)
	assert.Equal(t, "error", m.Kind)
	require.NotNil(t, m.Error)
	assert.Equal(t, CodeBadRequest, m.Error.Code)
}

func TestSubscribeRejectsForgedToken(t *testing.T) {
	ts := setup(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/subscribe?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&txn.Error{Code: txn.CodeQuota, OpIndex: -1}, http.StatusRequestEntityTooLarge, string(txn.CodeQuota)},
		{&txn.Error{Code: txn.CodeConflict, OpIndex: 2}, http.StatusConflict, string(txn.CodeConflict)},
		{fmt.Errorf("wrapped: %w", &txn.Error{Code: txn.CodeValidation}), http.StatusBadRequest, string(txn.CodeValidation)},
		{engine.ErrClosed, http.StatusServiceUnavailable, CodeUnavailable},
		{identity.ErrInvalidSession, http.StatusUnauthorized, CodeUnauthorized},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, detail := classify(tt.err)
		assert.Equal(t, tt.status, status, "%v", tt.err)
		assert.Equal(t, tt.code, detail.Code, "%v", tt.err)
	}
}

func TestWriteLimit(t *testing.T) {
	ts := setup(t, WithWriteLimit(0.001, 2))

	for i := range 2 {
		status, data := do(t, ts, http.MethodPost, "/api/sessions", "", SessionRequest{Email: fmt.Sprintf("u%d@example.com", i)})
		require.Equal(t, http.StatusCreated, status, string(data))
	}
	status, data := do(t, ts, http.MethodPost, "/api/sessions", "", SessionRequest{Email: "u3@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, CodeRateLimited, errorCode(t, data))

	status, _ = do(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status, "reads are not limited")
}
