package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
)

const maxBodyBytes = 1 << 20

// SessionRequest is the body of POST /api/sessions.
type SessionRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TransactRequest is the body of POST /api/transact.
type TransactRequest struct {
	ID      string      `json:"id,omitempty"`
	BaseSeq int64       `json:"base_seq,omitempty" validate:"gte=0"`
	Ops     []OpRequest `json:"ops" validate:"required,min=1,dive"`
}

// OpRequest is one op of a TransactRequest.
type OpRequest struct {
	Op     string      `json:"op" validate:"required,oneof=create update delete link unlink"`
	Type   string      `json:"type" validate:"required"`
	ID     string      `json:"id" validate:"required"`
	Attrs  ir.IRObject `json:"attrs,omitempty"`
	Link   string      `json:"link,omitempty" validate:"required_if=Op link,required_if=Op unlink"`
	PeerID string      `json:"peer_id,omitempty" validate:"required_if=Op link,required_if=Op unlink"`
}

// Transaction converts the request to an ir.Transaction.
func (req TransactRequest) Transaction() ir.Transaction {
	tx := ir.Transaction{ID: req.ID, BaseSeq: req.BaseSeq, Ops: make([]ir.Op, len(req.Ops))}
	for i, op := range req.Ops {
		tx.Ops[i] = ir.Op{
			Kind:   ir.OpKind(op.Op),
			Type:   op.Type,
			ID:     op.ID,
			Attrs:  op.Attrs,
			Link:   op.Link,
			PeerID: op.PeerID,
		}
	}
	return tx
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.validate.Struct(v)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"seq":           s.engine.Seq(),
		"subscriptions": s.engine.Subscriptions(),
	})
}

func (s *Server) issueSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.identity.IssueSession(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) bootstrapAnonymous(w http.ResponseWriter, r *http.Request) {
	b, err := s.identity.BootstrapAnonymous(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, r, errGuest)
		return
	}
	if err := s.identity.Revoke(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	who := identityFrom(r.Context())
	if who.IsGuest() {
		writeError(w, r, errGuest)
		return
	}
	writeJSON(w, http.StatusOK, who)
}

func (s *Server) transact(w http.ResponseWriter, r *http.Request) {
	var req TransactRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := s.engine.Transact(r.Context(), req.Transaction(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var q livequery.Query
	if err := s.decode(w, r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.Query(q, identityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
