package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashes. The version suffix allows
// the algorithm to change without colliding with older ids.
const (
	DomainTransaction = "livegraph/transaction/v1"
	DomainResult      = "livegraph/result/v1"
	DomainSchema      = "livegraph/schema/v1"
	DomainSnapshot    = "livegraph/snapshot/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator removes ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical canonicalizes v and hashes it under domain.
func HashCanonical(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// TransactionID derives a stable id for a committed transaction from its
// expanded ops and commit seq. The acting identity is stored beside the
// commit but does not participate: the id names what changed, not who
// changed it.
func TransactionID(ops []Op, seq int64) (string, error) {
	arr := make(IRArray, len(ops))
	for i, op := range ops {
		arr[i] = op.Object()
	}
	return HashCanonical(DomainTransaction, IRObject{
		"ops": arr,
		"seq": IRInt(seq),
	})
}

// MustTransactionID is like TransactionID but panics on error.
// Use only in tests or with ops already known to be valid.
func MustTransactionID(ops []Op, seq int64) string {
	id, err := TransactionID(ops, seq)
	if err != nil {
		panic(err)
	}
	return id
}
