package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain(DomainTransaction, data), hashWithDomain(DomainResult, data))
	assert.Len(t, hashWithDomain(DomainSchema, data), 64)
}

func TestHashCanonicalKeyOrderIndependent(t *testing.T) {
	a, err := HashCanonical(DomainResult, IRObject{"x": IRInt(1), "y": IRInt(2)})
	require.NoError(t, err)
	b, err := HashCanonical(DomainResult, map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransactionIDDeterministic(t *testing.T) {
	ops := []Op{
		{Kind: OpCreate, Type: "posts", ID: "p1", Attrs: IRObject{"content": IRString("hi")}},
		{Kind: OpLink, Type: "posts", ID: "p1", Link: "author", PeerID: "u1"},
	}
	id1 := MustTransactionID(ops, 3)
	id2 := MustTransactionID(ops, 3)
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, MustTransactionID(ops, 4))
	assert.NotEqual(t, id1, MustTransactionID(ops[:1], 3))
}

func TestTransactionIDAcceptsRemovals(t *testing.T) {
	ops := []Op{{Kind: OpUpdate, Type: "posts", ID: "p1", Attrs: IRObject{"content": IRNull{}}}}
	_, err := TransactionID(ops, 1)
	require.NoError(t, err)
}
