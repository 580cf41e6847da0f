package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("post")
	assert.Equal(t, "post-0001", ids.Generate())
	assert.Equal(t, "post-0002", ids.Generate())
	assert.Equal(t, 2, ids.Count())

	ids.Reset()
	assert.Equal(t, "post-0001", ids.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	ids := NewSequentialIDs("x")
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	results := make([][]string, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for range perGoroutine {
				results[idx] = append(results[idx], ids.Generate())
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, batch := range results {
		for _, id := range batch {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}
