package txn

import "fmt"

// DefaultMaxOps bounds a transaction's op count, cascade deletes included.
const DefaultMaxOps = 1000

// opBudget counts ops applied by one transaction. A delete spends one unit
// per entity in its cascade closure.
type opBudget struct {
	limit int
	used  int
}

func newOpBudget(limit int) *opBudget {
	if limit <= 0 {
		limit = DefaultMaxOps
	}
	return &opBudget{limit: limit}
}

// spend charges n ops against the budget, attributing overflow to op i.
func (b *opBudget) spend(n, i int) error {
	b.used += n
	if b.used > b.limit {
		return &Error{
			Code:    CodeQuota,
			OpIndex: i,
			Message: fmt.Sprintf("transaction exceeds %d ops (%d with cascades)", b.limit, b.used),
		}
	}
	return nil
}
