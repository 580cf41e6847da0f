package txn

import (
	"errors"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
)

// Result is an accepted transaction, not yet published.
type Result struct {
	Snapshot *graph.Snapshot
	Touches  []ir.Touch
	Delta    graph.Delta
	Expanded []ir.Op // submitted ops plus cascade deletes, in application order
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxOps sets the per-transaction op budget, cascades included.
func WithMaxOps(n int) Option {
	return func(p *Processor) { p.maxOps = n }
}

// Processor validates, expands, authorizes and applies transactions.
// It is stateless and safe for concurrent use.
type Processor struct {
	reg    *schema.Registry
	eval   *rules.Evaluator
	maxOps int
}

// NewProcessor builds a processor over a registry and evaluator.
func NewProcessor(reg *schema.Registry, eval *rules.Evaluator, opts ...Option) *Processor {
	p := &Processor{reg: reg, eval: eval, maxOps: DefaultMaxOps}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the schema the processor validates against.
func (p *Processor) Registry() *schema.Registry { return p.reg }

// Evaluator returns the permission evaluator.
func (p *Processor) Evaluator() *rules.Evaluator { return p.eval }

// Apply runs tx against base on behalf of who. seq stamps the changes.
// base is not modified.
func (p *Processor) Apply(base *graph.Snapshot, tx ir.Transaction, who ir.Identity, seq int64) (*Result, error) {
	return p.run(base, tx, who, seq, true)
}

// ApplyTrusted runs tx without authorization. It is used for admin
// writes and for replaying the commit log, whose entries were authorized
// when first committed.
func (p *Processor) ApplyTrusted(base *graph.Snapshot, tx ir.Transaction, seq int64) (*Result, error) {
	return p.run(base, tx, ir.Identity{Admin: true}, seq, false)
}

// Expand returns tx with every cascade-induced delete made explicit.
// Expanding an already expanded transaction returns it unchanged.
func (p *Processor) Expand(base *graph.Snapshot, tx ir.Transaction) ([]ir.Op, error) {
	res, err := p.run(base, tx, ir.Identity{Admin: true}, base.Seq()+1, false)
	if err != nil {
		return nil, err
	}
	return res.Expanded, nil
}

// check is an authorization deferred until the post-transaction state is
// known. Checks on entities that existed before the transaction must
// also pass against the pre-transaction state, so a write cannot grant
// its own permission.
type check struct {
	cat rules.Category
	id  string
	op  int
}

type run struct {
	p         *Processor
	base      *graph.Snapshot
	draft     *graph.Draft
	tx        ir.Transaction
	who       ir.Identity
	authorize bool
	budget    *opBudget
	deleted   map[string]bool
	pending   []check
	expanded  []ir.Op
}

func (p *Processor) run(base *graph.Snapshot, tx ir.Transaction, who ir.Identity, seq int64, authorize bool) (*Result, error) {
	if len(tx.Ops) == 0 {
		return nil, &Error{Code: CodeValidation, OpIndex: -1, Message: "transaction has no ops"}
	}
	r := &run{
		p:         p,
		base:      base,
		draft:     base.Begin(seq),
		tx:        tx,
		who:       who,
		authorize: authorize && !who.Admin,
		budget:    newOpBudget(p.maxOps),
		deleted:   make(map[string]bool),
	}
	// Schema validation covers the whole transaction before any op is
	// applied or authorized.
	for i, op := range tx.Ops {
		if err := r.validate(i, op); err != nil {
			return nil, err
		}
	}
	for i, op := range tx.Ops {
		if err := r.apply(i, op); err != nil {
			return nil, err
		}
	}
	if err := r.flush(func(check) bool { return true }); err != nil {
		return nil, err
	}
	if err := r.checkUnique(); err != nil {
		return nil, err
	}
	snap, touches, delta := r.draft.Commit()
	return &Result{Snapshot: snap, Touches: touches, Delta: delta, Expanded: r.expanded}, nil
}

func (r *run) apply(i int, op ir.Op) error {
	switch op.Kind {
	case ir.OpCreate:
		return r.create(i, op)
	case ir.OpUpdate:
		return r.update(i, op)
	case ir.OpDelete:
		return r.delete(i, op)
	default:
		return r.link(i, op)
	}
}

// validate checks an op against the schema without looking at state.
func (r *run) validate(i int, op ir.Op) error {
	if !ir.ValidOpKinds[op.Kind] {
		return opError(CodeValidation, i, op.Type, op.ID, "unknown op %q", op.Kind)
	}
	if strings.TrimSpace(op.ID) == "" {
		return opError(CodeValidation, i, op.Type, op.ID, "entity id is required")
	}
	def, ok := r.p.reg.Entity(op.Type)
	if !ok {
		return opError(CodeValidation, i, op.Type, op.ID, "unknown entity type %q", op.Type)
	}
	switch op.Kind {
	case ir.OpCreate, ir.OpUpdate:
		return validateAttrs(i, def, op)
	case ir.OpLink, ir.OpUnlink:
		if _, ok := r.p.reg.Resolve(op.Type, op.Link); !ok {
			return opError(CodeValidation, i, op.Type, op.ID, "no link labelled %q on %s", op.Link, op.Type)
		}
		if strings.TrimSpace(op.PeerID) == "" {
			return opError(CodeValidation, i, op.Type, op.ID, "%s requires a peer id", op.Kind)
		}
	}
	if len(op.Attrs) > 0 {
		return opError(CodeValidation, i, op.Type, op.ID, "%s takes no attributes", op.Kind)
	}
	return nil
}

func validateAttrs(i int, def *schema.EntityDef, op ir.Op) error {
	for _, k := range op.Attrs.SortedKeys() {
		v := op.Attrs[k]
		a, ok := def.Attr(k)
		if !ok {
			return opError(CodeValidation, i, op.Type, op.ID, "unknown attribute %q", k)
		}
		if _, isNull := v.(ir.IRNull); isNull {
			if op.Kind == ir.OpCreate {
				return opError(CodeValidation, i, op.Type, op.ID, "attribute %q is null; omit it instead", k)
			}
			if !a.Optional {
				return opError(CodeValidation, i, op.Type, op.ID, "required attribute %q cannot be removed", k)
			}
			continue
		}
		if !a.Accepts(v) {
			return opError(CodeValidation, i, op.Type, op.ID, "attribute %q expects %s, got %s", k, a.Type, describe(v))
		}
	}
	if op.Kind == ir.OpCreate {
		for _, name := range def.Required() {
			if _, ok := op.Attrs[name]; !ok {
				return opError(CodeValidation, i, op.Type, op.ID, "missing required attribute %q", name)
			}
		}
	}
	return nil
}

func describe(v ir.IRValue) string {
	if k := ir.KindName(v); k != "" {
		return k
	}
	switch v.(type) {
	case ir.IRArray:
		return "array"
	case ir.IRObject:
		return "object"
	}
	return "unknown"
}

func (r *run) create(i int, op ir.Op) error {
	if err := r.budget.spend(1, i); err != nil {
		return err
	}
	if r.draft.View().Has(op.ID) {
		return opError(CodeValidation, i, op.Type, op.ID, "entity already exists")
	}
	if err := r.draft.Create(op.Type, op.ID, op.Attrs); err != nil {
		return r.wrapGraph(i, op, err)
	}
	r.later(rules.Create, op.ID, i)
	r.expanded = append(r.expanded, op)
	return nil
}

func (r *run) update(i int, op ir.Op) error {
	if err := r.budget.spend(1, i); err != nil {
		return err
	}
	if err := r.target(i, op, op.ID, op.Type); err != nil {
		return err
	}
	if err := r.draft.Update(op.ID, op.Attrs); err != nil {
		return r.wrapGraph(i, op, err)
	}
	r.later(rules.Update, op.ID, i)
	r.expanded = append(r.expanded, op)
	return nil
}

func (r *run) delete(i int, op ir.Op) error {
	if r.deleted[op.ID] {
		// Already removed by an earlier delete or cascade in this
		// transaction; repeating it changes nothing.
		return nil
	}
	if err := r.target(i, op, op.ID, op.Type); err != nil {
		return err
	}
	view := r.draft.View()
	closure := view.CascadeClosure(op.ID)
	if err := r.budget.spend(len(closure), i); err != nil {
		return err
	}

	inClosure := make(map[string]bool, len(closure))
	types := make(map[string]string, len(closure))
	for _, id := range closure {
		inClosure[id] = true
		if e, ok := view.Entity(id); ok {
			types[id] = e.Type
		}
	}
	// Pending create/update/link checks on entities about to disappear
	// are decided against their last live state.
	if err := r.flush(func(c check) bool { return inClosure[c.id] }); err != nil {
		return err
	}
	for _, id := range closure {
		if err := r.authorizeDelete(i, id, view); err != nil {
			return err
		}
	}

	if _, err := r.draft.Delete(op.ID); err != nil {
		return r.wrapGraph(i, op, err)
	}
	r.expanded = append(r.expanded, op)
	for _, id := range closure {
		r.deleted[id] = true
	}
	for _, id := range closure[1:] {
		r.expanded = append(r.expanded, ir.Op{Kind: ir.OpDelete, Type: types[id], ID: id, Cascade: true})
	}
	return nil
}

// authorizeDelete evaluates delete on id against the pre-transaction state
// when the entity existed before the transaction, otherwise against the
// state just before this delete.
func (r *run) authorizeDelete(i int, id string, current *graph.Snapshot) error {
	if !r.authorize {
		return nil
	}
	if ent, ok := r.base.Entity(id); ok {
		return r.decide(i, rules.Delete, ent, r.base)
	}
	ent, _ := current.Entity(id)
	return r.decide(i, rules.Delete, ent, current)
}

func (r *run) link(i int, op ir.Op) error {
	if err := r.budget.spend(1, i); err != nil {
		return err
	}
	if err := r.target(i, op, op.ID, op.Type); err != nil {
		return err
	}
	t, _ := r.p.reg.Resolve(op.Type, op.Link)
	if err := r.target(i, op, op.PeerID, t.PeerType()); err != nil {
		return err
	}
	r.linkChecks(i, op, t)

	var err error
	if op.Kind == ir.OpLink {
		err = r.draft.Link(t, op.ID, op.PeerID)
	} else {
		err = r.draft.Unlink(t, op.ID, op.PeerID)
	}
	if err != nil {
		return r.wrapGraph(i, op, err)
	}
	r.expanded = append(r.expanded, op)
	return nil
}

// linkChecks queues the authorizations a link or unlink needs. The subject
// is always checked. Any other endpoint is checked when the op sets,
// clears or replaces one of its cardinality-one roles: the peer of the op
// itself, and the far ends of edges displaced by a replacing link.
func (r *run) linkChecks(i int, op ir.Op, t schema.Traversal) {
	cat := rules.CategoryFor(op.Kind)
	back := t.Reverse()
	r.later(cat, op.ID, i)
	if back.Single() {
		r.later(cat, op.PeerID, i)
	}
	view := r.draft.View()
	if op.Kind != ir.OpLink || view.HasEdge(t.Edge(op.ID, op.PeerID)) {
		return
	}
	if t.Single() && back.Single() {
		for _, old := range view.Neighbors(op.ID, t) {
			r.later(rules.Unlink, old, i)
		}
		for _, old := range view.Neighbors(op.PeerID, back) {
			r.later(rules.Unlink, old, i)
		}
	}
}

// target checks that id is live in the draft with the expected type, and
// classifies its absence.
func (r *run) target(i int, op ir.Op, id, typ string) error {
	if e, ok := r.draft.View().Entity(id); ok {
		if e.Type != typ {
			return opError(CodeValidation, i, op.Type, op.ID, "%s is a %s, expected %s", id, e.Type, typ)
		}
		return nil
	}
	if r.deleted[id] {
		return opError(CodeNotFound, i, op.Type, op.ID, "%s was deleted earlier in this transaction", id)
	}
	for j := i + 1; j < len(r.tx.Ops); j++ {
		if later := r.tx.Ops[j]; later.Kind == ir.OpCreate && later.ID == id {
			return opError(CodeValidation, i, op.Type, op.ID, "%s is created by later op %d", id, j)
		}
	}
	if at, ok := r.base.Tombstone(id); ok && r.tx.BaseSeq > 0 && at > r.tx.BaseSeq {
		return opError(CodeConflict, i, op.Type, op.ID, "%s was deleted at seq %d", id, at)
	}
	return opError(CodeNotFound, i, op.Type, op.ID, "%s does not exist", id)
}

func (r *run) later(cat rules.Category, id string, i int) {
	if r.authorize {
		r.pending = append(r.pending, check{cat: cat, id: id, op: i})
	}
}

// flush evaluates and drops the pending checks selected by match, against
// the draft's current state.
func (r *run) flush(match func(check) bool) error {
	view := r.draft.View()
	keep := r.pending[:0]
	var failed error
	for _, c := range r.pending {
		if failed != nil || !match(c) {
			keep = append(keep, c)
			continue
		}
		ent, ok := view.Entity(c.id)
		if !ok {
			continue
		}
		if prior, existed := r.base.Entity(c.id); existed {
			if err := r.decide(c.op, c.cat, prior, r.base); err != nil {
				failed = err
				continue
			}
		}
		if err := r.decide(c.op, c.cat, ent, view); err != nil {
			failed = err
		}
	}
	r.pending = keep
	return failed
}

func (r *run) decide(i int, cat rules.Category, ent ir.Entity, view rules.StateView) error {
	if err := r.p.eval.Authorize(cat, ent, view, r.who); err != nil {
		return &Error{
			Code:    CodePermissionDenied,
			OpIndex: i,
			Type:    ent.Type,
			ID:      ent.ID,
			Message: string(cat) + " denied",
			Err:     err,
		}
	}
	return nil
}

// checkUnique verifies unique attributes of every created or updated
// entity in the draft.
func (r *run) checkUnique() error {
	view := r.draft.View()
	seen := make(map[string]bool)
	var ids []string
	for _, t := range r.draft.Touches() {
		if t.Kind != ir.TouchAttribute || t.Action == ir.OpDelete || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}
	slices.Sort(ids)
	for _, id := range ids {
		ent, ok := view.Entity(id)
		if !ok {
			continue
		}
		def, _ := r.p.reg.Entity(ent.Type)
		for _, a := range def.Attrs {
			if !a.Unique {
				continue
			}
			v, ok := ent.Attrs[a.Name]
			if !ok {
				continue
			}
			if holders := view.Lookup(ent.Type, a.Name, v); len(holders) > 1 {
				return &Error{
					Code:    CodeUniqueness,
					OpIndex: r.opIndexOf(id),
					Type:    ent.Type,
					ID:      id,
					Message: "duplicate value for unique attribute " + a.Name,
				}
			}
		}
	}
	return nil
}

func (r *run) opIndexOf(id string) int {
	for i, op := range r.tx.Ops {
		if op.ID == id && (op.Kind == ir.OpCreate || op.Kind == ir.OpUpdate) {
			return i
		}
	}
	return -1
}

func (r *run) wrapGraph(i int, op ir.Op, err error) error {
	code := CodeValidation
	if errors.Is(err, graph.ErrNotFound) {
		code = CodeNotFound
	}
	return &Error{Code: code, OpIndex: i, Type: op.Type, ID: op.ID, Message: err.Error(), Err: err}
}
