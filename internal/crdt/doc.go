// Package crdt implements the replicated document tree shared by collaborating
// editors.
//
// A document is a root fragment holding element and text items. Every item is
// identified by the client that created it and that client's operation counter.
// Children lists are RGA sequences ordered by Lamport timestamp, deletions leave
// tombstones, and attributes are last-writer-wins registers. Replicas that have
// applied the same set of updates expose the same tree regardless of the order in
// which the updates arrived.
package crdt

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidOp reports a structurally invalid operation in an update.
	ErrInvalidOp = errors.New("crdt: invalid operation")
	// ErrTooManyPending reports that an update depends on too much missing history.
	ErrTooManyPending = errors.New("crdt: too many pending operations")
	// ErrUnknownItem reports a local edit referencing an item the document lacks.
	ErrUnknownItem = errors.New("crdt: unknown item")
	// ErrClockExhausted reports a local edit on a replica whose Lamport clock
	// reached MaxLamport.
	ErrClockExhausted = errors.New("crdt: lamport clock exhausted")
)

const maxPending = 10000

// ID identifies an item. Clock starts at 1 for every client; the zero ID names
// the root fragment and the head of a children list.
type ID struct {
	Client uint64 `json:"client"`
	Clock  uint64 `json:"clock"`
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id.Client == 0 && id.Clock == 0
}

func (id ID) String() string {
	return fmt.Sprintf("%d.%d", id.Client, id.Clock)
}

// ItemKind distinguishes element items from text items.
type ItemKind string

const (
	KindElement ItemKind = "element"
	KindText    ItemKind = "text"
)

// StateVector maps each client to the highest contiguous clock applied.
type StateVector map[uint64]uint64

type register struct {
	value   string
	lamport uint64
	client  uint64
}

func (r register) olderThan(lamport, client uint64) bool {
	if r.lamport != lamport {
		return r.lamport < lamport
	}
	return r.client < client
}

type item struct {
	id       ID
	lamport  uint64
	kind     ItemKind
	name     string
	text     string
	parent   *item
	attrs    map[string]register
	children []*item
	deleted  bool
}

// newer reports whether a sorts before b among siblings inserted after the same
// origin.
func (a *item) newer(b *item) bool {
	if a.lamport != b.lamport {
		return a.lamport > b.lamport
	}
	return a.id.Client > b.id.Client
}

// Doc is a replica of a shared document. All methods are safe for concurrent use.
type Doc struct {
	mu      sync.Mutex
	client  uint64
	lamport uint64
	root    *item
	items   map[ID]*item
	state   StateVector
	history []Op
	pending []Op
	waiting map[ID]struct{}
}

// NewDoc creates an empty replica that issues local operations as client.
// client must be non-zero.
func NewDoc(client uint64) *Doc {
	if client == 0 {
		panic("crdt: client id must be non-zero")
	}
	root := &item{kind: KindElement, name: "root"}
	return &Doc{
		client:  client,
		root:    root,
		items:   map[ID]*item{{}: root},
		state:   make(StateVector),
		waiting: make(map[ID]struct{}),
	}
}

// Client returns the replica's client id.
func (d *Doc) Client() uint64 {
	return d.client
}

// StateVector returns a copy of the applied state.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	sv := make(StateVector, len(d.state))
	for client, clock := range d.state {
		sv[client] = clock
	}
	return sv
}

// Diff returns every applied operation the holder of sv has not seen, in an
// order that respects causality.
func (d *Doc) Diff(sv StateVector) Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ops []Op
	for _, op := range d.history {
		if op.ID.Clock > sv[op.ID.Client] {
			ops = append(ops, op)
		}
	}
	return Update{Ops: ops}
}

// Pending returns the number of buffered operations waiting for dependencies.
func (d *Doc) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Apply integrates a remote update. Operations already applied are ignored and
// operations with missing dependencies are buffered until they arrive. The whole
// update is rejected without side effects when any operation is malformed or
// would move the Lamport clock more than MaxLamportSkew past its current value.
func (d *Doc) Apply(u Update) error {
	for i, op := range u.Ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending)+len(u.Ops) > maxPending {
		return ErrTooManyPending
	}
	for i, op := range u.Ops {
		if op.Lamport > d.lamport && op.Lamport-d.lamport > MaxLamportSkew {
			return fmt.Errorf("op %d: %w: lamport timestamp %d too far ahead of %d", i, ErrInvalidOp, op.Lamport, d.lamport)
		}
	}
	for _, op := range u.Ops {
		d.receive(op)
	}
	d.drain()
	return nil
}

// Transact runs fn with exclusive access to the document and returns the
// operations it produced.
func (d *Doc) Transact(fn func(tx *Txn)) (Update, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &Txn{doc: d}
	fn(tx)
	return Update{Ops: tx.ops}, tx.err
}

// IsEmpty reports whether the root fragment has no visible children.
func (d *Doc) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, child := range d.root.children {
		if !child.deleted {
			return false
		}
	}
	return true
}

// Root returns the visible content of the root fragment.
func (d *Doc) Root() []Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return materialize(d.root.children)
}

func (d *Doc) receive(op Op) {
	if op.ID.Clock <= d.state[op.ID.Client] {
		return
	}
	if _, ok := d.waiting[op.ID]; ok {
		return
	}
	if d.ready(op) {
		d.integrate(op)
		return
	}
	d.pending = append(d.pending, op)
	d.waiting[op.ID] = struct{}{}
}

func (d *Doc) drain() {
	for progress := true; progress; {
		progress = false
		remaining := d.pending[:0]
		for _, op := range d.pending {
			switch {
			case op.ID.Clock <= d.state[op.ID.Client]:
				delete(d.waiting, op.ID)
			case d.ready(op):
				delete(d.waiting, op.ID)
				d.integrate(op)
				progress = true
			default:
				remaining = append(remaining, op)
			}
		}
		d.pending = remaining
	}
}

// ready reports whether every dependency of op has been integrated.
func (d *Doc) ready(op Op) bool {
	if op.ID.Clock != d.state[op.ID.Client]+1 {
		return false
	}
	switch op.Kind {
	case OpInsert:
		if _, ok := d.items[op.Parent]; !ok {
			return false
		}
		if !op.After.IsZero() {
			if _, ok := d.items[op.After]; !ok {
				return false
			}
		}
	case OpDelete, OpSet:
		if _, ok := d.items[op.Target]; !ok {
			return false
		}
	}
	return true
}

// integrate applies a ready operation. Operations that are well-formed but
// semantically inconsistent (an origin outside the parent, a timestamp that does
// not follow its dependencies) advance the clock without touching the tree, so
// every replica skips them identically.
func (d *Doc) integrate(op Op) {
	d.state[op.ID.Client] = op.ID.Clock
	if op.Lamport > d.lamport {
		d.lamport = op.Lamport
	}
	d.history = append(d.history, op)

	switch op.Kind {
	case OpInsert:
		d.integrateInsert(op)
	case OpDelete:
		if target := d.items[op.Target]; target != d.root {
			target.deleted = true
		}
	case OpSet:
		target := d.items[op.Target]
		if target == d.root {
			return
		}
		current, ok := target.attrs[op.Key]
		if !ok || current.olderThan(op.Lamport, op.ID.Client) {
			target.attrs[op.Key] = register{value: op.Value, lamport: op.Lamport, client: op.ID.Client}
		}
	}
}

func (d *Doc) integrateInsert(op Op) {
	parent := d.items[op.Parent]
	if parent.kind != KindElement || op.Lamport <= parent.lamport {
		return
	}

	idx := 0
	if !op.After.IsZero() {
		origin := d.items[op.After]
		if origin.parent != parent || op.Lamport <= origin.lamport {
			return
		}
		idx = indexOf(parent.children, origin) + 1
	}

	it := &item{
		id:      op.ID,
		lamport: op.Lamport,
		kind:    op.Item,
		name:    op.Name,
		text:    op.Text,
		parent:  parent,
		attrs:   make(map[string]register, len(op.Attrs)),
	}
	for key, value := range op.Attrs {
		it.attrs[key] = register{value: value, lamport: op.Lamport, client: op.ID.Client}
	}

	for idx < len(parent.children) && parent.children[idx].newer(it) {
		idx++
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[idx+1:], parent.children[idx:])
	parent.children[idx] = it
	d.items[it.id] = it
}

func indexOf(children []*item, target *item) int {
	for i, child := range children {
		if child == target {
			return i
		}
	}
	return -1
}

func materialize(children []*item) []Node {
	var nodes []Node
	for _, child := range children {
		if child.deleted {
			continue
		}
		node := Node{
			ID:   child.id,
			Kind: child.kind,
			Name: child.name,
			Text: child.text,
		}
		for key, reg := range child.attrs {
			if reg.value == "" {
				continue
			}
			if node.Attrs == nil {
				node.Attrs = make(map[string]string, len(child.attrs))
			}
			node.Attrs[key] = reg.value
		}
		if child.kind == KindElement {
			node.Children = materialize(child.children)
		}
		nodes = append(nodes, node)
	}
	return nodes
}
