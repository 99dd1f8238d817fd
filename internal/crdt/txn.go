package crdt

import "fmt"

// Txn issues local operations inside Doc.Transact. Each operation is applied to
// the replica immediately and collected into the transaction's update.
type Txn struct {
	doc *Doc
	ops []Op
	err error
}

func (t *Txn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *Txn) next() (ID, uint64, bool) {
	d := t.doc
	if d.lamport >= MaxLamport {
		t.fail(ErrClockExhausted)
		return ID{}, 0, false
	}
	return ID{Client: d.client, Clock: d.state[d.client] + 1}, d.lamport + 1, true
}

func (t *Txn) commit(op Op) {
	t.doc.integrate(op)
	t.ops = append(t.ops, op)
}

func (t *Txn) lookup(id ID) (*item, bool) {
	it, ok := t.doc.items[id]
	if !ok {
		t.fail(fmt.Errorf("%w: %s", ErrUnknownItem, id))
	}
	return it, ok
}

// InsertElement inserts an element into parent directly after the sibling
// after (the zero ID inserts at the head).
func (t *Txn) InsertElement(parent, after ID, name string, attrs map[string]string) ID {
	return t.insert(parent, after, KindElement, name, "", attrs)
}

// InsertText inserts a text run into parent directly after the sibling after.
func (t *Txn) InsertText(parent, after ID, text string, attrs map[string]string) ID {
	return t.insert(parent, after, KindText, "", text, attrs)
}

func (t *Txn) insert(parent, after ID, kind ItemKind, name, text string, attrs map[string]string) ID {
	p, ok := t.lookup(parent)
	if !ok {
		return ID{}
	}
	if p.kind != KindElement {
		t.fail(fmt.Errorf("%w: parent %s is not an element", ErrInvalidOp, parent))
		return ID{}
	}
	if !after.IsZero() {
		origin, ok := t.lookup(after)
		if !ok {
			return ID{}
		}
		if origin.parent != p {
			t.fail(fmt.Errorf("%w: %s is not a child of %s", ErrInvalidOp, after, parent))
			return ID{}
		}
	}
	if kind == KindElement && name == "" {
		t.fail(fmt.Errorf("%w: element without name", ErrInvalidOp))
		return ID{}
	}

	id, lamport, ok := t.next()
	if !ok {
		return ID{}
	}
	var copied map[string]string
	if len(attrs) > 0 {
		copied = make(map[string]string, len(attrs))
		for key, value := range attrs {
			copied[key] = value
		}
	}
	t.commit(Op{
		ID:      id,
		Lamport: lamport,
		Kind:    OpInsert,
		Parent:  parent,
		After:   after,
		Item:    kind,
		Name:    name,
		Text:    text,
		Attrs:   copied,
	})
	return id
}

// Append inserts c, including its descendants, as the last child of parent.
func (t *Txn) Append(parent ID, c Content) ID {
	p, ok := t.lookup(parent)
	if !ok {
		return ID{}
	}
	var after ID
	if n := len(p.children); n > 0 {
		after = p.children[n-1].id
	}
	return t.InsertContent(parent, after, c)
}

// InsertContent inserts c, including its descendants, after the sibling after.
func (t *Txn) InsertContent(parent, after ID, c Content) ID {
	id := t.insert(parent, after, c.Kind, c.Name, c.Text, c.Attrs)
	if id.IsZero() || c.Kind != KindElement {
		return id
	}
	var prev ID
	for _, child := range c.Children {
		prev = t.InsertContent(id, prev, child)
		if prev.IsZero() {
			return id
		}
	}
	return id
}

// Delete removes an item. Deleting an already deleted item is a no-op.
func (t *Txn) Delete(target ID) {
	it, ok := t.lookup(target)
	if !ok || it.deleted {
		return
	}
	if it == t.doc.root {
		t.fail(fmt.Errorf("%w: cannot delete the root", ErrInvalidOp))
		return
	}
	id, lamport, ok := t.next()
	if !ok {
		return
	}
	t.commit(Op{ID: id, Lamport: lamport, Kind: OpDelete, Target: target})
}

// SetAttr sets an attribute. The empty value removes it from the visible view.
func (t *Txn) SetAttr(target ID, key, value string) {
	it, ok := t.lookup(target)
	if !ok {
		return
	}
	if it == t.doc.root || key == "" {
		t.fail(fmt.Errorf("%w: invalid attribute target", ErrInvalidOp))
		return
	}
	id, lamport, ok := t.next()
	if !ok {
		return
	}
	t.commit(Op{ID: id, Lamport: lamport, Kind: OpSet, Target: target, Key: key, Value: value})
}

// ClearRoot deletes every visible child of the root fragment and returns how
// many were removed.
func (t *Txn) ClearRoot() int {
	var visible []ID
	for _, child := range t.doc.root.children {
		if !child.deleted {
			visible = append(visible, child.id)
		}
	}
	for _, id := range visible {
		t.Delete(id)
	}
	return len(visible)
}

// Root is the ID of the root fragment.
func Root() ID {
	return ID{}
}
