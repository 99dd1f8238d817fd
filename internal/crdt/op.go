package crdt

import "fmt"

// OpKind names an operation type.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
	OpSet    OpKind = "set"
)

// Op is a single replicated operation.
type Op struct {
	ID      ID     `json:"id"`
	Lamport uint64 `json:"lamport"`
	Kind    OpKind `json:"kind"`

	// Insert
	Parent ID                `json:"parent"`
	After  ID                `json:"after"`
	Item   ItemKind          `json:"item,omitempty"`
	Name   string            `json:"name,omitempty"`
	Text   string            `json:"text,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`

	// Delete and set
	Target ID     `json:"target"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
}

const (
	// MaxLamport bounds every timestamp so it stays exact in a JavaScript number.
	MaxLamport = 1<<53 - 1
	// MaxLamportSkew bounds how far an applied update may advance a replica's
	// Lamport clock past its current value.
	MaxLamportSkew = 1 << 20
)

// Update is a batch of operations exchanged between replicas.
type Update struct {
	Ops []Op `json:"ops"`
}

// Empty reports whether the update carries no operations.
func (u Update) Empty() bool {
	return len(u.Ops) == 0
}

func (op Op) validate() error {
	if op.ID.Client == 0 || op.ID.Clock == 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidOp)
	}
	if op.Lamport == 0 {
		return fmt.Errorf("%w: missing lamport timestamp", ErrInvalidOp)
	}
	if op.Lamport > MaxLamport {
		return fmt.Errorf("%w: lamport timestamp %d out of range", ErrInvalidOp, op.Lamport)
	}
	switch op.Kind {
	case OpInsert:
		switch op.Item {
		case KindElement:
			if op.Name == "" {
				return fmt.Errorf("%w: element without name", ErrInvalidOp)
			}
		case KindText:
		default:
			return fmt.Errorf("%w: unknown item kind %q", ErrInvalidOp, op.Item)
		}
	case OpDelete:
		if op.Target.IsZero() {
			return fmt.Errorf("%w: delete without target", ErrInvalidOp)
		}
	case OpSet:
		if op.Target.IsZero() || op.Key == "" {
			return fmt.Errorf("%w: set without target or key", ErrInvalidOp)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

// Node is a read-only view of a visible item.
type Node struct {
	ID       ID                `json:"id"`
	Kind     ItemKind          `json:"kind"`
	Name     string            `json:"name,omitempty"`
	Text     string            `json:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

// Content describes a subtree to insert.
type Content struct {
	Kind     ItemKind
	Name     string
	Text     string
	Attrs    map[string]string
	Children []Content
}

// Element builds element content.
func Element(name string, attrs map[string]string, children ...Content) Content {
	return Content{Kind: KindElement, Name: name, Attrs: attrs, Children: children}
}

// Text builds text content.
func Text(text string, attrs map[string]string) Content {
	return Content{Kind: KindText, Text: text, Attrs: attrs}
}
