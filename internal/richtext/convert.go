package richtext

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"docsync/api/internal/crdt"
)

// markPrefix namespaces mark attributes on text items.
const markPrefix = "mark:"

// SeedMode reports how a document was seeded.
type SeedMode string

const (
	SeedEmpty      SeedMode = "empty"
	SeedStructured SeedMode = "structured"
	SeedPlainText  SeedMode = "plaintext"
)

// SeedResult describes one seeding transaction. Err holds the conversion or
// transaction failure that forced a fallback.
type SeedResult struct {
	Mode    SeedMode
	Cleared int
	Update  crdt.Update
	Err     error
}

// Seed replaces the whole content of doc with src in a single transaction.
// Existing root children are removed first. Empty input yields one empty
// paragraph and HTML that cannot be converted is inserted as one paragraph of
// its plain text, so the document always ends up with at least one block.
func Seed(doc *crdt.Doc, src string) SeedResult {
	res := SeedResult{Mode: SeedStructured}
	var blocks []crdt.Content
	if strings.TrimSpace(src) == "" {
		res.Mode = SeedEmpty
		blocks = []crdt.Content{emptyParagraphContent()}
	} else if converted, err := convert(src); err != nil {
		res.Mode = SeedPlainText
		res.Err = err
		blocks = plainBlocks(src)
	} else {
		blocks = converted
	}
	return seedBlocks(doc, res, blocks)
}

// seedBlocks runs the seeding transaction. A transaction that fails after
// clearing the root is followed by a second one restoring an empty paragraph.
func seedBlocks(doc *crdt.Doc, res SeedResult, blocks []crdt.Content) SeedResult {
	update, err := doc.Transact(func(tx *crdt.Txn) {
		res.Cleared = tx.ClearRoot()
		for _, block := range blocks {
			tx.Append(crdt.Root(), block)
		}
	})
	res.Update = update
	if err == nil {
		return res
	}
	res.Err = errors.Join(res.Err, fmt.Errorf("seed document: %w", err))
	if !doc.IsEmpty() {
		return res
	}
	res.Mode = SeedEmpty
	repair, err := doc.Transact(func(tx *crdt.Txn) {
		tx.Append(crdt.Root(), emptyParagraphContent())
	})
	res.Update.Ops = append(res.Update.Ops, repair.Ops...)
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("restore empty paragraph: %w", err))
	}
	return res
}

func emptyParagraphContent() crdt.Content {
	return crdt.Element(TypeParagraph, nil)
}

func convert(src string) (blocks []crdt.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert html: %v", r)
		}
	}()
	tree, err := Parse(src)
	if err != nil {
		return nil, err
	}
	for _, child := range tree.Content {
		content, err := toContent(child)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, content)
	}
	if len(blocks) == 0 {
		blocks = []crdt.Content{emptyParagraphContent()}
	}
	return blocks, nil
}

func plainBlocks(src string) []crdt.Content {
	text := PlainText(src)
	if text == "" {
		return []crdt.Content{emptyParagraphContent()}
	}
	return []crdt.Content{crdt.Element(TypeParagraph, nil, crdt.Text(text, nil))}
}

// toContent transforms a tree node into insertable document content.
func toContent(n Node) (crdt.Content, error) {
	if n.Type == TypeText {
		if n.Text == "" {
			return crdt.Content{}, fmt.Errorf("transform node: empty text")
		}
		attrs, err := encodeMarks(n.Marks)
		if err != nil {
			return crdt.Content{}, err
		}
		return crdt.Text(n.Text, attrs), nil
	}
	if _, ok := specsByName[n.Type]; !ok {
		return crdt.Content{}, fmt.Errorf("transform node: unknown type %q", n.Type)
	}
	el := crdt.Element(n.Type, n.Attrs)
	for _, child := range n.Content {
		if child.Type == TypeText && child.Text == "" {
			continue
		}
		content, err := toContent(child)
		if err != nil {
			return crdt.Content{}, err
		}
		el.Children = append(el.Children, content)
	}
	return el, nil
}

func encodeMarks(marks []Mark) (map[string]string, error) {
	if len(marks) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(marks))
	for _, mark := range marks {
		if _, ok := markRank[mark.Type]; !ok {
			return nil, fmt.Errorf("transform mark: unknown type %q", mark.Type)
		}
		value := "true"
		if len(mark.Attrs) > 0 {
			raw, err := json.Marshal(mark.Attrs)
			if err != nil {
				return nil, fmt.Errorf("encode mark %s: %w", mark.Type, err)
			}
			value = string(raw)
		}
		attrs[markPrefix+mark.Type] = value
	}
	return attrs, nil
}

func decodeMarks(attrs map[string]string) []Mark {
	var marks []Mark
	for key, value := range attrs {
		name, ok := strings.CutPrefix(key, markPrefix)
		if !ok {
			continue
		}
		if _, known := markRank[name]; !known {
			continue
		}
		mark := Mark{Type: name}
		if value != "true" {
			var markAttrs map[string]string
			if err := json.Unmarshal([]byte(value), &markAttrs); err == nil && len(markAttrs) > 0 {
				mark.Attrs = markAttrs
			}
		}
		marks = append(marks, mark)
	}
	sort.Slice(marks, func(i, j int) bool {
		return markRank[marks[i].Type] < markRank[marks[j].Type]
	})
	return marks
}

// FromNodes converts materialized document content back into a tree. Adjacent
// text items with the same marks are joined.
func FromNodes(nodes []crdt.Node) []Node {
	var out []Node
	for _, n := range nodes {
		if n.Kind == crdt.KindText {
			if n.Text == "" {
				continue
			}
			marks := decodeMarks(n.Attrs)
			if last := len(out) - 1; last >= 0 && out[last].Type == TypeText && marksEqual(out[last].Marks, marks) {
				out[last].Text += n.Text
				continue
			}
			out = append(out, Node{Type: TypeText, Text: n.Text, Marks: marks})
			continue
		}
		node := Node{Type: n.Name, Content: FromNodes(n.Children)}
		if len(n.Attrs) > 0 {
			node.Attrs = n.Attrs
		}
		out = append(out, node)
	}
	return out
}

// FromDoc returns the current content of doc as a tree.
func FromDoc(doc *crdt.Doc) Node {
	return Node{Type: TypeDoc, Content: FromNodes(doc.Root())}
}

// DocHTML renders the current content of doc as HTML.
func DocHTML(doc *crdt.Doc) string {
	return RenderHTML(FromDoc(doc))
}
