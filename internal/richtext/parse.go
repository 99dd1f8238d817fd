package richtext

import (
	"errors"
	"fmt"
	"io"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrMalformed reports HTML whose tags do not nest.
	ErrMalformed = errors.New("richtext: malformed html")
	// ErrTooDeep reports HTML nested beyond maxDepth.
	ErrTooDeep = errors.New("richtext: html nested too deeply")
)

const maxDepth = 100

var voidElements = map[atom.Atom]bool{
	atom.Area:   true,
	atom.Base:   true,
	atom.Br:     true,
	atom.Col:    true,
	atom.Embed:  true,
	atom.Hr:     true,
	atom.Img:    true,
	atom.Input:  true,
	atom.Link:   true,
	atom.Meta:   true,
	atom.Param:  true,
	atom.Source: true,
	atom.Track:  true,
	atom.Wbr:    true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Head:     true,
	atom.Title:    true,
	atom.Template: true,
	atom.Noscript: true,
	atom.Meta:     true,
	atom.Link:     true,
}

// Parse converts description HTML into a document tree. Empty or whitespace-only
// input yields a document holding one empty paragraph. Markup that does not nest
// is rejected with ErrMalformed rather than repaired, so callers can fall back to
// plain text.
func Parse(src string) (Node, error) {
	doc := Node{Type: TypeDoc}
	if strings.TrimSpace(src) == "" {
		doc.Content = []Node{emptyParagraph()}
		return doc, nil
	}
	if err := checkWellFormed(src); err != nil {
		return Node{}, err
	}

	body := &xhtml.Node{Type: xhtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := xhtml.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return Node{}, fmt.Errorf("parse html: %w", err)
	}

	var b blockBuilder
	for _, n := range normalizeRootImages(nodes) {
		if err := b.walk(n, nil, 0); err != nil {
			return Node{}, err
		}
	}
	doc.Content = b.finish()
	return doc, nil
}

// checkWellFormed verifies that every non-void element is closed in order.
func checkWellFormed(src string) error {
	z := xhtml.NewTokenizer(strings.NewReader(src))
	var open []string
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if len(open) > 0 {
				return fmt.Errorf("%w: unclosed <%s>", ErrMalformed, open[len(open)-1])
			}
			return nil
		case xhtml.StartTagToken:
			name, _ := z.TagName()
			if !voidElements[atom.Lookup(name)] {
				open = append(open, string(name))
			}
		case xhtml.EndTagToken:
			raw, _ := z.TagName()
			name := string(raw)
			if len(open) == 0 || open[len(open)-1] != name {
				return fmt.Errorf("%w: unexpected </%s>", ErrMalformed, name)
			}
			open = open[:len(open)-1]
		}
	}
}

// normalizeRootImages wraps images that sit directly at the top level in their
// own paragraph; images are inline content.
func normalizeRootImages(nodes []*xhtml.Node) []*xhtml.Node {
	out := make([]*xhtml.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != xhtml.ElementNode || n.DataAtom != atom.Img {
			out = append(out, n)
			continue
		}
		p := &xhtml.Node{Type: xhtml.ElementNode, Data: "p", DataAtom: atom.P}
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		p.AppendChild(n)
		out = append(out, p)
	}
	return out
}

// blockBuilder collects block nodes. Inline content met at block level is held
// until the next block boundary and then wrapped in a paragraph.
type blockBuilder struct {
	blocks []Node
	inline []Node
}

func (b *blockBuilder) flush() {
	inline := normalizeInline(b.inline)
	b.inline = nil
	if len(inline) > 0 {
		b.blocks = append(b.blocks, Node{Type: TypeParagraph, Content: inline})
	}
}

// finish returns the collected blocks, never fewer than one.
func (b *blockBuilder) finish() []Node {
	b.flush()
	if len(b.blocks) == 0 {
		return []Node{emptyParagraph()}
	}
	return b.blocks
}

func (b *blockBuilder) walk(n *xhtml.Node, marks []Mark, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	switch n.Type {
	case xhtml.TextNode:
		b.inline = append(b.inline, Node{Type: TypeText, Text: n.Data, Marks: marks})
		return nil
	case xhtml.ElementNode:
	default:
		return nil
	}
	if skippedElements[n.DataAtom] {
		return nil
	}

	if spec := matchBlock(n); spec != nil {
		b.flush()
		block, err := parseBlock(spec, n, marks, depth)
		if err != nil {
			return err
		}
		b.blocks = append(b.blocks, block)
		return nil
	}
	if spec := matchInline(n); spec != nil {
		b.inline = append(b.inline, atomNode(spec, n))
		return nil
	}

	marks = mergeMarks(marks, marksFor(n))
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := b.walk(c, marks, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func parseBlock(spec *nodeSpec, n *xhtml.Node, marks []Mark, depth int) (Node, error) {
	if depth > maxDepth {
		return Node{}, ErrTooDeep
	}
	node := Node{Type: spec.name}
	if spec.attrs != nil {
		if attrs := spec.attrs(n); len(attrs) > 0 {
			node.Attrs = attrs
		}
	}

	var err error
	switch spec.content {
	case contentInline:
		var inline []Node
		for c := n.FirstChild; c != nil && err == nil; c = c.NextSibling {
			err = walkInline(&inline, c, marks, depth+1)
		}
		node.Content = normalizeInline(inline)
	case contentBlocks:
		var b blockBuilder
		for c := n.FirstChild; c != nil && err == nil; c = c.NextSibling {
			err = b.walk(c, marks, depth+1)
		}
		node.Content = b.finish()
	case contentItems:
		node.Content, err = parseItems(n, marks, depth+1)
	case contentRows:
		var rows []Node
		err = collectRows(&rows, n, depth+1)
		if len(rows) == 0 {
			rows = []Node{emptyRow()}
		}
		node.Content = rows
	case contentCells:
		node.Content, err = parseCells(n, depth+1)
	case contentCode:
		if text := textOf(n); text != "" {
			node.Content = []Node{{Type: TypeText, Text: text}}
		}
	}
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

// parseItems returns the list items of a list. Stray content between items is
// gathered into an item of its own.
func parseItems(n *xhtml.Node, marks []Mark, depth int) ([]Node, error) {
	itemSpec := specsByName[TypeListItem]
	var items []Node
	var stray *blockBuilder
	flushStray := func() {
		if stray == nil {
			return
		}
		if blocks := stray.finish(); !isBlank(blocks) {
			items = append(items, Node{Type: TypeListItem, Content: blocks})
		}
		stray = nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xhtml.ElementNode && c.DataAtom == atom.Li {
			flushStray()
			item, err := parseBlock(itemSpec, c, marks, depth)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			continue
		}
		if stray == nil {
			stray = &blockBuilder{}
		}
		if err := stray.walk(c, marks, depth); err != nil {
			return nil, err
		}
	}
	flushStray()
	if len(items) == 0 {
		items = []Node{{Type: TypeListItem, Content: []Node{emptyParagraph()}}}
	}
	return items, nil
}

// collectRows finds table rows, looking through thead, tbody and tfoot.
func collectRows(rows *[]Node, n *xhtml.Node, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	rowSpec := specsByName[TypeTableRow]
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xhtml.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Tr:
			row, err := parseBlock(rowSpec, c, nil, depth)
			if err != nil {
				return err
			}
			*rows = append(*rows, row)
		case atom.Thead, atom.Tbody, atom.Tfoot:
			if err := collectRows(rows, c, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseCells(n *xhtml.Node, depth int) ([]Node, error) {
	var cells []Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xhtml.ElementNode {
			continue
		}
		spec := matchBlock(c)
		if spec == nil || (spec.name != TypeTableCell && spec.name != TypeTableHeader) {
			continue
		}
		cell, err := parseBlock(spec, c, nil, depth)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	if len(cells) == 0 {
		cells = []Node{emptyCell()}
	}
	return cells, nil
}

func walkInline(out *[]Node, n *xhtml.Node, marks []Mark, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	switch n.Type {
	case xhtml.TextNode:
		*out = append(*out, Node{Type: TypeText, Text: n.Data, Marks: marks})
		return nil
	case xhtml.ElementNode:
	default:
		return nil
	}
	if skippedElements[n.DataAtom] {
		return nil
	}
	if spec := matchInline(n); spec != nil {
		*out = append(*out, atomNode(spec, n))
		return nil
	}
	marks = mergeMarks(marks, marksFor(n))
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := walkInline(out, c, marks, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func atomNode(spec *nodeSpec, n *xhtml.Node) Node {
	node := Node{Type: spec.name}
	if spec.attrs != nil {
		if attrs := spec.attrs(n); len(attrs) > 0 {
			node.Attrs = attrs
		}
	}
	return node
}

// normalizeInline collapses HTML whitespace, merges adjacent text runs that carry
// the same marks and trims the run at its edges and around hard breaks.
func normalizeInline(nodes []Node) []Node {
	var out []Node
	for _, n := range nodes {
		if n.Type != TypeText {
			if n.Type == TypeHardBreak {
				out = trimTrailingSpace(out)
			}
			out = append(out, n)
			continue
		}
		text := collapseSpace(n.Text)
		if len(out) == 0 || out[len(out)-1].Type == TypeHardBreak || endsWithSpace(out) {
			text = strings.TrimLeft(text, " ")
		}
		if text == "" {
			continue
		}
		if last := len(out) - 1; last >= 0 && out[last].Type == TypeText && marksEqual(out[last].Marks, n.Marks) {
			out[last].Text += text
			continue
		}
		out = append(out, Node{Type: TypeText, Text: text, Marks: n.Marks})
	}
	return trimTrailingSpace(out)
}

func trimTrailingSpace(nodes []Node) []Node {
	last := len(nodes) - 1
	if last < 0 || nodes[last].Type != TypeText {
		return nodes
	}
	nodes[last].Text = strings.TrimRight(nodes[last].Text, " ")
	if nodes[last].Text == "" {
		return nodes[:last]
	}
	return nodes
}

func endsWithSpace(nodes []Node) bool {
	last := nodes[len(nodes)-1]
	return last.Type == TypeText && strings.HasSuffix(last.Text, " ")
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			if !space {
				b.WriteByte(' ')
			}
			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}

func isBlank(blocks []Node) bool {
	return len(blocks) == 1 && blocks[0].Type == TypeParagraph && len(blocks[0].Content) == 0
}

func emptyCell() Node {
	return Node{Type: TypeTableCell, Content: []Node{emptyParagraph()}}
}

func emptyRow() Node {
	return Node{Type: TypeTableRow, Content: []Node{emptyCell()}}
}
