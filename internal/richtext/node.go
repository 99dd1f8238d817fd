// Package richtext converts stored description HTML into collaborative document
// content and back.
package richtext

import (
	"maps"
	"slices"
)

// Node types of the editor schema.
const (
	TypeDoc            = "doc"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeBlockquote     = "blockquote"
	TypeCodeBlock      = "codeBlock"
	TypeBulletList     = "bulletList"
	TypeOrderedList    = "orderedList"
	TypeListItem       = "listItem"
	TypeHorizontalRule = "horizontalRule"
	TypeTable          = "table"
	TypeTableRow       = "tableRow"
	TypeTableCell      = "tableCell"
	TypeTableHeader    = "tableHeader"
	TypeHardBreak      = "hardBreak"
	TypeImage          = "image"
	TypeText           = "text"

	TypeMention          = "mention"
	TypeTaskMention      = "taskMention"
	TypeEpicMention      = "epicMention"
	TypeStoryMention     = "storyMention"
	TypeMilestoneMention = "milestoneMention"
)

// Mark types.
const (
	MarkBold      = "bold"
	MarkItalic    = "italic"
	MarkUnderline = "underline"
	MarkStrike    = "strike"
	MarkCode      = "code"
	MarkLink      = "link"
	MarkTextStyle = "textStyle"
)

// Node is the intermediate document tree shared by the HTML parser, the
// renderer and the CRDT transform. Its shape follows the editor's JSON model.
type Node struct {
	Type    string            `json:"type"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Content []Node            `json:"content,omitempty"`
	Text    string            `json:"text,omitempty"`
	Marks   []Mark            `json:"marks,omitempty"`
}

// Mark is inline formatting applied to a text node.
type Mark struct {
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func (m Mark) equal(other Mark) bool {
	return m.Type == other.Type && maps.Equal(m.Attrs, other.Attrs)
}

func marksEqual(a, b []Mark) bool {
	return slices.EqualFunc(a, b, Mark.equal)
}

// TextContent concatenates the text of n and its descendants.
func (n Node) TextContent() string {
	if n.Type == TypeText {
		return n.Text
	}
	var out string
	for _, child := range n.Content {
		out += child.TextContent()
	}
	return out
}

func emptyParagraph() Node {
	return Node{Type: TypeParagraph}
}
