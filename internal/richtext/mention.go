package richtext

import (
	"fmt"
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// mentionKind is one of the inline mention node types. Mentions were stored
// under three attribute conventions over time and all of them still parse:
//
//	data-task-mention data-task-id data-task-title data-task-issue-key
//	data-type="taskMention" data-id data-label|data-title data-issue-key
//	data-mention-type="task" data-mention-id data-mention-label
type mentionKind struct {
	node   string
	key    string
	glyph  string
	entity bool
}

var mentionKinds = []mentionKind{
	{node: TypeTaskMention, key: "task", glyph: "#", entity: true},
	{node: TypeEpicMention, key: "epic", glyph: "~", entity: true},
	{node: TypeStoryMention, key: "story", glyph: "^", entity: true},
	{node: TypeMilestoneMention, key: "milestone", glyph: "!", entity: true},
	{node: TypeMention, key: "user", glyph: "@"},
}

// MentionGlyph returns the leading glyph rendered for a mention node type.
func MentionGlyph(nodeType string) string {
	for _, kind := range mentionKinds {
		if kind.node == nodeType {
			return kind.glyph
		}
	}
	return ""
}

// MentionNode builds the mention node for kind ("task", "epic", "story",
// "milestone" or "user"). Users carry no issue key.
func MentionNode(kind, id, title, issueKey string) (Node, bool) {
	for _, k := range mentionKinds {
		if k.key != kind {
			continue
		}
		attrs := map[string]string{"id": id}
		if title != "" {
			attrs["title"] = title
		}
		if k.entity && issueKey != "" {
			attrs["issueKey"] = issueKey
		}
		return Node{Type: k.node, Attrs: attrs}, true
	}
	return Node{}, false
}

func (k mentionKind) spec() *nodeSpec {
	return &nodeSpec{
		name:   k.node,
		inline: true,
		match:  k.match,
		attrs:  k.attrs,
		render: k.render,
	}
}

func (k mentionKind) match(n *xhtml.Node) bool {
	if n.DataAtom != atom.Span && n.DataAtom != atom.A {
		return false
	}
	if hasAttr(n, "data-"+k.key+"-mention") {
		return true
	}
	if attr(n, "data-type") == k.node {
		return true
	}
	legacy := attr(n, "data-mention-type")
	return legacy == k.key || (!k.entity && legacy == "mention")
}

func (k mentionKind) attrs(n *xhtml.Node) map[string]string {
	prefix := "data-" + k.key + "-"
	attrs := map[string]string{}
	if id := firstAttr(n, prefix+"id", "data-id", "data-mention-id"); id != "" {
		attrs["id"] = id
	}
	title := firstAttr(n, prefix+"title", prefix+"name", "data-title", "data-label", "data-mention-label")
	if title == "" {
		title = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(textOf(n)), k.glyph))
	}
	if title != "" {
		attrs["title"] = title
	}
	if k.entity {
		if key := firstAttr(n, prefix+"issue-key", "data-issue-key", "data-issuekey", "data-mention-issue-key"); key != "" {
			attrs["issueKey"] = key
		}
	}
	return attrs
}

func (k mentionKind) render(n Node, _ string) string {
	prefix := "data-" + k.key + "-"
	var b strings.Builder
	fmt.Fprintf(&b, `<span data-type="%s" %smention=""`, k.node, prefix)
	writeAttr(&b, prefix+"id", n.Attrs["id"])
	writeAttr(&b, prefix+"title", n.Attrs["title"])
	if k.entity {
		writeAttr(&b, prefix+"issue-key", n.Attrs["issueKey"])
	}
	writeAttr(&b, "data-id", n.Attrs["id"])
	writeAttr(&b, "data-label", n.Attrs["title"])
	b.WriteString(">")
	b.WriteString(html.EscapeString(k.glyph + mentionLabel(n)))
	b.WriteString("</span>")
	return b.String()
}

func mentionLabel(n Node) string {
	for _, key := range []string{"title", "issueKey", "id"} {
		if value := n.Attrs[key]; value != "" {
			return value
		}
	}
	return ""
}

func writeAttr(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, ` %s="%s"`, key, html.EscapeString(value))
}

func firstAttr(n *xhtml.Node, keys ...string) string {
	for _, key := range keys {
		if value := attr(n, key); value != "" {
			return value
		}
	}
	return ""
}

func textOf(n *xhtml.Node) string {
	if n.Type == xhtml.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}
