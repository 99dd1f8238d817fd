package richtext

import (
	"html"
	"strings"
)

// RenderHTML renders a document tree back to HTML that Parse accepts.
func RenderHTML(n Node) string {
	var b strings.Builder
	renderNode(&b, n)
	return b.String()
}

func renderNode(b *strings.Builder, n Node) {
	switch n.Type {
	case TypeDoc:
		renderContent(b, n.Content)
	case TypeText:
		b.WriteString(renderTextWithMarks(n.Text, n.Marks))
	default:
		spec, ok := specsByName[n.Type]
		if !ok {
			// Unknown node type - render content if any
			renderContent(b, n.Content)
			return
		}
		var inner strings.Builder
		renderContent(&inner, n.Content)
		b.WriteString(spec.render(n, inner.String()))
	}
}

func renderContent(b *strings.Builder, content []Node) {
	for _, child := range content {
		renderNode(b, child)
	}
}

// renderTextWithMarks escapes text and wraps it in its marks, the first mark
// outermost.
func renderTextWithMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		spec := markSpecFor(marks[i].Type)
		if spec == nil {
			continue
		}
		out = spec.openTag(marks[i]) + out + spec.closeTag
	}
	return out
}

func markSpecFor(name string) *markSpec {
	rank, ok := markRank[name]
	if !ok {
		return nil
	}
	return markSpecs[rank]
}
