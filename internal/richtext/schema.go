package richtext

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type contentKind int

const (
	contentNone contentKind = iota
	contentInline
	contentBlocks
	contentItems
	contentRows
	contentCells
	contentCode
)

// nodeSpec describes one node type: how to recognise it in HTML, which
// attributes it carries and how it renders.
type nodeSpec struct {
	name    string
	inline  bool
	content contentKind
	match   func(n *xhtml.Node) bool
	attrs   func(n *xhtml.Node) map[string]string
	render  func(n Node, inner string) string
}

// markSpec describes one mark type. parse returns the mark carried by an
// element, if any.
type markSpec struct {
	name     string
	parse    func(n *xhtml.Node) (Mark, bool)
	openTag  func(m Mark) string
	closeTag string
}

var (
	blockSpecs  []*nodeSpec
	inlineSpecs []*nodeSpec
	specsByName = map[string]*nodeSpec{}
	markSpecs   []*markSpec
	markRank    = map[string]int{}
)

func register(spec *nodeSpec) {
	if spec.inline {
		inlineSpecs = append(inlineSpecs, spec)
	} else {
		blockSpecs = append(blockSpecs, spec)
	}
	specsByName[spec.name] = spec
}

func registerMark(spec *markSpec) {
	markRank[spec.name] = len(markSpecs)
	markSpecs = append(markSpecs, spec)
}

func init() {
	register(&nodeSpec{
		name:    TypeParagraph,
		content: contentInline,
		match:   isTag(atom.P),
		attrs:   textAlignAttrs,
		render: func(n Node, inner string) string {
			return fmt.Sprintf("<p%s>%s</p>\n", alignStyle(n), inner)
		},
	})
	register(&nodeSpec{
		name:    TypeHeading,
		content: contentInline,
		match:   isTag(atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6),
		attrs: func(n *xhtml.Node) map[string]string {
			attrs := textAlignAttrs(n)
			if attrs == nil {
				attrs = map[string]string{}
			}
			attrs["level"] = n.Data[1:]
			return attrs
		},
		render: func(n Node, inner string) string {
			level := headingLevel(n)
			return fmt.Sprintf("<h%d%s>%s</h%d>\n", level, alignStyle(n), inner, level)
		},
	})
	register(&nodeSpec{
		name:    TypeBlockquote,
		content: contentBlocks,
		match:   isTag(atom.Blockquote),
		render: func(_ Node, inner string) string {
			return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", inner)
		},
	})
	register(&nodeSpec{
		name:    TypeCodeBlock,
		content: contentCode,
		match:   isTag(atom.Pre),
		attrs:   codeBlockAttrs,
		render: func(n Node, inner string) string {
			if lang := n.Attrs["language"]; lang != "" {
				return fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>\n", html.EscapeString(lang), inner)
			}
			return fmt.Sprintf("<pre><code>%s</code></pre>\n", inner)
		},
	})
	register(&nodeSpec{
		name:    TypeBulletList,
		content: contentItems,
		match:   isTag(atom.Ul),
		render: func(_ Node, inner string) string {
			return fmt.Sprintf("<ul>\n%s</ul>\n", inner)
		},
	})
	register(&nodeSpec{
		name:    TypeOrderedList,
		content: contentItems,
		match:   isTag(atom.Ol),
		attrs: func(n *xhtml.Node) map[string]string {
			if start := attr(n, "start"); start != "" && start != "1" {
				if _, err := strconv.Atoi(start); err == nil {
					return map[string]string{"start": start}
				}
			}
			return nil
		},
		render: func(n Node, inner string) string {
			if start := n.Attrs["start"]; start != "" {
				return fmt.Sprintf("<ol start=\"%s\">\n%s</ol>\n", html.EscapeString(start), inner)
			}
			return fmt.Sprintf("<ol>\n%s</ol>\n", inner)
		},
	})
	register(&nodeSpec{
		name:    TypeListItem,
		content: contentBlocks,
		match:   isTag(atom.Li),
		render: func(_ Node, inner string) string {
			return fmt.Sprintf("<li>%s</li>\n", inner)
		},
	})
	register(&nodeSpec{
		name:  TypeHorizontalRule,
		match: isTag(atom.Hr),
		render: func(Node, string) string {
			return "<hr>\n"
		},
	})
	register(&nodeSpec{
		name:    TypeTable,
		content: contentRows,
		match:   isTag(atom.Table),
		render: func(_ Node, inner string) string {
			return fmt.Sprintf("<table>\n<tbody>\n%s</tbody>\n</table>\n", inner)
		},
	})
	register(&nodeSpec{
		name:    TypeTableRow,
		content: contentCells,
		match:   isTag(atom.Tr),
		render: func(_ Node, inner string) string {
			return fmt.Sprintf("<tr>\n%s</tr>\n", inner)
		},
	})
	register(&nodeSpec{
		name:    TypeTableHeader,
		content: contentBlocks,
		match:   isTag(atom.Th),
		attrs:   cellAttrs,
		render: func(n Node, inner string) string {
			return fmt.Sprintf("<th%s>%s</th>\n", cellSpan(n), inner)
		},
	})
	register(&nodeSpec{
		name:    TypeTableCell,
		content: contentBlocks,
		match:   isTag(atom.Td),
		attrs:   cellAttrs,
		render: func(n Node, inner string) string {
			return fmt.Sprintf("<td%s>%s</td>\n", cellSpan(n), inner)
		},
	})

	for _, kind := range mentionKinds {
		register(kind.spec())
	}
	register(&nodeSpec{
		name:   TypeImage,
		inline: true,
		match:  isTag(atom.Img),
		attrs:  imageAttrs,
		render: renderImage,
	})
	register(&nodeSpec{
		name:   TypeHardBreak,
		inline: true,
		match:  isTag(atom.Br),
		render: func(Node, string) string {
			return "<br>"
		},
	})

	registerMark(&markSpec{
		name: MarkLink,
		parse: func(n *xhtml.Node) (Mark, bool) {
			if n.DataAtom != atom.A || attr(n, "href") == "" {
				return Mark{}, false
			}
			attrs := map[string]string{"href": attr(n, "href")}
			if target := attr(n, "target"); target != "" {
				attrs["target"] = target
			}
			return Mark{Type: MarkLink, Attrs: attrs}, true
		},
		openTag: func(m Mark) string {
			if target := m.Attrs["target"]; target != "" {
				return fmt.Sprintf(`<a href="%s" target="%s">`, html.EscapeString(m.Attrs["href"]), html.EscapeString(target))
			}
			return fmt.Sprintf(`<a href="%s">`, html.EscapeString(m.Attrs["href"]))
		},
		closeTag: "</a>",
	})
	registerMark(&markSpec{
		name: MarkTextStyle,
		parse: func(n *xhtml.Node) (Mark, bool) {
			color := styleValue(n, "color")
			if n.DataAtom == atom.Font && color == "" {
				color = attr(n, "color")
			}
			if color == "" {
				return Mark{}, false
			}
			return Mark{Type: MarkTextStyle, Attrs: map[string]string{"color": color}}, true
		},
		openTag: func(m Mark) string {
			return fmt.Sprintf(`<span style="color: %s">`, html.EscapeString(m.Attrs["color"]))
		},
		closeTag: "</span>",
	})
	registerMark(simpleMark(MarkBold, "strong", func(n *xhtml.Node) bool {
		if n.DataAtom == atom.Strong || n.DataAtom == atom.B {
			return true
		}
		switch weight := styleValue(n, "font-weight"); weight {
		case "bold", "bolder":
			return true
		default:
			w, err := strconv.Atoi(weight)
			return err == nil && w >= 600
		}
	}))
	registerMark(simpleMark(MarkItalic, "em", func(n *xhtml.Node) bool {
		return n.DataAtom == atom.Em || n.DataAtom == atom.I || styleValue(n, "font-style") == "italic"
	}))
	registerMark(simpleMark(MarkUnderline, "u", func(n *xhtml.Node) bool {
		return n.DataAtom == atom.U || strings.Contains(styleValue(n, "text-decoration"), "underline")
	}))
	registerMark(simpleMark(MarkStrike, "s", func(n *xhtml.Node) bool {
		return n.DataAtom == atom.S || n.DataAtom == atom.Del || n.DataAtom == atom.Strike ||
			strings.Contains(styleValue(n, "text-decoration"), "line-through")
	}))
	registerMark(simpleMark(MarkCode, "code", isTag(atom.Code)))
}

func simpleMark(name, tag string, match func(n *xhtml.Node) bool) *markSpec {
	return &markSpec{
		name: name,
		parse: func(n *xhtml.Node) (Mark, bool) {
			if !match(n) {
				return Mark{}, false
			}
			return Mark{Type: name}, true
		},
		openTag:  func(Mark) string { return "<" + tag + ">" },
		closeTag: "</" + tag + ">",
	}
}

func matchBlock(n *xhtml.Node) *nodeSpec {
	for _, spec := range blockSpecs {
		if spec.match(n) {
			return spec
		}
	}
	return nil
}

func matchInline(n *xhtml.Node) *nodeSpec {
	for _, spec := range inlineSpecs {
		if spec.match(n) {
			return spec
		}
	}
	return nil
}

// marksFor returns every mark an element contributes, in render order.
func marksFor(n *xhtml.Node) []Mark {
	var marks []Mark
	for _, spec := range markSpecs {
		if mark, ok := spec.parse(n); ok {
			marks = append(marks, mark)
		}
	}
	return marks
}

// mergeMarks adds inner to outer, keeping one mark per type (the innermost wins)
// and sorting by render order.
func mergeMarks(outer, inner []Mark) []Mark {
	if len(inner) == 0 {
		return outer
	}
	merged := make([]Mark, 0, len(outer)+len(inner))
	for _, mark := range outer {
		if !containsMarkType(inner, mark.Type) {
			merged = append(merged, mark)
		}
	}
	merged = append(merged, inner...)
	sort.SliceStable(merged, func(i, j int) bool {
		return markRank[merged[i].Type] < markRank[merged[j].Type]
	})
	return merged
}

func containsMarkType(marks []Mark, typ string) bool {
	for _, mark := range marks {
		if mark.Type == typ {
			return true
		}
	}
	return false
}

func isTag(atoms ...atom.Atom) func(n *xhtml.Node) bool {
	return func(n *xhtml.Node) bool {
		for _, a := range atoms {
			if n.DataAtom == a {
				return true
			}
		}
		return false
	}
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *xhtml.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

// styleValue reads one declaration from an inline style attribute.
func styleValue(n *xhtml.Node, property string) string {
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), property) {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

func textAlignAttrs(n *xhtml.Node) map[string]string {
	switch align := styleValue(n, "text-align"); align {
	case "center", "right", "justify":
		return map[string]string{"textAlign": align}
	}
	return nil
}

func alignStyle(n Node) string {
	if align := n.Attrs["textAlign"]; align != "" {
		return fmt.Sprintf(` style="text-align: %s"`, html.EscapeString(align))
	}
	return ""
}

func headingLevel(n Node) int {
	level, err := strconv.Atoi(n.Attrs["level"])
	if err != nil || level < 1 || level > 6 {
		return 1
	}
	return level
}

func codeBlockAttrs(n *xhtml.Node) map[string]string {
	lang := attr(n, "data-language")
	for c := n.FirstChild; c != nil && lang == ""; c = c.NextSibling {
		if c.DataAtom != atom.Code {
			continue
		}
		for _, class := range strings.Fields(attr(c, "class")) {
			if after, ok := strings.CutPrefix(class, "language-"); ok {
				lang = after
				break
			}
		}
	}
	if lang == "" {
		return nil
	}
	return map[string]string{"language": lang}
}

func cellAttrs(n *xhtml.Node) map[string]string {
	var attrs map[string]string
	for _, key := range []string{"colspan", "rowspan"} {
		value := attr(n, key)
		if value == "" || value == "1" {
			continue
		}
		if _, err := strconv.Atoi(value); err != nil {
			continue
		}
		if attrs == nil {
			attrs = map[string]string{}
		}
		attrs[key] = value
	}
	return attrs
}

func cellSpan(n Node) string {
	var b strings.Builder
	for _, key := range []string{"colspan", "rowspan"} {
		if value := n.Attrs[key]; value != "" {
			fmt.Fprintf(&b, ` %s="%s"`, key, html.EscapeString(value))
		}
	}
	return b.String()
}

func imageAttrs(n *xhtml.Node) map[string]string {
	attrs := map[string]string{}
	for _, key := range []string{"src", "alt", "title"} {
		if value := attr(n, key); value != "" {
			attrs[key] = value
		}
	}
	for _, key := range []string{"width", "height"} {
		value := attr(n, key)
		if value == "" {
			value = attr(n, "data-"+key)
		}
		if value == "" {
			value = strings.TrimSuffix(styleValue(n, key), "px")
		}
		if value != "" {
			attrs[key] = value
		}
	}
	return attrs
}

func renderImage(n Node, _ string) string {
	var b strings.Builder
	b.WriteString("<img")
	for _, key := range []string{"src", "alt", "title", "width", "height"} {
		if value := n.Attrs[key]; value != "" {
			fmt.Fprintf(&b, ` %s="%s"`, key, html.EscapeString(value))
		}
	}
	b.WriteString(">")
	return b.String()
}
