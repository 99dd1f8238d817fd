package richtext

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<\s*/?\s*([a-zA-Z][a-zA-Z0-9]*)?[^>]*>`)

// separatingTags end a run of text; every other tag is removed without a gap so
// markup inside a word does not split it.
var separatingTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "img": true, "li": true, "ol": true, "p": true, "pre": true,
	"script": true, "section": true, "style": true, "table": true, "tbody": true, "td": true,
	"tfoot": true, "th": true, "thead": true, "tr": true, "ul": true,
}

// PlainText strips every tag from src, decodes entities and collapses
// whitespace. It never fails, whatever the input.
func PlainText(src string) string {
	text := tagPattern.ReplaceAllStringFunc(src, func(tag string) string {
		m := tagPattern.FindStringSubmatch(tag)
		if len(m) > 1 && separatingTags[strings.ToLower(m[1])] {
			return " "
		}
		return ""
	})
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
