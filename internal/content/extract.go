package content

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// ExtractText returns the document title and its readable text with
// whitespace collapsed. Truncated documents are fine: the tokenizer stops at
// the end of input.
func ExtractText(r io.Reader) (title, text string) {
	z := html.NewTokenizer(r)

	var body, head strings.Builder
	depth := 0 // nesting inside skipped elements
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapse(head.String()), collapse(body.String())

		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Title:
				inTitle = true
			case skipped[a]:
				depth++
			}
			if blockLevel(a) {
				body.WriteByte(' ')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Title:
				inTitle = false
			case skipped[a] && depth > 0:
				depth--
			}
			if blockLevel(a) {
				body.WriteByte(' ')
			}

		case html.TextToken:
			switch {
			case inTitle:
				head.Write(z.Text())
			case depth == 0:
				body.Write(z.Text())
			}
		}
	}
}

func blockLevel(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Section, atom.Article, atom.Tr, atom.Td, atom.Th, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// compose joins a title and body into the text that gets embedded.
func compose(title, body string) string {
	switch {
	case title == "":
		return body
	case body == "":
		return title
	case strings.HasPrefix(body, title):
		return body
	default:
		return title + "\n" + body
	}
}
