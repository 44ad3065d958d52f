package brandscan

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ContentFormat is the format of fetched page content
type ContentFormat string

const (
	FormatMarkdown ContentFormat = "markdown"
	FormatHTML     ContentFormat = "html"
)

// DefaultMaxContentChars caps reduced content sent to the model
const DefaultMaxContentChars = 15000

// Elements whose content never reaches the model
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"svg":      true,
	"path":     true,
	"iframe":   true,
	"noscript": true,
	"template": true,
}

var (
	mdDataImage   = regexp.MustCompile(`!\[[^\]]*\]\(\s*data:[^)]*\)`)
	inlineBase64  = regexp.MustCompile(`data:[a-zA-Z]+/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
	horizontalWS  = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLineRuns = regexp.MustCompile(`\n\s*\n(\s*\n)+`)
)

// Reduce turns fetched content into compact text for the model.
// maxChars <= 0 uses DefaultMaxContentChars. The result is a rune-safe prefix.
func Reduce(content string, format ContentFormat, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}

	var text string
	switch format {
	case FormatHTML:
		text = reduceHTML(content)
	default:
		text = reduceMarkdown(content)
	}

	return truncateRunes(text, maxChars)
}

func reduceMarkdown(md string) string {
	md = mdDataImage.ReplaceAllString(md, "")
	md = inlineBase64.ReplaceAllString(md, "")
	return collapseWhitespace(md)
}

func reduceHTML(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return collapseWhitespace(src)
	}

	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && droppedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) {
			buf.WriteString("\n")
		}
	}
	f(doc)

	return collapseWhitespace(inlineBase64.ReplaceAllString(buf.String(), ""))
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "header", "footer", "nav", "li", "ul", "ol",
		"h1", "h2", "h3", "h4", "h5", "h6", "br", "tr", "table", "main", "aside", "title":
		return true
	}
	return false
}

// collapseWhitespace squeezes horizontal whitespace and blank line runs
func collapseWhitespace(s string) string {
	s = horizontalWS.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
