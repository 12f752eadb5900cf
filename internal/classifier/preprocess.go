package classifier

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/russross/blackfriday/v2"
)

var (
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((https?://[^\s\)]+)\)`)
	urlPattern          = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

// NormalizeText reduces submitted feedback to plain text: markdown links
// keep their label, markdown is rendered and stripped of markup, bare URLs
// are removed, whitespace is collapsed.
func NormalizeText(input string) string {
	input = markdownLinkPattern.ReplaceAllString(input, "$1")

	html := blackfriday.Run([]byte(input), blackfriday.WithNoExtensions())

	text := string(html)
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
		text = doc.Text()
	}

	text = urlPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
