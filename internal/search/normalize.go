package search

import (
	"strings"

	"golang.org/x/net/html"
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#039;", "'",
	"&hellip;", "…",
)

// Elements whose boundaries separate words in the rendered page.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "td": true, "th": true, "blockquote": true, "figcaption": true,
}

// CleanMarkup strips tags from an HTML fragment and returns its visible text.
// Script and style bodies are dropped by the tokenizer without being run.
func CleanMarkup(raw string) string {
	if raw == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	var textBuilder strings.Builder
	skipDepth := 0

	for {
		tokenType := tokenizer.Next()

		switch tokenType {
		case html.ErrorToken:
			return collapse(entityReplacer.Replace(textBuilder.String()))

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tokenType == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockElements[tag] {
				textBuilder.WriteByte(' ')
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
				continue
			}
			if blockElements[tag] {
				textBuilder.WriteByte(' ')
			}

		case html.TextToken:
			if skipDepth == 0 {
				// Raw keeps entities encoded so only the fixed set is decoded.
				textBuilder.Write(tokenizer.Raw())
			}
		}
	}
}

// collapse removes excessive whitespace
func collapse(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
