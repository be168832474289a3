package search

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Document is a single post fetched from the remote source
type Document struct {
	ID      int64
	Title   string // Markup-bearing
	Content string // Markup-bearing
	Excerpt string
	Link    string
	Date    string // As published by the source, unparsed
}

// Text returns the cleaned title and body used for vectorization
func (d Document) Text() string {
	return CleanMarkup(d.Title) + " " + CleanMarkup(d.Content)
}

// minTokenRunes is the shortest token that survives tokenization
const minTokenRunes = 3

// Anything that is not Cyrillic, an ASCII word character or whitespace.
var nonWordRe = regexp.MustCompile(`[^\x{0400}-\x{04FF}\w\s]`)

// Tokenize splits text into normalized tokens (lowercase words)
func Tokenize(text string) []string {
	lowered := nonWordRe.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(lowered)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if utf8.RuneCountInString(field) >= minTokenRunes {
			tokens = append(tokens, field)
		}
	}
	return tokens
}
