package answer

import (
	"fmt"
	"strings"
	"time"

	"github.com/knowledge-engine/siteqa/internal/search"
)

// Fixed replies for the terminal states of a query.
const (
	ShortQueryMessage     = "Please ask a more specific question (at least 3 characters)."
	NoMatchesMessage      = "No matching documents were found. Try rephrasing your question or using different keywords."
	NoRelevantInfoMessage = "Sorry, I could not find relevant information for your question."
	TechnicalErrorMessage = "A technical error occurred while processing your question. Please try again later."
	NoSummaryPlaceholder  = "No summary available."
)

// DefaultDateLayout renders publication dates as day.month.year
const DefaultDateLayout = "02.01.2006"

// WordPress publishes local dates without a zone designator.
const sourceDateLayout = "2006-01-02T15:04:05"

// Source is a citation attached to an answer
type Source struct {
	Title      string  `json:"title"`
	Link       string  `json:"link"`
	Similarity float64 `json:"similarity"`
	Date       string  `json:"date"`
}

// Response is what the presentation layer renders
type Response struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Message builds a response that carries only text.
func Message(text string) Response {
	return Response{Answer: text, Sources: []Source{}}
}

type Composer struct {
	DateLayout string
}

func NewComposer(dateLayout string) *Composer {
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	return &Composer{DateLayout: dateLayout}
}

// Compose turns ranked documents into an answer with one citation per document.
func (c *Composer) Compose(query string, ranked []search.RankedDocument) Response {
	if len(ranked) == 0 {
		return Message(NoRelevantInfoMessage)
	}

	var b strings.Builder
	noun := "results"
	if len(ranked) == 1 {
		noun = "result"
	}
	fmt.Fprintf(&b, "Found %d relevant %s for %q:\n\n", len(ranked), noun, strings.TrimSpace(query))

	sources := make([]Source, 0, len(ranked))
	for i, r := range ranked {
		title := search.CleanMarkup(r.Document.Title)
		excerpt := search.CleanMarkup(r.Document.Excerpt)
		if excerpt == "" {
			excerpt = NoSummaryPlaceholder
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, title, excerpt)

		sources = append(sources, Source{
			Title:      title,
			Link:       r.Document.Link,
			Similarity: r.Score,
			Date:       c.FormatDate(r.Document.Date),
		})
	}
	b.WriteString("Visit the source links below for full details.")

	return Response{Answer: b.String(), Sources: sources}
}

// FormatDate renders a source timestamp, or "" when it is missing or malformed.
func (c *Composer) FormatDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	t, err := time.Parse(sourceDateLayout, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return ""
		}
	}
	return t.Format(c.DateLayout)
}
