package search_test

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/siteqa/internal/search"
)

func newRanker() *search.Ranker {
	return search.NewRanker(search.DefaultMinSimilarity, logrus.New().WithField("test", "ranker"))
}

func rankingCorpus() []search.Document {
	return []search.Document{
		{ID: 10, Title: "Cooking", Content: "<p>pasta recipes</p>"},
		{ID: 11, Title: "Golang", Content: "basics tutorial"},
		{ID: 12, Title: "Golang concurrency", Content: "<p>channels explained</p>"},
		{ID: 13, Title: "Gardening", Content: "tomatoes outdoors"},
		{ID: 14, Title: "Football", Content: "league results"},
		{ID: 15, Title: "Concurrency", Content: "patterns overview"},
	}
}

func ids(results []search.RankedDocument) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.Document.ID
	}
	return out
}

func TestRanker_OrdersByDescendingScore(t *testing.T) {
	results := newRanker().Rank("golang concurrency channels", rankingCorpus(), 5)

	// Irrelevant posts score 0 and are dropped; 11 and 15 tie and keep input order.
	require.Equal(t, []int64{12, 11, 15}, ids(results))
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, results[1].Score, results[2].Score, 1e-12)
	assert.Equal(t, 2, results[0].Index)

	for _, r := range results {
		assert.Greater(t, r.Score, search.DefaultMinSimilarity)
		assert.LessOrEqual(t, r.Score, 1.0+1e-9)
	}
}

func TestRanker_TruncatesToTopK(t *testing.T) {
	results := newRanker().Rank("golang concurrency channels", rankingCorpus(), 2)
	assert.Equal(t, []int64{12, 11}, ids(results))
}

func TestRanker_DefaultTopK(t *testing.T) {
	var docs []search.Document
	for i := 0; i < 6; i++ {
		docs = append(docs, search.Document{ID: int64(i), Title: "kubernetes", Content: fmt.Sprintf("topic%d", i)})
	}
	for i := 0; i < 10; i++ {
		docs = append(docs, search.Document{ID: int64(100 + i), Title: "weather", Content: fmt.Sprintf("forecast%d", i)})
	}

	results := newRanker().Rank("kubernetes", docs, 0)
	require.Len(t, results, search.DefaultTopK)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, ids(results))
}

func TestRanker_ThresholdExcludesWeakMatches(t *testing.T) {
	ranker := search.NewRanker(0.99, nil)
	results := ranker.Rank("golang concurrency channels", rankingCorpus(), 5)
	assert.Empty(t, results)
}

func TestRanker_NoCandidates(t *testing.T) {
	results := newRanker().Rank("anything", nil, 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRanker_QueryWithoutTokens(t *testing.T) {
	results := newRanker().Rank("?!", rankingCorpus(), 5)
	assert.Empty(t, results)
}

func TestRanker_RecoversFromScoringPanic(t *testing.T) {
	ranker := newRanker()
	ranker.Vectorize = func([]string) ([][]float64, []string) {
		panic("vectorizer exploded")
	}

	var results []search.RankedDocument
	assert.NotPanics(t, func() {
		results = ranker.Rank("golang concurrency channels", rankingCorpus(), 5)
	})
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRanker_ShortVectorsRecovered(t *testing.T) {
	ranker := newRanker()
	// fewer vectors than documents makes the query lookup go out of range
	ranker.Vectorize = func([]string) ([][]float64, []string) {
		return [][]float64{{1}}, []string{"golang"}
	}

	results := ranker.Rank("golang", rankingCorpus(), 5)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
