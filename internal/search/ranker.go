package search

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.01
)

// RankedDocument holds a matching document and its score
type RankedDocument struct {
	Document Document
	Score    float64
	Index    int // position in the candidate list handed to Rank
}

// Ranker scores candidate documents against a query. It keeps no state
// between calls: vocabulary and vectors are rebuilt for every query.
type Ranker struct {
	MinSimilarity float64
	// Vectorize replaces BuildVectors when set.
	Vectorize     func(corpus []string) ([][]float64, []string)
	logger        *logrus.Entry
}

func NewRanker(minSimilarity float64, logger *logrus.Entry) *Ranker {
	if logger == nil {
		logger = logrus.WithField("component", "ranker")
	}
	return &Ranker{
		MinSimilarity: minSimilarity,
		logger:        logger,
	}
}

// Rank returns at most topK documents whose similarity to the query exceeds
// MinSimilarity, best first. Equal scores keep their candidate order.
func (r *Ranker) Rank(query string, docs []Document, topK int) (results []RankedDocument) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"panic":      rec,
				"candidates": len(docs),
			}).Error("Ranking failed, returning no results")
			results = []RankedDocument{}
		}
	}()

	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(docs) == 0 {
		return []RankedDocument{}
	}

	// 1. Vectorize candidates and the query together
	corpus := make([]string, 0, len(docs)+1)
	for _, d := range docs {
		corpus = append(corpus, d.Text())
	}
	corpus = append(corpus, query)
	vectorize := r.Vectorize
	if vectorize == nil {
		vectorize = BuildVectors
	}
	vectors, vocabulary := vectorize(corpus)
	queryVector := vectors[len(docs)]

	// 2. Score
	results = make([]RankedDocument, 0, len(docs))
	for i, d := range docs {
		score := CosineSimilarity(queryVector, vectors[i])
		if score > r.MinSimilarity {
			results = append(results, RankedDocument{
				Document: d,
				Score:    score,
				Index:    i,
			})
		}
	}

	// 3. Sort by descending score
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	r.logger.WithFields(logrus.Fields{
		"candidates": len(docs),
		"vocabulary": len(vocabulary),
		"matched":    len(results),
	}).Debug("Ranked candidates")

	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
