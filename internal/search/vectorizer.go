package search

import (
	"math"
)

// Vectorizer turns text into a vector
type Vectorizer interface {
	Fit(docs []string)
	Transform(text string) []float64
}

// TFIDFVectorizer implements Term Frequency - Inverse Document Frequency.
// A vectorizer is fitted once per ranking run and then discarded.
type TFIDFVectorizer struct {
	Vocabulary map[string]int // term -> position in Terms
	Terms      []string       // first-seen order
	IDF        []float64      // parallel to Terms
}

func NewTFIDFVectorizer() *TFIDFVectorizer {
	return &TFIDFVectorizer{
		Vocabulary: make(map[string]int),
	}
}

// Fit analyzes the corpus to build vocabulary and IDF stats
func (v *TFIDFVectorizer) Fit(docs []string) {
	v.Vocabulary = make(map[string]int)
	v.Terms = nil
	docCount := float64(len(docs))
	var docFreq []int

	for _, doc := range docs {
		seenInDoc := make(map[int]bool)
		for _, token := range Tokenize(doc) {
			idx, exists := v.Vocabulary[token]
			if !exists {
				idx = len(v.Terms)
				v.Vocabulary[token] = idx
				v.Terms = append(v.Terms, token)
				docFreq = append(docFreq, 0)
			}
			if !seenInDoc[idx] {
				docFreq[idx]++
				seenInDoc[idx] = true
			}
		}
	}

	// idf = ln(N / (df + 1)); a term present in every document goes negative.
	v.IDF = make([]float64, len(v.Terms))
	for idx, count := range docFreq {
		v.IDF[idx] = math.Log(docCount / (float64(count) + 1))
	}
}

// Transform converts text to a vector based on the learned vocabulary
func (v *TFIDFVectorizer) Transform(text string) []float64 {
	vector := make([]float64, len(v.Terms))
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return vector
	}

	tf := make(map[int]float64)
	for _, token := range tokens {
		if idx, exists := v.Vocabulary[token]; exists {
			tf[idx]++
		}
	}

	total := float64(len(tokens))
	for idx, count := range tf {
		vector[idx] = (count / total) * v.IDF[idx]
	}
	return vector
}

// BuildVectors fits a fresh vectorizer on corpus and returns one vector per
// document together with the vocabulary the vectors are aligned to.
func BuildVectors(corpus []string) ([][]float64, []string) {
	v := NewTFIDFVectorizer()
	v.Fit(corpus)

	vectors := make([][]float64, len(corpus))
	for i, doc := range corpus {
		vectors[i] = v.Transform(doc)
	}
	return vectors, v.Terms
}
