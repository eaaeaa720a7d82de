package textutil

import (
	"math"
	"regexp"
	"strings"
)

var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

// TermVector is a term-frequency vector used for similarity ranking.
type TermVector struct {
	tokens map[string]float64
	norm   float64
}

// NewTermVector builds a vector from text. Returns nil if the text produces
// no tokens.
func NewTermVector(text string) *TermVector {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newVector(counts)
}

func newVector(weights map[string]float64) *TermVector {
	var norm float64
	for _, w := range weights {
		norm += w * w
	}
	return &TermVector{tokens: weights, norm: math.Sqrt(norm)}
}

// Tokenize splits text into lowercase tokens of at least 3 characters.
func Tokenize(text string) []string {
	raw := tokenSplitPattern.Split(strings.ToLower(text), -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if len(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// Len returns the number of distinct terms.
func (v *TermVector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.tokens)
}

// WithIDF returns a copy weighted by idf. Terms absent from idf keep their
// raw count.
func (v *TermVector) WithIDF(idf map[string]float64) *TermVector {
	if v == nil || len(idf) == 0 {
		return v
	}
	weighted := make(map[string]float64, len(v.tokens))
	for token, count := range v.tokens {
		w := count
		if idfVal, ok := idf[token]; ok {
			w *= idfVal
		}
		if w == 0 {
			continue
		}
		weighted[token] = w
	}
	if len(weighted) == 0 {
		return nil
	}
	return newVector(weighted)
}

// Corpus collects document frequencies for IDF weighting.
type Corpus struct {
	docCount int
	docFreq  map[string]int
}

func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add registers v's distinct terms.
func (c *Corpus) Add(v *TermVector) {
	if c == nil || v == nil {
		return
	}
	c.docCount++
	for token := range v.tokens {
		c.docFreq[token]++
	}
}

// IDF computes log((N+1)/(1+df)) for each term.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docCount == 0 {
		return nil
	}
	idf := make(map[string]float64, len(c.docFreq))
	n := float64(c.docCount)
	for term, df := range c.docFreq {
		idf[term] = math.Log((n + 1) / (1 + float64(df)))
	}
	return idf
}

// CosineSimilarity returns 0 if either vector is nil or empty.
func CosineSimilarity(a, b *TermVector) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, count := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}

// Rank orders documents by similarity to query, best first, and returns
// their indexes. IDF weights come from the documents themselves. Ties keep
// input order.
func Rank(query string, documents []string) []int {
	vectors := make([]*TermVector, len(documents))
	corpus := NewCorpus()
	for i, doc := range documents {
		vectors[i] = NewTermVector(doc)
		corpus.Add(vectors[i])
	}
	idf := corpus.IDF()
	q := NewTermVector(query)
	scores := make([]float64, len(documents))
	for i, v := range vectors {
		scores[i] = CosineSimilarity(q, v.WithIDF(idf))
	}
	order := make([]int, len(documents))
	for i := range order {
		order[i] = i
	}
	// insertion sort keeps ties stable; candidate lists are short
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && scores[order[j]] > scores[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order
}
