package memory

import (
	"math"
	"sort"
	"sync"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Match is one ranked search hit.
type Match struct {
	ID    string
	Score float64
}

// BM25Index is an in-memory bag-of-words index. It is the authoritative
// ranking source for the stores that embed it; documents are added and
// removed as their backing entries change.
type BM25Index struct {
	mu       sync.RWMutex
	k1, b    float64
	docs     map[string]map[string]int // id → term → frequency
	lengths  map[string]int
	df       map[string]int
	totalLen int
}

func NewBM25Index() *BM25Index {
	return &BM25Index{
		k1:      DefaultK1,
		b:       DefaultB,
		docs:    make(map[string]map[string]int),
		lengths: make(map[string]int),
		df:      make(map[string]int),
	}
}

// Add indexes text under id, replacing any previous document with that id.
func (idx *BM25Index) Add(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)

	terms := tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	for t := range tf {
		idx.df[t]++
	}
	idx.docs[id] = tf
	idx.lengths[id] = len(terms)
	idx.totalLen += len(terms)
}

// Remove drops a document from the index.
func (idx *BM25Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *BM25Index) removeLocked(id string) {
	tf, ok := idx.docs[id]
	if !ok {
		return
	}
	for t := range tf {
		if idx.df[t] <= 1 {
			delete(idx.df, t)
		} else {
			idx.df[t]--
		}
	}
	idx.totalLen -= idx.lengths[id]
	delete(idx.docs, id)
	delete(idx.lengths, id)
}

// Rank scores the query against the given candidate ids (all documents when
// allowed is nil) and returns positive-score matches sorted by descending
// score with id ascending as tiebreaker, so ordering is reproducible for
// identical corpora.
func (idx *BM25Index) Rank(query string, allowed map[string]bool) []Match {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(idx.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	var matches []Match
	for id, tf := range idx.docs {
		if allowed != nil && !allowed[id] {
			continue
		}
		score := 0.0
		docLen := float64(idx.lengths[id])
		for _, term := range queryTerms {
			f, ok := tf[term]
			if !ok {
				continue
			}
			df := idx.df[term]
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			num := float64(f) * (idx.k1 + 1)
			den := float64(f) + idx.k1*(1-idx.b+idx.b*docLen/avgLen)
			score += idf * num / den
		}
		if score > 0 {
			matches = append(matches, Match{ID: id, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}
