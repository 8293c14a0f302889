package index

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/log"
)

// excerptWindow is the approximate excerpt length in bytes.
const excerptWindow = 160

// stopwords are dropped during tokenization. Small on purpose: FAQ
// queries are short and over-aggressive stopping hurts recall.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"how": true, "i": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true,
	"to": true, "what": true, "when": true, "where": true, "with": true,
}

// posting is one (document, weight) pair in a term's posting list.
type posting struct {
	doc    int
	weight float64
}

// Memory is an in-memory inverted index with TF-IDF cosine scoring.
//
// Immutable after Build: concurrent Search calls need no locking, and a
// rebuild produces a fresh Memory that is swapped in atomically by the
// caller (see app.Rebuild).
type Memory struct {
	docs     []corpus.Document
	norms    []float64
	postings map[string][]posting
	idf      map[string]float64
}

var _ Searcher = (*Memory)(nil)

// Build applies the filter to docs and indexes the kept documents.
//
// Filter evaluation errors never abort the build: the document is
// skipped, the error logged, and BuildStats.Skipped incremented. Build
// is deterministic: the same documents and filter yield the same index.
func Build(docs []corpus.Document, filter corpus.FilterFunc, logger log.Logger) (*Memory, BuildStats) {
	start := time.Now()
	stats := BuildStats{}

	kept := make([]corpus.Document, 0, len(docs))
	for _, doc := range docs {
		if filter != nil {
			keep, err := filter(doc)
			if err != nil {
				stats.Skipped++
				logger.Warn("skipping document, filter failed",
					"filename", doc.Filename,
					"error", err)
				continue
			}
			if !keep {
				stats.FilteredOut++
				continue
			}
		}
		kept = append(kept, doc)
	}

	m := &Memory{
		docs:     kept,
		norms:    make([]float64, len(kept)),
		postings: make(map[string][]posting),
		idf:      make(map[string]float64),
	}

	// Raw term frequencies per document.
	termCounts := make([]map[string]int, len(kept))
	docFreq := make(map[string]int)
	for i, doc := range kept {
		counts := make(map[string]int)
		for _, term := range tokenize(doc.Filename + " " + doc.Content) {
			counts[term]++
		}
		termCounts[i] = counts
		for term := range counts {
			docFreq[term]++
		}
	}

	// Smoothed inverse document frequency.
	n := float64(len(kept))
	for term, df := range docFreq {
		m.idf[term] = math.Log(1 + n/float64(df))
	}

	// Sublinear TF weighting with cosine length normalization.
	for i, counts := range termCounts {
		var norm float64
		for term, tf := range counts {
			w := (1 + math.Log(float64(tf))) * m.idf[term]
			m.postings[term] = append(m.postings[term], posting{doc: i, weight: w})
			norm += w * w
		}
		m.norms[i] = math.Sqrt(norm)
	}

	stats.Indexed = len(kept)
	stats.Terms = len(m.idf)
	stats.Duration = time.Since(start)

	logger.Info("index built",
		"indexed", stats.Indexed,
		"filtered_out", stats.FilteredOut,
		"skipped", stats.Skipped,
		"terms", stats.Terms,
		"duration", stats.Duration)

	return m, stats
}

// Len returns the number of indexed documents.
func (m *Memory) Len() int {
	return len(m.docs)
}

// Search scores the query against the index and returns at most topK
// results in non-increasing score order. No matches yields an empty
// slice, never an error.
func (m *Memory) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := []SearchResult{}
	terms := tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return results, nil
	}

	scores := make(map[int]float64)
	for _, term := range terms {
		idf, ok := m.idf[term]
		if !ok {
			continue
		}
		for _, p := range m.postings[term] {
			scores[p.doc] += idf * p.weight / m.norms[p.doc]
		}
	}

	type scored struct {
		doc   int
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for doc, score := range scores {
		ranked = append(ranked, scored{doc: doc, score: score})
	}
	// Filename tiebreak keeps ordering deterministic across runs.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return m.docs[ranked[i].doc].Filename < m.docs[ranked[j].doc].Filename
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	for _, r := range ranked {
		doc := m.docs[r.doc]
		results = append(results, SearchResult{
			Document: doc,
			Score:    r.score,
			Excerpt:  m.excerpt(doc, terms),
		})
	}
	return results, nil
}

// excerpt returns a window of the document around the rarest matching
// query term, trimmed to whole words.
func (m *Memory) excerpt(doc corpus.Document, terms []string) string {
	lower := strings.ToLower(doc.Content)

	best := -1
	bestIDF := 0.0
	for _, term := range terms {
		idf, ok := m.idf[term]
		if !ok || idf < bestIDF {
			continue
		}
		if pos := strings.Index(lower, term); pos >= 0 {
			best = pos
			bestIDF = idf
		}
	}
	if best < 0 {
		best = 0
	}

	start := best - excerptWindow/2
	if start < 0 {
		start = 0
	}
	end := start + excerptWindow
	if end > len(doc.Content) {
		end = len(doc.Content)
	}

	snippet := doc.Content[start:end]
	if start > 0 {
		if i := strings.IndexAny(snippet, " \n\t"); i >= 0 {
			snippet = snippet[i+1:]
		}
		snippet = "…" + snippet
	}
	if end < len(doc.Content) {
		if i := strings.LastIndexAny(snippet, " \n\t"); i >= 0 {
			snippet = snippet[:i]
		}
		snippet += "…"
	}
	return strings.TrimSpace(snippet)
}

// tokenize lowercases the text and splits it on non-alphanumeric runes,
// dropping stopwords and single-rune fragments. Deterministic.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 && !unicode.IsDigit(rune(f[0])) {
			continue
		}
		if stopwords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
