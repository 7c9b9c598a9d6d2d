package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"juris/internal/agent"
	"juris/internal/embedding"
	"juris/internal/logging"
	"juris/internal/types"
)

// Search finds the k chunks of the given knowledge bases most relevant to
// query. Every base must belong to userID.
func (s *Service) Search(ctx context.Context, userID string, kbIDs []string, query string, k int) ([]Result, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Search")
	defer timer.Stop()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", types.ErrInvalid)
	}
	if k <= 0 {
		k = defaultSearchResult
	}
	k = min(k, maxSearchResults)

	kbIDs = dedupe(kbIDs)
	if len(kbIDs) == 0 {
		return nil, fmt.Errorf("no knowledge base selected: %w", types.ErrInvalid)
	}
	titles := make(map[string]string)
	for _, id := range kbIDs {
		if _, err := s.store.GetKnowledgeBase(ctx, userID, id); err != nil {
			return nil, err
		}
		docs, err := s.store.ListDocuments(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			titles[d.ID] = d.Title
		}
	}
	chunks, err := s.store.ListChunks(ctx, kbIDs...)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return []Result{}, nil
	}

	var results []Result
	if s.engine != nil && hasEmbeddings(chunks) {
		results, err = s.vectorSearch(ctx, chunks, query, k)
		if err != nil {
			logging.KnowledgeWarn("Vector search failed, falling back to keywords: %v", err)
			results = nil
		}
	}
	if results == nil {
		results = keywordSearch(chunks, query, k)
	}
	for i := range results {
		results[i].DocumentTitle = titles[results[i].DocumentID]
	}
	logging.KnowledgeDebug("Search kbs=%d chunks=%d hits=%d", len(kbIDs), len(chunks), len(results))
	return results, nil
}

// Retrieve returns search hits as persona references.
func (s *Service) Retrieve(ctx context.Context, userID string, kbIDs []string, query string, k int) ([]agent.Reference, error) {
	results, err := s.Search(ctx, userID, kbIDs, query, k)
	if err != nil {
		return nil, err
	}
	refs := make([]agent.Reference, len(results))
	for i, r := range results {
		refs[i] = agent.Reference{Title: r.DocumentTitle, Excerpt: r.Excerpt}
	}
	return refs, nil
}

func (s *Service) vectorSearch(ctx context.Context, chunks []types.KnowledgeChunk, query string, k int) ([]Result, error) {
	qv, err := embedding.EmbedQuery(ctx, s.engine, query)
	if err != nil {
		return nil, err
	}
	corpus := make([][]float32, 0, len(chunks))
	index := make([]int, 0, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) > 0 {
			corpus = append(corpus, c.Embedding)
			index = append(index, i)
		}
	}
	hits := embedding.FindTopK(qv, corpus, k)
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, toResult(chunks[index[h.Index]], h.Similarity))
	}
	return out, nil
}

// keywordSearch scores chunks by the share of query terms they contain,
// weighted by log term frequency. Chunks with no match are dropped.
func keywordSearch(chunks []types.KnowledgeChunk, query string, k int) []Result {
	terms := dedupe(tokenize(query))
	if len(terms) == 0 {
		return []Result{}
	}
	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, c := range chunks {
		text := strings.ToLower(c.Content)
		var score float64
		for _, t := range terms {
			if n := strings.Count(text, t); n > 0 {
				score += 1 + math.Log(float64(n))
			}
		}
		if score > 0 {
			hits = append(hits, scored{i, score / float64(len(terms))})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = toResult(chunks[h.idx], h.score)
	}
	return out
}

// tokenize lower-cases words of letters and digits. Han text has no
// spaces, so runs of Han characters become overlapping bigrams.
func tokenize(s string) []string {
	var terms []string
	var word, han []rune
	flushWord := func() {
		if len(word) > 1 || (len(word) == 1 && unicode.IsDigit(word[0])) {
			terms = append(terms, string(word))
		}
		word = word[:0]
	}
	flushHan := func() {
		switch {
		case len(han) == 1:
			terms = append(terms, string(han))
		case len(han) > 1:
			for i := 0; i+1 < len(han); i++ {
				terms = append(terms, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return terms
}

func toResult(c types.KnowledgeChunk, score float64) Result {
	excerpt := c.Content
	if r := []rune(excerpt); len(r) > excerptRunes {
		excerpt = string(r[:excerptRunes]) + "…"
	}
	return Result{KBID: c.KBID, DocumentID: c.DocID, Excerpt: excerpt, Score: score}
}

func hasEmbeddings(chunks []types.KnowledgeChunk) bool {
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			return true
		}
	}
	return false
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
