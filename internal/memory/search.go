package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchFulltext SearchMode = "fulltext"
	SearchVector   SearchMode = "vector"
	SearchHybrid   SearchMode = "hybrid"
	SearchAuto     SearchMode = "auto"
)

// ParseSearchMode resolves a mode string, defaulting to auto.
func ParseSearchMode(s string) SearchMode {
	switch SearchMode(strings.ToLower(s)) {
	case SearchFulltext:
		return SearchFulltext
	case SearchVector:
		return SearchVector
	case SearchHybrid:
		return SearchHybrid
	default:
		return SearchAuto
	}
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Mode      SearchMode
	Limit     int
	SessionID string
	Type      Type

	// ModelKey overrides the store's active embedding model as the
	// vector-search target.
	ModelKey string
}

// Search retrieves entries relevant to query according to opts.Mode.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]*Entry, error) {
	limit := opts.Limit
	if limit <= 0 || limit > s.searchLimit {
		limit = s.searchLimit
	}
	target := opts.ModelKey
	if target == "" {
		target = s.modelKey
	}

	switch ParseSearchMode(string(opts.Mode)) {
	case SearchFulltext:
		return s.fulltextSearch(query, opts, limit, time.Time{})
	case SearchVector:
		return s.vectorSearch(ctx, query, target, opts, limit)
	case SearchHybrid:
		return s.hybridSearch(ctx, query, target, opts, limit, time.Time{})
	default:
		return s.autoSearch(ctx, query, target, opts, limit)
	}
}

// autoSearch picks the strategy from the migration status: a running
// migration onto the target model gets the migration-aware hybrid, and
// otherwise vector results are preferred with fulltext as the fallback.
func (s *Store) autoSearch(ctx context.Context, query, target string, opts SearchOptions, limit int) ([]*Entry, error) {
	s.mu.Lock()
	probe := s.probe
	s.mu.Unlock()

	if probe != nil {
		if running, migrTarget, until := probe(); running && migrTarget == target {
			return s.hybridSearch(ctx, query, target, opts, limit, until)
		}
	}

	entries, err := s.vectorSearch(ctx, query, target, opts, limit)
	if err != nil {
		slog.Warn("memory: vector search failed, falling back to fulltext", "error", err)
		return s.fulltextSearch(query, opts, limit, time.Time{})
	}
	if len(entries) == 0 {
		return s.fulltextSearch(query, opts, limit, time.Time{})
	}
	return entries, nil
}

// hybridSearch runs the vector and fulltext sub-queries concurrently and
// concatenates vector results first, de-duplicated by id. A non-zero
// after restricts the fulltext side to rows created after that cursor.
func (s *Store) hybridSearch(ctx context.Context, query, target string, opts SearchOptions, limit int, after time.Time) ([]*Entry, error) {
	var vecHits, textHits []*Entry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := s.vectorSearch(gctx, query, target, opts, limit)
		if err != nil {
			slog.Warn("memory: hybrid vector sub-query failed", "error", err)
			return nil
		}
		vecHits = entries
		return nil
	})
	g.Go(func() error {
		entries, err := s.fulltextSearch(query, opts, limit, after)
		if err != nil {
			slog.Warn("memory: hybrid fulltext sub-query failed", "error", err)
			return nil
		}
		textHits = entries
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(vecHits)+len(textHits))
	merged := make([]*Entry, 0, len(vecHits)+len(textHits))
	for _, e := range append(vecHits, textHits...) {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// vectorSearch embeds the query and ranks populated rows of the target
// model's column by cosine similarity.
func (s *Store) vectorSearch(ctx context.Context, query, target string, opts SearchOptions, limit int) ([]*Entry, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("memory: no embedding service configured")
	}
	if target == "" {
		return nil, fmt.Errorf("memory: no target embedding model")
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	col := ModelIDToVectorColumn(target)
	s.mu.Lock()
	_, known := s.columns[col]
	s.mu.Unlock()
	if !known {
		return nil, nil
	}

	where, args := filterClauses(opts)
	where = append(where, fmt.Sprintf("%s IS NOT NULL AND length(%s) > 0", col, col))
	query2 := `SELECT * FROM memories WHERE ` + strings.Join(where, " AND ")
	candidates, err := s.queryEntries(query2, args...)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry *Entry
		score float64
	}
	var hits []scored
	for _, e := range candidates {
		v := e.Vectors[col]
		if len(v) != len(qvec) {
			// Dimension drift means the column holds vectors from a
			// different model generation; fulltext covers those rows.
			continue
		}
		hits = append(hits, scored{e, CosineSimilarity(qvec, v)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]*Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

// fulltextSearch scores candidates by summed keyword occurrence counts.
func (s *Store) fulltextSearch(query string, opts SearchOptions, limit int, after time.Time) ([]*Entry, error) {
	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	where, args := filterClauses(opts)
	if !after.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, after.UnixMilli())
	}
	sqlQuery := `SELECT * FROM memories`
	if len(where) > 0 {
		sqlQuery += ` WHERE ` + strings.Join(where, " AND ")
	}
	candidates, err := s.queryEntries(sqlQuery, args...)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry *Entry
		score int
	}
	var hits []scored
	for _, e := range candidates {
		content := strings.ToLower(e.Content)
		score := 0
		for _, kw := range keywords {
			score += strings.Count(content, strings.ToLower(kw))
		}
		if score > 0 {
			hits = append(hits, scored{e, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]*Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

func filterClauses(opts SearchOptions) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	return where, args
}
