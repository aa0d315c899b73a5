package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/folio/internal/models"
)

// Snippet highlight markers.
const (
	MarkOpen  = "<mark>"
	MarkClose = "</mark>"
)

const snippetRadius = 60

// SearchResult is one ranked search hit.
type SearchResult struct {
	Path     string
	ID       string
	Title    string
	Mode     models.Mode
	Tags     []string
	Modified time.Time
	Score    float64
	Snippet  string
}

// Search runs a full-text query over title, content and tags. Higher scores
// rank first. An empty query returns no results.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if db.useFTS {
		return db.searchFTS(ctx, terms, limit)
	}
	return db.searchLike(ctx, terms, limit)
}

// queryTerms splits free text into search terms.
func queryTerms(q string) []string {
	return strings.Fields(q)
}

// ftsMatchExpr quotes every term so user input never reaches the FTS5 query
// grammar. Terms are ANDed.
func ftsMatchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func (db *DB) searchFTS(ctx context.Context, terms []string, limit int) ([]SearchResult, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.path, d.id, d.title, d.mode, d.tags, d.modified,
		       -bm25(documents_fts, 0.0, 4.0, 1.0, 2.0),
		       snippet(documents_fts, 2, ?, ?, '…', 16)
		FROM documents_fts
		JOIN documents d ON d.path = documents_fts.path
		WHERE documents_fts MATCH ?
		ORDER BY bm25(documents_fts, 0.0, 4.0, 1.0, 2.0), d.path
		LIMIT ?
	`, MarkOpen, MarkClose, ftsMatchExpr(terms), limit)
	if err != nil {
		return nil, fmt.Errorf("index: fts search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var (
			r                    SearchResult
			mode, tags, modified string
		)
		if err := rows.Scan(&r.Path, &r.ID, &r.Title, &mode, &tags, &modified, &r.Score, &r.Snippet); err != nil {
			return nil, err
		}
		r.Mode = models.Mode(mode)
		r.Tags = decodeTags(tags)
		r.Modified = parseTime(modified)
		out = append(out, r)
	}
	return out, rows.Err()
}

// searchLike is the fallback when FTS5 is unavailable: every term must
// appear in title, content or tags; ranking is done in Go.
func (db *DB) searchLike(ctx context.Context, terms []string, limit int) ([]SearchResult, error) {
	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		p := "%" + escapeLike(t) + "%"
		where = append(where, `(t.title LIKE ? ESCAPE '\' OR t.content LIKE ? ESCAPE '\' OR t.tags LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.path, d.id, d.title, d.mode, d.tags, d.modified, t.content, t.tags
		FROM documents_text t
		JOIN documents d ON d.path = t.path
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("index: like search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var (
			r                                SearchResult
			mode, tags, modified, body, tagT string
		)
		if err := rows.Scan(&r.Path, &r.ID, &r.Title, &mode, &tags, &modified, &body, &tagT); err != nil {
			return nil, err
		}
		r.Mode = models.Mode(mode)
		r.Tags = decodeTags(tags)
		r.Modified = parseTime(modified)
		r.Score = likeScore(terms, r.Title, body, tagT)
		r.Snippet = makeSnippet(body, terms)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// likeScore weights hits the same way the FTS5 ranking does: title over
// tags over content.
func likeScore(terms []string, title, content, tags string) float64 {
	title, content, tags = strings.ToLower(title), strings.ToLower(content), strings.ToLower(tags)
	var score float64
	for _, t := range terms {
		t = strings.ToLower(t)
		score += 4*float64(strings.Count(title, t)) +
			2*float64(strings.Count(tags, t)) +
			float64(strings.Count(content, t))
	}
	return score
}

// makeSnippet returns a window of content around the first term hit with
// the hit wrapped in highlight markers.
func makeSnippet(content string, terms []string) string {
	lower := strings.ToLower(content)
	at, hitLen := -1, 0
	for _, t := range terms {
		i := strings.Index(lower, strings.ToLower(t))
		if i >= 0 && (at < 0 || i < at) {
			at, hitLen = i, len(t)
		}
	}
	if at < 0 || len(lower) != len(content) {
		// No hit in content, or case folding changed byte offsets.
		return truncate(content, 2*snippetRadius)
	}
	start := max(at-snippetRadius, 0)
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end := min(at+hitLen+snippetRadius, len(content))
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	var sb strings.Builder
	if start > 0 {
		sb.WriteString("…")
	}
	sb.WriteString(content[start:at])
	sb.WriteString(MarkOpen)
	sb.WriteString(content[at : at+hitLen])
	sb.WriteString(MarkClose)
	sb.WriteString(content[at+hitLen : end])
	if end < len(content) {
		sb.WriteString("…")
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
