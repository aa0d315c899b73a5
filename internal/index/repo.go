package index

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/models"
)

// Record is a row of the exact-match documents table.
type Record struct {
	Path     string
	ID       string
	Title    string
	Mode     models.Mode
	Tags     []string
	Created  time.Time
	Modified time.Time
}

// TextRow is a row of the full-text table.
type TextRow struct {
	Path    string
	Title   string
	Content string
	Tags    string
}

// Snapshot is the complete observable state of the index.
type Snapshot struct {
	Documents []Record
	Text      []TextRow
	Tags      []models.TagCount
}

// Batch groups index writes into a single transaction. Nothing written
// through a Batch is visible until Commit; Rollback discards it all.
type Batch struct {
	ctx   context.Context
	tx    *sql.Tx
	table string
}

// Begin starts a write batch.
func (db *DB) Begin(ctx context.Context) (*Batch, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	return &Batch{ctx: ctx, tx: tx, table: db.textTable()}, nil
}

// Commit makes every write in the batch visible.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// Rollback discards the batch. Calling it after Commit is a no-op.
func (b *Batch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("index: rollback: %w", err)
	}
	return nil
}

// Clear empties the documents and full-text tables.
func (b *Batch) Clear() error {
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("index: clear documents: %w", err)
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM `+b.table); err != nil {
		return fmt.Errorf("index: clear text: %w", err)
	}
	return nil
}

// IndexDocument replaces the exact-match and full-text rows for path.
func (b *Batch) IndexDocument(path string, meta models.DocumentMetadata, content string) error {
	if err := b.Remove(path); err != nil {
		return err
	}
	_, err := b.tx.ExecContext(b.ctx, `
		INSERT INTO documents (path, id, title, mode, tags, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, path, meta.ID, meta.Title, string(meta.Mode), encodeTags(meta.Tags),
		formatTime(meta.Created), formatTime(meta.Modified))
	if err != nil {
		return fmt.Errorf("index: insert document %s: %w", path, err)
	}
	_, err = b.tx.ExecContext(b.ctx,
		`INSERT INTO `+b.table+` (path, title, content, tags) VALUES (?, ?, ?, ?)`,
		path, meta.Title, content, strings.Join(meta.Tags, " "))
	if err != nil {
		return fmt.Errorf("index: insert text %s: %w", path, err)
	}
	return nil
}

// Remove deletes path from the documents and full-text tables.
// Tag counts are left alone; rebuild them afterwards.
func (b *Batch) Remove(path string) error {
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete document %s: %w", path, err)
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM `+b.table+` WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete text %s: %w", path, err)
	}
	return nil
}

// RebuildTagCounts replaces the tag-count table with counts derived from meta.
func (b *Batch) RebuildTagCounts(meta *models.WorkspaceMetadata) error {
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM tag_counts`); err != nil {
		return fmt.Errorf("index: clear tag counts: %w", err)
	}
	for tag, n := range meta.CountTags() {
		if _, err := b.tx.ExecContext(b.ctx,
			`INSERT INTO tag_counts (tag, count) VALUES (?, ?)`, tag, n); err != nil {
			return fmt.Errorf("index: insert tag count %q: %w", tag, err)
		}
	}
	return nil
}

// IncrementTagCounts adds one to each tag's count, creating missing rows.
// It is only correct for documents that were not previously indexed.
func (b *Batch) IncrementTagCounts(tags []string) error {
	for _, tag := range models.NormalizeTags(tags) {
		_, err := b.tx.ExecContext(b.ctx, `
			INSERT INTO tag_counts (tag, count) VALUES (?, 1)
			ON CONFLICT(tag) DO UPDATE SET count = count + 1
		`, tag)
		if err != nil {
			return fmt.Errorf("index: increment tag %q: %w", tag, err)
		}
	}
	return nil
}

// withBatch runs fn in its own batch and commits it.
func (db *DB) withBatch(ctx context.Context, fn func(*Batch) error) error {
	b, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback() //nolint:errcheck // no-op after commit
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit()
}

// IndexDocument indexes a single document in its own transaction.
func (db *DB) IndexDocument(ctx context.Context, path string, meta models.DocumentMetadata, content string) error {
	return db.withBatch(ctx, func(b *Batch) error { return b.IndexDocument(path, meta, content) })
}

// Remove drops a single document in its own transaction.
func (db *DB) Remove(ctx context.Context, path string) error {
	return db.withBatch(ctx, func(b *Batch) error { return b.Remove(path) })
}

// RebuildTagCounts recomputes the tag-count table in its own transaction.
func (db *DB) RebuildTagCounts(ctx context.Context, meta *models.WorkspaceMetadata) error {
	return db.withBatch(ctx, func(b *Batch) error { return b.RebuildTagCounts(meta) })
}

// IncrementTagCounts bumps tag counts in its own transaction.
func (db *DB) IncrementTagCounts(ctx context.Context, tags []string) error {
	return db.withBatch(ctx, func(b *Batch) error { return b.IncrementTagCounts(tags) })
}

// Clear empties every index table.
func (db *DB) Clear(ctx context.Context) error {
	return db.withBatch(ctx, func(b *Batch) error {
		if err := b.Clear(); err != nil {
			return err
		}
		_, err := b.tx.ExecContext(ctx, `DELETE FROM tag_counts`)
		return err
	})
}

const recordColumns = `path, id, title, mode, tags, created, modified`

// Document returns the indexed record for path.
func (db *DB) Document(ctx context.Context, path string) (*Record, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM documents WHERE path = ?`, path)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: document %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: document %s: %w", path, err)
	}
	return &r, nil
}

// ByTag returns documents carrying a tag that contains tag as a substring,
// most recently modified first. Tags are matched one by one, never against
// their stored encoding.
func (db *DB) ByTag(ctx context.Context, tag string) ([]Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM documents
		WHERE EXISTS (
			SELECT 1 FROM json_each(documents.tags)
			WHERE json_each.value LIKE ? ESCAPE '\'
		)
		ORDER BY modified DESC, path
	`, "%"+escapeLike(tag)+"%")
	if err != nil {
		return nil, fmt.Errorf("index: by tag: %w", err)
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TagCounts returns every tag with its document count, most used first.
func (db *DB) TagCounts(ctx context.Context) ([]models.TagCount, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT tag, count FROM tag_counts ORDER BY count DESC, tag`)
	if err != nil {
		return nil, fmt.Errorf("index: tag counts: %w", err)
	}
	defer rows.Close()
	out := []models.TagCount{}
	for rows.Next() {
		var tc models.TagCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Paths returns every indexed path in order.
func (db *DB) Paths(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: paths: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Snapshot dumps every table, sorted by key.
func (db *DB) Snapshot(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{Documents: []Record{}, Text: []TextRow{}}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+recordColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: snapshot documents: %w", err)
	}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		s.Documents = append(s.Documents, r)
	}
	rows.Close()

	rows, err = db.conn.QueryContext(ctx, `SELECT path, title, content, tags FROM `+db.textTable())
	if err != nil {
		return nil, fmt.Errorf("index: snapshot text: %w", err)
	}
	for rows.Next() {
		var t TextRow
		if err := rows.Scan(&t.Path, &t.Title, &t.Content, &t.Tags); err != nil {
			rows.Close()
			return nil, err
		}
		s.Text = append(s.Text, t)
	}
	rows.Close()
	sort.Slice(s.Text, func(i, j int) bool { return s.Text[i].Path < s.Text[j].Path })

	if s.Tags, err = db.TagCounts(ctx); err != nil {
		return nil, err
	}
	sort.Slice(s.Tags, func(i, j int) bool { return s.Tags[i].Name < s.Tags[j].Name })
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                 Record
		mode, tags        string
		created, modified string
	)
	if err := sc.Scan(&r.Path, &r.ID, &r.Title, &mode, &tags, &created, &modified); err != nil {
		return Record{}, err
	}
	r.Mode = models.Mode(mode)
	r.Tags = decodeTags(tags)
	r.Created = parseTime(created)
	r.Modified = parseTime(modified)
	return r, nil
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(tags)
	return strings.TrimSpace(buf.String())
}

func decodeTags(s string) []string {
	tags := []string{}
	_ = json.Unmarshal([]byte(s), &tags)
	return tags
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
