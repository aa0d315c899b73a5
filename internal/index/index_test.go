package index

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/models"
)

var drivers = []string{DriverCGO, DriverPureGo}

func testDB(t *testing.T, driver string) *DB {
	t.Helper()
	db, err := Open(driver, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func forEachDriver(t *testing.T, fn func(t *testing.T, db *DB)) {
	t.Helper()
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) { fn(t, testDB(t, d)) })
	}
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func doc(id, title string, mode models.Mode, modified time.Time, tags ...string) models.DocumentMetadata {
	if tags == nil {
		tags = []string{}
	}
	return models.DocumentMetadata{
		ID: id, Title: title, Mode: mode, Tags: tags,
		Created: t0, Modified: modified,
	}
}

func TestSchemaCreation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		for _, table := range []string{"documents", "tag_counts", db.textTable()} {
			var n int
			if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n); err != nil {
				t.Fatalf("%s table missing: %v", table, err)
			}
		}
	})
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestReopenKeepsRows(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "index.db")
			db, err := Open(d, path)
			if err != nil {
				t.Fatal(err)
			}
			if err := db.IndexDocument(ctx, "a.md", doc("1", "A", models.ModeMarkdown, t0), "alpha"); err != nil {
				t.Fatal(err)
			}
			db.Close()

			db, err = Open(d, path)
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()
			if _, err := db.Document(ctx, "a.md"); err != nil {
				t.Fatalf("Document after reopen: %v", err)
			}
		})
	}
}

func TestIndexDocumentAndGet(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		meta := doc("01J", "Hello World", models.ModeCode, t0.Add(time.Hour), "go", "test")
		meta.Language = "go"
		if err := db.IndexDocument(ctx, "src/hello.go", meta, "package hello"); err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
		got, err := db.Document(ctx, "src/hello.go")
		if err != nil {
			t.Fatalf("Document: %v", err)
		}
		want := &Record{
			Path: "src/hello.go", ID: "01J", Title: "Hello World", Mode: models.ModeCode,
			Tags: []string{"go", "test"}, Created: t0, Modified: t0.Add(time.Hour),
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Document mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestIndexDocumentReplaces(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "a.md", doc("1", "Old", models.ModeMarkdown, t0), "zebra")
		_ = db.IndexDocument(ctx, "a.md", doc("1", "New", models.ModeMarkdown, t0), "giraffe")

		s, err := db.Snapshot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(s.Documents) != 1 || len(s.Text) != 1 {
			t.Fatalf("rows = %d/%d, want 1/1", len(s.Documents), len(s.Text))
		}
		if res, _ := db.Search(ctx, "zebra", 10); len(res) != 0 {
			t.Errorf("stale content still searchable: %v", res)
		}
		if res, _ := db.Search(ctx, "giraffe", 10); len(res) != 1 {
			t.Errorf("new content not searchable: %v", res)
		}
	})
}

func TestDocumentNotFound(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		_, err := db.Document(context.Background(), "missing.md")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestRemove(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "a.md", doc("1", "A", models.ModeMarkdown, t0), "alpha")
		if err := db.Remove(ctx, "a.md"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := db.Remove(ctx, "a.md"); err != nil {
			t.Fatalf("Remove twice: %v", err)
		}
		if res, _ := db.Search(ctx, "alpha", 10); len(res) != 0 {
			t.Errorf("removed document still searchable")
		}
	})
}

func TestSearch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "go.md", doc("1", "Golang Guide", models.ModeMarkdown, t0), "Go is a great language for concurrency.")
		_ = db.IndexDocument(ctx, "py.md", doc("2", "Python Guide", models.ModeMarkdown, t0), "Python is great for scripting.")

		res, err := db.Search(ctx, "concurrency", 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(res) != 1 || res[0].Path != "go.md" {
			t.Fatalf("results = %+v, want [go.md]", res)
		}
		if !strings.Contains(res[0].Snippet, MarkOpen) {
			t.Errorf("snippet %q has no highlight", res[0].Snippet)
		}
		if res[0].Score <= 0 {
			t.Errorf("score = %v, want > 0", res[0].Score)
		}

		res, _ = db.Search(ctx, "great", 10)
		if len(res) != 2 {
			t.Errorf("got %d results for 'great', want 2", len(res))
		}
		res, _ = db.Search(ctx, "great python", 10)
		if len(res) != 1 || res[0].Path != "py.md" {
			t.Errorf("terms should be ANDed, got %+v", res)
		}
	})
}

func TestSearchRanksTitleAboveBody(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "body.md", doc("1", "Notes", models.ModeMarkdown, t0), "something about kestrels here")
		_ = db.IndexDocument(ctx, "title.md", doc("2", "Kestrels", models.ModeMarkdown, t0), "birds of prey")

		res, err := db.Search(ctx, "kestrels", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 2 || res[0].Path != "title.md" {
			t.Fatalf("order = %+v, want title.md first", res)
		}
		if res[0].Score < res[1].Score {
			t.Errorf("scores not descending: %v < %v", res[0].Score, res[1].Score)
		}
	})
}

func TestSearchHostileInput(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "a.md", doc("1", "A", models.ModeMarkdown, t0), "100% done_ok")
		for _, q := range []string{`"`, `a AND`, `NEAR(`, `*`, `col:val`, `100%`, `done_ok`, `'; DROP TABLE documents; --`} {
			if _, err := db.Search(ctx, q, 10); err != nil {
				t.Errorf("Search(%q): %v", q, err)
			}
		}
		if res, _ := db.Search(ctx, "   ", 10); len(res) != 0 {
			t.Errorf("blank query returned %d results", len(res))
		}
	})
}

func TestSearchLimit(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		for i := range 5 {
			_ = db.IndexDocument(ctx, fmt.Sprintf("n%d.md", i), doc(fmt.Sprint(i), "N", models.ModeMarkdown, t0), "shared word")
		}
		res, _ := db.Search(ctx, "shared", 3)
		if len(res) != 3 {
			t.Errorf("len = %d, want 3", len(res))
		}
	})
}

func TestByTag(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "old.md", doc("1", "Old", models.ModeMarkdown, t0, "golang"), "")
		_ = db.IndexDocument(ctx, "new.md", doc("2", "New", models.ModeMarkdown, t0.Add(time.Hour), "go"), "")
		_ = db.IndexDocument(ctx, "py.md", doc("3", "Py", models.ModeMarkdown, t0, "python"), "")
		_ = db.IndexDocument(ctx, "pct.md", doc("4", "Pct", models.ModeMarkdown, t0, "a_b"), "")

		got, err := db.ByTag(ctx, "go")
		if err != nil {
			t.Fatalf("ByTag: %v", err)
		}
		var paths []string
		for _, r := range got {
			paths = append(paths, r.Path)
		}
		if diff := cmp.Diff([]string{"new.md", "old.md"}, paths); diff != "" {
			t.Errorf("ByTag(go) (-want +got):\n%s", diff)
		}

		// LIKE wildcards in the tag are literal.
		got, _ = db.ByTag(ctx, "a%b")
		if len(got) != 0 {
			t.Errorf("ByTag(a%%b) = %d results, want 0", len(got))
		}
		got, _ = db.ByTag(ctx, "a_b")
		if len(got) != 1 {
			t.Errorf("ByTag(a_b) = %d results, want 1", len(got))
		}
	})
}

func TestByTag_MatchesTagTextNotEncoding(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "q.md", doc("1", "Q", models.ModeMarkdown, t0, `say "hi"`), "")
		_ = db.IndexDocument(ctx, "b.md", doc("2", "B", models.ModeMarkdown, t0, `c:\tmp`), "")
		_ = db.IndexDocument(ctx, "br.md", doc("3", "Br", models.ModeMarkdown, t0, "[wip]"), "")
		_ = db.IndexDocument(ctx, "none.md", doc("4", "None", models.ModeMarkdown, t0), "")

		tests := []struct {
			tag  string
			want []string
		}{
			{`say "hi"`, []string{"q.md"}},
			{`"`, []string{"q.md"}},
			{`c:\tmp`, []string{"b.md"}},
			{`\`, []string{"b.md"}},
			{"[", []string{"br.md"}},
			{"[wip]", []string{"br.md"}},
			{",", nil},
		}
		for _, tt := range tests {
			got, err := db.ByTag(ctx, tt.tag)
			if err != nil {
				t.Fatalf("ByTag(%q): %v", tt.tag, err)
			}
			var paths []string
			for _, r := range got {
				paths = append(paths, r.Path)
			}
			if diff := cmp.Diff(tt.want, paths); diff != "" {
				t.Errorf("ByTag(%q) (-want +got):\n%s", tt.tag, diff)
			}
		}
	})
}

func TestBatchRollbackLeavesIndexUntouched(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "keep.md", doc("1", "Keep", models.ModeMarkdown, t0, "x"), "keep")
		_ = db.IncrementTagCounts(ctx, []string{"x"})
		before, _ := db.Snapshot(ctx)

		b, err := db.Begin(ctx)
		if err != nil {
			t.Fatal(err)
		}
		_ = b.Clear()
		_ = b.IndexDocument("other.md", doc("2", "Other", models.ModeMarkdown, t0), "other")
		_ = b.RebuildTagCounts(&models.WorkspaceMetadata{Documents: map[string]models.DocumentMetadata{}})
		if err := b.Rollback(); err != nil {
			t.Fatal(err)
		}

		after, _ := db.Snapshot(ctx)
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("rollback changed index (-before +after):\n%s", diff)
		}
		if err := b.Rollback(); err != nil {
			t.Errorf("second Rollback: %v", err)
		}
	})
}

func TestTagCounts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		if err := db.IncrementTagCounts(ctx, []string{"go", "db"}); err != nil {
			t.Fatal(err)
		}
		_ = db.IncrementTagCounts(ctx, []string{"go", "go"})

		got, err := db.TagCounts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := []models.TagCount{{Name: "go", Count: 2}, {Name: "db", Count: 1}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("TagCounts (-want +got):\n%s", diff)
		}
	})
}

// Incrementing per newly indexed document and rebuilding from metadata
// must agree.
func TestTagCountsIncrementMatchesRebuild(t *testing.T) {
	vocab := []string{"go", "rust", "db", "ui", "ops", "ml"}
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(7, 11))
		meta := &models.WorkspaceMetadata{Documents: map[string]models.DocumentMetadata{}}
		for i := range 40 {
			var tags []string
			for range rng.IntN(4) {
				tags = append(tags, vocab[rng.IntN(len(vocab))])
			}
			tags = models.NormalizeTags(tags)
			meta.Documents[fmt.Sprintf("d%02d.md", i)] = doc(fmt.Sprint(i), "", models.ModeMarkdown, t0, tags...)
			if err := db.IncrementTagCounts(ctx, tags); err != nil {
				t.Fatal(err)
			}
		}
		incremental, _ := db.TagCounts(ctx)

		if err := db.RebuildTagCounts(ctx, meta); err != nil {
			t.Fatal(err)
		}
		rebuilt, _ := db.TagCounts(ctx)
		if diff := cmp.Diff(rebuilt, incremental); diff != "" {
			t.Errorf("increment vs rebuild (-rebuild +increment):\n%s", diff)
		}
	})
}

func TestClear(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "a.md", doc("1", "A", models.ModeMarkdown, t0, "x"), "alpha")
		_ = db.IncrementTagCounts(ctx, []string{"x"})
		if err := db.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		s, _ := db.Snapshot(ctx)
		if len(s.Documents)+len(s.Text)+len(s.Tags) != 0 {
			t.Errorf("snapshot not empty after Clear: %+v", s)
		}
	})
}

func TestMakeSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		terms   []string
		want    string
	}{
		{"hit", "the quick brown fox", []string{"BROWN"}, "the quick <mark>brown</mark> fox"},
		{"no hit", "short", []string{"zzz"}, "short"},
		{"earliest term wins", "a b c", []string{"c", "b"}, "a <mark>b</mark> c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := makeSnippet(tt.content, tt.terms); got != tt.want {
				t.Errorf("makeSnippet = %q, want %q", got, tt.want)
			}
		})
	}

	long := strings.Repeat("x ", 100) + "needle" + strings.Repeat(" y", 100)
	got := makeSnippet(long, []string{"needle"})
	if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") {
		t.Errorf("long snippet not elided: %q", got)
	}
}

func TestFTSMatchExpr(t *testing.T) {
	got := ftsMatchExpr([]string{`go`, `say"hi`, `a-b`})
	want := `"go" "say""hi" "a-b"`
	if got != want {
		t.Errorf("ftsMatchExpr = %q, want %q", got, want)
	}
}

func TestPaths(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		_ = db.IndexDocument(ctx, "b.md", doc("2", "B", models.ModeMarkdown, t0), "")
		_ = db.IndexDocument(ctx, "a.md", doc("1", "A", models.ModeMarkdown, t0), "")
		got, err := db.Paths(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a.md", "b.md"}, got); diff != "" {
			t.Errorf("Paths (-want +got):\n%s", diff)
		}
	})
}
