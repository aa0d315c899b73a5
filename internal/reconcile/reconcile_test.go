package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/metastore"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/storage"
)

type fixture struct {
	docs  string
	files *storage.FS
	store *metastore.Store
	db    *index.DB
	rec   *Reconciler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "documents")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	files, err := storage.NewFS(docs)
	if err != nil {
		t.Fatal(err)
	}
	db, err := index.Open(index.DriverPureGo, filepath.Join(root, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	clock := func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	store := metastore.New(filepath.Join(root, "folio.json"), "ws", metastore.WithClock(clock))
	return &fixture{
		docs:  docs,
		files: files,
		store: store,
		db:    db,
		rec:   New(files, store, db, quietLogger()),
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(f.docs, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) meta(t *testing.T) *models.WorkspaceMetadata {
	t.Helper()
	m, _, err := f.store.LoadOrInitialize("")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (f *fixture) run(t *testing.T, m *models.WorkspaceMetadata) (*models.WorkspaceMetadata, Result) {
	t.Helper()
	next, res, err := f.rec.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return next, res
}

func TestRunDiscoversPlainFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "hello")
	f.write(t, "b.py", "print('hi')\n")

	next, res := f.run(t, f.meta(t))

	if diff := cmp.Diff([]string{"a.md", "b.py"}, res.Discovered); diff != "" {
		t.Errorf("Discovered (-want +got):\n%s", diff)
	}
	a, b := next.Documents["a.md"], next.Documents["b.py"]
	if a.Mode != models.ModeMarkdown || a.Title != "a" {
		t.Errorf("a.md = %+v, want markdown titled a", a)
	}
	if b.Mode != models.ModeCode || b.Title != "b" {
		t.Errorf("b.py = %+v, want code titled b", b)
	}

	saved, err := f.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(next, saved); diff != "" {
		t.Errorf("persisted metadata differs (-returned +saved):\n%s", diff)
	}

	hits, err := f.db.Search(context.Background(), "hello", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Path != "a.md" {
		t.Errorf("search hello = %+v, want a.md", hits)
	}
}

func TestRunDiscoveryIsComplete(t *testing.T) {
	f := newFixture(t)
	files := map[string]string{
		"with-header.md":      "---\ntitle: Planned\nmode: rich-notes\ntags: [plan, q3]\n---\nbody",
		"malformed-close.md":  "---\ntitle: X\n---content on this line\nmore",
		"unclosed.md":         "---\ntitle: never closed\nbody",
		"no-header.md":        "just text",
		"other-keys.md":       "---\nauthor: someone\n---\nbody",
		"nested/deep/file.go": "package deep",
		"weird.unknownext":    "???",
		"empty.md":            "",
		".hidden":             "dotfile",
	}
	for p, c := range files {
		f.write(t, p, c)
	}

	next, res := f.run(t, f.meta(t))

	if len(next.Documents) != len(files) {
		t.Fatalf("got %d documents, want %d: %v", len(next.Documents), len(files), next.Paths())
	}
	for p := range files {
		if _, ok := next.Documents[p]; !ok {
			t.Errorf("%s not discovered", p)
		}
	}
	if len(res.Skipped) != 0 {
		t.Errorf("Skipped = %v", res.Skipped)
	}

	hdr := next.Documents["with-header.md"]
	if hdr.Title != "Planned" || hdr.Mode != models.ModeRichNotes {
		t.Errorf("header fields ignored: %+v", hdr)
	}
	if diff := cmp.Diff([]string{"plan", "q3"}, hdr.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
	if got := next.Documents["weird.unknownext"].Mode; got != models.ModeMarkdown {
		t.Errorf("unknown extension mode = %q, want markdown", got)
	}
	if got := next.Documents["unclosed.md"].Title; got != "unclosed" {
		t.Errorf("unclosed header title = %q, want file name", got)
	}
	if got := next.Documents[".hidden"].Title; got != ".hidden" {
		t.Errorf("dotfile title = %q", got)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "---\ntags: [x, y]\n---\nalpha")
	f.write(t, "sub/b.ts", "export const b = 1")
	f.write(t, "c.html", "<p>rich</p>")
	ctx := context.Background()

	first, _ := f.run(t, f.meta(t))
	firstBytes, err := os.ReadFile(f.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	firstIndex, err := f.db.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	second, res := f.run(t, first)
	if len(res.Discovered) != 0 {
		t.Errorf("second pass discovered %v", res.Discovered)
	}
	secondBytes, _ := os.ReadFile(f.store.Path())
	if string(firstBytes) != string(secondBytes) {
		t.Errorf("metadata file changed between passes:\n%s\n---\n%s", firstBytes, secondBytes)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("metadata (-first +second):\n%s", diff)
	}
	secondIndex, _ := f.db.Snapshot(ctx)
	if diff := cmp.Diff(firstIndex, secondIndex); diff != "" {
		t.Errorf("index (-first +second):\n%s", diff)
	}
}

func TestRunIDsAreDeterministic(t *testing.T) {
	a, b := newFixture(t), newFixture(t)
	a.write(t, "same/path.md", "x")
	b.write(t, "same/path.md", "y")
	ma, _ := a.run(t, a.meta(t))
	mb, _ := b.run(t, b.meta(t))
	if ma.Documents["same/path.md"].ID != mb.Documents["same/path.md"].ID {
		t.Error("same path produced different IDs")
	}
	if DocumentID("a.md") == DocumentID("b.md") {
		t.Error("different paths produced the same ID")
	}
}

func TestRunIndexIsProjection(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "---\ntags: [go]\n---\nalpha")
	f.write(t, "b.md", "beta")
	ctx := context.Background()

	m, _ := f.run(t, f.meta(t))
	clean, _ := f.db.Snapshot(ctx)

	// Scribble over the index, then rebuild from the same inputs.
	junk := models.DocumentMetadata{ID: "junk", Title: "Junk", Mode: models.ModeCode, Tags: []string{"junk"}}
	_ = f.db.IndexDocument(ctx, "ghost.md", junk, "ghost")
	_ = f.db.IndexDocument(ctx, "a.md", junk, "overwritten")
	_ = f.db.IncrementTagCounts(ctx, []string{"junk", "go"})

	f.run(t, m)
	rebuilt, _ := f.db.Snapshot(ctx)
	if diff := cmp.Diff(clean, rebuilt); diff != "" {
		t.Errorf("rebuild depends on prior index state (-clean +rebuilt):\n%s", diff)
	}
}

func TestRunKeepsDanglingReferences(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "hello")
	f.write(t, "b.md", "world")
	m, _ := f.run(t, f.meta(t))

	if err := os.Remove(filepath.Join(f.docs, "a.md")); err != nil {
		t.Fatal(err)
	}
	next, res := f.run(t, m)

	if _, ok := next.Documents["a.md"]; !ok {
		t.Fatal("dangling a.md was removed from metadata")
	}
	if diff := cmp.Diff([]string{"a.md"}, res.Dangling); diff != "" {
		t.Errorf("Dangling (-want +got):\n%s", diff)
	}
	saved, _ := f.store.Load()
	if _, ok := saved.Documents["a.md"]; !ok {
		t.Error("dangling a.md missing from persisted metadata")
	}
	if _, err := f.db.Document(context.Background(), "a.md"); err == nil {
		t.Error("dangling a.md should not be indexed")
	}
}

func TestPruneRemovesDangling(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "---\ntags: [gone]\n---\nhello")
	f.write(t, "b.md", "---\ntags: [kept]\n---\nworld")
	ctx := context.Background()
	m, _ := f.run(t, f.meta(t))

	_ = os.Remove(filepath.Join(f.docs, "a.md"))
	next, removed, err := f.rec.Prune(ctx, m)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if diff := cmp.Diff([]string{"a.md"}, removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if _, ok := next.Documents["a.md"]; ok {
		t.Error("a.md still in metadata")
	}
	if _, ok := m.Documents["a.md"]; !ok {
		t.Error("Prune mutated its input")
	}
	saved, _ := f.store.Load()
	if _, ok := saved.Documents["a.md"]; ok {
		t.Error("a.md still persisted")
	}
	tags, _ := f.db.TagCounts(ctx)
	if diff := cmp.Diff([]models.TagCount{{Name: "kept", Count: 1}}, tags); diff != "" {
		t.Errorf("tag counts (-want +got):\n%s", diff)
	}

	again, removed, err := f.rec.Prune(ctx, next)
	if err != nil || len(removed) != 0 {
		t.Fatalf("second Prune removed %v, err %v", removed, err)
	}
	if diff := cmp.Diff(next, again); diff != "" {
		t.Errorf("no-op prune changed metadata:\n%s", diff)
	}
}

type failingSaver struct{}

func (failingSaver) Save(*models.WorkspaceMetadata) error { return errors.New("disk full") }

func TestRunSaveFailureLeavesIndexUntouched(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "hello")
	ctx := context.Background()
	before, _ := f.db.Snapshot(ctx)

	rec := New(f.files, failingSaver{}, f.db, quietLogger())
	m := f.meta(t)
	if _, _, err := rec.Run(ctx, m); err == nil {
		t.Fatal("expected save error")
	}
	if len(m.Documents) != 0 {
		t.Error("Run mutated its input on failure")
	}
	after, _ := f.db.Snapshot(ctx)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("index changed on failed pass:\n%s", diff)
	}
}

func TestRunSkipsUnreadableFiles(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	f := newFixture(t)
	f.write(t, "ok.md", "fine")
	f.write(t, "locked.md", "secret")
	if err := os.Chmod(filepath.Join(f.docs, "locked.md"), 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(filepath.Join(f.docs, "locked.md"), 0o644) })

	next, res := f.run(t, f.meta(t))
	if _, ok := next.Documents["ok.md"]; !ok {
		t.Error("readable file not discovered")
	}
	if diff := cmp.Diff([]string{"locked.md"}, res.Skipped); diff != "" {
		t.Errorf("Skipped (-want +got):\n%s", diff)
	}
}

func TestRunExclude(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "a")
	f.write(t, ".folio/index.db", "binary")
	rec := New(f.files, f.store, f.db, quietLogger(), WithExclude(func(p string) bool {
		return p == ".folio" || len(p) > 7 && p[:7] == ".folio/"
	}))
	next, _, err := rec.Run(context.Background(), f.meta(t))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.md"}, next.Paths()); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
}

func TestDiscover(t *testing.T) {
	mod := time.Date(2024, 6, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	born := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	got := Discover(storage.FileInfo{Path: "src/main.rs", ModTime: mod, BirthTime: born}, frontmatter.Fields{
		frontmatter.KeyLanguage: frontmatter.String("rust"),
		frontmatter.KeyTags:     frontmatter.Strings("sys", " sys ", ""),
		frontmatter.KeyMode:     frontmatter.String("bogus"),
	})
	want := models.DocumentMetadata{
		ID:       DocumentID("src/main.rs"),
		Title:    "main",
		Mode:     models.ModeCode,
		Tags:     []string{"sys"},
		Language: "rust",
		Created:  born,
		Modified: mod.UTC(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover (-want +got):\n%s", diff)
	}
	if got.Modified.Location() != time.UTC {
		t.Error("modified not normalized to UTC")
	}

	noBirth := Discover(storage.FileInfo{Path: "x.md", ModTime: mod}, frontmatter.Fields{})
	if !noBirth.Created.Equal(mod) {
		t.Errorf("created = %v, want modtime fallback", noBirth.Created)
	}
}

func TestModeForPath(t *testing.T) {
	tests := map[string]models.Mode{
		"a.md":         models.ModeMarkdown,
		"a.MARKDOWN":   models.ModeMarkdown,
		"src/x.go":     models.ModeCode,
		"y.PY":         models.ModeCode,
		"page.html":    models.ModeRichNotes,
		"noext":        models.ModeMarkdown,
		"archive.zip":  models.ModeMarkdown,
		"dir.d/readme": models.ModeMarkdown,
	}
	for p, want := range tests {
		if got := ModeForPath(p); got != want {
			t.Errorf("ModeForPath(%q) = %q, want %q", p, got, want)
		}
	}
}
