package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/folio/internal/testutil"
	"github.com/starford/folio/internal/workspace"
)

// testEnv opens a temp workspace and returns it with a router.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) (*workspace.Workspace, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*workspace.Workspace, http.Handler) {
	t.Helper()
	ws := testutil.TestWorkspace(t, workspace.Options{})
	return ws, NewRouter(ws, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPutAndGetDocument(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/documents/notes/hello.md", map[string]any{
		"body":  "# Hello\nWorld",
		"title": "Hello",
		"tags":  []string{"greeting"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/documents/notes/hello.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var doc Document
	_ = json.Unmarshal(w.Body.Bytes(), &doc)
	if doc.Path != "notes/hello.md" {
		t.Errorf("path = %q", doc.Path)
	}
	if doc.Title != "Hello" {
		t.Errorf("title = %q, want Hello", doc.Title)
	}
	if doc.Body != "# Hello\nWorld" {
		t.Errorf("body = %q", doc.Body)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+doc.Checksum+`"` {
		t.Errorf("ETag = %q, checksum = %q", etag, doc.Checksum)
	}

	// Encoded slash resolves to the same document.
	w = do(t, router, http.MethodGet, "/documents/notes%2Fhello.md", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded path status = %d", w.Code)
	}
}

func TestPutCreateOnly(t *testing.T) {
	_, router := testEnv(t, "")
	body := map[string]any{"body": "a"}
	if w := do(t, router, http.MethodPut, "/documents/dup.md", body, "If-None-Match", "*"); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := do(t, router, http.MethodPut, "/documents/dup.md", body, "If-None-Match", "*"); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/documents/lock.md", map[string]any{"body": "v1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	etag := w.Header().Get("ETag")

	w = do(t, router, http.MethodPut, "/documents/lock.md", map[string]any{"body": "v2"}, "If-Match", `"wrong"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPut, "/documents/lock.md", map[string]any{"body": "v2"}, "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Errorf("matching If-Match = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestPutValidation(t *testing.T) {
	_, router := testEnv(t, "")
	tests := []struct {
		name string
		body any
	}{
		{"bad mode", map[string]any{"body": "x", "mode": "spreadsheet"}},
		{"empty tag", map[string]any{"body": "x", "tags": []string{"ok", ""}}},
		{"empty title", map[string]any{"body": "x", "title": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPut, "/documents/v.md", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPut, "/documents/v.md", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON = %d, want 400", w.Code)
	}
}

func TestPutTraversalRejected(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPut, "/documents/..%2F..%2Fetc%2Fpasswd", map[string]any{"body": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal = %d, want 400", w.Code)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/documents/nope.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodDelete, "/documents/nope.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete unknown = %d, want 404", w.Code)
	}
	do(t, router, http.MethodPut, "/documents/del.md", map[string]any{"body": "x"})
	if w := do(t, router, http.MethodDelete, "/documents/del.md", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents/del.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/documents/b.md", map[string]any{"body": "b"})
	do(t, router, http.MethodPut, "/documents/a.py", map[string]any{"body": "print(1)"})

	w := do(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp DocumentListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Documents) != 2 {
		t.Fatalf("total = %d, docs = %d", resp.Total, len(resp.Documents))
	}
	if resp.Documents[0].Path != "a.py" || resp.Documents[0].Mode != "code" {
		t.Errorf("first = %+v", resp.Documents[0])
	}
}

func TestSearchAndTags(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPut, "/documents/go.md", map[string]any{"body": "goroutines and channels", "tags": []string{"golang"}})
	do(t, router, http.MethodPut, "/documents/py.md", map[string]any{"body": "list comprehensions", "tags": []string{"python"}})

	w := do(t, router, http.MethodGet, "/search?q=goroutines", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var sr SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &sr)
	if len(sr.Results) != 1 || sr.Results[0].Path != "go.md" {
		t.Errorf("results = %+v", sr.Results)
	}

	w = do(t, router, http.MethodGet, "/search?q=", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &sr)
	if w.Code != http.StatusOK || len(sr.Results) != 0 {
		t.Errorf("blank search = %d with %d results", w.Code, len(sr.Results))
	}

	w = do(t, router, http.MethodGet, "/tags", nil)
	var cloud TagCloudResponse
	_ = json.Unmarshal(w.Body.Bytes(), &cloud)
	if len(cloud.Tags) != 2 {
		t.Errorf("tags = %+v", cloud.Tags)
	}

	w = do(t, router, http.MethodGet, "/tags/golang", nil)
	var byTag struct {
		Documents []TaggedDocument `json:"documents"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &byTag)
	if len(byTag.Documents) != 1 || byTag.Documents[0].Path != "go.md" {
		t.Errorf("by tag = %+v", byTag.Documents)
	}
}

func TestReconcileAndPrune(t *testing.T) {
	ws, router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/reconcile?if_stale=true", nil); w.Code != http.StatusNoContent {
		t.Errorf("reconcile if stale on fresh workspace = %d, want 204", w.Code)
	}
	if err := os.WriteFile(filepath.Join(ws.DocumentsDir(), "outside.md"), []byte("dropped in"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodPost, "/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile = %d", w.Code)
	}
	var rr ReconcileResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rr)
	if len(rr.Discovered) != 1 || rr.Discovered[0] != "outside.md" {
		t.Errorf("discovered = %v", rr.Discovered)
	}

	_ = os.Remove(filepath.Join(ws.DocumentsDir(), "outside.md"))
	w = do(t, router, http.MethodPost, "/prune", nil)
	var pr PruneResponse
	_ = json.Unmarshal(w.Body.Bytes(), &pr)
	if w.Code != http.StatusOK || len(pr.Removed) != 1 {
		t.Errorf("prune = %d %+v", w.Code, pr)
	}
}

func TestCommitWithoutRepository(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/vcs/commit", map[string]any{"message": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/vcs/commit", map[string]any{"message": "m"}); w.Code != http.StatusConflict {
		t.Errorf("noop commit = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/vcs/sync", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("sync without url = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/vcs/pull", nil); w.Code != http.StatusOK {
		t.Errorf("noop pull = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_TokenRequired(t *testing.T) {
	_, router := testEnv(t, "secret")

	if w := do(t, router, http.MethodGet, "/documents", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/documents", nil); w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d, want 200", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context ends.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE)
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE without token = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
