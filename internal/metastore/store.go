// Package metastore persists WorkspaceMetadata as a single JSON document next
// to the workspace's documents.
//
// The store is not safe for concurrent writers; the owning workspace handle
// serializes access.
package metastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/tailscale/hujson"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/models"
)

// Store reads and writes the metadata file.
type Store struct {
	path    string
	name    string
	now     func() time.Time
	mu      sync.Mutex
	entropy *rand.Rand
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/modified stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store for the metadata file at path. workspaceName is used
// when a fresh file has to be synthesized.
func New(path, workspaceName string, opts ...Option) *Store {
	s := &Store{
		path:    path,
		name:    workspaceName,
		now:     time.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the metadata file location.
func (s *Store) Path() string { return s.path }

// NewID mints a fresh document identifier.
func (s *Store) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Load reads the metadata file. A missing file yields an error matching
// fs.ErrNotExist; a file that cannot be parsed yields apperr.ErrCorrupt.
// Comments and trailing commas left by hand-merges are tolerated.
func (s *Store) Load() (*models.WorkspaceMetadata, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("metastore: read %s: %w", s.path, err)
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrCorrupt, s.path, err)
	}
	var m models.WorkspaceMetadata
	dec := json.NewDecoder(bytes.NewReader(std))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrCorrupt, s.path, err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("%w: %s: missing version", apperr.ErrCorrupt, s.path)
	}
	if m.Documents == nil {
		m.Documents = make(map[string]models.DocumentMetadata)
	}
	for p, d := range m.Documents {
		if d.Tags == nil {
			d.Tags = []string{}
			m.Documents[p] = d
		}
	}
	return &m, nil
}

// Initialize synthesizes a default WorkspaceMetadata and persists it.
func (s *Store) Initialize(description string) (*models.WorkspaceMetadata, error) {
	m := &models.WorkspaceMetadata{
		Version: models.SchemaVersion,
		Workspace: models.WorkspaceInfo{
			Name:        s.name,
			Created:     s.now().UTC(),
			Description: description,
		},
		Documents: make(map[string]models.DocumentMetadata),
	}
	if err := s.Save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadOrInitialize loads the metadata file, creating and persisting a default
// one carrying description when it does not exist yet. created reports
// whether a file was written. A corrupt file is never replaced.
func (s *Store) LoadOrInitialize(description string) (m *models.WorkspaceMetadata, created bool, err error) {
	m, err = s.Load()
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	m, err = s.Initialize(description)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Save atomically replaces the metadata file with m.
func (s *Store) Save(m *models.WorkspaceMetadata) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("metastore: mkdir: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("metastore: write %s: %w", s.path, err)
	}
	// atomic.WriteFile creates new files with temp-file permissions.
	if err := os.Chmod(s.path, 0o644); err != nil {
		return fmt.Errorf("metastore: chmod %s: %w", s.path, err)
	}
	return nil
}

// Marshal renders m the way Save writes it. Document keys are sorted, so equal
// metadata always produces identical bytes.
func Marshal(m *models.WorkspaceMetadata) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("metastore: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Patch carries the fields to merge into a document record. Nil fields are
// left untouched.
type Patch struct {
	Title    *string
	Mode     *models.Mode
	Tags     []string
	Language *string
}

// UpsertDocument merges patch into the record for path, creating it with a
// fresh id and created stamp when absent. modified is always refreshed.
func (s *Store) UpsertDocument(m *models.WorkspaceMetadata, path string, patch Patch) models.DocumentMetadata {
	now := s.now().UTC()
	doc, ok := m.Documents[path]
	if !ok {
		doc = models.DocumentMetadata{
			ID:      s.NewID(),
			Title:   models.TitleFromPath(path),
			Mode:    models.ModeMarkdown,
			Tags:    []string{},
			Created: now,
		}
	}
	if patch.Title != nil && *patch.Title != "" {
		doc.Title = *patch.Title
	}
	if patch.Mode != nil && patch.Mode.Valid() {
		doc.Mode = *patch.Mode
	}
	if patch.Tags != nil {
		doc.Tags = models.NormalizeTags(patch.Tags)
	}
	if patch.Language != nil {
		doc.Language = *patch.Language
	}
	doc.Modified = now
	m.Documents[path] = doc
	return doc.Clone()
}

// RemoveDocument deletes the record for path.
func (s *Store) RemoveDocument(m *models.WorkspaceMetadata, path string) error {
	if _, ok := m.Documents[path]; !ok {
		return fmt.Errorf("metastore: %s: %w", path, apperr.ErrNotFound)
	}
	delete(m.Documents, path)
	return nil
}
