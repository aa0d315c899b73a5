// Package storage defines the document-root file-system abstraction.
package storage

import "time"

// FileInfo describes one file under the document root.
type FileInfo struct {
	Path      string // relative, forward slashes, NFC
	Size      int64
	ModTime   time.Time
	BirthTime time.Time // falls back to ModTime where the platform has no birth time
}

// Provider is the interface for document file operations.
// All paths are relative to the document root.
type Provider interface {
	// Root returns the absolute document root.
	Root() string
	// List returns every regular file under the root, ordered by path.
	List() ([]FileInfo, error)
	// Stat describes a single file.
	Stat(path string) (FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
