package workspace

import (
	"sync"

	"github.com/starford/folio/internal/checksum"
)

// deletedMark records a delete made through the workspace.
const deletedMark = "-"

// selfWrites remembers what the workspace last wrote to each path so change
// notifications caused by its own writes can be told apart from edits made
// by other programs.
type selfWrites struct {
	mu     sync.Mutex
	recent map[string]string
}

func (s *selfWrites) remember(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		s.recent[path] = deletedMark
		return
	}
	s.recent[path] = checksum.Sum(data)
}

func (s *selfWrites) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recent, path)
}

// matches reports whether the current state of path (data, or nil when the
// file is gone) is exactly what the workspace last wrote.
func (s *selfWrites) matches(path string, data []byte, exists bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.recent[path]
	if !ok {
		return false
	}
	if !exists {
		return sum == deletedMark
	}
	return checksum.Equal(data, sum)
}
