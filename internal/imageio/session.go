package imageio

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Session owns every temporary artifact of one extraction call. All files are
// created inside a private directory which Close removes. A Session is safe for
// concurrent use by the parallel optimizer.
type Session struct {
	dir string

	mu      sync.Mutex
	extra   []string
	closed  bool
	counter int
}

// NewSession creates a private temp directory under root named prefix + uuid.
func NewSession(root, prefix string) (*Session, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare temp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, prefix+uuid.NewString()+"_")
	if err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &Session{dir: dir}, nil
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	return s.dir
}

// Save writes img as a PNG named after label inside the session directory.
func (s *Session) Save(img image.Image, label string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("session closed")
	}
	s.counter++
	prefix := fmt.Sprintf("%s_%03d_", label, s.counter)
	s.mu.Unlock()

	return SaveTemp(img, s.dir, prefix, ".png")
}

// Track registers a path outside the session directory for removal on Close.
func (s *Session) Track(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = append(s.extra, path)
}

// Close removes the session directory and every tracked path. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	paths := append([]string{s.dir}, s.extra...)
	s.mu.Unlock()

	Cleanup(paths...)
}
