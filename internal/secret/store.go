// Package secret keeps the bot credential in a dedicated file store instead
// of stashing it inside the message log. The file is owner-readable only and
// replaced atomically.
package secret

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("secret store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("secret store: ensure dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Token returns the stored credential, or "" when none is stored.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("secret store: read: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetToken replaces the stored credential atomically.
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("secret store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("secret store: replace: %w", err)
	}
	return nil
}

// Clear removes the stored credential.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("secret store: clear: %w", err)
	}
	return nil
}
