package secret

import (
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "bot_token")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if tok, err := s.Token(); err != nil || tok != "" {
		t.Fatalf("empty store: tok=%q err=%v", tok, err)
	}

	if err := s.SetToken("123:abc"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	tok, err := s.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "123:abc" {
		t.Fatalf("token = %q", tok)
	}

	if err := s.SetToken("456:def"); err != nil {
		t.Fatalf("replace token: %v", err)
	}
	if tok, _ := s.Token(); tok != "456:def" {
		t.Fatalf("replaced token = %q", tok)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if tok, err := s.Token(); err != nil || tok != "" {
		t.Fatalf("after clear: tok=%q err=%v", tok, err)
	}
	// Clearing an already-empty store is fine.
	if err := s.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
