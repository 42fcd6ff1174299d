package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tglite/internal/domain"
)

func newTestGitHub(t *testing.T, handler http.Handler) (*GitHub, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewGitHub(Config{
		Token:   "test-token",
		Owner:   "acme",
		Repo:    "data",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new github: %v", err)
	}
	return g, srv
}

func TestGitHubRead(t *testing.T) {
	doc := []byte(`[{"id":1}]`)
	g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/repos/acme/data/contents/chats.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token test-token" {
			t.Errorf("authorization = %q", got)
		}
		// The contents API wraps base64 payloads in newlines.
		encoded := base64.StdEncoding.EncodeToString(doc)
		wrapped := encoded[:8] + "\n" + encoded[8:] + "\n"
		json.NewEncoder(w).Encode(map[string]string{
			"content": wrapped,
			"sha":     "abc123",
		})
	}))

	got, tag, err := g.Read(context.Background(), "chats.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(doc) {
		t.Fatalf("doc = %q", got)
	}
	if tag != "abc123" {
		t.Fatalf("tag = %q", tag)
	}
}

func TestGitHubReadNotFound(t *testing.T) {
	g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
	}))

	_, _, err := g.Read(context.Background(), "chats.json")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGitHubReadRetriesServerError(t *testing.T) {
	calls := 0
	g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"content": base64.StdEncoding.EncodeToString([]byte("[]")),
			"sha":     "s1",
		})
	}))

	doc, _, err := g.Read(context.Background(), "chats.json")
	if err != nil {
		t.Fatalf("read after retry: %v", err)
	}
	if string(doc) != "[]" {
		t.Fatalf("doc = %q", doc)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestGitHubWriteCreate(t *testing.T) {
	g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := req["sha"]; ok {
			t.Errorf("create must not carry a sha, got %v", req["sha"])
		}
		content, _ := base64.StdEncoding.DecodeString(req["content"].(string))
		if string(content) != "[]" {
			t.Errorf("content = %q", content)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"content":{"sha":"new-sha"}}`)
	}))

	tag, err := g.Write(context.Background(), "chats.json", []byte("[]"), "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if tag != "new-sha" {
		t.Fatalf("tag = %q", tag)
	}
}

func TestGitHubWriteUpdateCarriesTag(t *testing.T) {
	g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["sha"] != "old-sha" {
			t.Errorf("sha = %v, want old-sha", req["sha"])
		}
		fmt.Fprint(w, `{"content":{"sha":"next-sha"}}`)
	}))

	tag, err := g.Write(context.Background(), "chats.json", []byte("[]"), "old-sha")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if tag != "next-sha" {
		t.Fatalf("tag = %q", tag)
	}
}

func TestGitHubWriteConflict(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity} {
		g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"message": "does not match"})
		}))

		_, err := g.Write(context.Background(), "chats.json", []byte("[]"), "stale")
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("status %d: want ErrConflict, got %v", status, err)
		}
	}
}

func TestGitHubWriteUnauthorized(t *testing.T) {
	g, _ := newTestGitHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
	}))

	_, err := g.Write(context.Background(), "chats.json", []byte("[]"), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrConflict) || domain.IsTransient(err) {
		t.Fatalf("auth failure is neither conflict nor transient: %v", err)
	}
}

func TestNewGitHubValidation(t *testing.T) {
	if _, err := NewGitHub(Config{Owner: "a", Repo: "b"}); err == nil {
		t.Fatal("missing token should fail")
	}
	if _, err := NewGitHub(Config{Token: "t"}); err == nil {
		t.Fatal("missing owner/repo should fail")
	}
}

func TestStripNewlines(t *testing.T) {
	if got := stripNewlines("ab\ncd\r\nef\n"); got != "abcdef" {
		t.Fatalf("got %q", got)
	}
}
