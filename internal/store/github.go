// Package store implements the remote document store client against the
// GitHub contents API. Documents are path-addressed JSON files in a single
// repository; the file's content sha serves as the revision tag for
// optimistic-concurrency writes.
package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tglite/internal/domain"
)

const defaultBaseURL = "https://api.github.com"

// GitHub is a domain.DocumentStore backed by one GitHub repository.
type GitHub struct {
	token   string
	owner   string
	repo    string
	baseURL string
	commit  string
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	Token         string
	Owner         string
	Repo          string
	BaseURL       string // override for tests
	CommitMessage string
	Timeout       time.Duration
	Logger        *slog.Logger
}

func NewGitHub(cfg Config) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github store: token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github store: owner and repo are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CommitMessage == "" {
		cfg.CommitMessage = "Update document"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GitHub{
		token:   cfg.Token,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		baseURL: cfg.BaseURL,
		commit:  cfg.CommitMessage,
		client:  newHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}, nil
}

type contentsResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
}

func (g *GitHub) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.baseURL, g.owner, g.repo, path)
}

func (g *GitHub) authorize(req *http.Request) {
	req.Header.Set("Authorization", "token "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

// Read fetches the document at path. A 404 maps to domain.ErrNotFound so
// callers can start from an empty document.
func (g *GitHub) Read(ctx context.Context, path string) ([]byte, string, error) {
	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.contentsURL(path), nil)
		if err != nil {
			return nil, err
		}
		g.authorize(req)
		return req, nil
	}, g.logger)
	if err != nil {
		return nil, "", &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("read %s: %s", path, readAPIMessage(resp))
	}

	var cr contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, "", fmt.Errorf("read %s: decode response: %w", path, err)
	}
	doc, err := base64.StdEncoding.DecodeString(stripNewlines(cr.Content))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: decode content: %w", path, err)
	}
	return doc, cr.SHA, nil
}

// Write performs a conditional whole-document replace. A stale expectedTag
// yields domain.ErrConflict; an empty expectedTag creates the document.
func (g *GitHub) Write(ctx context.Context, path string, doc []byte, expectedTag string) (string, error) {
	body, err := json.Marshal(writeRequest{
		Message: g.commit,
		Content: base64.StdEncoding.EncodeToString(doc),
		SHA:     expectedTag,
	})
	if err != nil {
		return "", fmt.Errorf("write %s: encode request: %w", path, err)
	}

	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.contentsURL(path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		g.authorize(req)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, g.logger)
	if err != nil {
		return "", &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// The contents API reports a stale sha as 409 or, on some paths,
		// as 422 with a sha mismatch message.
		return "", fmt.Errorf("write %s: %w", path, domain.ErrConflict)
	default:
		return "", fmt.Errorf("write %s: %s", path, readAPIMessage(resp))
	}

	var wr writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", fmt.Errorf("write %s: decode response: %w", path, err)
	}
	return wr.Content.SHA, nil
}

func readAPIMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	if err := json.Unmarshal(data, &ae); err == nil && ae.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, ae.Message)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// The contents API wraps base64 payloads at 60 columns.
func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
