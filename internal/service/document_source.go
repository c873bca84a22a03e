package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DocumentSource fetches the raw persisted gallery document.
type DocumentSource interface {
	Fetch(ctx context.Context) ([]byte, error)
	Describe() string
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FileSource reads the document from the deployed site directory.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s FileSource) Describe() string {
	return s.Path
}

// SiteFileSource returns a FileSource for dataPath under siteDir.
func SiteFileSource(siteDir, dataPath string) FileSource {
	return FileSource{Path: filepath.Join(siteDir, filepath.FromSlash(strings.TrimPrefix(dataPath, "/")))}
}

// HTTPSource fetches the document from the published site, bypassing caches.
type HTTPSource struct {
	URL  string
	http httpDoer
}

// NewHTTPSource builds an HTTPSource with a bounded client.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSource{URL: url, http: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "application/json")

	client := s.http
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func (s *HTTPSource) Describe() string {
	return s.URL
}

type branchFileReader interface {
	ReadFile(ctx context.Context, branch, path string) ([]byte, error)
}

// RepoSource reads the document straight from the branch head of a local
// repository.
type RepoSource struct {
	Repo   branchFileReader
	Branch string
	Path   string
}

func (s RepoSource) Fetch(ctx context.Context) ([]byte, error) {
	return s.Repo.ReadFile(ctx, s.Branch, s.Path)
}

func (s RepoSource) Describe() string {
	return fmt.Sprintf("%s@%s", s.Path, s.Branch)
}
