package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 8 << 20
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource issues the bearer credential for gateway calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", fmt.Errorf("gateway token is not configured")
	}
	return token, nil
}

// HTTPClient implements Gateway against a REST git gateway such as
// /.netlify/git/github.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	http    HTTPDoer
}

var _ Gateway = (*HTTPClient)(nil)

// NewHTTPClient builds a gateway client. A non-positive timeout falls back
// to 30s.
func NewHTTPClient(baseURL string, tokens TokenSource, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient swaps the transport, mainly for tests.
func (c *HTTPClient) SetHTTPClient(client HTTPDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
		return
	}
	c.http = client
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commitResponse struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type blobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type treeRequest struct {
	BaseTree string      `json:"base_tree"`
	Tree     []TreeEntry `json:"tree"`
}

type refUpdateRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

func (c *HTTPClient) GetRef(ctx context.Context, branch string) (string, error) {
	var out refResponse
	if err := c.do(ctx, StepReadRef, http.MethodGet, refPath(branch), nil, &out); err != nil {
		return "", err
	}
	if out.Object.SHA == "" {
		return "", &GatewayError{Step: StepReadRef, Method: http.MethodGet, Path: refPath(branch), Err: fmt.Errorf("response has no object sha")}
	}
	return out.Object.SHA, nil
}

func (c *HTTPClient) GetCommit(ctx context.Context, sha string) (Commit, error) {
	var out commitResponse
	path := "/git/commits/" + sha
	if err := c.do(ctx, StepReadCommit, http.MethodGet, path, nil, &out); err != nil {
		return Commit{}, err
	}
	if out.Tree.SHA == "" {
		return Commit{}, &GatewayError{Step: StepReadCommit, Method: http.MethodGet, Path: path, Err: fmt.Errorf("response has no tree sha")}
	}
	commit := Commit{SHA: out.SHA, TreeSHA: out.Tree.SHA}
	if commit.SHA == "" {
		commit.SHA = sha
	}
	for _, p := range out.Parents {
		commit.Parents = append(commit.Parents, p.SHA)
	}
	return commit, nil
}

func (c *HTTPClient) CreateBlob(ctx context.Context, content []byte) (string, error) {
	req := blobRequest{
		Content:  base64.StdEncoding.EncodeToString(content),
		Encoding: "base64",
	}
	return c.create(ctx, StepCreateBlob, "/git/blobs", req)
}

func (c *HTTPClient) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	for _, entry := range entries {
		if err := CheckTreePath(entry.Path); err != nil {
			return "", &GatewayError{Step: StepCreateTree, Method: http.MethodPost, Path: "/git/trees", Err: err}
		}
	}
	return c.create(ctx, StepCreateTree, "/git/trees", treeRequest{BaseTree: baseTree, Tree: entries})
}

func (c *HTTPClient) CreateCommit(ctx context.Context, req CommitRequest) (string, error) {
	return c.create(ctx, StepCreateCommit, "/git/commits", req)
}

// UpdateRef sends force=false; the gateway rejects anything that is not a
// fast-forward of the current head, which for a commit whose only parent is
// expected is the same as a compare-and-swap.
func (c *HTTPClient) UpdateRef(ctx context.Context, branch, sha, _ string) error {
	return c.do(ctx, StepUpdateRef, http.MethodPatch, refPath(branch), refUpdateRequest{SHA: sha, Force: false}, nil)
}

func (c *HTTPClient) create(ctx context.Context, step, path string, payload any) (string, error) {
	var out shaResponse
	if err := c.do(ctx, step, http.MethodPost, path, payload, &out); err != nil {
		return "", err
	}
	if out.SHA == "" {
		return "", &GatewayError{Step: step, Method: http.MethodPost, Path: path, Err: fmt.Errorf("response has no sha")}
	}
	return out.SHA, nil
}

func (c *HTTPClient) do(ctx context.Context, step, method, path string, payload, out any) error {
	fail := func(status int, body string, err error) error {
		return &GatewayError{Step: step, Method: method, Path: path, Status: status, Body: body, Err: err}
	}

	if c.tokens == nil {
		return fail(0, "", fmt.Errorf("no token source configured"))
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fail(0, "", err)
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fail(0, "", fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fail(0, "", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gallerydesk/1.0")

	client := c.http
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &GatewayError{
			Step:   step,
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   string(respBody),
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			gwErr.Err = ErrNotFound
		case step == StepUpdateRef && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity):
			gwErr.Conflict = true
		}
		return gwErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fail(resp.StatusCode, string(respBody), fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func refPath(branch string) string {
	return "/git/refs/heads/" + strings.TrimPrefix(branch, "refs/heads/")
}
