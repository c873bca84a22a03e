package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

func newGatewayServer(t *testing.T, handler func(w http.ResponseWriter, r recordedRequest)) (*HTTPClient, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		seen = append(seen, rec)
		handler(w, rec)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL+"/.netlify/git/github/", StaticToken("jwt-123"), 5*time.Second)
	return client, &seen
}

func TestHTTPClientRequestShapes(t *testing.T) {
	ctx := context.Background()
	client, seen := newGatewayServer(t, func(w http.ResponseWriter, r recordedRequest) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.Path, "/git/refs/heads/main"):
			_, _ = io.WriteString(w, `{"object":{"sha":"head1"}}`)
		case r.Method == http.MethodGet && strings.HasSuffix(r.Path, "/git/commits/head1"):
			_, _ = io.WriteString(w, `{"sha":"head1","tree":{"sha":"tree1"},"parents":[{"sha":"p0"}]}`)
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, `{"object":{"sha":"c2"}}`)
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"sha":"new-sha"}`)
		}
	})

	head, err := client.GetRef(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, "head1", head)

	commit, err := client.GetCommit(ctx, head)
	require.NoError(t, err)
	require.Equal(t, Commit{SHA: "head1", TreeSHA: "tree1", Parents: []string{"p0"}}, commit)

	blob, err := client.CreateBlob(ctx, []byte("héllo"))
	require.NoError(t, err)
	require.Equal(t, "new-sha", blob)

	_, err = client.CreateTree(ctx, "tree1", []TreeEntry{BlobEntry("/data/gallery.json", blob)})
	require.NoError(t, err)

	_, err = client.CreateCommit(ctx, CommitRequest{Message: "m", Tree: "t", Parents: []string{"head1"}, Author: Author{Name: "A", Email: "a@x"}})
	require.NoError(t, err)

	require.NoError(t, client.UpdateRef(ctx, "main", "c2", "head1"))

	reqs := *seen
	require.Len(t, reqs, 6)
	for _, r := range reqs {
		require.Equal(t, "Bearer jwt-123", r.Auth)
		require.True(t, strings.HasPrefix(r.Path, "/.netlify/git/github/git/"), r.Path)
	}

	blobReq := reqs[2].Body
	require.Equal(t, "base64", blobReq["encoding"])
	decoded, err := base64.StdEncoding.DecodeString(blobReq["content"].(string))
	require.NoError(t, err)
	require.Equal(t, "héllo", string(decoded))

	treeReq := reqs[3].Body
	require.Equal(t, "tree1", treeReq["base_tree"])
	entry := treeReq["tree"].([]any)[0].(map[string]any)
	require.Equal(t, "data/gallery.json", entry["path"])
	require.Equal(t, "100644", entry["mode"])
	require.Equal(t, "blob", entry["type"])

	commitReq := reqs[4].Body
	require.Equal(t, []any{"head1"}, commitReq["parents"])
	require.Contains(t, commitReq, "author")

	refReq := reqs[5]
	require.Equal(t, http.MethodPatch, refReq.Method)
	require.Equal(t, false, refReq.Body["force"])
	require.Equal(t, "c2", refReq.Body["sha"])
}

func TestHTTPClientMapsRejectedRefUpdate(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r recordedRequest) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Update is not a fast forward"}`)
	})

	err := client.UpdateRef(context.Background(), "main", "c2", "head1")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRefConflict))

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, StepUpdateRef, gwErr.Step)
	require.Equal(t, http.StatusUnprocessableEntity, gwErr.Status)
	require.Contains(t, gwErr.Error(), "not a fast forward")
}

func TestHTTPClientFailureCarriesStepAndBody(t *testing.T) {
	client, _ := newGatewayServer(t, func(w http.ResponseWriter, r recordedRequest) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "upstream exploded")
	})

	_, err := client.CreateBlob(context.Background(), []byte("x"))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRefConflict))
	require.Equal(t, StepCreateBlob, StepOf(err))
	require.Contains(t, err.Error(), "upstream exploded")
	require.Contains(t, err.Error(), "500")
}

func TestHTTPClientRequiresToken(t *testing.T) {
	client, seen := newGatewayServer(t, func(w http.ResponseWriter, r recordedRequest) {})
	client.tokens = StaticToken("  ")

	_, err := client.GetRef(context.Background(), "main")
	require.Error(t, err)
	require.Equal(t, StepReadRef, StepOf(err))
	require.Empty(t, *seen)
}

func TestHTTPClientRejectsUnsafeTreePathLocally(t *testing.T) {
	client, seen := newGatewayServer(t, func(w http.ResponseWriter, r recordedRequest) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sha":"t"}`)
	})

	_, err := client.CreateTree(context.Background(), "tree1", []TreeEntry{BlobEntry("/assets/gallery/photoshoots//", "b1")})
	require.ErrorIs(t, err, ErrInvalidTreePath)
	require.Equal(t, StepCreateTree, StepOf(err))
	require.Empty(t, *seen)
}
