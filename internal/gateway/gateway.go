// Package gateway talks to the remote content store through git primitives:
// refs, commits, blobs and trees.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Workflow steps used to tag gateway failures.
const (
	StepReadRef      = "read-ref"
	StepReadCommit   = "read-commit"
	StepCreateBlob   = "create-blob"
	StepCreateTree   = "create-tree"
	StepCreateCommit = "create-commit"
	StepUpdateRef    = "update-ref"
)

// Tree entry constants in git's canonical form.
const (
	ModeRegular = "100644"
	TypeBlob    = "blob"
)

var (
	// ErrRefConflict signals that a non-forcing ref update was rejected
	// because the branch moved.
	ErrRefConflict = errors.New("branch ref moved since it was read")
	ErrNotFound    = errors.New("gateway object not found")
	// ErrInvalidTreePath rejects entry paths that would not name a single
	// file below the tree root.
	ErrInvalidTreePath = errors.New("invalid tree entry path")
)

// Gateway exposes the git primitives the commit workflow needs.
type Gateway interface {
	GetRef(ctx context.Context, branch string) (string, error)
	GetCommit(ctx context.Context, sha string) (Commit, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, req CommitRequest) (string, error)
	// UpdateRef moves branch to sha without forcing. expected is the head
	// the caller built on; implementations reject the update if the branch
	// no longer points there.
	UpdateRef(ctx context.Context, branch, sha, expected string) error
}

// Commit is the subset of a commit object the workflow reads.
type Commit struct {
	SHA     string
	TreeSHA string
	Parents []string
}

// TreeEntry is one path layered onto a base tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// BlobEntry builds a regular-file tree entry. A leading slash is stripped.
func BlobEntry(path, sha string) TreeEntry {
	return TreeEntry{
		Path: strings.TrimPrefix(path, "/"),
		Mode: ModeRegular,
		Type: TypeBlob,
		SHA:  sha,
	}
}

// CheckTreePath reports whether p names a file below the tree root. A
// single leading slash is allowed; empty, "." and ".." segments and a
// trailing slash are not.
func CheckTreePath(p string) error {
	rel := strings.TrimPrefix(p, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidTreePath, p)
	}
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".", "..":
			return fmt.Errorf("%w: %q", ErrInvalidTreePath, p)
		}
	}
	return nil
}

// Author is the authorship record attached to a commit.
type Author struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// CommitRequest describes a commit to create.
type CommitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
	Author  Author   `json:"author"`
}

// GatewayError carries the failing step and the raw response text.
type GatewayError struct {
	Step     string
	Method   string
	Path     string
	Status   int
	Body     string
	Conflict bool
	Err      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s failed", e.Step)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": %d", e.Status)
	}
	if e.Method != "" || e.Path != "" {
		fmt.Fprintf(&b, " at %s %s", e.Method, e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRefConflict) match rejected ref updates.
func (e *GatewayError) Is(target error) bool {
	return target == ErrRefConflict && e.Conflict
}

// StepOf extracts the failing step from err, or "" if err is not a gateway
// failure.
func StepOf(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Step
	}
	return ""
}
