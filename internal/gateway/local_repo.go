package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
)

// LocalRepo implements Gateway directly on a go-git repository. It backs
// development setups without a hosted gateway and the end-to-end tests.
type LocalRepo struct {
	repo *git.Repository
	// mu serializes ref compare-and-swap; object writes are content
	// addressed and need no coordination.
	mu sync.Mutex
}

var _ Gateway = (*LocalRepo)(nil)

// NewMemoryRepo creates an empty bare repository held in memory.
func NewMemoryRepo() (*LocalRepo, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("init memory repo: %w", err)
	}
	return &LocalRepo{repo: repo}, nil
}

// OpenLocalRepo opens the bare repository at path, creating it if missing.
func OpenLocalRepo(path string) (*LocalRepo, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return &LocalRepo{repo: repo}, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, true)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return &LocalRepo{repo: repo}, nil
}

// EnsureBranch creates branch with an initial commit holding files when the
// branch does not exist yet. It reports whether a commit was made.
func (r *LocalRepo) EnsureBranch(ctx context.Context, branch string, files map[string][]byte, author Author) (bool, error) {
	if _, err := r.GetRef(ctx, branch); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	entries := make([]TreeEntry, 0, len(paths))
	for _, path := range paths {
		sha, err := r.CreateBlob(ctx, files[path])
		if err != nil {
			return false, err
		}
		entries = append(entries, BlobEntry(path, sha))
	}
	tree, err := r.CreateTree(ctx, "", entries)
	if err != nil {
		return false, err
	}
	if author.Date.IsZero() {
		author.Date = time.Now().UTC()
	}
	sha, err := r.CreateCommit(ctx, CommitRequest{Message: "Initial gallery content", Tree: tree, Author: author})
	if err != nil {
		return false, err
	}
	if err := r.UpdateRef(ctx, branch, sha, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (r *LocalRepo) GetRef(_ context.Context, branch string) (string, error) {
	ref, err := r.repo.Storer.Reference(branchRef(branch))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", &GatewayError{Step: StepReadRef, Path: branch, Status: 404, Err: ErrNotFound}
		}
		return "", &GatewayError{Step: StepReadRef, Path: branch, Err: err}
	}
	return ref.Hash().String(), nil
}

func (r *LocalRepo) GetCommit(_ context.Context, sha string) (Commit, error) {
	commit, err := object.GetCommit(r.repo.Storer, plumbing.NewHash(sha))
	if err != nil {
		return Commit{}, localErr(StepReadCommit, sha, err)
	}
	out := Commit{SHA: commit.Hash.String(), TreeSHA: commit.TreeHash.String()}
	for _, p := range commit.ParentHashes {
		out.Parents = append(out.Parents, p.String())
	}
	return out, nil
}

func (r *LocalRepo) CreateBlob(_ context.Context, content []byte) (string, error) {
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return "", localErr(StepCreateBlob, "", err)
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", localErr(StepCreateBlob, "", err)
	}
	if err := w.Close(); err != nil {
		return "", localErr(StepCreateBlob, "", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", localErr(StepCreateBlob, "", err)
	}
	return hash.String(), nil
}

// CreateTree layers entries over baseTree. Paths not named in entries keep
// their base content; when two entries share a path the later one wins.
func (r *LocalRepo) CreateTree(_ context.Context, baseTree string, entries []TreeEntry) (string, error) {
	root := newOverlayNode()
	for _, entry := range entries {
		mode, err := filemode.New(entry.Mode)
		if err != nil {
			return "", localErr(StepCreateTree, entry.Path, err)
		}
		if err := CheckTreePath(entry.Path); err != nil {
			return "", &GatewayError{Step: StepCreateTree, Path: entry.Path, Status: 422, Err: err}
		}
		parts := strings.Split(strings.TrimPrefix(entry.Path, "/"), "/")
		root.insert(parts, mode, plumbing.NewHash(entry.SHA))
	}

	base := plumbing.ZeroHash
	if baseTree != "" {
		base = plumbing.NewHash(baseTree)
	}
	hash, err := r.writeTree(base, root)
	if err != nil {
		return "", localErr(StepCreateTree, baseTree, err)
	}
	return hash.String(), nil
}

func (r *LocalRepo) CreateCommit(_ context.Context, req CommitRequest) (string, error) {
	sig := object.Signature{Name: req.Author.Name, Email: req.Author.Email, When: req.Author.Date}
	if sig.When.IsZero() {
		sig.When = time.Now().UTC()
	}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   req.Message,
		TreeHash:  plumbing.NewHash(req.Tree),
	}
	for _, p := range req.Parents {
		commit.ParentHashes = append(commit.ParentHashes, plumbing.NewHash(p))
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", localErr(StepCreateCommit, "", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", localErr(StepCreateCommit, "", err)
	}
	return hash.String(), nil
}

// UpdateRef is a compare-and-swap on the branch: it fails with
// ErrRefConflict when the branch no longer points at expected. An empty
// expected only succeeds if the branch does not exist.
func (r *LocalRepo) UpdateRef(_ context.Context, branch, sha, expected string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := branchRef(branch)
	next := plumbing.NewHashReference(name, plumbing.NewHash(sha))

	current, err := r.repo.Storer.Reference(name)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if expected != "" {
			return &GatewayError{Step: StepUpdateRef, Path: branch, Status: 422, Conflict: true, Body: "branch does not exist"}
		}
		if err := r.repo.Storer.SetReference(next); err != nil {
			return localErr(StepUpdateRef, branch, err)
		}
		return nil
	case err != nil:
		return localErr(StepUpdateRef, branch, err)
	}

	if current.Hash().String() != expected {
		return &GatewayError{
			Step:     StepUpdateRef,
			Path:     branch,
			Status:   422,
			Conflict: true,
			Body:     fmt.Sprintf("Update is not a fast forward: head is %s", current.Hash()),
		}
	}
	old := plumbing.NewHashReference(name, plumbing.NewHash(expected))
	if err := r.repo.Storer.CheckAndSetReference(next, old); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return &GatewayError{Step: StepUpdateRef, Path: branch, Status: 422, Conflict: true, Body: err.Error()}
		}
		return localErr(StepUpdateRef, branch, err)
	}
	return nil
}

// ReadFile returns the content of path at the head of branch.
func (r *LocalRepo) ReadFile(ctx context.Context, branch, path string) ([]byte, error) {
	head, err := r.GetRef(ctx, branch)
	if err != nil {
		return nil, err
	}
	commit, err := r.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", head, err)
	}
	file, err := commit.File(strings.TrimPrefix(path, "/"))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s at %s: %w", path, head, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Paths lists every file path in the tree of commit sha.
func (r *LocalRepo) Paths(sha string) ([]string, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", sha, err)
	}
	files, err := commit.Files()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	var paths []string
	err = files.ForEach(func(f *object.File) error {
		paths = append(paths, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

type overlayNode struct {
	children map[string]*overlayNode
	mode     filemode.FileMode
	hash     plumbing.Hash
	leaf     bool
}

func newOverlayNode() *overlayNode {
	return &overlayNode{children: make(map[string]*overlayNode)}
}

func (n *overlayNode) insert(parts []string, mode filemode.FileMode, hash plumbing.Hash) {
	name := parts[0]
	if len(parts) == 1 {
		n.children[name] = &overlayNode{mode: mode, hash: hash, leaf: true}
		return
	}
	child, ok := n.children[name]
	if !ok || child.leaf {
		child = newOverlayNode()
		n.children[name] = child
	}
	child.insert(parts[1:], mode, hash)
}

func (r *LocalRepo) writeTree(base plumbing.Hash, node *overlayNode) (plumbing.Hash, error) {
	merged := make(map[string]object.TreeEntry)
	if !base.IsZero() {
		tree, err := object.GetTree(r.repo.Storer, base)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("load base tree %s: %w", base, err)
		}
		for _, entry := range tree.Entries {
			merged[entry.Name] = entry
		}
	}

	for name, child := range node.children {
		if child.leaf {
			merged[name] = object.TreeEntry{Name: name, Mode: child.mode, Hash: child.hash}
			continue
		}
		childBase := plumbing.ZeroHash
		if existing, ok := merged[name]; ok && existing.Mode == filemode.Dir {
			childBase = existing.Hash
		}
		hash, err := r.writeTree(childBase, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		merged[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash}
	}

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(merged))}
	for _, entry := range merged {
		tree.Entries = append(tree.Entries, entry)
	}
	sort.Slice(tree.Entries, func(i, j int) bool {
		return treeSortKey(tree.Entries[i]) < treeSortKey(tree.Entries[j])
	})

	obj := r.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	return r.repo.Storer.SetEncodedObject(obj)
}

// git orders tree entries as if directory names ended with a slash.
func treeSortKey(entry object.TreeEntry) string {
	if entry.Mode == filemode.Dir {
		return entry.Name + "/"
	}
	return entry.Name
}

func branchRef(branch string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(strings.TrimPrefix(branch, "refs/heads/"))
}

func localErr(step, path string, err error) error {
	gwErr := &GatewayError{Step: step, Path: path, Err: err}
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		gwErr.Status = 404
		gwErr.Err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return gwErr
}
