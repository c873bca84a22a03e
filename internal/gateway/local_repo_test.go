package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testAuthor = Author{Name: "Avery", Email: "avery@example.com", Date: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

func seededRepo(t *testing.T) (*LocalRepo, string) {
	t.Helper()
	ctx := context.Background()

	repo, err := NewMemoryRepo()
	require.NoError(t, err)

	created, err := repo.EnsureBranch(ctx, "main", map[string][]byte{
		"index.html":                       []byte("<html></html>"),
		"data/gallery.json":                []byte(`{"photoshoots":[],"brand":[]}`),
		"assets/gallery/photoshoots/a.jpg": []byte("jpeg-a"),
	}, testAuthor)
	require.NoError(t, err)
	require.True(t, created)

	head, err := repo.GetRef(ctx, "main")
	require.NoError(t, err)
	return repo, head
}

func TestLocalRepoEnsureBranchIsIdempotent(t *testing.T) {
	repo, head := seededRepo(t)

	created, err := repo.EnsureBranch(context.Background(), "main", map[string][]byte{"other.txt": []byte("x")}, testAuthor)
	require.NoError(t, err)
	require.False(t, created)

	again, err := repo.GetRef(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, head, again)
}

func TestLocalRepoTreeOverlayKeepsBasePaths(t *testing.T) {
	ctx := context.Background()
	repo, head := seededRepo(t)

	base, err := repo.GetCommit(ctx, head)
	require.NoError(t, err)

	newImage, err := repo.CreateBlob(ctx, []byte("jpeg-b"))
	require.NoError(t, err)
	newDoc, err := repo.CreateBlob(ctx, []byte(`{"photoshoots":[{"src":"/assets/gallery/photoshoots/b.jpg"}],"brand":[]}`))
	require.NoError(t, err)

	tree, err := repo.CreateTree(ctx, base.TreeSHA, []TreeEntry{
		BlobEntry("/assets/gallery/photoshoots/b.jpg", newImage),
		BlobEntry("/data/gallery.json", newDoc),
	})
	require.NoError(t, err)

	commit, err := repo.CreateCommit(ctx, CommitRequest{Message: "add b", Tree: tree, Parents: []string{head}, Author: testAuthor})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRef(ctx, "main", commit, head))

	paths, err := repo.Paths(commit)
	require.NoError(t, err)
	require.Equal(t, []string{
		"assets/gallery/photoshoots/a.jpg",
		"assets/gallery/photoshoots/b.jpg",
		"data/gallery.json",
		"index.html",
	}, paths)

	data, err := repo.ReadFile(ctx, "main", "/data/gallery.json")
	require.NoError(t, err)
	require.Contains(t, string(data), "b.jpg")

	got, err := repo.GetCommit(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, []string{head}, got.Parents)
}

func TestLocalRepoLastEntryWinsOnDuplicatePath(t *testing.T) {
	ctx := context.Background()
	repo, head := seededRepo(t)
	base, err := repo.GetCommit(ctx, head)
	require.NoError(t, err)

	first, err := repo.CreateBlob(ctx, []byte("first"))
	require.NoError(t, err)
	second, err := repo.CreateBlob(ctx, []byte("second"))
	require.NoError(t, err)

	tree, err := repo.CreateTree(ctx, base.TreeSHA, []TreeEntry{
		BlobEntry("assets/gallery/brand-shoots/x.jpg", first),
		BlobEntry("assets/gallery/brand-shoots/x.jpg", second),
	})
	require.NoError(t, err)
	commit, err := repo.CreateCommit(ctx, CommitRequest{Message: "dup", Tree: tree, Parents: []string{head}, Author: testAuthor})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRef(ctx, "main", commit, head))

	data, err := repo.ReadFile(ctx, "main", "assets/gallery/brand-shoots/x.jpg")
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestLocalRepoUpdateRefRejectsMovedBranch(t *testing.T) {
	ctx := context.Background()
	repo, head := seededRepo(t)
	base, err := repo.GetCommit(ctx, head)
	require.NoError(t, err)

	winner, err := repo.CreateCommit(ctx, CommitRequest{Message: "winner", Tree: base.TreeSHA, Parents: []string{head}, Author: testAuthor})
	require.NoError(t, err)
	loser, err := repo.CreateCommit(ctx, CommitRequest{Message: "loser", Tree: base.TreeSHA, Parents: []string{head}, Author: testAuthor})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateRef(ctx, "main", winner, head))

	err = repo.UpdateRef(ctx, "main", loser, head)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRefConflict))
	require.Equal(t, StepUpdateRef, StepOf(err))

	current, err := repo.GetRef(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, winner, current)
}

func TestLocalRepoMissingBranch(t *testing.T) {
	repo, err := NewMemoryRepo()
	require.NoError(t, err)

	_, err = repo.GetRef(context.Background(), "main")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, StepReadRef, StepOf(err))
}

func TestLocalRepoCreateTreeRejectsUnsafePaths(t *testing.T) {
	ctx := context.Background()
	repo, head := seededRepo(t)
	base, err := repo.GetCommit(ctx, head)
	require.NoError(t, err)
	blob, err := repo.CreateBlob(ctx, []byte("x"))
	require.NoError(t, err)

	for _, path := range []string{
		"",
		"/",
		"assets/gallery/photoshoots/",
		"/assets/gallery/photoshoots//",
		"assets/gallery/photoshoots/..",
		"assets/./gallery/x.jpg",
		"assets//gallery/x.jpg",
	} {
		_, err := repo.CreateTree(ctx, base.TreeSHA, []TreeEntry{BlobEntry(path, blob)})
		require.ErrorIs(t, err, ErrInvalidTreePath, path)
		require.Equal(t, StepCreateTree, StepOf(err))
	}

	// a rejected tree leaves the directory's files intact
	paths, err := repo.Paths(head)
	require.NoError(t, err)
	require.Contains(t, paths, "assets/gallery/photoshoots/a.jpg")
}

func TestCheckTreePath(t *testing.T) {
	require.NoError(t, CheckTreePath("/data/gallery.json"))
	require.NoError(t, CheckTreePath("assets/gallery/brand-shoots/logo shoot.jpg"))
	require.NoError(t, CheckTreePath("a..b/c.d"))
	require.ErrorIs(t, CheckTreePath("../etc/passwd"), ErrInvalidTreePath)
	require.ErrorIs(t, CheckTreePath("//data"), ErrInvalidTreePath)
}
