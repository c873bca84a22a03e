package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gallerydesk/internal/db"
	"github.com/gallerydesk/internal/gallery"
	"github.com/gallerydesk/internal/gateway"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

type staticSource struct {
	mu    sync.Mutex
	data  string
	err   error
	calls int
}

func (s *staticSource) Fetch(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.data), nil
}

func (s *staticSource) Describe() string { return "static" }

func (s *staticSource) set(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

func loadedSession(t *testing.T, data string) (*EditSession, *staticSource) {
	t.Helper()
	src := &staticSource{data: data}
	s := NewEditSession(src)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s, src
}

func mustQueue(t *testing.T, s *EditSession, c gallery.Collection, name string, payload []byte) int {
	t.Helper()
	idx, err := s.QueueUpload(c, name, payload)
	if err != nil {
		t.Fatalf("QueueUpload(%q) error = %v", name, err)
	}
	return idx
}

const sampleDocument = `{
  "photoshoots": [
    {"src": "/assets/gallery/photoshoots/a.jpg", "alt": "A", "caption": "Alpha", "order": 2},
    {"src": "/assets/gallery/photoshoots/b.jpg", "alt": "B", "caption": "Beta", "order": 1}
  ],
  "brand": [
    {"src": "/assets/gallery/brand-shoots/c.jpg", "alt": "C", "caption": "Gamma", "order": 0}
  ]
}`

// fakeGateway records calls and lets a test fail any step.
type fakeGateway struct {
	mu sync.Mutex

	head    string
	tree    string
	blobs   map[string][]byte
	trees   map[string][]gateway.TreeEntry
	commits []gateway.CommitRequest
	calls   []string

	failBlobAt int
	failStep   string
	conflicts  int
	onGetRef   func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		head:  "head-0",
		tree:  "tree-0",
		blobs: make(map[string][]byte),
		trees: make(map[string][]gateway.TreeEntry),
	}
}

func (g *fakeGateway) fail(step string) error {
	return &gateway.GatewayError{Step: step, Method: "POST", Path: "/git/" + step, Status: 500, Body: "boom"}
}

func (g *fakeGateway) GetRef(_ context.Context, branch string) (string, error) {
	g.mu.Lock()
	hook := g.onGetRef
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateway.StepReadRef)
	if g.failStep == gateway.StepReadRef {
		return "", g.fail(gateway.StepReadRef)
	}
	return g.head, nil
}

func (g *fakeGateway) GetCommit(_ context.Context, sha string) (gateway.Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateway.StepReadCommit)
	return gateway.Commit{SHA: sha, TreeSHA: g.tree}, nil
}

func (g *fakeGateway) CreateBlob(_ context.Context, content []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateway.StepCreateBlob)
	if g.failBlobAt > 0 && len(g.blobs)+1 == g.failBlobAt {
		return "", g.fail(gateway.StepCreateBlob)
	}
	sha := fmt.Sprintf("blob-%d", len(g.blobs)+1)
	g.blobs[sha] = append([]byte(nil), content...)
	return sha, nil
}

func (g *fakeGateway) CreateTree(_ context.Context, base string, entries []gateway.TreeEntry) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateway.StepCreateTree)
	sha := fmt.Sprintf("tree-%d", len(g.trees)+1)
	g.trees[sha] = append([]gateway.TreeEntry(nil), entries...)
	return sha, nil
}

func (g *fakeGateway) CreateCommit(_ context.Context, req gateway.CommitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateway.StepCreateCommit)
	g.commits = append(g.commits, req)
	return fmt.Sprintf("commit-%d", len(g.commits)), nil
}

func (g *fakeGateway) UpdateRef(_ context.Context, branch, sha, expected string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateway.StepUpdateRef)
	if g.conflicts > 0 {
		g.conflicts--
		g.head = "moved-" + sha
		return &gateway.GatewayError{Step: gateway.StepUpdateRef, Method: "PATCH", Status: 422, Body: "not a fast forward", Conflict: true}
	}
	if expected != g.head {
		return &gateway.GatewayError{Step: gateway.StepUpdateRef, Method: "PATCH", Status: 422, Conflict: true}
	}
	g.head = sha
	return nil
}

func (g *fakeGateway) countCalls(step string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == step {
			n++
		}
	}
	return n
}

var testEditor = Identity{UserID: 1, Username: "avery", Name: "Avery Quinn", Email: "avery@example.com"}
