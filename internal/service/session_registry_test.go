package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gallerydesk/internal/gallery"
)

func TestSessionRegistryKeepsOneSessionPerUser(t *testing.T) {
	src := &staticSource{data: sampleDocument}
	reg := NewSessionRegistry(src)
	ctx := context.Background()

	a, err := reg.Get(ctx, "avery")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	a.RemoveEntry(gallery.Brand, 0)

	again, err := reg.Get(ctx, "avery")
	if err != nil || again != a {
		t.Fatalf("expected the same session, got %p vs %p (%v)", again, a, err)
	}
	other, err := reg.Get(ctx, "blake")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if other.Dirty() {
		t.Fatalf("expected sessions to be independent")
	}
	if src.calls != 2 {
		t.Fatalf("expected one load per user, got %d", src.calls)
	}

	reg.Drop("avery")
	if reg.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", reg.Len())
	}
	fresh, err := reg.Get(ctx, "avery")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fresh.Dirty() {
		t.Fatalf("expected dropped edits to be gone")
	}
}

func TestSessionRegistryDoesNotCacheFailedLoad(t *testing.T) {
	src := &staticSource{err: errors.New("offline")}
	reg := NewSessionRegistry(src)

	if _, err := reg.Get(context.Background(), "avery"); err == nil {
		t.Fatalf("expected load error")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected failed session not to be kept")
	}
	src.err = nil
	src.set(sampleDocument)
	if _, err := reg.Get(context.Background(), "avery"); err != nil {
		t.Fatalf("expected retry to load, got %v", err)
	}
}
