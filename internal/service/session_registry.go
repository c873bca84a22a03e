package service

import (
	"context"
	"sync"
)

// SessionRegistry keeps one EditSession per logged-in user. Sessions live in
// process memory only.
type SessionRegistry struct {
	mu          sync.Mutex
	source      DocumentSource
	previewBase string
	sessions    map[string]*EditSession
}

// NewSessionRegistry creates a registry whose sessions read from source.
func NewSessionRegistry(source DocumentSource) *SessionRegistry {
	return &SessionRegistry{
		source:      source,
		previewBase: DefaultPreviewBase,
		sessions:    make(map[string]*EditSession),
	}
}

// SetPreviewBase changes the preview URL prefix for sessions created later.
func (r *SessionRegistry) SetPreviewBase(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previewBase = base
}

// Get returns the user's session, loading it on first use. A failed first
// load is not cached.
func (r *SessionRegistry) Get(ctx context.Context, username string) (*EditSession, error) {
	r.mu.Lock()
	if s, ok := r.sessions[username]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s := NewEditSession(r.source)
	s.SetPreviewBase(r.previewBase)
	r.mu.Unlock()

	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[username]; ok {
		return existing, nil
	}
	r.sessions[username] = s
	return s, nil
}

// Drop discards the user's session with its unsaved edits and previews.
func (r *SessionRegistry) Drop(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, username)
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
