package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gallerydesk/internal/gallery"
	"github.com/google/uuid"
)

var (
	ErrEntryNotFound   = errors.New("gallery entry not found")
	ErrUnknownField    = errors.New("gallery entry field is not editable")
	ErrNothingToSave   = errors.New("no unsaved changes")
	ErrUploadMismatch  = errors.New("pending upload has no matching entry")
	ErrPreviewNotFound = errors.New("preview not found")
)

// Editable entry fields.
const (
	FieldSrc     = "src"
	FieldAlt     = "alt"
	FieldCaption = "caption"
	FieldOrder   = "order"
)

// DefaultPreviewBase is the URL prefix preview handles are served under.
const DefaultPreviewBase = "/admin/api/previews/"

// LoadError reports that the gallery document could not be fetched or parsed.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load gallery document from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PendingUpload pairs a real repository path with the bytes to commit there.
type PendingUpload struct {
	TargetPath string
	Payload    []byte
	PreviewID  string
}

type previewHandle struct {
	data        []byte
	contentType string
	width       int
	height      int
}

// EditSession holds one editor's in-memory copy of the gallery document,
// the uploads not yet committed and the preview handles backing them.
type EditSession struct {
	mu          sync.Mutex
	source      DocumentSource
	previewBase string

	activeTab gallery.Collection
	doc       gallery.Document
	dirty     bool
	revision  uint64
	uploads   []PendingUpload
	previews  map[string]*previewHandle
}

// NewEditSession creates an empty session reading from source. Call Load
// before use.
func NewEditSession(source DocumentSource) *EditSession {
	doc := gallery.Document{}
	doc.Normalize()
	return &EditSession{
		source:      source,
		previewBase: DefaultPreviewBase,
		activeTab:   gallery.Photoshoots,
		doc:         doc,
		previews:    make(map[string]*previewHandle),
	}
}

// SetPreviewBase changes the URL prefix used for preview references.
func (s *EditSession) SetPreviewBase(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previewBase = base
}

// Load replaces the in-memory document with the persisted one, dropping
// unsaved edits, pending uploads and every preview handle.
func (s *EditSession) Load(ctx context.Context) error {
	if s.source == nil {
		return &LoadError{Source: "none", Err: errors.New("no document source configured")}
	}
	raw, err := s.source.Fetch(ctx)
	if err != nil {
		return &LoadError{Source: s.source.Describe(), Err: err}
	}
	doc, err := gallery.Decode(raw)
	if err != nil {
		return &LoadError{Source: s.source.Describe(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.dirty = false
	s.revision++
	s.uploads = nil
	clear(s.previews)
	return nil
}

// SetActiveTab switches the collection new uploads go to by default.
func (s *EditSession) SetActiveTab(c gallery.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTab = c
}

// ActiveTab returns the selected collection.
func (s *EditSession) ActiveTab() gallery.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTab
}

// MutateEntry sets one field of the entry at storage index i. The order
// field is coerced to a number; blank or unparsable input becomes 0.
func (s *EditSession) MutateEntry(c gallery.Collection, i int, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.doc.List(c)
	if i < 0 || i >= len(*list) {
		return ErrEntryNotFound
	}
	entry := &(*list)[i]

	switch field {
	case FieldSrc:
		entry.Src = value
	case FieldAlt:
		entry.Alt = value
	case FieldCaption:
		entry.Caption = value
	case FieldOrder:
		entry.Order = coerceNumber(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	s.touch()
	return nil
}

// RemoveEntry deletes the entry at storage index i if present. A missing
// entry is not an error; the session is marked dirty either way.
func (s *EditSession) RemoveEntry(c gallery.Collection, i int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer s.touch()
	list := s.doc.List(c)
	if i < 0 || i >= len(*list) {
		return
	}
	removed := (*list)[i]
	*list = slices.Delete(*list, i, i+1)

	if removed.PreviewID != "" {
		delete(s.previews, removed.PreviewID)
		s.uploads = slices.DeleteFunc(s.uploads, func(u PendingUpload) bool {
			return u.PreviewID == removed.PreviewID
		})
	}
}

// QueueUpload appends a new entry for filename to collection c, backed by a
// preview handle, and queues its bytes for the next commit. It returns the
// storage index of the new entry. A file name that is not a single path
// segment queues nothing and returns gallery.ErrInvalidFileName.
func (s *EditSession) QueueUpload(c gallery.Collection, filename string, payload []byte) (int, error) {
	target, err := c.UploadPath(filename)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	width, height := probeImage(payload)
	s.previews[id] = &previewHandle{
		data:        payload,
		contentType: http.DetectContentType(payload),
		width:       width,
		height:      height,
	}

	list := s.doc.List(c)
	*list = append(*list, gallery.Entry{
		Src:         s.previewBase + id,
		Order:       float64(len(*list)),
		PendingPath: target,
		PreviewID:   id,
	})
	s.uploads = append(s.uploads, PendingUpload{TargetPath: target, Payload: payload, PreviewID: id})
	s.touch()
	return len(*list) - 1, nil
}

// Preview returns the bytes and content type behind a preview handle.
func (s *EditSession) Preview(id string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.previews[id]
	if !ok {
		return nil, "", ErrPreviewNotFound
	}
	return p.data, p.contentType, nil
}

// Dirty reports whether there are unsaved changes.
func (s *EditSession) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// PendingUploads returns a copy of the upload queue.
func (s *EditSession) PendingUploads() []PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.uploads)
}

// Document returns a copy of the live document, pending state included.
func (s *EditSession) Document() gallery.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Snapshot is the frozen input of one commit workflow run.
type Snapshot struct {
	Document  gallery.Document
	Uploads   []PendingUpload
	ActiveTab gallery.Collection
	revision  uint64
}

// Snapshot copies the session for committing. Pending entries are resolved
// to their real paths in the copy only.
func (s *EditSession) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return Snapshot{}, ErrNothingToSave
	}
	if err := s.checkUploadsLocked(); err != nil {
		return Snapshot{}, err
	}

	uploads := make([]PendingUpload, len(s.uploads))
	copy(uploads, s.uploads)
	return Snapshot{
		Document:  s.doc.Resolved(),
		Uploads:   uploads,
		ActiveTab: s.activeTab,
		revision:  s.revision,
	}, nil
}

// MarkSaved records a successful commit of snap: its uploads leave the
// queue, and the session is clean unless it was edited after the snapshot.
// Live entries keep their preview references.
func (s *EditSession) MarkSaved(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	committed := make(map[string]struct{}, len(snap.Uploads))
	for _, u := range snap.Uploads {
		committed[u.PreviewID] = struct{}{}
	}
	s.uploads = slices.DeleteFunc(s.uploads, func(u PendingUpload) bool {
		_, ok := committed[u.PreviewID]
		return ok
	})
	if s.revision == snap.revision {
		s.dirty = false
	}
}

// every queued upload must back exactly one entry with the same pending path
func (s *EditSession) checkUploadsLocked() error {
	owners := make(map[string]string)
	for _, c := range gallery.Collections {
		for _, e := range *s.doc.List(c) {
			if e.PreviewID != "" {
				owners[e.PreviewID] = e.PendingPath
			}
		}
	}
	for _, u := range s.uploads {
		path, ok := owners[u.PreviewID]
		if !ok || path != u.TargetPath {
			return fmt.Errorf("%w: %s", ErrUploadMismatch, u.TargetPath)
		}
	}
	return nil
}

func (s *EditSession) touch() {
	s.dirty = true
	s.revision++
}

func coerceNumber(value string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}
