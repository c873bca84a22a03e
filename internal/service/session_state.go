package service

import (
	"strings"

	"github.com/gallerydesk/internal/gallery"
)

// EntryView is one grid card as the dashboard renders it.
type EntryView struct {
	Index   int     `json:"index"`
	Src     string  `json:"src"`
	Path    string  `json:"path"`
	Alt     string  `json:"alt"`
	Caption string  `json:"caption"`
	Order   float64 `json:"order"`
	Pending bool    `json:"pending"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
}

// SessionState is the read model of an edit session.
type SessionState struct {
	ActiveTab      gallery.Collection                 `json:"activeTab"`
	Dirty          bool                               `json:"dirty"`
	PendingUploads int                                `json:"pendingUploads"`
	Collections    map[gallery.Collection][]EntryView `json:"collections"`
}

// State returns every collection in display order. Index is the storage
// index callers use to address an entry.
func (s *EditSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SessionState{
		ActiveTab:      s.activeTab,
		Dirty:          s.dirty,
		PendingUploads: len(s.uploads),
		Collections:    make(map[gallery.Collection][]EntryView, len(gallery.Collections)),
	}
	for _, c := range gallery.Collections {
		entries := *s.doc.List(c)
		views := make([]EntryView, 0, len(entries))
		for _, i := range gallery.DisplayOrder(entries) {
			e := entries[i]
			view := EntryView{
				Index:   i,
				Src:     e.Src,
				Path:    displayPath(e),
				Alt:     e.Alt,
				Caption: e.Caption,
				Order:   e.Order,
				Pending: e.Pending(),
			}
			if p, ok := s.previews[e.PreviewID]; ok {
				view.Width, view.Height = p.width, p.height
			}
			views = append(views, view)
		}
		state.Collections[c] = views
	}
	return state
}

func displayPath(e gallery.Entry) string {
	path := e.Src
	if e.PendingPath != "" {
		path = e.PendingPath
	}
	return strings.TrimPrefix(path, "/")
}
