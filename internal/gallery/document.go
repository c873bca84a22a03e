package gallery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DataPath 是画廊数据文件在仓库中的固定位置。
const DataPath = "/data/gallery.json"

var (
	ErrUnknownCollection = errors.New("unknown gallery collection")
	ErrMalformedDocument = errors.New("gallery document must be a JSON object")
	ErrInvalidFileName   = errors.New("upload file name is not a usable path segment")
)

// Collection names one of the two ordered image lists in the document.
type Collection string

const (
	Photoshoots Collection = "photoshoots"
	Brand       Collection = "brand"
)

// Collections lists every collection in document order.
var Collections = []Collection{Photoshoots, Brand}

// ParseCollection resolves a user supplied collection name.
func ParseCollection(raw string) (Collection, error) {
	switch Collection(strings.ToLower(strings.TrimSpace(raw))) {
	case Photoshoots:
		return Photoshoots, nil
	case Brand:
		return Brand, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, raw)
	}
}

// UploadDir returns the repository directory new images of c are stored in.
func (c Collection) UploadDir() string {
	if c == Brand {
		return "/assets/gallery/brand-shoots"
	}
	return "/assets/gallery/photoshoots"
}

// UploadPath computes the real repository path for an uploaded file name.
// Only the base name is kept, so two files with the same name share a path.
// Names that do not reduce to a single file segment are rejected.
func (c Collection) UploadPath(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	switch {
	case name == "", name == ".", name == "..", strings.Contains(name, "/"):
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, filename)
	}
	return c.UploadDir() + "/" + name, nil
}

// Entry is one image's metadata plus its storage path.
type Entry struct {
	Src     string  `json:"src"`
	Alt     string  `json:"alt"`
	Caption string  `json:"caption"`
	Order   float64 `json:"order"`

	// PendingPath holds the real path of an upload that has not been
	// committed yet; Src then points at a transient preview.
	PendingPath string `json:"-"`
	PreviewID   string `json:"-"`
}

// UnmarshalJSON accepts an order stored as a number or a numeric string.
// A missing, null or unusable order reads as 0.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	aux := struct {
		*plain
		Order json.RawMessage `json:"order"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Order = parseOrder(aux.Order)
	return nil
}

func parseOrder(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}

// Pending reports whether the entry still refers to an uncommitted upload.
func (e Entry) Pending() bool {
	return e.PendingPath != ""
}

// Document is the gallery data file.
type Document struct {
	Photoshoots []Entry `json:"photoshoots"`
	Brand       []Entry `json:"brand"`
}

// Decode parses the data file and normalizes absent collections.
func Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, ErrMalformedDocument
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, fmt.Errorf("decode gallery document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

// Normalize replaces missing collections with empty ones.
func (d *Document) Normalize() {
	if d.Photoshoots == nil {
		d.Photoshoots = []Entry{}
	}
	if d.Brand == nil {
		d.Brand = []Entry{}
	}
}

// Encode serializes the document with two-space indentation. Pending
// fields are never written.
func (d Document) Encode() ([]byte, error) {
	d.Normalize()
	return json.MarshalIndent(d, "", "  ")
}

// List returns a pointer to the slice backing collection c.
func (d *Document) List(c Collection) *[]Entry {
	if c == Brand {
		return &d.Brand
	}
	return &d.Photoshoots
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	out := Document{
		Photoshoots: slices.Clone(d.Photoshoots),
		Brand:       slices.Clone(d.Brand),
	}
	out.Normalize()
	return out
}

// Resolved returns a copy in which every pending entry points at its real
// path and carries no pending state. The receiver is left untouched.
func (d Document) Resolved() Document {
	out := d.Clone()
	for _, c := range Collections {
		list := out.List(c)
		for i := range *list {
			entry := &(*list)[i]
			if entry.PendingPath != "" {
				entry.Src = entry.PendingPath
			}
			entry.PendingPath = ""
			entry.PreviewID = ""
		}
	}
	return out
}

// DisplayOrder returns the storage indices of entries ordered by Order, then
// caption. The sort is stable so ties keep storage order.
func DisplayOrder(entries []Entry) []int {
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	col := collate.New(language.Und)
	slices.SortStableFunc(idx, func(i, j int) int {
		a, b := entries[i], entries[j]
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		}
		return col.CompareString(a.Caption, b.Caption)
	})
	return idx
}

// SortForDisplay returns a display-ordered copy of entries.
func SortForDisplay(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, i := range DisplayOrder(entries) {
		out = append(out, entries[i])
	}
	return out
}
