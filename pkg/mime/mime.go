package mime

import (
	"path"
	"strings"
)

// Category 미디어 분류 (전송/재생 정책 결정에 사용)
type Category uint8

const (
	Unclassified Category = iota
	Audio
	Video
	Image
	Application
)

// String returns the lowercase category name
func (c Category) String() string {
	switch c {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Image:
		return "image"
	case Application:
		return "application"
	default:
		return "unclassified"
	}
}

// ParseCategory is the inverse of Category.String
func ParseCategory(name string) (Category, bool) {
	for c := Unclassified; c <= Application; c++ {
		if c.String() == strings.ToLower(strings.TrimSpace(name)) {
			return c, true
		}
	}
	return Unclassified, false
}

// Entry maps one file extension to its MIME type and category
type Entry struct {
	Extension string
	Type      string
	Category  Category
}

// Table is an immutable extension lookup table.
// It has no mutation methods; share one instance between all consumers.
type Table struct {
	entries map[string]Entry
}

// NewTable builds a table from entries. Later duplicates override earlier ones.
func NewTable(entries []Entry) *Table {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		ext := normalize(e.Extension)
		if ext == "" {
			continue
		}
		e.Extension = ext
		t.entries[ext] = e
	}
	return t
}

// Classify resolves an extension ("mp3", ".MP3") to its MIME type and category.
// ok is false for unknown extensions; callers treat that as unclassified content.
func (t *Table) Classify(extension string) (mimeType string, category Category, ok bool) {
	if t == nil {
		return "", Unclassified, false
	}
	e, found := t.entries[normalize(extension)]
	if !found {
		return "", Unclassified, false
	}
	return e.Type, e.Category, true
}

// ClassifyName classifies a file name by its extension
func (t *Table) ClassifyName(name string) (string, Category, bool) {
	return t.Classify(path.Ext(name))
}

// Len returns the number of entries
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

var defaultTable = NewTable(builtinEntries)

// Default returns the process-wide built-in table
func Default() *Table {
	return defaultTable
}

// Classify looks up an extension in the built-in table
func Classify(extension string) (string, Category, bool) {
	return defaultTable.Classify(extension)
}
