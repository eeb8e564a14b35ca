package domain

import (
	"path"
	"strings"
	"time"
)

// Entry represents a file registered in the library
type Entry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Tags      []Tag     `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stem returns the entry's file name without its extension
func (e Entry) Stem() string {
	base := path.Base(e.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Tag represents a library tag with optional hierarchy
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryTag represents the relationship between an entry and a tag
type EntryTag struct {
	EntryID string `json:"entry_id"`
	TagID   string `json:"tag_id"`
	Source  string `json:"source"`
}
