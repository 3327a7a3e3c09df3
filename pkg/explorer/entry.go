package explorer

import (
	"sort"

	"github.com/filevault/filevault/internal/metadata"
)

// Entry is one row of the file manager's view of a directory. It
// mirrors the listing endpoint's wire shape plus the client-only
// optimistic bookkeeping fields.
type Entry struct {
	Key        string                   `json:"key"`
	Name       string                   `json:"name"`
	IsDir      bool                     `json:"isDir"`
	Size       int64                    `json:"size,omitempty"`
	Type       string                   `json:"type,omitempty"`
	Meta       *metadata.ObjectMetadata `json:"meta,omitempty"`
	Optimistic bool                     `json:"optimistic,omitempty"`
	TempID     string                   `json:"-"`
}

// SortEntries orders entries the way the server does: directories
// first, then byte-wise by name, stable for equal names. Every
// optimistic mutation re-sorts so insertion order never shows.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
}
