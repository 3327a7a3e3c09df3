package listing

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/filevault/filevault/internal/keys"
	"github.com/filevault/filevault/internal/metadata"
	"github.com/filevault/filevault/internal/storage"
	"github.com/filevault/filevault/internal/variant"
	"github.com/sirupsen/logrus"
)

// ListEntry is one client-visible row of a directory listing.
// Directories are synthesized from key prefixes, not stored objects.
type ListEntry struct {
	Key          string                   `json:"key"`
	Name         string                   `json:"name"`
	IsDir        bool                     `json:"isDir"`
	Size         int64                    `json:"size,omitempty"`
	LastModified time.Time                `json:"lastModified,omitzero"`
	Type         string                   `json:"type,omitempty"`
	Meta         *metadata.ObjectMetadata `json:"meta,omitempty"`
}

// Assembler walks one directory level of the object store and groups
// raw keys into logical entries, keeping sidecars and derived variants
// out of the visible listing.
type Assembler struct {
	backend storage.Backend
	meta    *metadata.Store
	presets map[string]variant.Preset
	logger  *logrus.Logger
}

// NewAssembler creates a listing assembler. presets is consulted to
// recognize and exclude derived-variant keys.
func NewAssembler(backend storage.Backend, meta *metadata.Store, presets map[string]variant.Preset) *Assembler {
	return &Assembler{
		backend: backend,
		meta:    meta,
		presets: presets,
		logger:  logrus.StandardLogger(),
	}
}

// List returns the logical entries one level below prefix, directories
// first, each group sorted by name. glob, when non-empty, is a
// case-insensitive wildcard pattern (* and ?) filtering entries by
// display name.
func (a *Assembler) List(ctx context.Context, prefix, glob string) ([]ListEntry, error) {
	dirPrefix := prefix
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	records, err := a.backend.List(ctx, dirPrefix)
	if err != nil {
		return nil, err
	}

	var pattern *regexp.Regexp
	if glob != "" {
		pattern, err = compileGlob(glob)
		if err != nil {
			return nil, err
		}
	}

	dirs := make(map[string]bool)
	var files []ListEntry
	sidecars := make(map[string]bool)

	for _, rec := range records {
		rel := strings.TrimPrefix(rec.Key, dirPrefix)
		if rel == "" {
			continue // the directory marker of prefix itself
		}

		if idx := strings.Index(rel, "/"); idx >= 0 {
			// Deeper than one level: contributes a directory entry only
			if seg := rel[:idx]; seg != "" {
				dirs[seg] = true
			}
			continue
		}

		if strings.HasSuffix(rel, metadata.SidecarSuffix) {
			sidecars[strings.TrimSuffix(rec.Key, metadata.SidecarSuffix)] = true
			continue
		}
		if a.isExcluded(rel) {
			continue
		}

		files = append(files, ListEntry{
			Key:          rec.Key,
			Name:         rel,
			IsDir:        false,
			Size:         rec.Size,
			LastModified: rec.LastModified,
			Type:         rec.ContentType,
		})
	}

	entries := make([]ListEntry, 0, len(dirs)+len(files))
	for name := range dirs {
		entries = append(entries, ListEntry{
			Key:   dirPrefix + name,
			Name:  name,
			IsDir: true,
			Type:  "application/x-directory",
		})
	}

	for i := range files {
		a.attachMeta(ctx, &files[i], sidecars)
		entries = append(entries, files[i])
	}

	if pattern != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if pattern.MatchString(e.Name) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	SortEntries(entries)
	return entries, nil
}

// SortEntries orders entries directories-first, then by name with
// case-sensitive collation, stable for equal names. The explorer client
// applies the identical rule after optimistic mutations.
func SortEntries(entries []ListEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
}

// attachMeta merges the sidecar view over backend-native attributes.
// Sidecar fields win; size, type and timestamps fall back to what the
// backend reported.
func (a *Assembler) attachMeta(ctx context.Context, entry *ListEntry, sidecars map[string]bool) {
	keyBase := keys.TrimExt(entry.Key)
	if !sidecars[keyBase] {
		return
	}

	meta, err := a.meta.Get(ctx, keyBase)
	if err != nil {
		a.logger.WithError(err).WithField("keyBase", keyBase).Warn("Failed to read sidecar for listing")
		return
	}
	if meta == nil {
		return
	}

	entry.Meta = meta
	if meta.ContentType != "" {
		entry.Type = meta.ContentType
	}
	if meta.Size != 0 {
		entry.Size = meta.Size
	}
	if !meta.Modified.IsZero() {
		entry.LastModified = meta.Modified
	}
}

// isExcluded reports whether rel (the final path segment of a key) is a
// properties object or a derived-variant key that must never be listed.
func (a *Assembler) isExcluded(rel string) bool {
	if strings.HasSuffix(rel, ".json") {
		return true
	}

	// keyBase.<presetID> or keyBase.<presetID>.<ext>
	parts := strings.Split(rel, ".")
	for i := 1; i < len(parts); i++ {
		if _, ok := a.presets[parts[i]]; !ok {
			continue
		}
		// The preset id must be the final suffix or followed only by an
		// output extension.
		if i == len(parts)-1 || i == len(parts)-2 {
			return true
		}
	}
	return false
}

// compileGlob turns a shell-style wildcard into an anchored,
// case-insensitive regexp.
func compileGlob(glob string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(glob)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\?`, ".")
	return regexp.Compile("(?i)^" + escaped + "$")
}
