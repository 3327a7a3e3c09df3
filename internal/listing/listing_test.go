package listing

import (
	"context"
	"testing"
	"time"

	"github.com/filevault/filevault/internal/metadata"
	"github.com/filevault/filevault/internal/storage"
	"github.com/filevault/filevault/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T) (*Assembler, storage.Backend, *metadata.Store) {
	t.Helper()
	backend, err := storage.NewBadgerBackend(storage.Config{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	meta := metadata.NewStore(backend)
	presets := map[string]variant.Preset{
		"thumb":   {ID: "thumb", Width: 100, Height: 100, Fit: variant.FitCover},
		"preview": {ID: "preview", Width: 640, Height: 480, Fit: variant.FitContain},
	}
	return NewAssembler(backend, meta, presets), backend, meta
}

func put(t *testing.T, backend storage.Backend, key, contentType string) {
	t.Helper()
	require.NoError(t, backend.Put(context.Background(), key, []byte("x"), contentType, ""))
}

func TestListGroupsDirectoriesAndFiles(t *testing.T) {
	ctx := context.Background()
	assembler, backend, _ := newTestAssembler(t)

	put(t, backend, "acme/docs/report.pdf", "application/pdf")
	put(t, backend, "acme/docs/notes.txt", "text/plain")
	put(t, backend, "acme/docs/archive/old.txt", "text/plain")
	put(t, backend, "acme/docs/archive/deep/deeper.txt", "text/plain")
	put(t, backend, "acme/docs/img/", "application/x-directory")

	entries, err := assembler.List(ctx, "acme/docs", "")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Directories first, alphabetical; then files, alphabetical
	assert.Equal(t, "archive", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "img", entries[1].Name)
	assert.True(t, entries[1].IsDir)
	assert.Equal(t, "notes.txt", entries[2].Name)
	assert.False(t, entries[2].IsDir)
	assert.Equal(t, "report.pdf", entries[3].Name)

	assert.Equal(t, "acme/docs/report.pdf", entries[3].Key)
	assert.Equal(t, "application/pdf", entries[3].Type)
}

func TestListExcludesSidecarsAndVariants(t *testing.T) {
	ctx := context.Background()
	assembler, backend, _ := newTestAssembler(t)

	put(t, backend, "acme/photo.jpg", "image/jpeg")
	put(t, backend, "acme/photo._i", "application/json")
	put(t, backend, "acme/photo.thumb.png", "image/png")
	put(t, backend, "acme/photo.thumb", "image/png")
	put(t, backend, "acme/photo.preview.png", "image/png")
	put(t, backend, "acme/photo.json", "application/json")

	entries, err := assembler.List(ctx, "acme", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "photo.jpg", entries[0].Name)

	// A file that merely resembles a preset name is not excluded
	put(t, backend, "acme/thumb.png", "image/png")
	entries, err = assembler.List(ctx, "acme", "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestListMergesSidecarOverBackendAttributes(t *testing.T) {
	ctx := context.Background()
	assembler, backend, meta := newTestAssembler(t)

	put(t, backend, "acme/photo.jpg", "application/octet-stream")
	modified := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, meta.Put(ctx, "acme/photo", &metadata.ObjectMetadata{
		ContentType: "image/jpeg",
		Size:        9001,
		Modified:    modified,
		Ext:         "jpg",
	}))

	entries, err := assembler.List(ctx, "acme", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	require.NotNil(t, entry.Meta)
	assert.Equal(t, "image/jpeg", entry.Type)
	assert.Equal(t, int64(9001), entry.Size)
	assert.Equal(t, modified, entry.LastModified)
}

func TestListBackendAttributesFallback(t *testing.T) {
	ctx := context.Background()
	assembler, backend, _ := newTestAssembler(t)

	// No sidecar: backend-native attributes carry the entry
	put(t, backend, "acme/raw.bin", "application/octet-stream")

	entries, err := assembler.List(ctx, "acme", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Meta)
	assert.Equal(t, "application/octet-stream", entries[0].Type)
	assert.Equal(t, int64(1), entries[0].Size)
	assert.NotZero(t, entries[0].LastModified)
}

func TestListEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	assembler, _, _ := newTestAssembler(t)

	// Unknown path and empty directory are both an empty success
	entries, err := assembler.List(ctx, "acme/nothing", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListWildcard(t *testing.T) {
	ctx := context.Background()
	assembler, backend, _ := newTestAssembler(t)

	put(t, backend, "acme/report-jan.pdf", "application/pdf")
	put(t, backend, "acme/report-feb.pdf", "application/pdf")
	put(t, backend, "acme/notes.txt", "text/plain")

	entries, err := assembler.List(ctx, "acme", "report-*.pdf")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "report-feb.pdf", entries[0].Name)
	assert.Equal(t, "report-jan.pdf", entries[1].Name)

	entries, err = assembler.List(ctx, "acme", "REPORT-JAN.pdf")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = assembler.List(ctx, "acme", "notes.???")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSortEntriesStable(t *testing.T) {
	entries := []ListEntry{
		{Name: "b.txt"},
		{Name: "dir", IsDir: true},
		{Name: "a.txt", Key: "first"},
		{Name: "a.txt", Key: "second"},
	}
	SortEntries(entries)

	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "a.txt", entries[1].Name)
	assert.Equal(t, "first", entries[1].Key)
	assert.Equal(t, "second", entries[2].Key)
	assert.Equal(t, "b.txt", entries[3].Name)
}
