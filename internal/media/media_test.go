package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/filevault/filevault/internal/metadata"
	"github.com/filevault/filevault/internal/storage"
	"github.com/filevault/filevault/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPresets() map[string]variant.Preset {
	return map[string]variant.Preset{
		"thumb": {ID: "thumb", Width: 100, Height: 100, Fit: variant.FitCover},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := storage.NewBadgerBackend(storage.Config{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return New(backend, testPresets())
}

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCreateFileThenConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	kp, meta, err := store.CreateFile(ctx, "acme/photo", "photo.jpg", "image/jpeg", []byte("jpegbytes"), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "acme/photo.jpg", kp.FullKey)
	assert.Equal(t, "acme/photo", kp.KeyBase)
	require.NotNil(t, meta)
	assert.Equal(t, "jpg", meta.Ext)
	assert.Equal(t, "user-1", meta.CreatedBy)
	assert.NotEmpty(t, meta.Hash)
	assert.Equal(t, int64(9), meta.Size)

	// Create-only: the same keyBase is now occupied
	_, _, err = store.CreateFile(ctx, "acme/photo", "photo.jpg", "image/jpeg", []byte("other"), "user-1")
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestGetFileResolvesExtensionFromSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.CreateFile(ctx, "acme/doc", "doc.pdf", "application/pdf", []byte("%PDF"), "u")
	require.NoError(t, err)

	data, contentType, err := store.GetFile(ctx, "acme/doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
	assert.Equal(t, "application/pdf", contentType)

	// Explicit full key works too
	data, _, err = store.GetFile(ctx, "acme/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	// Extensionless path with no sidecar is a clean not-found
	_, _, err = store.GetFile(ctx, "acme/ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReplaceFileRegeneratesVariants(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.CreateFile(ctx, "acme/pic", "pic.png", "image/png", testImage(t, 50, 50), "u")
	require.NoError(t, err)

	preset := store.Variants().Presets()["thumb"]
	before, err := store.GetImage(ctx, "acme/pic", preset)
	require.NoError(t, err)

	_, meta, err := store.ReplaceFile(ctx, "acme/pic", "pic.png", "image/png", testImage(t, 80, 30), "user-2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", meta.ModifiedBy)
	assert.Equal(t, "u", meta.CreatedBy)

	after, err := store.GetImage(ctx, "acme/pic", preset)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestReplaceFileChangingExtensionLeavesOneOriginal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.CreateFile(ctx, "acme/pic", "pic.png", "image/png", testImage(t, 20, 20), "u")
	require.NoError(t, err)

	_, _, err = store.ReplaceFile(ctx, "acme/pic", "pic.jpg", "image/jpeg", testImage(t, 20, 20), "u")
	require.NoError(t, err)

	entries, err := store.List(ctx, "acme", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pic.jpg", entries[0].Name)
	require.NotNil(t, entries[0].Meta)
	assert.Equal(t, "jpg", entries[0].Meta.Ext)
}

func TestUpdateMetaStampsProvenance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.CreateFile(ctx, "acme/doc", "doc.txt", "text/plain", []byte("hi"), "creator")
	require.NoError(t, err)

	merged, err := store.UpdateMeta(ctx, "acme/doc.txt", &metadata.ObjectMetadata{Name: "friendly name"}, "editor")
	require.NoError(t, err)
	assert.Equal(t, "friendly name", merged.Name)
	assert.Equal(t, "editor", merged.ModifiedBy)
	assert.Equal(t, "creator", merged.CreatedBy)
	assert.False(t, merged.Modified.IsZero())
}

func TestCreateFolderConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, "acme/docs"))

	entries, err := store.List(ctx, "acme", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "docs", entries[0].Name)

	assert.ErrorIs(t, store.CreateFolder(ctx, "acme/docs"), storage.ErrConflict)
}

func TestRemoveConceptualItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.CreateFile(ctx, "acme/pic", "pic.png", "image/png", testImage(t, 30, 30), "u")
	require.NoError(t, err)
	preset := store.Variants().Presets()["thumb"]
	_, err = store.GetImage(ctx, "acme/pic", preset)
	require.NoError(t, err)

	matched, err := store.Remove(ctx, []string{"pic"}, "acme")
	require.NoError(t, err)
	assert.True(t, matched)

	// Blob, sidecar and variant are all gone
	entries, err := store.List(ctx, "acme", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
	meta, err := store.GetMeta(ctx, "acme/pic.png")
	require.NoError(t, err)
	assert.Nil(t, meta)

	// Removing again reports nothing matched, without error
	matched, err = store.Remove(ctx, []string{"pic"}, "acme")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestRemoveFolderPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, "acme/docs"))
	_, _, err := store.CreateFile(ctx, "acme/docs/a", "a.txt", "text/plain", []byte("a"), "u")
	require.NoError(t, err)

	matched, err := store.Remove(ctx, []string{"docs"}, "acme")
	require.NoError(t, err)
	assert.True(t, matched)

	entries, err := store.List(ctx, "acme", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
