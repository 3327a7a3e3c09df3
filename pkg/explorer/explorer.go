// Package explorer is the state layer of a file-manager client: a
// per-directory listing cache with optimistic create, upload and
// delete. It mirrors a single-threaded UI event loop and is not safe
// for concurrent use.
package explorer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filevault/filevault/internal/metadata"
)

// ErrPending is returned when a mutation targets an entry whose own
// creating operation has not resolved yet.
var ErrPending = errors.New("operation for this entry is still pending")

// Explorer owns the browsing state for one account: the current
// directory, its visible entries, and the per-path listing cache.
// Lifecycle is tied to the owning view; do not share instances.
type Explorer struct {
	client  Client
	account string
	cache   *Cache
	path    []string
	items   []Entry
}

func New(client Client, account string) *Explorer {
	return &Explorer{
		client:  client,
		account: account,
		cache:   NewCache(),
	}
}

// Path returns the current directory segments.
func (e *Explorer) Path() []string {
	out := make([]string, len(e.path))
	copy(out, e.path)
	return out
}

// Entries returns the currently visible listing.
func (e *Explorer) Entries() []Entry {
	out := make([]Entry, len(e.items))
	copy(out, e.items)
	return out
}

// SetPath changes the current directory without loading it. A Load in
// flight for the previous path will notice and drop its result.
func (e *Explorer) SetPath(path []string) {
	e.path = make([]string, len(path))
	copy(e.path, path)
}

// Navigate changes directory and loads it.
func (e *Explorer) Navigate(ctx context.Context, path []string) error {
	e.SetPath(path)
	return e.Load(ctx)
}

// Load populates the visible listing for the current path, from cache
// when possible. A result arriving after the user has navigated
// elsewhere is discarded instead of clobbering the active view.
func (e *Explorer) Load(ctx context.Context) error {
	target := e.pathKey()

	if cached, ok := e.cache.Get(target); ok {
		e.items = cached
		return nil
	}

	fetched, err := e.client.List(ctx, e.account, e.path)
	if err != nil {
		return err
	}
	if e.pathKey() != target {
		// Stale fetch; the user moved on.
		return nil
	}

	if fetched == nil {
		fetched = []Entry{}
	}
	e.cache.Set(target, fetched)
	e.items = fetched
	return nil
}

// CreateFolder optimistically inserts a folder entry, then reconciles
// with the server. On failure the entry is removed and the path's
// cache snapshot is invalidated, since the server-side outcome of a
// failed folder create is uncertain.
func (e *Explorer) CreateFolder(ctx context.Context, name string) error {
	pathKey := e.pathKey()
	optimistic := Entry{
		Key:        e.childKey(name),
		Name:       name,
		IsDir:      true,
		Optimistic: true,
		TempID:     uuid.NewString(),
		Meta: &metadata.ObjectMetadata{
			Created:     time.Now().UTC(),
			ContentType: "application/x-directory",
		},
	}

	e.items = append(e.items, optimistic)
	SortEntries(e.items)

	folderKey, err := e.client.CreateFolder(ctx, e.account, append(e.Path(), name))
	if err != nil {
		e.removeTemp(optimistic.TempID)
		e.cache.Delete(pathKey)
		return err
	}

	confirmed := optimistic
	confirmed.Key = folderKey
	confirmed.Optimistic = false
	confirmed.TempID = ""

	e.confirmTemp(optimistic.TempID, confirmed)
	e.cache.Confirm(pathKey, optimistic.TempID, confirmed)
	return nil
}

// UploadFiles optimistically inserts one entry per file, then uploads
// each and reconciles individually: a failed upload rolls back only its
// own entry. The combined failures are returned as one error.
func (e *Explorer) UploadFiles(ctx context.Context, uploads []Upload) error {
	pathKey := e.pathKey()

	optimistic := make([]Entry, 0, len(uploads))
	for _, upload := range uploads {
		contentType := upload.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		optimistic = append(optimistic, Entry{
			Key:        e.childKey(upload.Name),
			Name:       upload.Name,
			Optimistic: true,
			TempID:     uuid.NewString(),
			Size:       int64(len(upload.Data)),
			Type:       contentType,
			Meta: &metadata.ObjectMetadata{
				Created:     time.Now().UTC(),
				ContentType: contentType,
				Size:        int64(len(upload.Data)),
			},
		})
	}

	e.items = append(e.items, optimistic...)
	SortEntries(e.items)

	var errs []error
	for i, upload := range uploads {
		tempID := optimistic[i].TempID

		confirmed, err := e.client.UploadFile(ctx, e.account, e.Path(), upload)
		if err != nil {
			errs = append(errs, err)
			e.removeTemp(tempID)
			e.cache.Remove(pathKey, tempID)
			continue
		}

		confirmed.IsDir = false
		e.confirmTemp(tempID, confirmed)
		e.cache.Confirm(pathKey, tempID, confirmed)
	}

	SortEntries(e.items)
	return errors.Join(errs...)
}

// Delete removes entry optimistically and invalidates the path's cache
// snapshot whether or not the server call succeeds; on failure the
// visible listing is restored from the pre-mutation state.
func (e *Explorer) Delete(ctx context.Context, entry Entry) error {
	if entry.Optimistic {
		return ErrPending
	}

	pathKey := e.pathKey()

	snapshot := e.Entries()
	kept := e.items[:0]
	for _, item := range e.items {
		if item.Key != entry.Key {
			kept = append(kept, item)
		}
	}
	e.items = kept

	var err error
	if entry.IsDir {
		err = e.client.DeleteFolder(ctx, e.account, append(e.Path(), entry.Name))
	} else {
		err = e.client.DeleteItem(ctx, e.account, e.Path(), entry.Name)
	}

	e.cache.Delete(pathKey)
	if err != nil {
		e.items = snapshot
		return err
	}
	return nil
}

func (e *Explorer) pathKey() string {
	return strings.Join(e.path, "/")
}

func (e *Explorer) childKey(name string) string {
	segs := append([]string{e.account}, e.path...)
	segs = append(segs, name)
	return strings.Join(segs, "/")
}

func (e *Explorer) confirmTemp(tempID string, confirmed Entry) {
	for i := range e.items {
		if e.items[i].TempID == tempID {
			confirmed.Optimistic = false
			confirmed.TempID = ""
			e.items[i] = confirmed
			SortEntries(e.items)
			return
		}
	}
}

func (e *Explorer) removeTemp(tempID string) {
	kept := e.items[:0]
	for _, item := range e.items {
		if item.TempID != tempID {
			kept = append(kept, item)
		}
	}
	e.items = kept
}
