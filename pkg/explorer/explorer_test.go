package explorer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient scripts server behavior for the state machine tests.
type fakeClient struct {
	listCalls  map[string]int
	listings   map[string][]Entry
	listErr    error
	onList     func()
	folderErr  error
	uploadErrs map[string]error
	deleteErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		listCalls:  make(map[string]int),
		listings:   make(map[string][]Entry),
		uploadErrs: make(map[string]error),
	}
}

func (f *fakeClient) List(_ context.Context, _ string, path []string) ([]Entry, error) {
	key := joinSegments(path)
	f.listCalls[key]++
	if f.onList != nil {
		f.onList()
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listings[key], nil
}

func (f *fakeClient) CreateFolder(_ context.Context, account string, path []string) (string, error) {
	if f.folderErr != nil {
		return "", f.folderErr
	}
	return account + "/" + joinSegments(path), nil
}

func (f *fakeClient) UploadFile(_ context.Context, account string, path []string, upload Upload) (Entry, error) {
	if err := f.uploadErrs[upload.Name]; err != nil {
		return Entry{}, err
	}
	key := account + "/" + joinSegments(append(path, upload.Name))
	return Entry{Key: key, Name: upload.Name, Size: int64(len(upload.Data))}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, _ string, _ []string, _ string) error {
	return f.deleteErr
}

func (f *fakeClient) DeleteFolder(_ context.Context, _ string, _ []string) error {
	return f.deleteErr
}

func joinSegments(path []string) string {
	out := ""
	for i, seg := range path {
		if i > 0 {
			out += "/"
		}
		out += seg
	}
	return out
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestLoadServesFromCache(t *testing.T) {
	client := newFakeClient()
	client.listings["docs"] = []Entry{{Key: "acct/docs/a.txt", Name: "a.txt"}}
	exp := New(client, "acct")

	require.NoError(t, exp.Navigate(context.Background(), []string{"docs"}))
	require.NoError(t, exp.Navigate(context.Background(), nil))
	require.NoError(t, exp.Navigate(context.Background(), []string{"docs"}))

	// Returning to a cached directory issues no new fetch.
	assert.Equal(t, 1, client.listCalls["docs"])
	assert.Equal(t, []string{"a.txt"}, names(exp.Entries()))
}

func TestLoadRefetchesAfterInvalidation(t *testing.T) {
	client := newFakeClient()
	client.listings["docs"] = []Entry{{Key: "acct/docs/a.txt", Name: "a.txt"}}
	exp := New(client, "acct")
	ctx := context.Background()

	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))

	client.deleteErr = errors.New("boom")
	require.Error(t, exp.Delete(ctx, Entry{Key: "acct/docs/a.txt", Name: "a.txt"}))

	require.NoError(t, exp.Load(ctx))
	assert.Equal(t, 2, client.listCalls["docs"])
}

func TestStaleFetchDropped(t *testing.T) {
	client := newFakeClient()
	client.listings["docs"] = []Entry{{Key: "acct/docs/a.txt", Name: "a.txt"}}
	exp := New(client, "acct")

	exp.SetPath([]string{"docs"})
	// Simulate the user navigating away while the fetch is in flight.
	client.onList = func() { exp.SetPath([]string{"other"}) }

	require.NoError(t, exp.Load(context.Background()))

	assert.Empty(t, exp.Entries())
	cached, ok := exp.cache.Get("docs")
	assert.False(t, ok, "stale result must not populate the cache, got %v", cached)
}

func TestCreateFolderConfirmed(t *testing.T) {
	client := newFakeClient()
	client.listings["docs"] = []Entry{{Key: "acct/docs/b.txt", Name: "b.txt"}}
	exp := New(client, "acct")
	ctx := context.Background()

	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))
	require.NoError(t, exp.CreateFolder(ctx, "new"))

	entries := exp.Entries()
	require.Equal(t, []string{"new", "b.txt"}, names(entries))
	assert.True(t, entries[0].IsDir)
	assert.False(t, entries[0].Optimistic)
	assert.Equal(t, "acct/docs/new", entries[0].Key)

	// The confirmed folder survives a cache round-trip.
	require.NoError(t, exp.Navigate(ctx, nil))
	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))
	assert.Equal(t, 1, client.listCalls["docs"])
	assert.Equal(t, []string{"new", "b.txt"}, names(exp.Entries()))
}

func TestCreateFolderRollback(t *testing.T) {
	client := newFakeClient()
	client.listings["docs"] = []Entry{{Key: "acct/docs/b.txt", Name: "b.txt"}}
	exp := New(client, "acct")
	ctx := context.Background()

	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))
	before := exp.Entries()

	client.folderErr = errors.New("boom")
	require.Error(t, exp.CreateFolder(ctx, "new"))

	// The view matches its pre-mutation state exactly and the cache is
	// invalidated since the server-side outcome is unknown.
	assert.Equal(t, before, exp.Entries())
	assert.False(t, exp.cache.Has("docs"))
}

func TestUploadFilesConfirmed(t *testing.T) {
	client := newFakeClient()
	exp := New(client, "acct")
	ctx := context.Background()

	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))
	require.NoError(t, exp.UploadFiles(ctx, []Upload{
		{Name: "zeta.txt", Data: []byte("z")},
		{Name: "alpha.txt", Data: []byte("a")},
	}))

	entries := exp.Entries()
	require.Equal(t, []string{"alpha.txt", "zeta.txt"}, names(entries))
	for _, e := range entries {
		assert.False(t, e.Optimistic)
		assert.Empty(t, e.TempID)
	}
	assert.Equal(t, "acct/docs/alpha.txt", entries[0].Key)
}

func TestUploadPartialFailure(t *testing.T) {
	client := newFakeClient()
	exp := New(client, "acct")
	ctx := context.Background()

	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))

	client.uploadErrs["bad.txt"] = errors.New("boom")
	err := exp.UploadFiles(ctx, []Upload{
		{Name: "good.txt", Data: []byte("g")},
		{Name: "bad.txt", Data: []byte("b")},
	})
	require.Error(t, err)

	// Only the failed upload is rolled back; no optimistic entry
	// remains visible.
	assert.Equal(t, []string{"good.txt"}, names(exp.Entries()))

	cached, ok := exp.cache.Get("docs")
	require.True(t, ok)
	assert.Equal(t, []string{"good.txt"}, names(cached))
}

func TestConfirmOutOfOrder(t *testing.T) {
	cache := NewCache()
	cache.Set("docs", nil)

	first := Entry{Name: "first.txt", Optimistic: true, TempID: "t1"}
	second := Entry{Name: "second.txt", Optimistic: true, TempID: "t2"}
	cache.Confirm("docs", "t2", Entry{Key: "acct/docs/second.txt", Name: second.Name})
	cache.Confirm("docs", "t1", Entry{Key: "acct/docs/first.txt", Name: first.Name})

	cached, ok := cache.Get("docs")
	require.True(t, ok)
	require.Equal(t, []string{"first.txt", "second.txt"}, names(cached))
	assert.Equal(t, "acct/docs/first.txt", cached[0].Key)
	assert.Equal(t, "acct/docs/second.txt", cached[1].Key)
}

func TestConfirmAfterInvalidationIsNoop(t *testing.T) {
	cache := NewCache()
	cache.Confirm("docs", "t1", Entry{Key: "acct/docs/a.txt", Name: "a.txt"})
	assert.False(t, cache.Has("docs"))
}

func TestDeleteSuccessInvalidates(t *testing.T) {
	client := newFakeClient()
	client.listings["docs"] = []Entry{
		{Key: "acct/docs/a.txt", Name: "a.txt"},
		{Key: "acct/docs/b.txt", Name: "b.txt"},
	}
	exp := New(client, "acct")
	ctx := context.Background()

	require.NoError(t, exp.Navigate(ctx, []string{"docs"}))
	require.NoError(t, exp.Delete(ctx, Entry{Key: "acct/docs/a.txt", Name: "a.txt"}))

	assert.Equal(t, []string{"b.txt"}, names(exp.Entries()))
	assert.False(t, exp.cache.Has("docs"))
}

func TestDeletePendingEntryRefused(t *testing.T) {
	exp := New(newFakeClient(), "acct")

	err := exp.Delete(context.Background(), Entry{Name: "x", Optimistic: true})
	assert.ErrorIs(t, err, ErrPending)
}
