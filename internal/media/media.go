// Package media composes the storage backend, metadata sidecars, the
// variant cache and the listing assembler into the single capability
// set the HTTP layer talks to: list, get, put, getMeta, putMeta,
// getImage, remove.
package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/filevault/filevault/internal/keys"
	"github.com/filevault/filevault/internal/listing"
	"github.com/filevault/filevault/internal/metadata"
	"github.com/filevault/filevault/internal/storage"
	"github.com/filevault/filevault/internal/variant"
	"github.com/sirupsen/logrus"
)

// Store is the storage bridge. One instance per process, bound to a
// single backend selected at startup.
type Store struct {
	backend  storage.Backend
	meta     *metadata.Store
	variants *variant.Cache
	listing  *listing.Assembler
	logger   *logrus.Logger
}

// New wires a Store over the given backend and preset set.
func New(backend storage.Backend, presets map[string]variant.Preset) *Store {
	meta := metadata.NewStore(backend)
	return &Store{
		backend:  backend,
		meta:     meta,
		variants: variant.NewCache(backend, meta, variant.ImagingResizer{}, presets),
		listing:  listing.NewAssembler(backend, meta, presets),
		logger:   logrus.StandardLogger(),
	}
}

// NewWithResizer is New with an explicit resizer, for tests that count
// or fake transforms.
func NewWithResizer(backend storage.Backend, presets map[string]variant.Preset, resizer variant.Resizer) *Store {
	meta := metadata.NewStore(backend)
	return &Store{
		backend:  backend,
		meta:     meta,
		variants: variant.NewCache(backend, meta, resizer, presets),
		listing:  listing.NewAssembler(backend, meta, presets),
		logger:   logrus.StandardLogger(),
	}
}

// Meta exposes the sidecar store.
func (s *Store) Meta() *metadata.Store {
	return s.meta
}

// Variants exposes the variant cache.
func (s *Store) Variants() *variant.Cache {
	return s.variants
}

// List returns the logical entries one level below prefix. glob, when
// non-empty, filters by display name.
func (s *Store) List(ctx context.Context, prefix, glob string) ([]listing.ListEntry, error) {
	return s.listing.List(ctx, prefix, glob)
}

// CreateFile is the create-only upload: it derives the key pair from
// the target path and upload name, rejects with storage.ErrConflict
// when a sidecar already exists, stores the blob and then writes the
// provenance sidecar. No sidecar is written if the blob write fails.
func (s *Store) CreateFile(ctx context.Context, pathParam, uploadName, contentType string, data []byte, actor string) (keys.KeyPair, *metadata.ObjectMetadata, error) {
	kp := keys.DeriveKeys(pathParam, uploadName)

	existing, err := s.meta.Get(ctx, kp.KeyBase)
	if err != nil {
		return kp, nil, err
	}
	if existing != nil {
		return kp, nil, storage.ErrConflict
	}

	digest := contentDigest(data)
	if err := s.backend.Put(ctx, kp.FullKey, data, contentType, digest); err != nil {
		return kp, nil, err
	}

	meta := &metadata.ObjectMetadata{
		Created:     time.Now().UTC(),
		CreatedBy:   actor,
		Hash:        digest,
		Ext:         keys.Ext(kp.FullKey),
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	if err := s.meta.Put(ctx, kp.KeyBase, meta); err != nil {
		return kp, nil, err
	}

	return kp, meta, nil
}

// ReplaceFile is the overwrite upload: cached variants are invalidated,
// the blob is rewritten, the sidecar is merged, and every preset is
// regenerated proactively for image content. Preset regeneration
// failures are returned as one aggregate error; variants already
// written by sibling transforms stay in place.
func (s *Store) ReplaceFile(ctx context.Context, pathParam, uploadName, contentType string, data []byte, actor string) (keys.KeyPair, *metadata.ObjectMetadata, error) {
	kp := keys.DeriveKeys(pathParam, uploadName)

	// The invalidation sweep runs before the write so a crash in
	// between leaves no variant derived from the old bytes.
	s.variants.Invalidate(ctx, kp.KeyBase)
	s.removeSupersededOriginals(ctx, kp)

	digest := contentDigest(data)
	if err := s.backend.Put(ctx, kp.FullKey, data, contentType, digest); err != nil {
		return kp, nil, err
	}

	merged, err := s.meta.Merge(ctx, kp.KeyBase, &metadata.ObjectMetadata{
		Modified:    time.Now().UTC(),
		ModifiedBy:  actor,
		Hash:        digest,
		Ext:         keys.Ext(kp.FullKey),
		ContentType: contentType,
		Size:        int64(len(data)),
	})
	if err != nil {
		return kp, nil, err
	}

	if strings.HasPrefix(contentType, "image/") {
		if err := s.variants.GenerateAll(ctx, kp.KeyBase, data); err != nil {
			return kp, merged, err
		}
	}

	return kp, merged, nil
}

// removeSupersededOriginals drops blobs filed under the same keyBase
// with a different extension, so an overwrite that changes extension
// leaves a single authoritative blob. The sidecar and anything nested
// under a dotted directory name survive. Best effort.
func (s *Store) removeSupersededOriginals(ctx context.Context, kp keys.KeyPair) {
	records, err := s.backend.List(ctx, kp.KeyBase+".")
	if err != nil {
		s.logger.WithError(err).WithField("keyBase", kp.KeyBase).Warn("Failed to list superseded originals")
		return
	}
	sidecar := kp.KeyBase + metadata.SidecarSuffix
	for _, rec := range records {
		if rec.Key == sidecar || rec.Key == kp.FullKey {
			continue
		}
		if strings.Contains(rec.Key[len(kp.KeyBase):], "/") {
			continue
		}
		if err := s.backend.Remove(ctx, rec.Key); err != nil {
			s.logger.WithError(err).WithField("key", rec.Key).Warn("Failed to remove superseded original")
		}
	}
}

// GetFile resolves a logical path to its blob. An extensionless path is
// resolved through the sidecar's _ext; no sidecar or no blob is
// storage.ErrNotFound.
func (s *Store) GetFile(ctx context.Context, logicalPath string) ([]byte, string, error) {
	fullKey := logicalPath
	contentType := ""

	if keys.Ext(logicalPath) == "" {
		meta, err := s.meta.Get(ctx, logicalPath)
		if err != nil {
			return nil, "", err
		}
		if meta == nil || meta.Ext == "" {
			return nil, "", storage.ErrNotFound
		}
		fullKey = logicalPath + "." + meta.Ext
		contentType = meta.ContentType
	}

	data, err := s.backend.Get(ctx, fullKey)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = keys.InferMIMEType(fullKey)
	}
	return data, contentType, nil
}

// GetImage serves the cached preset variant for keyBase, computing it
// on a miss.
func (s *Store) GetImage(ctx context.Context, keyBase string, preset variant.Preset) ([]byte, error) {
	return s.variants.GetImage(ctx, keyBase, preset, variant.Hints{})
}

// GetMeta returns the sidecar for the given key (its extension, if any,
// is stripped to reach the keyBase). Absence is (nil, nil).
func (s *Store) GetMeta(ctx context.Context, key string) (*metadata.ObjectMetadata, error) {
	return s.meta.Get(ctx, keys.TrimExt(key))
}

// UpdateMeta merges patch into the sidecar of key and stamps the
// modification provenance.
func (s *Store) UpdateMeta(ctx context.Context, key string, patch *metadata.ObjectMetadata, actor string) (*metadata.ObjectMetadata, error) {
	keyBase := keys.TrimExt(key)

	current, err := s.meta.Get(ctx, keyBase)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, storage.ErrNotFound
	}

	patch.Modified = time.Now().UTC()
	patch.ModifiedBy = actor
	return s.meta.Merge(ctx, keyBase, patch)
}

// CreateFolder writes a zero-length directory marker at prefix. An
// occupied prefix is storage.ErrConflict.
func (s *Store) CreateFolder(ctx context.Context, prefix string) error {
	existing, err := s.backend.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return storage.ErrConflict
	}
	return s.backend.Put(ctx, prefix+"/", nil, "application/x-directory", "")
}

// Remove deletes the full conceptual item for each id: every object
// under its prefix (blob, sidecar, cached variants, folder contents).
// When prefix listing finds nothing, direct keys are probed across the
// common image extensions before giving up. Returns whether anything
// was removed; removing the already-absent is not an error.
func (s *Store) Remove(ctx context.Context, ids []string, pathPrefix string) (bool, error) {
	matchedAny := false

	for _, id := range ids {
		if id == "" {
			continue
		}
		prefix := id
		if pathPrefix != "" {
			prefix = pathPrefix + "/" + id
		}

		records, err := s.backend.List(ctx, prefix)
		if err != nil {
			return matchedAny, err
		}
		for _, rec := range records {
			if err := s.backend.Remove(ctx, rec.Key); err != nil {
				return matchedAny, err
			}
			matchedAny = true
		}
		if len(records) > 0 {
			continue
		}

		// Listing found nothing; probe the direct keys an original with
		// an unknown extension could be filed under.
		candidates := []string{prefix, prefix + metadata.SidecarSuffix}
		for _, ext := range storage.CommonImageExts {
			candidates = append(candidates, prefix+"."+ext)
		}
		for _, key := range candidates {
			if _, err := s.backend.Get(ctx, key); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return matchedAny, err
			}
			if err := s.backend.Remove(ctx, key); err != nil {
				return matchedAny, err
			}
			matchedAny = true
		}
	}

	return matchedAny, nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func contentDigest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
