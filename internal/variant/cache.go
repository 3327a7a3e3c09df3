package variant

import (
	"context"
	"errors"
	"sync"

	"github.com/filevault/filevault/internal/metadata"
	"github.com/filevault/filevault/internal/storage"
	"github.com/sirupsen/logrus"
)

// Hints carries optional knowledge the caller already has about the
// original blob, saving sidecar reads and extension probing.
type Hints struct {
	// OriginalKey is the literal key of the original blob.
	OriginalKey string
	// ContentType of the original, advisory only.
	ContentType string
}

// Cache derives resized image variants from originals and persists them
// under derived keys. A cached variant's bytes are always semantically
// equal to re-running the transform on the current original; that
// invariant is kept by invalidating every variant when the original is
// overwritten.
type Cache struct {
	backend storage.Backend
	meta    *metadata.Store
	resizer Resizer
	presets map[string]Preset
	logger  *logrus.Logger
}

// NewCache creates a variant cache over the backend and sidecar store.
func NewCache(backend storage.Backend, meta *metadata.Store, resizer Resizer, presets map[string]Preset) *Cache {
	return &Cache{
		backend: backend,
		meta:    meta,
		resizer: resizer,
		presets: presets,
		logger:  logrus.StandardLogger(),
	}
}

// Preset returns the preset registered under id.
func (c *Cache) Preset(id string) (Preset, bool) {
	p, ok := c.presets[id]
	return p, ok
}

// Presets returns the full preset set.
func (c *Cache) Presets() map[string]Preset {
	return c.presets
}

// GetImage returns the bytes of the preset variant for keyBase,
// computing and caching it on a miss. storage.ErrNotFound means no
// original could be located; a *TransformError means the original's
// bytes could not be processed.
func (c *Cache) GetImage(ctx context.Context, keyBase string, preset Preset, hints Hints) ([]byte, error) {
	variantKey := preset.Key(keyBase)

	cached, err := c.backend.Get(ctx, variantKey)
	if err == nil {
		cacheHits.Inc()
		return cached, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	cacheMisses.Inc()

	_, original, err := c.resolveOriginal(ctx, keyBase, hints)
	if err != nil {
		return nil, err
	}

	derived, err := c.resizer.Resize(original, preset.Width, preset.Height, preset.Fit)
	if err != nil {
		var te *TransformError
		if errors.As(err, &te) {
			transformFailures.Inc()
		}
		return nil, err
	}

	// Persistence is an optimization: a failed write never withholds the
	// freshly computed bytes from the current caller. Two concurrent
	// misses may both compute and both write; the transform is
	// deterministic so the last writer's bytes are harmless.
	if err := c.backend.Put(ctx, variantKey, derived, "image/png", ""); err != nil {
		c.logger.WithError(err).WithField("key", variantKey).Warn("Failed to persist derived variant")
	}

	return derived, nil
}

// resolveOriginal locates the original blob for keyBase: an explicit
// hint wins, then the sidecar's originalFileKey or _ext, then probing
// the common image extensions. First successful read wins; the key the
// bytes were found under is returned alongside them.
func (c *Cache) resolveOriginal(ctx context.Context, keyBase string, hints Hints) (string, []byte, error) {
	var candidates []string
	if hints.OriginalKey != "" {
		candidates = append(candidates, hints.OriginalKey)
	}

	meta, err := c.meta.Get(ctx, keyBase)
	if err != nil {
		c.logger.WithError(err).WithField("keyBase", keyBase).Warn("Failed to read sidecar while resolving original")
	}
	if meta != nil {
		if meta.OriginalFileKey != "" {
			candidates = append(candidates, meta.OriginalFileKey)
		}
		if meta.Ext != "" {
			candidates = append(candidates, keyBase+"."+meta.Ext)
		}
	}
	for _, ext := range storage.CommonImageExts {
		candidates = append(candidates, keyBase+"."+ext)
	}

	for _, key := range candidates {
		data, err := c.backend.Get(ctx, key)
		if err == nil {
			return key, data, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", nil, err
		}
	}

	return "", nil, storage.ErrNotFound
}

// Invalidate deletes every cached variant of keyBase. It is called when
// the original blob is overwritten; delete paths remove the whole item
// instead. Failures are logged and swallowed: invalidation is a cleanup
// side effect, not a precondition of the triggering write.
func (c *Cache) Invalidate(ctx context.Context, keyBase string) {
	invalidations.Inc()

	for id := range c.presets {
		// Both the bare preset suffix (written by older deployments) and
		// the normalized ".png" form are purged.
		for _, key := range []string{keyBase + "." + id, keyBase + "." + id + ".png"} {
			if err := c.backend.Remove(ctx, key); err != nil {
				c.logger.WithError(err).WithField("key", key).Warn("Failed to invalidate variant")
			}
		}
	}
}

// GenerateAll proactively computes and stores every preset variant from
// the given original bytes. Transforms run concurrently; the first
// failure is reported once all have finished. Variants already written
// by sibling transforms are not rolled back.
func (c *Cache) GenerateAll(ctx context.Context, keyBase string, data []byte) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, preset := range c.presets {
		wg.Add(1)
		go func(p Preset) {
			defer wg.Done()

			derived, err := c.resizer.Resize(data, p.Width, p.Height, p.Fit)
			if err == nil {
				err = c.backend.Put(ctx, p.Key(keyBase), derived, "image/png", "")
			}
			if err != nil {
				var te *TransformError
				if errors.As(err, &te) {
					transformFailures.Inc()
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(preset)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Rotate re-stores the original at keyBase rotated by degrees, encoded
// as PNG, and invalidates all cached variants. A non-PNG original is
// replaced by the PNG rendering.
func (c *Cache) Rotate(ctx context.Context, keyBase string, degrees float64) error {
	originalKey, original, err := c.resolveOriginal(ctx, keyBase, Hints{})
	if err != nil {
		return err
	}

	rotated, err := c.resizer.Rotate(original, degrees)
	if err != nil {
		return err
	}

	c.Invalidate(ctx, keyBase)

	if err := c.backend.Put(ctx, keyBase+".png", rotated, "image/png", ""); err != nil {
		return err
	}
	if originalKey != keyBase+".png" {
		if err := c.backend.Remove(ctx, originalKey); err != nil {
			c.logger.WithError(err).WithField("key", originalKey).Warn("Failed to remove superseded original after rotate")
		}
	}

	_, err = c.meta.Merge(ctx, keyBase, &metadata.ObjectMetadata{
		Ext:         "png",
		ContentType: "image/png",
		Size:        int64(len(rotated)),
	})
	return err
}
