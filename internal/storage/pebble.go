package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pebble "github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
)

// PebbleBackend stores objects in an embedded Pebble database. Same key
// scheme as the badger backend; prefix scans are bounded with an
// explicit upper bound instead of an iterator prefix option.
type PebbleBackend struct {
	db     *pebble.DB
	sync   *pebble.WriteOptions
	logger *logrus.Logger
}

// NewPebbleBackend opens (or creates) the database under cfg.Root.
func NewPebbleBackend(cfg Config) (*PebbleBackend, error) {
	opts := &pebble.Options{
		Logger: &pebbleLogger{logger: logrus.StandardLogger()},
	}

	db, err := pebble.Open(cfg.Root, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	logrus.WithField("path", cfg.Root).Info("Pebble storage backend initialized")

	return &PebbleBackend{
		db:     db,
		sync:   writeOpts,
		logger: logrus.StandardLogger(),
	}, nil
}

// prefixEnd returns the exclusive upper bound for a prefix scan. It
// increments the last byte of the prefix; returns nil if all bytes
// overflow.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// List returns every object whose key starts with prefix, in key order.
func (b *PebbleBackend) List(ctx context.Context, prefix string) ([]ObjectRecord, error) {
	lower := attrKey(prefix)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixEnd(lower),
	})
	if err != nil {
		return nil, backendErr("list", prefix, err)
	}
	defer iter.Close()

	var records []ObjectRecord
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())[len("attr:"):]

		var attrs objectAttrs
		if err := json.Unmarshal(iter.Value(), &attrs); err != nil {
			return nil, backendErr("list", prefix, fmt.Errorf("failed to decode attributes for %s: %w", key, err))
		}

		records = append(records, ObjectRecord{
			Key:          key,
			Size:         attrs.Size,
			LastModified: attrs.LastModified,
			ContentType:  attrs.ContentType,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, backendErr("list", prefix, err)
	}

	return records, nil
}

// Get returns the blob bytes, or ErrNotFound.
func (b *PebbleBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, closer, err := b.db.Get(blobKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, backendErr("get", key, err)
	}

	data := make([]byte, len(val))
	copy(data, val)
	_ = closer.Close()

	return data, nil
}

// Put stores the blob and its attribute record in one batch. A
// non-empty digest is verified against the data before anything is
// written.
func (b *PebbleBackend) Put(ctx context.Context, key string, data []byte, contentType, digest string) error {
	if digest != "" {
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) != digest {
			return ErrDigestMismatch
		}
	}

	attrs := objectAttrs{
		ContentType:  contentType,
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
	}
	attrData, err := json.Marshal(attrs)
	if err != nil {
		return backendErr("put", key, err)
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(blobKey(key), data, nil); err != nil {
		return backendErr("put", key, err)
	}
	if err := batch.Set(attrKey(key), attrData, nil); err != nil {
		return backendErr("put", key, err)
	}
	if err := b.db.Apply(batch, b.sync); err != nil {
		return backendErr("put", key, err)
	}

	b.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("Object stored in pebble")

	return nil
}

// Remove deletes the blob and its attributes. Absent keys are ignored.
func (b *PebbleBackend) Remove(ctx context.Context, key string) error {
	batch := b.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(blobKey(key), nil); err != nil {
		return backendErr("remove", key, err)
	}
	if err := batch.Delete(attrKey(key), nil); err != nil {
		return backendErr("remove", key, err)
	}
	if err := b.db.Apply(batch, b.sync); err != nil {
		return backendErr("remove", key, err)
	}

	return nil
}

// Close closes the underlying database.
func (b *PebbleBackend) Close() error {
	return b.db.Close()
}

// pebbleLogger adapts logrus to pebble's Logger interface.
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("pebble: "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("pebble: "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("pebble: "+format, args...)
}
