package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerBackend stores objects in an embedded BadgerDB. Blob bytes and
// per-key attributes live under separate prefixes so listings never
// load blob values.
type BadgerBackend struct {
	db     *badger.DB
	logger *logrus.Logger
}

// objectAttrs is the per-key attribute record kept alongside the blob.
type objectAttrs struct {
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

func blobKey(key string) []byte {
	return []byte("blob:" + key)
}

func attrKey(key string) []byte {
	return []byte("attr:" + key)
}

// NewBadgerBackend opens (or creates) the database under cfg.Root.
func NewBadgerBackend(cfg Config) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Root).
		WithLogger(newBadgerLogger(logrus.StandardLogger())).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logrus.WithField("path", cfg.Root).Info("Badger storage backend initialized")

	return &BadgerBackend{
		db:     db,
		logger: logrus.StandardLogger(),
	}, nil
}

// List returns every object whose key starts with prefix, in key order.
func (b *BadgerBackend) List(ctx context.Context, prefix string) ([]ObjectRecord, error) {
	var records []ObjectRecord

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = attrKey(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())[len("attr:"):]

			var attrs objectAttrs
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &attrs)
			}); err != nil {
				return fmt.Errorf("failed to decode attributes for %s: %w", key, err)
			}

			records = append(records, ObjectRecord{
				Key:          key,
				Size:         attrs.Size,
				LastModified: attrs.LastModified,
				ContentType:  attrs.ContentType,
			})
		}
		return nil
	})
	if err != nil {
		return nil, backendErr("list", prefix, err)
	}

	return records, nil
}

// Get returns the blob bytes, or ErrNotFound.
func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, backendErr("get", key, err)
	}

	return data, nil
}

// Put stores the blob and its attribute record in one transaction. A
// non-empty digest is verified against the data before anything is
// written.
func (b *BadgerBackend) Put(ctx context.Context, key string, data []byte, contentType, digest string) error {
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

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(key), data); err != nil {
			return err
		}
		return txn.Set(attrKey(key), attrData)
	})
	if err != nil {
		return backendErr("put", key, err)
	}

	b.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("Object stored in badger")

	return nil
}

// Remove deletes the blob and its attributes. Absent keys are ignored.
func (b *BadgerBackend) Remove(ctx context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(blobKey(key)); err != nil {
			return err
		}
		return txn.Delete(attrKey(key))
	})
	if err != nil {
		return backendErr("remove", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// badgerLogger adapts logrus to badger's Logger interface.
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("badger: "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("badger: "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("badger: "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("badger: "+format, args...)
}
