package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/filevault/filevault/internal/storage"
)

// SidecarSuffix is appended to a keyBase to address its metadata
// sidecar object.
const SidecarSuffix = "._i"

// ObjectMetadata is the sidecar record filed under a keyBase. Fields
// not listed here survive merges untouched via Extra, so older or newer
// writers never strip each other's data.
type ObjectMetadata struct {
	Created         time.Time `json:"_created,omitzero"`
	CreatedBy       string    `json:"_createdBy,omitempty"`
	Modified        time.Time `json:"_modified,omitzero"`
	ModifiedBy      string    `json:"_modifiedBy,omitempty"`
	Hash            string    `json:"_hash,omitempty"`
	Ext             string    `json:"_ext,omitempty"`
	ContentType     string    `json:"type,omitempty"`
	Size            int64     `json:"size,omitempty"`
	OriginalFileKey string    `json:"originalFileKey,omitempty"`
	Name            string    `json:"name,omitempty"`

	// Extra holds fields this version does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownFields are the JSON keys owned by the typed part of ObjectMetadata.
var knownFields = map[string]bool{
	"_created": true, "_createdBy": true, "_modified": true, "_modifiedBy": true,
	"_hash": true, "_ext": true, "type": true, "size": true,
	"originalFileKey": true, "name": true,
}

// MarshalJSON emits the typed fields overlaid with Extra.
func (m ObjectMetadata) MarshalJSON() ([]byte, error) {
	type alias ObjectMetadata
	raw, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}

	if len(m.Extra) == 0 {
		return raw, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !knownFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and stashes the rest in Extra.
func (m *ObjectMetadata) UnmarshalJSON(data []byte) error {
	type alias ObjectMetadata
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = ObjectMetadata(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownFields[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Merge overlays patch onto m: non-zero patch fields win, Extra maps
// are unioned with patch entries winning.
func (m *ObjectMetadata) Merge(patch *ObjectMetadata) {
	if patch == nil {
		return
	}
	if !patch.Created.IsZero() {
		m.Created = patch.Created
	}
	if patch.CreatedBy != "" {
		m.CreatedBy = patch.CreatedBy
	}
	if !patch.Modified.IsZero() {
		m.Modified = patch.Modified
	}
	if patch.ModifiedBy != "" {
		m.ModifiedBy = patch.ModifiedBy
	}
	if patch.Hash != "" {
		m.Hash = patch.Hash
	}
	if patch.Ext != "" {
		m.Ext = patch.Ext
	}
	if patch.ContentType != "" {
		m.ContentType = patch.ContentType
	}
	if patch.Size != 0 {
		m.Size = patch.Size
	}
	if patch.OriginalFileKey != "" {
		m.OriginalFileKey = patch.OriginalFileKey
	}
	if patch.Name != "" {
		m.Name = patch.Name
	}
	for k, v := range patch.Extra {
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
}

// Store persists metadata sidecars through a storage backend. There is
// no compare-and-swap: concurrent writers racing on the same keyBase
// are last-writer-wins.
type Store struct {
	backend storage.Backend
}

// NewStore creates a sidecar store over backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{backend: backend}
}

// sidecarKey addresses the sidecar object of keyBase.
func sidecarKey(keyBase string) string {
	return keyBase + SidecarSuffix
}

// Get reads the sidecar for keyBase. Absence is (nil, nil), not an
// error: callers must treat it as "no metadata yet".
func (s *Store) Get(ctx context.Context, keyBase string) (*ObjectMetadata, error) {
	data, err := s.backend.Get(ctx, sidecarKey(keyBase))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var meta ObjectMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata sidecar for %s: %w", keyBase, err)
	}
	return &meta, nil
}

// Put fully overwrites the sidecar for keyBase. Callers intending a
// partial update must read-modify-write; see Merge.
func (s *Store) Put(ctx context.Context, keyBase string, meta *ObjectMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", keyBase, err)
	}
	return s.backend.Put(ctx, sidecarKey(keyBase), data, "application/json", "")
}

// Merge reads the current sidecar, overlays patch, writes the result
// back and returns it. A missing sidecar merges against the zero value.
func (s *Store) Merge(ctx context.Context, keyBase string, patch *ObjectMetadata) (*ObjectMetadata, error) {
	current, err := s.Get(ctx, keyBase)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = &ObjectMetadata{}
	}

	current.Merge(patch)

	if err := s.Put(ctx, keyBase, current); err != nil {
		return nil, err
	}
	return current, nil
}
