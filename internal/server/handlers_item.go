package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/filevault/filevault/internal/acl"
	"github.com/filevault/filevault/internal/keys"
	"github.com/filevault/filevault/internal/metadata"
	"github.com/filevault/filevault/internal/storage"
	"github.com/filevault/filevault/internal/variant"
)

// maxUploadSize caps a single item body.
const maxUploadSize = 256 << 20

// itemTarget pulls the raw item path out of the route and the account
// that owns it (the first path segment).
func itemTarget(r *http.Request) (account, pathParam string) {
	pathParam = mux.Vars(r)["path"]
	account, _, _ = strings.Cut(pathParam, "/")
	return account, pathParam
}

// uploadName reads the X-File-Name header, which clients URL-encode.
func uploadName(r *http.Request) string {
	raw := r.Header.Get("X-File-Name")
	if raw == "" {
		return ""
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// handleGetItem serves either a cached image variant, when the path's
// final extension names a preset, or the original bytes.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	account, pathParam := itemTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionRead) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if preset, ok := s.store.Variants().Preset(keys.Ext(pathParam)); ok {
		data, err := s.store.GetImage(r.Context(), keys.TrimExt(pathParam), preset)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			var terr *variant.TransformError
			if errors.As(err, &terr) {
				logrus.WithError(err).WithField("key", pathParam).Error("Variant transform failed")
				writeError(w, http.StatusInternalServerError, "transform failed")
				return
			}
			logrus.WithError(err).WithField("key", pathParam).Error("Variant retrieval failed")
			writeError(w, http.StatusInternalServerError, "retrieval failed")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	render := keys.ParseRenderRequest(pathParam)
	if render.Engine != keys.RenderEngineRaw {
		writeError(w, http.StatusNotImplemented, "render engine not implemented: "+render.Engine)
		return
	}

	data, contentType, err := s.store.GetFile(r.Context(), render.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		logrus.WithError(err).WithField("key", render.Path).Error("Item retrieval failed")
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleCreateItem stores a new object. Writing over an existing key is
// a conflict; clients replace via PUT.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	account, pathParam := itemTarget(r)
	who := actor(r)
	if !s.checker.Allow(who, account, acl.ActionWrite) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	name := uploadName(r)
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing X-File-Name header")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	kp, meta, err := s.store.CreateFile(r.Context(), pathParam, name, r.Header.Get("Content-Type"), data, who)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "item already exists",
				"key":   kp.FullKey,
			})
			return
		}
		logrus.WithError(err).WithField("key", kp.FullKey).Error("Item creation failed")
		writeError(w, http.StatusInternalServerError, "creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"key": kp.FullKey, "meta": meta})
}

// handlePutItem either merges a JSON metadata patch into the sidecar or
// replaces the object's content, depending on the request content type.
func (s *Server) handlePutItem(w http.ResponseWriter, r *http.Request) {
	account, pathParam := itemTarget(r)
	who := actor(r)
	if !s.checker.Allow(who, account, acl.ActionWrite) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if isJSONRequest(r) {
		s.patchMeta(w, r, pathParam, who)
		return
	}

	name := uploadName(r)
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing X-File-Name header")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	kp, meta, err := s.store.ReplaceFile(r.Context(), pathParam, name, r.Header.Get("Content-Type"), data, who)
	if err != nil {
		logrus.WithError(err).WithField("key", kp.FullKey).Error("Item replacement failed")
		writeError(w, http.StatusInternalServerError, "replacement failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": kp.FullKey, "meta": meta})
}

func (s *Server) patchMeta(w http.ResponseWriter, r *http.Request, pathParam, who string) {
	var patch metadata.ObjectMetadata
	if err := readJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	merged, err := s.store.UpdateMeta(r.Context(), pathParam, &patch, who)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		logrus.WithError(err).WithField("key", pathParam).Error("Metadata update failed")
		writeError(w, http.StatusInternalServerError, "metadata update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": keys.TrimExt(pathParam), "meta": merged})
}

// handleDeleteItem removes an object and its derived keys. The final
// extension is stripped first so any variant of the key matches.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	account, pathParam := itemTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionOwner) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	matched, err := s.store.Remove(r.Context(), []string{keys.TrimExt(pathParam)}, "")
	if err != nil {
		logrus.WithError(err).WithField("key", pathParam).Error("Item removal failed")
		writeError(w, http.StatusInternalServerError, "removal failed")
		return
	}
	if !matched {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetMeta returns the sidecar for an item without touching its
// content.
func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	account, pathParam := itemTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionRead) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	meta, err := s.store.GetMeta(r.Context(), pathParam)
	if err != nil {
		logrus.WithError(err).WithField("key", pathParam).Error("Metadata lookup failed")
		writeError(w, http.StatusInternalServerError, "metadata lookup failed")
		return
	}
	if meta == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": keys.TrimExt(pathParam), "meta": meta})
}

// handleRotate rotates the stored image counter-clockwise and refreshes
// its variants. The angle defaults to 90 degrees.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	account, pathParam := itemTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionWrite) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	degrees := 90.0
	if raw := r.URL.Query().Get("degrees"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid degrees parameter")
			return
		}
		degrees = parsed
	}

	keyBase := keys.TrimExt(pathParam)
	if err := s.store.Variants().Rotate(r.Context(), keyBase, degrees); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		logrus.WithError(err).WithField("key", keyBase).Error("Rotation failed")
		writeError(w, http.StatusInternalServerError, "rotation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"key": keyBase})
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/json")
}
