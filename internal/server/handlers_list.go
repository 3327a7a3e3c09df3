package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/filevault/filevault/internal/acl"
	"github.com/filevault/filevault/internal/listing"
	"github.com/filevault/filevault/internal/storage"
)

// listTarget resolves the account, joined prefix and optional trailing
// wildcard of a /storage/list request.
func listTarget(r *http.Request) (account, prefix, glob string) {
	vars := mux.Vars(r)
	account = vars["account"]

	parts := []string{}
	if p := vars["path"]; p != "" {
		parts = strings.Split(p, "/")
	}

	if len(parts) > 0 {
		last := parts[len(parts)-1]
		if strings.ContainsAny(last, "*?") {
			glob = last
			parts = parts[:len(parts)-1]
		}
	}

	segs := append([]string{account}, parts...)
	prefix = strings.Join(segs, "/")
	return account, strings.TrimSuffix(prefix, "/"), glob
}

// handleList returns the logical entries of one directory level. An
// empty directory and an unknown path are both an empty success; the
// ambiguity is deliberate.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	account, prefix, glob := listTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionRead) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	entries, err := s.store.List(r.Context(), prefix, glob)
	if err != nil {
		logrus.WithError(err).WithField("prefix", prefix).Error("Listing failed")
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if entries == nil {
		entries = []listing.ListEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleCreateFolder creates a directory marker. An occupied prefix is
// a conflict.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	account, prefix, _ := listTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionWrite) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := s.store.CreateFolder(r.Context(), prefix); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "folder already exists")
			return
		}
		logrus.WithError(err).WithField("prefix", prefix).Error("Folder creation failed")
		writeError(w, http.StatusInternalServerError, "folder creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"folder": prefix})
}

// handleDeletePrefix removes everything under the addressed directory.
func (s *Server) handleDeletePrefix(w http.ResponseWriter, r *http.Request) {
	account, prefix, _ := listTarget(r)
	if !s.checker.Allow(actor(r), account, acl.ActionOwner) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	matched, err := s.store.Remove(r.Context(), []string{prefix}, "")
	if err != nil {
		logrus.WithError(err).WithField("prefix", prefix).Error("Prefix removal failed")
		writeError(w, http.StatusInternalServerError, "removal failed")
		return
	}
	if !matched {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
