package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/pagemerge/internal/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.NewSession()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"pages_url":  fmt.Sprintf("/api/sessions/%s/pages", sess.ID),
	})
}

// handleClearSession removes every page and source from the session.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "total": 0})
}

func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	limit := s.cfg.MaxUploadBytes * int64(s.cfg.MaxFilesPerAdd)
	r.Body = http.MaxBytesReader(w, r.Body, limit+10*1024*1024) // form overhead

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}
	if len(headers) > s.cfg.MaxFilesPerAdd {
		jsonError(w, fmt.Sprintf("too many files (max %d)", s.cfg.MaxFilesPerAdd), http.StatusBadRequest)
		return
	}

	files := make([]session.File, 0, len(headers))
	for _, fh := range headers {
		name := sanitizeFilename(fh.Filename)
		f, err := fh.Open()
		if err != nil {
			jsonError(w, "failed to open "+name, http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			jsonError(w, "failed to read "+name, http.StatusInternalServerError)
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			jsonError(w, fmt.Sprintf("%s exceeds max size (%d bytes)", name, s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		files = append(files, session.File{Name: name, MIME: fh.Header.Get("Content-Type"), Data: data})
	}

	res, err := sess.AddFiles(r.Context(), files)
	if err != nil {
		var cerr *session.ConfigurationError
		if !errors.As(err, &cerr) {
			writeError(w, err)
			return
		}
		// Files before the missing collaborator were still added.
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "result": res, "total": sess.Count()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "total": sess.Count()})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
