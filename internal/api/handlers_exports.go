package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pagemerge/internal/session"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.SubmitExport(sessionFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   session.StatusQueued,
		"poll_url": fmt.Sprintf("/api/exports/%s/status", job.ID),
	})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	job := s.svc.Job(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	resp := map[string]any{
		"job_id":     snap.ID,
		"session_id": snap.SessionID,
		"status":     snap.Status,
		"phase":      snap.Phase,
		"progress":   snap.Progress,
	}
	if snap.Error != "" {
		resp["error"] = snap.Error
	}
	if snap.Status == session.StatusCompleted {
		resp["filename"] = snap.Filename
		resp["file_url"] = fmt.Sprintf("/api/exports/%s/file", snap.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	job := s.svc.Job(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	res, ok := job.Result()
	if !ok {
		jsonError(w, "export not finished", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Write(res.Data)
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notices": sessionFrom(r).DrainNotices()})
}
