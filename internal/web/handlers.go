package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmarsh-dev/crm-migrate/internal/logging"
	"github.com/dmarsh-dev/crm-migrate/internal/mapper"
	"github.com/dmarsh-dev/crm-migrate/internal/migrate"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// StartResponse carries the analysis result back to the review surface.
type StartResponse struct {
	Session  migrate.Snapshot      `json:"session"`
	Mappings []mapper.TableMapping `json:"mappings"`
}

// ApproveRequest is the reviewed mapping set submitted to begin migrating.
type ApproveRequest struct {
	Mappings []mapper.TableMapping `json:"mappings"`
	Override bool                  `json:"override"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]string{"status": "ok"})
}

// handleStart accepts a workbook upload, analyzes it, and returns the
// proposed mappings for review.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Migrate.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, r, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to read file")
		return
	}

	wb, err := workbook.Open(header.Filename, data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap, mappings, err := s.engine.Start(r.Context(), wb)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("workbook analyzed",
		"session_id", snap.ID,
		"file", header.Filename,
		"sheets", len(wb.Sheets),
	)

	writeJSON(w, r, StartResponse{Session: snap, Mappings: mappings})
}

// handleMappings returns the proposed mappings of the current session.
func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.engine.Proposed()
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, mappings)
}

// handleApprove accepts the reviewed mapping set and begins the migration.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.Approve(r.Context(), req.Mappings, req.Override); err != nil {
		respondError(w, r, err)
		return
	}

	s.writeStatus(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		respondError(w, r, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(); err != nil {
		respondError(w, r, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Abort(); err != nil {
		respondError(w, r, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(); err != nil {
		respondError(w, r, err)
		return
	}
	s.writeStatus(w, r)
}

// handleStatus reports the current session. With no session it reports an
// idle one rather than an error, so pollers get a stable shape.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Status()
	if err != nil && !errors.Is(err, migrate.ErrNoSession) {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, snap)
}
