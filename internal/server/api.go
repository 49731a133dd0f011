// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/mind/tinyenv/pkg/fileutil"
)

// FetchRequest is the request body for starting a fetch.
// Note: the base directory is NOT configurable via API. Name and cacheDir
// must be relative paths that stay under it.
type FetchRequest struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Hash          string `json:"hash,omitempty"`
	HashAlgo      string `json:"hashAlgo,omitempty"`
	CacheDir      string `json:"cacheDir,omitempty"`
	Extract       bool   `json:"extract,omitempty"`
	ArchiveFormat string `json:"archiveFormat,omitempty"`
}

// validate checks the request before a job is created for it.
func (r FetchRequest) validate() (string, error) {
	if r.Name == "" {
		return "Missing required field: name", fileutil.ErrMissingName
	}
	if r.URL == "" {
		return "Missing required field: url", fileutil.ErrMissingURL
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return "Invalid url", errors.New("only http and https URLs are fetched")
	}
	if !localPath(r.Name) {
		return "Invalid name", errors.New("name must be a relative path inside the cache directory")
	}
	if r.CacheDir != "" && !localPath(r.CacheDir) {
		return "Invalid cacheDir", errors.New("cacheDir must be a relative path inside the base directory")
	}
	if _, err := fileutil.ParseAlgorithm(r.HashAlgo); err != nil {
		return "Invalid hashAlgo", err
	}
	if _, err := fileutil.ParseArchiveFormat(r.ArchiveFormat); err != nil {
		return "Invalid archiveFormat", err
	}
	return "", nil
}

// canonical returns r with hashAlgo and archiveFormat in the form fileutil
// matches exactly. Names that do not parse are left for GetFile to reject.
func (r FetchRequest) canonical() FetchRequest {
	if algo, err := fileutil.ParseAlgorithm(r.HashAlgo); err == nil {
		r.HashAlgo = string(algo)
	}
	if format, err := fileutil.ParseArchiveFormat(r.ArchiveFormat); err == nil {
		r.ArchiveFormat = string(format)
	}
	return r
}

func localPath(p string) bool {
	return filepath.IsLocal(filepath.FromSlash(p))
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	BaseDir     string `json:"baseDir"`
	FallbackDir string `json:"fallbackDir"`
	ResolvedDir string `json:"resolvedDir,omitempty"`
	ChunkSize   int    `json:"chunkSize"`
	QueueSize   int    `json:"queueSize"`
	Version     string `json:"version"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleFetch queues a fetch job.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if msg, err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, msg, err.Error())
		return
	}

	// Create the job (or return existing if duplicate)
	job, wasExisting, err := s.jobs.CreateJob(req)
	if errors.Is(err, ErrQueueFull) {
		writeError(w, http.StatusServiceUnavailable, "Too many queued jobs", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Fetch already in progress",
		})
	} else {
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already finished", "")
	}
}

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	resp := SettingsResponse{
		BaseDir:     s.config.BaseDir,
		FallbackDir: s.config.FallbackDir,
		ChunkSize:   s.config.ChunkSize,
		QueueSize:   cap(s.jobs.queue),
		Version:     s.config.Version,
	}
	if dir, err := fileutil.ResolveBaseDir(s.config.BaseDir, s.config.FallbackDir); err == nil {
		resp.ResolvedDir = dir
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
