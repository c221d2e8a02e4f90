package server

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/airlift/buildforge/internal/errors"
	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/orchestrator"
)

type submitRequest struct {
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch"`
	AppName     string `json:"app_name"`
	BuildConfig string `json:"build_config"`
	RequestedBy string `json:"requested_by"`
}

type completionPayload struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Filename    string `json:"filename"`
	ArtifactB64 string `json:"artifact_b64"`
	Error       string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, apperrors.CodeInvalidRequest,
			"request body must be valid JSON")
		return
	}

	id, err := s.builds.Submit(r.Context(), orchestrator.SubmitRequest{
		RepoURL:     req.RepoURL,
		Branch:      req.Branch,
		AppName:     req.AppName,
		BuildConfig: req.BuildConfig,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.builds.List(r.Context())
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []jobstore.BuildJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"builds": jobs})
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("repo_url")
	if repoURL == "" {
		apperrors.Write(w, r, http.StatusBadRequest, apperrors.CodeInvalidRequest,
			"repo_url query parameter is required")
		return
	}

	branches, err := s.builds.ListBranches(r.Context(), repoURL)
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	if branches == nil {
		branches = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"branches": branches})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.builds.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.builds.Cancel(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.builds.CleanupRepository(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.builds.Delete(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := s.builds.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	if job.ArtifactRef == "" {
		apperrors.Write(w, r, http.StatusNotFound, apperrors.CodeNotFound,
			"build has no artifact")
		return
	}

	data, filename, err := s.artifacts.Get(r.Context(), job.ArtifactRef)
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	job, err := s.builds.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(job.LogText()))
}

func (s *Server) handleBuildComplete(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret != "" {
		token := r.Header.Get("X-Build-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.WebhookSecret)) != 1 {
			apperrors.Write(w, r, http.StatusUnauthorized, apperrors.CodeUnauthorized,
				"invalid or missing build token")
			return
		}
	}

	var payload completionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, apperrors.CodeInvalidRequest,
			"request body must be valid JSON")
		return
	}

	var data []byte
	if payload.ArtifactB64 != "" {
		var err error
		data, err = base64.StdEncoding.DecodeString(payload.ArtifactB64)
		if err != nil {
			apperrors.Write(w, r, http.StatusBadRequest, apperrors.CodeInvalidRequest,
				"artifact_b64 is not valid base64")
			return
		}
	}

	err := s.builds.HandleCompletion(r.Context(), orchestrator.CompletionRequest{
		JobID:        payload.JobID,
		Success:      payload.Status == "success",
		Filename:     payload.Filename,
		Artifact:     data,
		ErrorMessage: payload.Error,
	})
	if err != nil {
		apperrors.WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
