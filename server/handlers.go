package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/version"
)

// handleJobs lists job state: GET /api/jobs?job=<name>&unfinished=true&limit=N
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	opts := async.ListOptions{
		JobName:        q.Get("job"),
		UnfinishedOnly: q.Get("unfinished") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	states, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		s.logger.Errorw("Failed to list jobs", logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if states == nil {
		states = []*async.JobState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Get().Version,
		"clients": s.Clients(),
	})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}
