// Package server exposes model inspection over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/docker/model-mem/pkg/hub"
	"github.com/docker/model-mem/pkg/inspector"
	"github.com/docker/model-mem/pkg/layout"
	"github.com/docker/model-mem/pkg/logging"
	"github.com/docker/model-mem/pkg/metrics"
	"github.com/docker/model-mem/pkg/safetensors"
)

const (
	// maximumConcurrentInspections is the maximum number of inspections a
	// server runs at once. Further requests wait for a slot.
	maximumConcurrentInspections = 4
)

// Inspector computes the report of a model revision.
type Inspector interface {
	Inspect(ctx context.Context, modelID, revision string) (*inspector.Report, error)
}

// Server serves model statistics.
type Server struct {
	// log is the associated logger.
	log logging.Logger
	// inspector computes the reports.
	inspector Inspector
	// recorder keeps the recent inspections of each model.
	recorder *metrics.Recorder
	// tokens is a semaphore bounding concurrent inspections.
	tokens chan struct{}
	// router is the HTTP request router.
	router *http.ServeMux
}

// New creates a new Server.
func New(log logging.Logger, insp Inspector) *Server {
	s := &Server{
		log:       log,
		inspector: insp,
		recorder:  metrics.NewRecorder(log),
		tokens:    make(chan struct{}, maximumConcurrentInspections),
		router:    http.NewServeMux(),
	}

	s.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.HandleFunc("GET /models/{owner}/{name}/stats", s.handleGetStats)
	s.router.HandleFunc("GET /models/{name}/stats", s.handleGetStats)
	s.router.HandleFunc("GET /inspections", s.recorder.GetRecordsByModelHandler())
	s.router.HandleFunc("DELETE /inspections", s.recorder.RemoveModelHandler())
	s.router.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	for i := 0; i < maximumConcurrentInspections; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// GetRoutes returns the patterns the server handles.
func (s *Server) GetRoutes() []string {
	return []string{"/models/", "/inspections", "/healthz"}
}

// handleGetStats handles GET /models/{owner}/{name}/stats?revision= requests.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("name")
	if owner := r.PathValue("owner"); owner != "" {
		modelID = owner + "/" + modelID
	}
	revision := r.URL.Query().Get("revision")

	select {
	case <-s.tokens:
		defer func() { s.tokens <- struct{}{} }()
	case <-r.Context().Done():
		return
	}

	start := time.Now()
	report, err := s.inspector.Inspect(r.Context(), modelID, revision)
	rec := metrics.Inspection{Model: modelID, Revision: revision, Duration: time.Since(start)}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Warnf("Inspecting %s failed: %v", logging.SanitizeForLog(modelID), err)
		}
		rec.StatusCode, rec.Error = status, err.Error()
		s.recorder.Record(rec)
		writeError(w, status, err.Error())
		return
	}
	rec.StatusCode = http.StatusOK
	rec.Revision = report.Revision
	rec.Layout = string(report.Layout)
	rec.ParamCount, rec.BytesCount = report.ParamCount, report.BytesCount
	s.recorder.Record(rec)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.log.Warnln("Error while encoding stats response:", err)
	}
}

// ServeHTTP implement net/http.Handler.ServeHTTP.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, inspector.ErrInvalidModelID):
		return http.StatusBadRequest
	case errors.Is(err, hub.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, hub.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, layout.ErrLayoutNotFound), errors.Is(err, safetensors.ErrUnknownDtype):
		return http.StatusUnprocessableEntity
	case errors.Is(err, hub.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
