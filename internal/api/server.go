/*
Package api implements Bay's HTTP surface: Ship lifecycle, operation and
upload forwarding, and the bearer-token/CORS/logging middleware chain
wrapped around a plain net/http.ServeMux, mirroring the teacher's
mux-in-a-struct health server shape.
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cuemby/bay/internal/allocator"
	"github.com/cuemby/bay/internal/config"
	"github.com/cuemby/bay/internal/containerdriver"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 35 * time.Second // forwarder's own 30s budget plus slack
	idleTimeout  = 60 * time.Second
)

// Server is Bay's HTTP API: a mux wrapped in an explicit http.Server with
// read/write/idle timeouts, matching the teacher's HealthServer shape.
type Server struct {
	mux         *http.ServeMux
	alloc       *allocator.Allocator
	validate    *validator.Validate
	accessToken string

	defaultCPUs   float64
	defaultMemory string
	maxUploadSize int64
}

// New builds a Server wired to alloc and configured per cfg.
func New(alloc *allocator.Allocator, cfg *config.Config) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		alloc:         alloc,
		validate:      validator.New(),
		accessToken:   cfg.AccessToken,
		defaultCPUs:   cfg.DefaultShipCPUs,
		defaultMemory: cfg.DefaultShipMemory,
		maxUploadSize: cfg.MaxUploadSize,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleHealth)

	auth := authMiddleware(s.accessToken)

	s.mux.Handle("POST /ship", auth(http.HandlerFunc(s.handleCreateShip)))
	s.mux.Handle("GET /ship/{id}", auth(http.HandlerFunc(s.handleGetShip)))
	s.mux.Handle("DELETE /ship/{id}", auth(http.HandlerFunc(s.handleDeleteShip)))
	s.mux.Handle("POST /ship/{id}/exec", auth(http.HandlerFunc(s.handleExec)))
	s.mux.Handle("POST /ship/{id}/upload", auth(http.HandlerFunc(s.handleUpload)))
	s.mux.Handle("POST /ship/{id}/extend-ttl", auth(http.HandlerFunc(s.handleExtendTTL)))
	s.mux.Handle("GET /ship/logs/{id}", auth(http.HandlerFunc(s.handleLogs)))
}

// Handler returns the fully wrapped handler (CORS, logging, routing) for
// embedding in an http.Server or a test server.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(loggingMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server on addr and blocks until it exits.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Message: "bay is healthy"})
}

func (s *Server) handleCreateShip(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-SESSION-ID")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing X-SESSION-ID header"})
		return
	}

	var req CreateShipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	spec := containerdriver.ResourceSpec{CPUs: s.defaultCPUs, Memory: s.defaultMemory}
	if req.Spec != nil {
		if req.Spec.CPUs != nil {
			spec.CPUs = *req.Spec.CPUs
		}
		if req.Spec.Memory != "" {
			spec.Memory = req.Spec.Memory
		}
	}

	ship, err := s.alloc.CreateShip(r.Context(), sessionID, allocator.CreateShipRequest{
		TTLSeconds:    req.TTL,
		MaxSessionNum: req.MaxSessionNum,
		Spec:          spec,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newShipResponse(ship))
}

func (s *Server) handleGetShip(w http.ResponseWriter, r *http.Request) {
	ship, err := s.alloc.GetShip(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipResponse(ship))
}

func (s *Server) handleDeleteShip(w http.ResponseWriter, r *http.Request) {
	if err := s.alloc.DeleteShip(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-SESSION-ID")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing X-SESSION-ID header"})
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := s.alloc.ExecuteOperation(r.Context(), r.PathValue("id"), sessionID, req.Type, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ExecResponseBody{Success: resp.Success, Data: resp.Data, Error: resp.Error})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-SESSION-ID")
	filePath := r.Header.Get("X-FILE-PATH")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing X-SESSION-ID header"})
		return
	}
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing X-FILE-PATH header"})
		return
	}

	if r.ContentLength > s.maxUploadSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds max_upload_size"})
		return
	}

	if err := r.ParseMultipartForm(s.maxUploadSize + 1024); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	data, truncated, err := allocator.ReadUploadLimited(file, s.maxUploadSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read upload"})
		return
	}
	if truncated {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds max_upload_size"})
		return
	}

	resp, err := s.alloc.Upload(r.Context(), r.PathValue("id"), sessionID, data, filePath, int64(len(data)))
	if err != nil {
		writeError(w, err)
		return
	}

	if resp.Success {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if len(resp.Data) > 0 {
			_, _ = w.Write(resp.Data)
		} else {
			_, _ = w.Write([]byte(`{"success":true}`))
		}
		return
	}

	writeJSON(w, uploadStatusFor(resp.Error), UploadResponseBody{Success: false, Error: resp.Error})
}

func (s *Server) handleExtendTTL(w http.ResponseWriter, r *http.Request) {
	var req ExtendTTLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ship, err := s.alloc.ExtendTTL(r.Context(), r.PathValue("id"), req.TTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipResponse(ship))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.alloc.Logs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}
