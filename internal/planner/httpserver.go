package planner

import (
	"encoding/json"
	"net/http"

	"github.com/admadc/pipeline/internal/logging"
)

// Server exposes Planner's HTTP surface: POST /plan, the synchronous entry
// point the Gateway proxies to, grounded on meta_planner/main.py's FastAPI
// "/plan" route.
type Server struct {
	svc    *Service
	mux    *http.ServeMux
	logger logging.Logger
}

func NewServer(svc *Service, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Server{svc: svc, mux: http.NewServeMux(), logger: logger}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /plan", s.handlePlan)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "planner"})
}

type planRequest struct {
	UserPrompt  string `json:"user_prompt"`
	ProjectName string `json:"project_name"`
	RepoURL     string `json:"repo_url"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.UserPrompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_prompt is required"})
		return
	}

	resp, err := s.svc.ExecutePlan(r.Context(), req.UserPrompt, req.ProjectName, req.RepoURL)
	if err != nil {
		s.logger.Error("planner: execute plan failed", logging.Fields{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
