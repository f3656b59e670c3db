// Server exposes the Memory Facade over the HTTP surface specified in
// spec.md §6, grounded on original_source/services/memory_service/main.py's
// FastAPI endpoint shapes.
package memorystore

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/admadc/pipeline/internal/logging"
)

type Server struct {
	facade *Facade
	logger logging.Logger
	mux    *http.ServeMux
}

func NewServer(facade *Facade, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Server{facade: facade, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /events", s.handlePostEvent)
	s.mux.HandleFunc("GET /events", s.handleGetEvents)
	s.mux.HandleFunc("POST /tasks", s.handlePostTask)
	s.mux.HandleFunc("GET /tasks/{plan_id}", s.handleGetTasks)
	s.mux.HandleFunc("POST /semantic/search", s.handleSemanticSearch)
	s.mux.HandleFunc("POST /cache", s.handleCacheSet)
	s.mux.HandleFunc("GET /cache/{key}", s.handleCacheGet)
	s.mux.HandleFunc("POST /idempotency/check", s.handleIdempotencyCheck)
}

type storeEventRequest struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Producer       string          `json:"producer"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req storeEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	stored, err := s.facade.StoreEvent(r.Context(), req.EventID, req.EventType, req.Producer, req.IdempotencyKey, req.Payload, req.Timestamp)
	if err != nil {
		s.logger.Error("memory: store event failed", logging.Fields{"error": err.Error()})
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stored": stored, "event_id": req.EventID})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	rows, err := s.facade.GetEvents(r.Context(), q.Get("event_type"), q.Get("plan_id"), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": rows})
}

func (s *Server) handlePostTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task
		QAAttemptSupplied bool `json:"qa_attempt_supplied"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.UpdateTask(r.Context(), req.Task, req.QAAttemptSupplied); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("plan_id")
	tasks, err := s.facade.GetTasks(r.Context(), planID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

type semanticSearchRequest struct {
	Query      string   `json:"query"`
	PlanID     string   `json:"plan_id"`
	EventTypes []string `json:"event_types"`
	Limit      int      `json:"limit"`
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req semanticSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.facade.SemanticSearch(r.Context(), req.Query, req.PlanID, req.EventTypes, req.Limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleCacheSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key        string `json:"key"`
		Value      string `json:"value"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := s.facade.CacheSet(r.Context(), req.Key, req.Value, ttl); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok, err := s.facade.CacheGet(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errCacheKeyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (s *Server) handleIdempotencyCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key        string `json:"key"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	existed, err := s.facade.IdempotencyCheck(r.Context(), req.Key, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"existed": existed})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }

const errCacheKeyNotFound = notFoundErr("cache key not found")
