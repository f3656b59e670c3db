package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/admadc/pipeline/internal/logging"
)

// Server exposes the Gateway's HTTP/WebSocket surface, grounded on
// gateway_service/main.py's FastAPI route table.
type Server struct {
	svc         *Service
	mux         *http.ServeMux
	handler     http.Handler
	httpClient  *http.Client
	plannerBase string
	memoryBase  string
	upgrader    websocket.Upgrader
	logger      logging.Logger
}

func NewServer(svc *Service, plannerBaseURL, memoryBaseURL string, corsConfig *CORSConfig, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Server{
		svc: svc, mux: http.NewServeMux(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		plannerBase: plannerBaseURL,
		memoryBase:  memoryBaseURL,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:      logger,
	}
	s.routes()
	s.handler = CORSMiddleware(corsConfig)(s.mux)
	return s
}

var _ http.Handler = (*Server)(nil)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("POST /api/plan", s.handleCreatePlan)
	s.mux.HandleFunc("GET /api/events", s.handleGetEvents)
	s.mux.HandleFunc("GET /api/tasks/{plan_id}", s.handleGetTasks)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/approvals", s.handleListApprovals)
	s.mux.HandleFunc("POST /api/approvals/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/approvals/{id}/reject", s.handleReject)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "service": serviceName,
		"ws_connections": s.svc.ws.ConnectionCount(),
		"pending_approvals": len(s.svc.ListApprovals()),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	s.svc.ws.Connect(conn)
	defer func() {
		s.svc.ws.Disconnect(conn)
		conn.Close()
	}()

	s.sendHistory(conn)
	for _, approval := range s.svc.ListApprovals() {
		msg, _ := json.Marshal(map[string]interface{}{"type": "approval", "approval": approval})
		conn.WriteMessage(websocket.TextMessage, msg)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) sendHistory(conn *websocket.Conn) {
	resp, err := s.httpClient.Get(s.memoryBase + "/events?limit=20")
	if err != nil {
		return
	}
	defer resp.Body.Close()
	var out struct {
		Events []json.RawMessage `json:"events"`
	}
	if json.NewDecoder(resp.Body).Decode(&out) != nil {
		return
	}
	for i := len(out.Events) - 1; i >= 0; i-- {
		msg, _ := json.Marshal(map[string]interface{}{"type": "history", "event": out.Events[i]})
		conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, s.plannerBase+"/plan", http.MethodPost)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, s.memoryBase+"/events", http.MethodGet)
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("plan_id")
	s.proxy(w, r, s.memoryBase+"/tasks/"+planID, http.MethodGet)
}

func (s *Server) proxy(w http.ResponseWriter, r *http.Request, url, method string) {
	req, err := http.NewRequestWithContext(r.Context(), method, url, r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("gateway: upstream proxy failed", logging.Fields{"url": url, "error": err.Error()})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if len(body) == 0 {
		w.Write([]byte("{}"))
		return
	}
	w.Write(body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ws_connections":    s.svc.ws.ConnectionCount(),
		"pending_approvals": len(s.svc.ListApprovals()),
		"service":           serviceName,
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals := s.svc.ListApprovals()
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": approvals, "count": len(approvals)})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approval, err := s.svc.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "approved", "plan_id": approval.PlanID})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	approval, err := s.svc.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "rejected", "plan_id": approval.PlanID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
