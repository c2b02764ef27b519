package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/city"
)

// Server exposes the authoritative simulation as the REST surface the
// optimistic client reconciles against.
type Server struct {
	mgr *city.Manager
	log *log.Logger
}

func NewServer(mgr *city.Manager, logger *log.Logger) *Server {
	return &Server{mgr: mgr, log: logger}
}

// Register mounts all routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/bootstrap", s.handleBootstrap)
	mux.HandleFunc("/v1/actions/start", s.handleActionStart)
	mux.HandleFunc("/v1/actions/complete", s.handleActionComplete)
	mux.HandleFunc("/v1/actions/cancel/", s.handleActionCancel)
	mux.HandleFunc("/v1/actions/pending/", s.handleActionsPending)
	mux.HandleFunc("/v1/actions/demolish", s.handleDemolish)
	mux.HandleFunc("/v1/resources/sync", s.handleResourceSync)
	mux.HandleFunc("/v1/resources/", s.handleResources)
}

// playerID resolves the caller identity. Auth proper is out of scope; the
// header is what the dev frontend sends.
func playerID(r *http.Request) string {
	if id := r.Header.Get("X-Player-ID"); id != "" {
		return id
	}
	return "dev_player"
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req protocol.BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "invalid json"))
		return
	}
	pid := req.PlayerID
	if pid == "" {
		pid = playerID(r)
	}
	resp, err := s.mgr.Bootstrap(r.Context(), pid, "Ocean Depths")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req protocol.ActionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "invalid json"))
		return
	}
	resp, err := s.mgr.StartAction(r.Context(), playerID(r), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActionComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req protocol.ActionCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "invalid json"))
		return
	}
	resp, err := s.mgr.CompleteAction(r.Context(), playerID(r), req.ActionID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActionCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	actionID := strings.TrimPrefix(r.URL.Path, "/v1/actions/cancel/")
	if actionID == "" {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "missing action id"))
		return
	}
	resp, err := s.mgr.CancelAction(r.Context(), playerID(r), actionID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActionsPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cityID := strings.TrimPrefix(r.URL.Path, "/v1/actions/pending/")
	if cityID == "" {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "missing city id"))
		return
	}
	resp, err := s.mgr.PendingActions(r.Context(), playerID(r), cityID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDemolish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req protocol.DemolishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "invalid json"))
		return
	}
	resp, err := s.mgr.Demolish(r.Context(), playerID(r), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResourceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req protocol.ResourceSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "invalid json"))
		return
	}
	resp, err := s.mgr.SyncResources(r.Context(), playerID(r), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cityID := strings.TrimPrefix(r.URL.Path, "/v1/resources/")
	if cityID == "" || strings.Contains(cityID, "/") {
		writeError(w, http.StatusBadRequest, protocol.Errf(protocol.ErrBadRequest, "missing city id"))
		return
	}
	resp, err := s.mgr.Resources(r.Context(), playerID(r), cityID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		s.log.Printf("internal error: %v", err)
		writeError(w, status, protocol.Errf(protocol.ErrInternal, "internal error"))
		return
	}
	writeError(w, status, err)
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrNoPermission:
		return http.StatusForbidden
	case protocol.ErrInvalidState:
		return http.StatusConflict
	case protocol.ErrInternal:
		return http.StatusInternalServerError
	default:
		// Validation codes are client-correctable.
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if ce, ok := err.(*protocol.CodedError); ok {
		msg = ce.Message
	}
	writeJSON(w, status, protocol.ErrorResponse{Code: protocol.CodeOf(err), Message: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, protocol.ErrorResponse{
		Code:    protocol.ErrBadRequest,
		Message: "method not allowed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
