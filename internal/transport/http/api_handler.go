package http

import (
	"encoding/json"
	"log"
	"net/http"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// APIHandler exposes the host-side REST surface (session creation); gameplay
// runs over the websocket.
type APIHandler struct {
	service *app.SessionService
}

func NewAPIHandler(service *app.SessionService) *APIHandler {
	return &APIHandler{service: service}
}

type createSessionRequest struct {
	QuizID   string                 `json:"quizId"`
	HostID   string                 `json:"hostId"`
	Mode     domain.SessionMode     `json:"mode"`
	Settings domain.SessionSettings `json:"settings"`
}

// CreateSession handles POST /sessions. The caller identity is assumed
// pre-authenticated upstream.
func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.KindValidation, "invalid request body"))
		return
	}
	if req.QuizID == "" || req.HostID == "" {
		writeError(w, domain.NewError(domain.KindValidation, "quizId and hostId are required"))
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeSync
	}

	session, err := h.service.CreateSession(r.Context(), req.QuizID, req.HostID, req.Mode, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("response encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindInvalidState:
		status = http.StatusUnprocessableEntity
	case domain.KindValidation:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorPayload{Kind: kindName(domain.KindOf(err)), Message: err.Error()})
}
