package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/realtime"
)

// WSHandler upgrades connections and wires them into the session engine.
// Participants join by code; the host attaches to a session it created.
type WSHandler struct {
	service  *app.SessionService
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, hub *realtime.Hub) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
	Text       string `json:"text"`
}

type leaderboardPayload struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Span   int `json:"span"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorEvent(err error) domain.Event {
	return domain.Event{Type: "error", Payload: errorPayload{Kind: kindName(domain.KindOf(err)), Message: err.Error()}}
}

func kindName(kind domain.Kind) string {
	switch kind {
	case domain.KindNotFound:
		return "notFound"
	case domain.KindConflict:
		return "conflict"
	case domain.KindInvalidState:
		return "invalidState"
	case domain.KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// ServeWS serves both roles. Participants: ?code=X&userId=U&name=N[&avatar=A].
// Hosts: ?role=host&sessionId=S&userId=U where userId must match the host.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("role") == "host" {
		h.serveHost(w, r)
		return
	}
	h.serveParticipant(w, r)
}

func (h *WSHandler) serveParticipant(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("userId")
	nickname := r.URL.Query().Get("name")
	avatar := r.URL.Query().Get("avatar")
	if code == "" || userID == "" || nickname == "" {
		http.Error(w, "missing code, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, participant, err := h.service.JoinSession(r.Context(), code, userID, nickname, avatar)
	if err != nil {
		_ = conn.WriteJSON(errorEvent(err))
		return
	}

	broadcasts, cancelBroadcasts := h.hub.SubscribeSession(session.ID)
	defer cancelBroadcasts()
	unicasts, cancelUnicasts := h.hub.SubscribeParticipant(session.ID, participant.ID)
	defer cancelUnicasts()
	defer func() {
		if err := h.service.SetConnected(context.Background(), participant.ID, false); err != nil {
			log.Printf("ws disconnect flag for %s: %v", participant.ID, err)
		}
	}()

	send := make(chan domain.Event, 32)
	done := make(chan struct{})
	writerDone := pumpWriter(conn, send)
	broadcastsDone := pumpEvents(send, broadcasts, done)
	unicastsDone := pumpEvents(send, unicasts, done)

	send <- domain.Event{Type: "joined", Payload: map[string]any{"session": session, "participant": participant}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.handleParticipantCommand(r.Context(), send, session.ID, participant.ID, inbound)
	}

	close(done)
	<-broadcastsDone
	<-unicastsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handleParticipantCommand(ctx context.Context, send chan<- domain.Event, sessionID, participantID string, inbound inboundMessage) {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- errorEvent(domain.NewError(domain.KindValidation, "invalid answer payload"))
			return
		}
		// Feedback and leaderboard arrive through the participant's private
		// channel and the session topic; no direct reply needed on success.
		if _, err := h.service.SubmitAnswer(ctx, sessionID, participantID, domain.AnswerSubmission{
			QuestionID: payload.QuestionID,
			OptionID:   payload.OptionID,
			Text:       payload.Text,
		}); err != nil {
			send <- errorEvent(err)
		}
	case "leaderboard":
		var payload leaderboardPayload
		_ = json.Unmarshal(inbound.Payload, &payload)
		if payload.Limit <= 0 {
			payload.Limit = 10
		}
		board, err := h.service.GetLeaderboard(ctx, sessionID, payload.Limit, payload.Offset, participantID)
		if err != nil {
			send <- errorEvent(err)
			return
		}
		send <- domain.Event{Type: domain.EventLeaderboard, Payload: board}
	case "rankAround":
		var payload leaderboardPayload
		_ = json.Unmarshal(inbound.Payload, &payload)
		if payload.Span <= 0 {
			payload.Span = 2
		}
		board, err := h.service.GetRankAround(ctx, sessionID, participantID, payload.Span)
		if err != nil {
			send <- errorEvent(err)
			return
		}
		send <- domain.Event{Type: domain.EventLeaderboard, Payload: board}
	case "timer":
		timer, err := h.service.SessionTimer(ctx, sessionID, participantID)
		if err != nil {
			send <- errorEvent(err)
			return
		}
		send <- domain.Event{Type: "timer", Payload: timer}
	case "leave":
		if err := h.service.LeaveSession(ctx, sessionID, participantID); err != nil {
			send <- errorEvent(err)
		}
	default:
		send <- errorEvent(domain.NewError(domain.KindValidation, "unsupported message type"))
	}
}

func (h *WSHandler) serveHost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	userID := r.URL.Query().Get("userId")
	if sessionID == "" || userID == "" {
		http.Error(w, "missing sessionId or userId", http.StatusBadRequest)
		return
	}

	session, err := h.service.SessionByID(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if session.HostID != userID {
		http.Error(w, "caller is not the session host", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	broadcasts, cancelBroadcasts := h.hub.SubscribeSession(session.ID)
	defer cancelBroadcasts()

	send := make(chan domain.Event, 32)
	done := make(chan struct{})
	writerDone := pumpWriter(conn, send)
	broadcastsDone := pumpEvents(send, broadcasts, done)

	send <- domain.Event{Type: "attached", Payload: session}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.handleHostCommand(r.Context(), send, session.ID, userID, inbound)
	}

	close(done)
	<-broadcastsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handleHostCommand(ctx context.Context, send chan<- domain.Event, sessionID, userID string, inbound inboundMessage) {
	reply := func(session domain.Session, err error) {
		if err != nil {
			send <- errorEvent(err)
			return
		}
		send <- domain.Event{Type: "session", Payload: session}
	}

	switch inbound.Type {
	case "start":
		session, err := h.service.StartSession(ctx, sessionID)
		reply(session, err)
	case "pause":
		session, err := h.service.PauseSession(ctx, sessionID)
		reply(session, err)
	case "resume":
		session, err := h.service.ResumeSession(ctx, sessionID)
		reply(session, err)
	case "advance":
		session, err := h.service.AdvanceQuestion(ctx, sessionID, userID)
		reply(session, err)
	case "end":
		session, err := h.service.EndSession(ctx, sessionID)
		reply(session, err)
	case "podium":
		board, err := h.service.GetPodium(ctx, sessionID)
		if err != nil {
			send <- errorEvent(err)
			return
		}
		send <- domain.Event{Type: domain.EventPodium, Payload: board}
	default:
		send <- errorEvent(domain.NewError(domain.KindValidation, "unsupported message type"))
	}
}

// pumpWriter serializes all writes onto one goroutine; gorilla connections
// do not allow concurrent writers.
func pumpWriter(conn *websocket.Conn, send <-chan domain.Event) <-chan struct{} {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()
	return writerDone
}

// pumpEvents forwards hub events onto the writer channel until done closes.
// The returned channel closes when the pump has stopped; callers must wait on
// it before closing send, or a forward in flight could hit a closed channel.
func pumpEvents(send chan<- domain.Event, events <-chan domain.Event, done <-chan struct{}) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- ev:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return finished
}
