package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trpg-tools/lorekeeper/internal/chat"
	"github.com/trpg-tools/lorekeeper/internal/history"
	"github.com/trpg-tools/lorekeeper/internal/protocol"
)

type chatSessionRequest struct {
	KeepHistory       bool    `json:"keep_history"`
	ReloadIfEmpty     bool    `json:"reload_if_empty"`
	SystemInstruction *string `json:"system_instruction,omitempty"`
}

func (s *Server) handleChatSession(w http.ResponseWriter, r *http.Request) {
	var req chatSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.chatMu.Lock()
	active := s.manager.StartSession(r.Context(), chat.StartOptions{
		KeepHistory:       req.KeepHistory,
		ReloadIfEmpty:     req.ReloadIfEmpty,
		SystemInstruction: req.SystemInstruction,
	})
	length := len(s.manager.History())
	s.chatMu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{
		"session_active": active,
		"history_length": length,
	})
}

type subpromptRef struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

type itemRef struct {
	Category string `json:"category"`
	ID       string `json:"id"`
}

type sendRequest struct {
	Text             string         `json:"text"`
	TransientContext string         `json:"transient_context,omitempty"`
	Subprompts       []subpromptRef `json:"subprompts,omitempty"`
	Items            []itemRef      `json:"items,omitempty"`
}

type sendResponse struct {
	Reply         string `json:"reply"`
	HistoryLength int    `json:"history_length"`
	LatencyMs     int64  `json:"latency_ms"`
}

// handleChatSend composes the per-turn transient context from explicit
// context text, selected subprompts, selected items, and tag-matched items,
// then runs one exchange.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.chatMu.Lock()
	defer s.chatMu.Unlock()

	transient, err := s.buildTransientContext(s.manager.Config().ProjectID, req.TransientContext, req.Subprompts, req.Items)
	if err != nil {
		respondError(w, http.StatusBadRequest, "context_build_failed", err.Error())
		return
	}

	started := time.Now()
	reply, err := s.manager.SendMessage(r.Context(), transient, req.Text)
	if err != nil {
		respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sendResponse{
		Reply:         reply,
		HistoryLength: len(s.manager.History()),
		LatencyMs:     time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	s.chatMu.Lock()
	s.manager.ClearHistory(r.Context())
	s.chatMu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

type chatSettingsRequest struct {
	Model             *string `json:"model,omitempty"`
	SystemInstruction *string `json:"system_instruction,omitempty"`
	ProjectID         *string `json:"project_id,omitempty"`
}

func (s *Server) handleChatSettings(w http.ResponseWriter, r *http.Request) {
	var req chatSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.chatMu.Lock()
	err := s.manager.UpdateSettings(r.Context(), req.Model, req.SystemInstruction, req.ProjectID)
	cfg := s.manager.Config()
	active := s.manager.SessionActive()
	s.chatMu.Unlock()

	if err != nil {
		respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"model":          cfg.Model,
		"project_id":     cfg.ProjectID,
		"session_active": active,
	})
}

type historyTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, _ *http.Request) {
	s.chatMu.Lock()
	turns := s.manager.History()
	s.chatMu.Unlock()

	out := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, historyTurn{Role: string(t.Role), Text: t.Text})
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": out})
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.chatMu.Lock()
	text, err := s.manager.GenerateSingle(r.Context(), req.Model, req.Prompt)
	s.chatMu.Unlock()
	if err != nil {
		respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"text": text})
}

// handleChatWS serves the interactive chat feed: client_send runs one
// exchange and yields user_turn + model_turn (or error_event);
// client_control clears or restarts the session.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	writeJSON := func(msgType protocol.MessageType, v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			return false
		}
		s.metrics.WSMessages.WithLabelValues("outbound", string(msgType)).Inc()
		return true
	}

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !writeJSON(protocol.TypeErrorEvent, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}) {
				return
			}
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientSend:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientSend)).Inc()
			if !s.handleWSSend(r, msg, writeJSON) {
				return
			}
		case protocol.ClientControl:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientControl)).Inc()
			if !s.handleWSControl(r, msg, writeJSON) {
				return
			}
		}
	}
}

func (s *Server) handleWSSend(r *http.Request, msg protocol.ClientSend, writeJSON func(protocol.MessageType, any) bool) bool {
	started := time.Now()

	s.chatMu.Lock()
	reply, err := s.manager.SendMessage(r.Context(), msg.TransientContext, msg.Text)
	var recorded []history.Turn
	if err == nil {
		recorded = s.manager.History()
	}
	s.chatMu.Unlock()

	if err != nil {
		return writeJSON(protocol.TypeErrorEvent, protocol.ErrorEvent{
			Type:    protocol.TypeErrorEvent,
			TurnID:  msg.TurnID,
			Code:    string(chat.ErrorKind(err)),
			Blocked: chat.IsBlocked(err),
			Detail:  err.Error(),
		})
	}

	userText := msg.Text
	if len(recorded) >= 2 {
		userText = recorded[len(recorded)-2].Text
	}
	if !writeJSON(protocol.TypeUserTurn, protocol.UserTurn{
		Type:   protocol.TypeUserTurn,
		TurnID: msg.TurnID,
		Text:   userText,
	}) {
		return false
	}
	return writeJSON(protocol.TypeModelTurn, protocol.ModelTurn{
		Type:      protocol.TypeModelTurn,
		TurnID:    msg.TurnID,
		Text:      reply,
		LatencyMs: time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleWSControl(r *http.Request, msg protocol.ClientControl, writeJSON func(protocol.MessageType, any) bool) bool {
	switch msg.Action {
	case "clear":
		s.chatMu.Lock()
		s.manager.ClearHistory(r.Context())
		s.chatMu.Unlock()
		return writeJSON(protocol.TypeSystemEvent, protocol.SystemEvent{
			Type: protocol.TypeSystemEvent,
			Code: "history_cleared",
		})
	case "restart":
		keep := true
		if msg.KeepHistory != nil {
			keep = *msg.KeepHistory
		}
		reload := true
		if msg.ReloadIfEmpty != nil {
			reload = *msg.ReloadIfEmpty
		}

		s.chatMu.Lock()
		active := s.manager.StartSession(r.Context(), chat.StartOptions{KeepHistory: keep, ReloadIfEmpty: reload})
		s.chatMu.Unlock()

		code := "session_restarted"
		if !active {
			code = "session_unavailable"
		}
		return writeJSON(protocol.TypeSystemEvent, protocol.SystemEvent{
			Type: protocol.TypeSystemEvent,
			Code: code,
		})
	}
	return true
}
