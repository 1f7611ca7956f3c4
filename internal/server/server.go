// Package server maps inbound chat requests to session prompt engines. It
// owns the HTTP surface, per-session write serialization, and the
// processing registry behind the legacy polling endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/grandpa-ai/grandpa/internal/history"
	"github.com/grandpa-ai/grandpa/internal/provider"
	"github.com/grandpa-ai/grandpa/internal/session"
)

// maxRequestBodySize caps inbound chat bodies (1MB).
const maxRequestBodySize = 1 << 20

// Server handles chat HTTP requests.
type Server struct {
	store    *history.Store
	llm      provider.Provider
	registry *Registry
	locks    *sessionLocks
}

// New creates a Server over the given history store and provider.
func New(store *history.Store, llm provider.Provider) *Server {
	return &Server{
		store:    store,
		llm:      llm,
		registry: NewRegistry(),
		locks:    newSessionLocks(),
	}
}

// RegisterRoutes registers the chat API routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/chat", s.handleChat)
	r.Get("/status/{date}", s.handleStatus)
	r.Get("/sessions", s.handleSessions)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Post("/message", s.handleMessage)
		r.Post("/message/non-stream", s.handleMessageNonStream)
		r.Get("/history", s.handleHistory)
		r.Delete("/", s.handleClear)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// engine builds a prompt engine bound to the session id.
func (s *Server) engine(sessionID string) *session.Engine {
	return session.NewEngine(sessionID, s.store, s.llm)
}

// handleChat accepts all POST /chat wire shapes. Plain string messages run
// the legacy background path and answer with an immediate ack; message
// arrays and UI messages answer with a streamed body.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := normalizeChatRequest(body, history.TodaySessionID())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if inv.Stream {
		s.streamPrompt(w, r, inv.SessionID, inv.Text)
		return
	}

	s.submit(inv.SessionID, inv.Text)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Message received",
		"date":    inv.SessionID,
	})
}

// submit starts a blocking prompt call in the background and registers its
// completion handle for the polling endpoint.
func (s *Server) submit(sessionID, text string) *Handle {
	h := s.registry.Begin(sessionID)

	// Detached from the request context: the ack has already been sent, so
	// the exchange must complete even though the caller is gone.
	go func() {
		mu := s.locks.get(sessionID)
		mu.Lock()
		defer mu.Unlock()

		_, err := s.engine(sessionID).Prompt(context.Background(), text)
		if err != nil {
			slog.Error("Background prompt failed", "session_id", sessionID, "error", err)
		}
		h.complete(err)
	}()
	return h
}

// handleStatus answers GET /status/{date} for the legacy polling client.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(s.registry.Status(date, statusPollWindow)),
	})
}

// messageBody is the body of the session message endpoints.
type messageBody struct {
	Message string `json:"message"`
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req messageBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return "", false
	}
	return req.Message, true
}

// handleMessage answers POST /session/{sessionID}/message with the raw
// response fragments, flushed as they arrive.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	text, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	s.streamPrompt(w, r, sessionID, text)
}

// streamPrompt runs one streaming prompt call and copies its fragments to
// the response. The session lock is held for the whole call, including the
// streaming span, so a second prompt against the same session cannot start
// until this one has settled.
//
// A failure before the first fragment becomes a JSON error response. A
// failure mid-stream is appended as a plain-text error trailer, since the
// status line is already on the wire.
func (s *Server) streamPrompt(w http.ResponseWriter, r *http.Request, sessionID, text string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	mu := s.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	wrote := false
	for fragment, err := range s.engine(sessionID).PromptStream(r.Context(), text) {
		if err != nil {
			if !wrote {
				status := http.StatusInternalServerError
				if errors.Is(err, session.ErrEmptyMessage) {
					status = http.StatusBadRequest
				}
				writeError(w, status, err.Error())
				return
			}
			slog.Error("Stream failed mid-response", "session_id", sessionID, "error", err)
			fmt.Fprintf(w, "\n\n[Error: %v]", err)
			flusher.Flush()
			return
		}
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			wrote = true
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			// Client went away; the engine sees the abandoned sequence and
			// persists nothing.
			slog.Warn("Client disconnected mid-stream", "session_id", sessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

// handleMessageNonStream answers POST /session/{sessionID}/message/non-stream
// with the full response in one JSON body.
func (s *Server) handleMessageNonStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	text, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	mu := s.locks.get(sessionID)
	mu.Lock()
	defer mu.Unlock()

	response, err := s.engine(sessionID).Prompt(r.Context(), text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionID": sessionID,
		"response":  response,
	})
}

// handleHistory answers GET /session/{sessionID}/history. With ?format=ui
// the messages are reshaped into UI messages with text parts.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := s.engine(sessionID).History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "ui" {
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionID": sessionID,
			"messages":  toUIMessages(messages),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": sessionID,
		"messages":  messages,
	})
}

// handleClear answers DELETE /session/{sessionID}.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.engine(sessionID).Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("Session cleared", "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Session %s cleared", sessionID),
	})
}

// handleSessions answers GET /sessions with every session id ever written,
// sorted lexicographically (chronological for date ids).
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.store.ListSessionIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}
