// Package session implements the prompt pipeline for one conversation:
// persist the user turn, load history, invoke the provider, and commit the
// assistant turn exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/grandpa-ai/grandpa/internal/history"
	"github.com/grandpa-ai/grandpa/internal/provider"
)

// ErrEmptyMessage is returned when a prompt call carries no text. Nothing
// is persisted and no provider call is made.
var ErrEmptyMessage = errors.New("message is required")

// Store is the slice of the history store the engine needs.
type Store interface {
	Load(sessionID string) (history.Session, error)
	Append(msg history.Message, sessionID string) error
	Clear(sessionID string) error
}

// Engine runs prompt calls against a single session's log.
//
// The user turn is persisted before any network call, so a crash while the
// provider is running never loses the user's input. The assistant turn is
// persisted only once the full response is known, so partial completions
// are never recorded as if complete. Callers must not run two prompt calls
// against the same session id concurrently; the server serializes them.
type Engine struct {
	sessionID string
	store     Store
	llm       provider.Provider
}

// NewEngine creates an engine bound to one session id.
func NewEngine(sessionID string, store Store, llm provider.Provider) *Engine {
	return &Engine{sessionID: sessionID, store: store, llm: llm}
}

// SessionID returns the session this engine operates on.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// begin persists the user turn and returns the history snapshot that
// includes it. Shared by the blocking and streaming paths.
func (e *Engine) begin(text string) ([]history.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if err := e.store.Append(history.NewMessage(history.RoleUser, text), e.sessionID); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	sess, err := e.store.Load(e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return sess.Messages, nil
}

// Prompt runs one blocking prompt call: append user turn, load history,
// generate, append assistant turn, return the full response. On provider
// failure no assistant message is committed.
func (e *Engine) Prompt(ctx context.Context, text string) (string, error) {
	messages, err := e.begin(text)
	if err != nil {
		return "", err
	}

	response, err := e.llm.Generate(ctx, messages)
	if err != nil {
		return "", err
	}

	if err := e.store.Append(history.NewMessage(history.RoleAssistant, response), e.sessionID); err != nil {
		return "", fmt.Errorf("persist assistant message: %w", err)
	}
	slog.Debug("Assistant response saved", "session_id", e.sessionID, "mode", "blocking")
	return response, nil
}

// PromptStream runs one streaming prompt call. The returned sequence
// forwards each provider fragment to the consumer as it arrives while
// accumulating the full response. When the provider stream ends normally,
// exactly one assistant message holding the accumulated buffer is
// committed, then the sequence ends. A provider failure is surfaced as a
// terminal error and commits nothing. If the consumer abandons the
// sequence early (e.g. the HTTP client disconnected), the provider call is
// cancelled and nothing is committed.
func (e *Engine) PromptStream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		messages, err := e.begin(text)
		if err != nil {
			yield("", err)
			return
		}

		var full strings.Builder
		for fragment, err := range e.llm.Stream(ctx, messages) {
			if err != nil {
				slog.Error("Provider stream failed", "session_id", e.sessionID, "buffered", full.Len(), "error", err)
				yield("", err)
				return
			}
			full.WriteString(fragment)
			if !yield(fragment, nil) {
				slog.Warn("Stream consumer gone before completion, response not saved",
					"session_id", e.sessionID, "buffered", full.Len())
				return
			}
		}

		if err := e.store.Append(history.NewMessage(history.RoleAssistant, full.String()), e.sessionID); err != nil {
			yield("", fmt.Errorf("persist assistant message: %w", err))
			return
		}
		slog.Debug("Assistant response saved", "session_id", e.sessionID, "mode", "stream", "length", full.Len())
	}
}

// History returns the ordered message list for this session.
func (e *Engine) History() ([]history.Message, error) {
	sess, err := e.store.Load(e.sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Clear empties this session's history.
func (e *Engine) Clear() error {
	return e.store.Clear(e.sessionID)
}
