// Package provider wraps remote LLM completion APIs behind a small
// stream/generate capability. Everything model-specific lives behind
// langchaingo's llms.Model, so the rest of the system never sees a vendor
// SDK.
package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/grandpa-ai/grandpa/internal/history"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrNoChoices is returned when the provider answers without any completion.
var ErrNoChoices = errors.New("provider returned no choices")

// errConsumerStopped aborts the underlying streaming call when the consumer
// of a Stream sequence stops early. It never escapes this package.
var errConsumerStopped = errors.New("stream consumer stopped")

// Provider exposes a remote completion API as two operations over the
// canonical message history.
//
// Stream yields fragments in emission order; the concatenation of all
// fragments is best-effort equal to what Generate would have returned for
// the same input. A provider failure is yielded as a terminal (fragment,
// error) pair; normal completion is plain end of the sequence.
type Provider interface {
	Generate(ctx context.Context, messages []history.Message) (string, error)
	Stream(ctx context.Context, messages []history.Message) iter.Seq2[string, error]
}

// Settings carries the tunables handed through to the model. They are
// opaque pass-through configuration; this package does not validate them.
type Settings struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// LLM is a Provider backed by a langchaingo model.
type LLM struct {
	model    llms.Model
	settings Settings
}

// New initializes the configured model backend.
func New(ctx context.Context, settings Settings) (*LLM, error) {
	apiKey := resolveAPIKey(settings.APIKey)

	var model llms.Model
	var err error
	switch settings.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(settings.Model),
		}
		if settings.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(settings.BaseURL))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(apiKey),
			anthropic.WithModel(settings.Model),
		}
		if settings.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(settings.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case "google":
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(settings.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", settings.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", settings.Provider, err)
	}

	return NewWithModel(model, settings), nil
}

// NewWithModel wraps an existing model. Used by tests and callers that
// construct the backend themselves.
func NewWithModel(model llms.Model, settings Settings) *LLM {
	return &LLM{model: model, settings: settings}
}

// resolveAPIKey dereferences "env:VAR" values to the named environment
// variable; anything else is taken as the literal key.
func resolveAPIKey(key string) string {
	if strings.HasPrefix(key, "env:") {
		return os.Getenv(strings.TrimPrefix(key, "env:"))
	}
	return key
}

// Generate produces the full completion for the given history in one
// blocking call.
func (l *LLM) Generate(ctx context.Context, messages []history.Message) (string, error) {
	resp, err := l.model.GenerateContent(ctx, toContent(messages), l.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}

// Stream produces the completion as a lazy sequence of fragments. If the
// consumer stops early the underlying call is cancelled.
func (l *LLM) Stream(ctx context.Context, messages []history.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		_, err := l.model.GenerateContent(ctx, toContent(messages), append(l.callOptions(),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !yield(string(chunk), nil) {
					return errConsumerStopped
				}
				return nil
			}),
		)...)
		if err != nil && !errors.Is(err, errConsumerStopped) {
			yield("", fmt.Errorf("stream: %w", err))
		}
	}
}

func (l *LLM) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if l.settings.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(l.settings.Temperature))
	}
	if l.settings.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.settings.MaxTokens))
	}
	return opts
}

// toContent maps canonical messages onto langchaingo content parts.
func toContent(messages []history.Message) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		var role llms.ChatMessageType
		switch msg.Role {
		case history.RoleUser:
			role = llms.ChatMessageTypeHuman
		case history.RoleAssistant:
			role = llms.ChatMessageTypeAI
		case history.RoleSystem:
			role = llms.ChatMessageTypeSystem
		default:
			role = llms.ChatMessageTypeGeneric
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}
	return content
}
