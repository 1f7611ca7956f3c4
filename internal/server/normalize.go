package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/grandpa-ai/grandpa/internal/history"
)

// Errors reported for malformed chat bodies. All map to a 400 response;
// none of them mutate history or reach the provider.
var (
	errMessageRequired  = errors.New("message is required")
	errMessagesRequired = errors.New("messages are required")
	errLastNotUser      = errors.New("last message must be from user")
	errInvalidBody      = errors.New("invalid request body")
)

// chatInvocation is the canonical form of an inbound chat request after
// boundary normalization. The engine never sees wire formats.
type chatInvocation struct {
	SessionID string
	Text      string
	Stream    bool
}

// wirePart is one entry of a UI-message parts array.
type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wireMessage accepts both the plain {role, content} shape and the
// UI-message {role, parts} shape.
type wireMessage struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Parts   []wirePart `json:"parts"`
}

// text coalesces the two accepted content encodings into a single string.
func (m wireMessage) text() string {
	if m.Content != "" {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "" || p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// normalizeChatRequest maps any accepted POST /chat body onto a
// chatInvocation. Accepted shapes:
//
//	{"message": "hi"}                          legacy: background prompt, ack reply
//	{"messages": [{role, content|parts}, ...]} Vercel useChat: stream reply
//	{"message": {role, parts}, "id": "..."}    UI message with session id: stream reply
//
// defaultSession is used when the body does not carry a session id.
func normalizeChatRequest(body []byte, defaultSession string) (chatInvocation, error) {
	var raw struct {
		Message  json.RawMessage `json:"message"`
		Messages []wireMessage   `json:"messages"`
		ID       string          `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return chatInvocation{}, errInvalidBody
	}

	if raw.Messages != nil {
		if len(raw.Messages) == 0 {
			return chatInvocation{}, errMessagesRequired
		}
		last := raw.Messages[len(raw.Messages)-1]
		if last.Role != string(history.RoleUser) {
			return chatInvocation{}, errLastNotUser
		}
		text := last.text()
		if strings.TrimSpace(text) == "" {
			return chatInvocation{}, errMessageRequired
		}
		return chatInvocation{SessionID: defaultSession, Text: text, Stream: true}, nil
	}

	if len(raw.Message) == 0 {
		return chatInvocation{}, errMessageRequired
	}

	// A string message is the legacy background path.
	var text string
	if err := json.Unmarshal(raw.Message, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return chatInvocation{}, errMessageRequired
		}
		return chatInvocation{SessionID: defaultSession, Text: text, Stream: false}, nil
	}

	// Otherwise it must be a UI message object.
	var msg wireMessage
	if err := json.Unmarshal(raw.Message, &msg); err != nil {
		return chatInvocation{}, errInvalidBody
	}
	text = msg.text()
	if strings.TrimSpace(text) == "" {
		return chatInvocation{}, errMessageRequired
	}
	sessionID := raw.ID
	if sessionID == "" {
		sessionID = defaultSession
	}
	return chatInvocation{SessionID: sessionID, Text: text, Stream: true}, nil
}

// uiPart and uiMessage are the richer history representation served when
// the client asks for ?format=ui.
type uiPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type uiMessage struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Parts     []uiPart `json:"parts"`
	Timestamp string   `json:"timestamp"`
}

// toUIMessages reshapes stored messages into UI messages. Stored messages
// carry no id, so each reshape mints fresh ones.
func toUIMessages(messages []history.Message) []uiMessage {
	out := make([]uiMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, uiMessage{
			ID:        fmt.Sprintf("msg-%s", uuid.NewString()),
			Role:      string(m.Role),
			Parts:     []uiPart{{Type: "text", Text: m.Content}},
			Timestamp: m.Timestamp,
		})
	}
	return out
}
