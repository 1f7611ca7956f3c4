package server

import (
	"errors"
	"testing"

	"github.com/grandpa-ai/grandpa/internal/history"
)

func TestNormalizeChatRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    chatInvocation
		wantErr error
	}{
		{
			name: "legacy string message",
			body: `{"message": "hi"}`,
			want: chatInvocation{SessionID: "today", Text: "hi", Stream: false},
		},
		{
			name: "vercel messages array uses last user message",
			body: `{"messages": [{"role":"user","content":"first"},{"role":"assistant","content":"reply"},{"role":"user","content":"second"}]}`,
			want: chatInvocation{SessionID: "today", Text: "second", Stream: true},
		},
		{
			name: "messages array with parts",
			body: `{"messages": [{"role":"user","parts":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}]}`,
			want: chatInvocation{SessionID: "today", Text: "hello world", Stream: true},
		},
		{
			name: "ui message with session id",
			body: `{"message": {"role":"user","parts":[{"type":"text","text":"hi"}]}, "id": "2024-06-01"}`,
			want: chatInvocation{SessionID: "2024-06-01", Text: "hi", Stream: true},
		},
		{
			name: "ui message without id falls back to default session",
			body: `{"message": {"role":"user","content":"hi"}}`,
			want: chatInvocation{SessionID: "today", Text: "hi", Stream: true},
		},
		{
			name:    "missing message",
			body:    `{}`,
			wantErr: errMessageRequired,
		},
		{
			name:    "empty string message",
			body:    `{"message": "   "}`,
			wantErr: errMessageRequired,
		},
		{
			name:    "empty messages array",
			body:    `{"messages": []}`,
			wantErr: errMessagesRequired,
		},
		{
			name:    "last message not from user",
			body:    `{"messages": [{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`,
			wantErr: errLastNotUser,
		},
		{
			name:    "not json",
			body:    `{message}`,
			wantErr: errInvalidBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizeChatRequest([]byte(tt.body), "today")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestToUIMessages(t *testing.T) {
	t.Parallel()

	msgs := []history.Message{
		{Role: history.RoleUser, Content: "Hi", Timestamp: "2024-01-01T00:00:00Z"},
		{Role: history.RoleAssistant, Content: "Hello there", Timestamp: "2024-01-01T00:00:05Z"},
	}

	ui := toUIMessages(msgs)
	if len(ui) != 2 {
		t.Fatalf("Expected 2 UI messages, got %d", len(ui))
	}
	seen := map[string]bool{}
	for i, m := range ui {
		if m.ID == "" || seen[m.ID] {
			t.Errorf("Expected unique non-empty id, got %q", m.ID)
		}
		seen[m.ID] = true
		if m.Role != string(msgs[i].Role) {
			t.Errorf("Message %d: expected role %q, got %q", i, msgs[i].Role, m.Role)
		}
		if len(m.Parts) != 1 || m.Parts[0].Type != "text" || m.Parts[0].Text != msgs[i].Content {
			t.Errorf("Message %d: unexpected parts %+v", i, m.Parts)
		}
		if m.Timestamp != msgs[i].Timestamp {
			t.Errorf("Message %d: expected timestamp %q, got %q", i, msgs[i].Timestamp, m.Timestamp)
		}
	}
}
