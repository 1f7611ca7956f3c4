package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"testing"

	"github.com/grandpa-ai/grandpa/internal/history"
)

// mockProvider emits scripted fragments, optionally failing after a given
// number of them. Generate and Stream are built from the same script so the
// two modes stay equivalent, matching the real provider contract.
type mockProvider struct {
	fragments []string
	failAfter int // -1 = never fail
	calls     int
}

var errProvider = errors.New("provider unavailable")

func (m *mockProvider) Generate(_ context.Context, _ []history.Message) (string, error) {
	m.calls++
	var full strings.Builder
	for i, frag := range m.fragments {
		if m.failAfter >= 0 && i == m.failAfter {
			return "", errProvider
		}
		full.WriteString(frag)
	}
	return full.String(), nil
}

func (m *mockProvider) Stream(_ context.Context, _ []history.Message) iter.Seq2[string, error] {
	m.calls++
	return func(yield func(string, error) bool) {
		for i, frag := range m.fragments {
			if m.failAfter >= 0 && i == m.failAfter {
				yield("", errProvider)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

func newTestEngine(t *testing.T, sessionID string, llm *mockProvider) (*Engine, *history.Store) {
	t.Helper()
	store, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return NewEngine(sessionID, store, llm), store
}

func loadMessages(t *testing.T, store *history.Store, sessionID string) []history.Message {
	t.Helper()
	sess, err := store.Load(sessionID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return sess.Messages
}

func TestPromptBlockingCommitsBothTurns(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"Hello", " ", "there"}, failAfter: -1}
	engine, store := newTestEngine(t, "2024-01-01", llm)

	response, err := engine.Prompt(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	if response != "Hello there" {
		t.Errorf("Expected response %q, got %q", "Hello there", response)
	}

	msgs := loadMessages(t, store, "2024-01-01")
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != history.RoleUser || msgs[0].Content != "Hi" {
		t.Errorf("Unexpected user turn: %+v", msgs[0])
	}
	if msgs[1].Role != history.RoleAssistant || msgs[1].Content != "Hello there" {
		t.Errorf("Unexpected assistant turn: %+v", msgs[1])
	}
	if msgs[0].Timestamp > msgs[1].Timestamp {
		t.Errorf("Expected user timestamp <= assistant timestamp, got %q > %q",
			msgs[0].Timestamp, msgs[1].Timestamp)
	}
}

func TestPromptStreamForwardsAndCommits(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"Hel", "lo ", "there"}, failAfter: -1}
	engine, store := newTestEngine(t, "2024-01-02", llm)

	var streamed strings.Builder
	for fragment, err := range engine.PromptStream(context.Background(), "Hi") {
		if err != nil {
			t.Fatalf("Unexpected stream error: %v", err)
		}
		streamed.WriteString(fragment)
	}
	if streamed.String() != "Hello there" {
		t.Errorf("Expected streamed text %q, got %q", "Hello there", streamed.String())
	}

	msgs := loadMessages(t, store, "2024-01-02")
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages after stream, got %d", len(msgs))
	}
	if msgs[1].Role != history.RoleAssistant || msgs[1].Content != "Hello there" {
		t.Errorf("Expected one coherent assistant message, got %+v", msgs[1])
	}
}

func TestStreamAndBlockingCommitEquivalentHistory(t *testing.T) {
	t.Parallel()
	script := []string{"The ", "answer ", "is ", "42."}

	streamEngine, streamStore := newTestEngine(t, "s", &mockProvider{fragments: script, failAfter: -1})
	for _, err := range streamEngine.PromptStream(context.Background(), "Question?") {
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
	}

	blockEngine, blockStore := newTestEngine(t, "s", &mockProvider{fragments: script, failAfter: -1})
	if _, err := blockEngine.Prompt(context.Background(), "Question?"); err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}

	streamed := loadMessages(t, streamStore, "s")
	blocked := loadMessages(t, blockStore, "s")
	if len(streamed) != len(blocked) {
		t.Fatalf("History length mismatch: stream %d, blocking %d", len(streamed), len(blocked))
	}
	for i := range streamed {
		if streamed[i].Role != blocked[i].Role || streamed[i].Content != blocked[i].Content {
			t.Errorf("Message %d differs: stream %+v, blocking %+v", i, streamed[i], blocked[i])
		}
	}
}

func TestStreamFailureCommitsNoAssistantTurn(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"Hel", "lo", " never"}, failAfter: 2}
	engine, store := newTestEngine(t, "2024-01-03", llm)

	var terminal error
	var streamed strings.Builder
	for fragment, err := range engine.PromptStream(context.Background(), "Hi") {
		if err != nil {
			terminal = err
			break
		}
		streamed.WriteString(fragment)
	}
	if terminal == nil {
		t.Fatal("Expected terminal error from failing provider")
	}
	if streamed.String() != "Hello" {
		t.Errorf("Expected fragments before failure %q, got %q", "Hello", streamed.String())
	}

	msgs := loadMessages(t, store, "2024-01-03")
	if len(msgs) != 1 || msgs[0].Role != history.RoleUser {
		t.Fatalf("Expected only the user message after failed stream, got %+v", msgs)
	}
}

func TestBlockingFailureCommitsNoAssistantTurn(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"x"}, failAfter: 0}
	engine, store := newTestEngine(t, "2024-01-04", llm)

	if _, err := engine.Prompt(context.Background(), "Hi"); !errors.Is(err, errProvider) {
		t.Fatalf("Expected provider error, got %v", err)
	}

	msgs := loadMessages(t, store, "2024-01-04")
	if len(msgs) != 1 || msgs[0].Role != history.RoleUser {
		t.Fatalf("Expected only the user message after failure, got %+v", msgs)
	}
}

func TestAbandonedStreamCommitsNothingNew(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"a", "b", "c"}, failAfter: -1}
	engine, store := newTestEngine(t, "2024-01-05", llm)

	for _, err := range engine.PromptStream(context.Background(), "Hi") {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		break // simulate client disconnect after the first fragment
	}

	msgs := loadMessages(t, store, "2024-01-05")
	if len(msgs) != 1 || msgs[0].Role != history.RoleUser {
		t.Fatalf("Expected only the user message after abandoned stream, got %+v", msgs)
	}
}

func TestEmptyMessageRejectedWithoutSideEffects(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"x"}, failAfter: -1}
	engine, store := newTestEngine(t, "2024-01-06", llm)

	if _, err := engine.Prompt(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Expected ErrEmptyMessage, got %v", err)
	}

	var terminal error
	for _, err := range engine.PromptStream(context.Background(), "") {
		terminal = err
	}
	if !errors.Is(terminal, ErrEmptyMessage) {
		t.Fatalf("Expected ErrEmptyMessage from stream, got %v", terminal)
	}

	if llm.calls != 0 {
		t.Errorf("Expected no provider calls, got %d", llm.calls)
	}
	if msgs := loadMessages(t, store, "2024-01-06"); len(msgs) != 0 {
		t.Errorf("Expected no history mutation, got %+v", msgs)
	}
}

func TestSerialPromptsAlternateRoles(t *testing.T) {
	t.Parallel()
	const n = 5
	llm := &mockProvider{fragments: []string{"reply"}, failAfter: -1}
	engine, store := newTestEngine(t, "2024-01-07", llm)

	for i := 0; i < n; i++ {
		if _, err := engine.Prompt(context.Background(), fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("Prompt %d failed: %v", i, err)
		}
	}

	msgs := loadMessages(t, store, "2024-01-07")
	if len(msgs) != 2*n {
		t.Fatalf("Expected %d messages, got %d", 2*n, len(msgs))
	}
	for i, msg := range msgs {
		want := history.RoleUser
		if i%2 == 1 {
			want = history.RoleAssistant
		}
		if msg.Role != want {
			t.Errorf("Message %d: expected role %q, got %q", i, want, msg.Role)
		}
	}
	for i := 0; i < n; i++ {
		if want := fmt.Sprintf("message %d", i); msgs[2*i].Content != want {
			t.Errorf("Expected user turn %d to be %q, got %q", i, want, msgs[2*i].Content)
		}
	}
}

// failingStore rejects every append so the persistence-failure path can be
// exercised without touching the filesystem.
type failingStore struct{}

var errDiskFull = errors.New("disk full")

func (failingStore) Load(sessionID string) (history.Session, error) {
	return history.Session{Date: sessionID, Messages: []history.Message{}}, nil
}
func (failingStore) Append(history.Message, string) error { return errDiskFull }
func (failingStore) Clear(string) error                   { return nil }

func TestUserPersistFailureSkipsProvider(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"x"}, failAfter: -1}
	engine := NewEngine("2024-01-08", failingStore{}, llm)

	if _, err := engine.Prompt(context.Background(), "Hi"); !errors.Is(err, errDiskFull) {
		t.Fatalf("Expected disk full error, got %v", err)
	}
	if llm.calls != 0 {
		t.Errorf("Expected no provider call after persistence failure, got %d", llm.calls)
	}
}

func TestHistoryAndClearPassThrough(t *testing.T) {
	t.Parallel()
	llm := &mockProvider{fragments: []string{"pong"}, failAfter: -1}
	engine, _ := newTestEngine(t, "2024-01-09", llm)

	if _, err := engine.Prompt(context.Background(), "ping"); err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	msgs, err := engine.History()
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	if err := engine.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	msgs, err = engine.History()
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if !reflect.DeepEqual(msgs, []history.Message{}) {
		t.Errorf("Expected empty history after clear, got %+v", msgs)
	}
}
