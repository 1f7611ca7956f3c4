package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store persists sessions as one JSON file per session id.
//
// Reads of a missing or unparsable file return an empty session rather than
// an error. This is a deliberate lenient-read policy inherited from the
// original design: a corrupt log must never take the assistant down, but it
// also means corruption is silently superseded by the next append. Corrupt
// reads are logged so the condition is at least observable.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// sessionPath maps a session id to its backing file. The id is reduced to
// its base name so callers cannot escape the history directory.
func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, filepath.Base(sessionID)+".json")
}

// Load returns the persisted session, or an empty session if none exists
// or the file cannot be parsed.
func (s *Store) Load(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(sessionID)
}

func (s *Store) load(sessionID string) (Session, error) {
	empty := Session{Date: sessionID, Messages: []Message{}}

	data, err := os.ReadFile(s.sessionPath(sessionID))
	if os.IsNotExist(err) {
		return empty, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Warn("Session file unparsable, treating as empty", "session_id", sessionID, "error", err)
		return empty, nil
	}
	if sess.Messages == nil {
		sess.Messages = []Message{}
	}
	return sess, nil
}

// persist writes the session atomically: the JSON is written to a temp file
// in the same directory and renamed over the target, so a concurrent Load
// never observes a partial write.
func (s *Store) persist(sess Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.Date, err)
	}

	path := s.sessionPath(sess.Date)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("persist session %s: %w", sess.Date, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist session %s: %w", sess.Date, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist session %s: %w", sess.Date, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist session %s: %w", sess.Date, err)
	}
	return nil
}

// Append loads the current session, pushes msg to the end and persists the
// whole session. The write is all-or-nothing from the perspective of a
// subsequent Load.
func (s *Store) Append(msg Message, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(sessionID)
	if err != nil {
		return err
	}
	sess.Date = sessionID
	sess.Messages = append(sess.Messages, msg)
	return s.persist(sess)
}

// Clear overwrites the session with an empty message list. The session file
// remains and still shows up in ListSessionIDs.
func (s *Store) Clear(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(Session{Date: sessionID, Messages: []Message{}})
}

// ListSessionIDs enumerates every session ever written, sorted
// lexicographically. For date-based ids this is chronological order.
func (s *Store) ListSessionIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
