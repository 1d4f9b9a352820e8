package warp

import (
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/polygate/polygate/common/config"
)

// Session message kinds.
const (
	SessionMessageUserQuery     = "user_query"
	SessionMessageAssistantText = "assistant_text"
	SessionMessageToolCall      = "tool_call"
	SessionMessageToolResult    = "tool_result"
	SessionMessageReasoning     = "reasoning"
)

// SessionMessage is one recorded conversation entry.
type SessionMessage struct {
	ID        string
	Kind      string
	Text      string
	CallID    string
	ToolName  string
	Timestamp time.Time
}

// Session tracks one Warp multi-turn conversation. Tool names are remembered
// per call id so later tool results can pick the matching result branch.
type Session struct {
	mu sync.Mutex

	ID         string
	CascadeID  string
	TurnID     string
	WorkingDir string
	HomeDir    string
	Shell      string
	Model      string
	Messages   []SessionMessage
	toolNames  map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RotateTurn assigns a fresh turn id; called on every new user query.
func (s *Session) RotateTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TurnID = uuid.NewString()
	s.UpdatedAt = time.Now()
}

// RememberToolCall records a tool call and its canonical name.
func (s *Session) RememberToolCall(callID, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolNames[callID] = toolName
	s.Messages = append(s.Messages, SessionMessage{
		ID:        uuid.NewString(),
		Kind:      SessionMessageToolCall,
		CallID:    callID,
		ToolName:  toolName,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// ToolNameFor returns the canonical tool name of a prior tool call, or false
// when the call id was never seen in this session.
func (s *Session) ToolNameFor(callID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.toolNames[callID]
	return name, ok
}

// Append records a plain conversation entry.
func (s *Session) Append(kind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, SessionMessage{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// SessionStore holds live sessions with a TTL; expired entries are swept
// opportunistically by the cache.
type SessionStore struct {
	cache *gocache.Cache
}

// NewSessionStore builds a store with the configured session TTL.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		cache: gocache.New(config.SessionTTL, config.SessionTTL/2),
	}
}

// GetOrCreate returns the session for id, creating it when absent or
// expired. A fresh session gets a new cascade and turn id.
func (st *SessionStore) GetOrCreate(id string) *Session {
	if cached, ok := st.cache.Get(id); ok {
		session := cached.(*Session)
		st.cache.SetDefault(id, session)
		return session
	}
	now := time.Now()
	session := &Session{
		ID:         id,
		CascadeID:  uuid.NewString(),
		TurnID:     uuid.NewString(),
		WorkingDir: "/tmp",
		toolNames:  map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	st.cache.SetDefault(id, session)
	return session
}

// Get returns the session for id if it is still live.
func (st *SessionStore) Get(id string) (*Session, bool) {
	cached, ok := st.cache.Get(id)
	if !ok {
		return nil, false
	}
	return cached.(*Session), true
}

// Delete drops a session.
func (st *SessionStore) Delete(id string) {
	st.cache.Delete(id)
}

// Count returns the number of live sessions.
func (st *SessionStore) Count() int {
	return st.cache.ItemCount()
}

// Sessions is the process-wide store shared by all Warp requests.
var Sessions = NewSessionStore()
