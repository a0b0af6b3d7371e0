// Package session tracks conversations and gives each one its own ledger.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/cashflow-assistant/internal/ledger"
)

// ErrNotFound is returned for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// Message is one turn of a conversation.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Capability string    `json:"capability,omitempty"`
	At         time.Time `json:"at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// View is a read-only snapshot of a session handed to capabilities.
type View struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	History   []Message `json:"history"`
	CreatedAt time.Time `json:"created_at"`
}

type session struct {
	id        string
	userID    string
	history   []Message
	createdAt time.Time
	ledger    ledger.Store

	// slot admits one handler at a time
	slot chan struct{}

	// mu guards history so readers never wait on slot
	mu sync.RWMutex
}

func (s *session) view() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		ID:        s.id,
		UserID:    s.userID,
		History:   append([]Message(nil), s.history...),
		CreatedAt: s.createdAt,
	}
}

// Registry owns all live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	backend  ledger.Backend
	now      func() time.Time
	// maxHistory caps stored turns per session; zero keeps everything.
	maxHistory int
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxHistory caps how many messages a session keeps.
func WithMaxHistory(n int) Option {
	return func(r *Registry) {
		r.maxHistory = n
	}
}

// NewRegistry creates a registry whose sessions store modifications in backend.
func NewRegistry(backend ledger.Backend, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*session),
		backend:  backend,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is exclusive access to one session until Release is called.
type Handle struct {
	reg     *Registry
	s       *session
	release sync.Once
}

// Acquire returns exclusive access to the session, creating it on first use.
// It blocks while another request holds the session and gives up when ctx ends.
func (r *Registry) Acquire(ctx context.Context, sessionID, userID string) (*Handle, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("Acquire: empty session id")
	}
	s := r.getOrCreate(sessionID, userID)

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("Acquire: %s: %w", sessionID, ctx.Err())
	}
	return &Handle{reg: r, s: s}, nil
}

func (r *Registry) getOrCreate(sessionID, userID string) *session {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s
	}
	s = &session{
		id:        sessionID,
		userID:    userID,
		createdAt: r.now().UTC(),
		ledger:    r.backend.Open(sessionID),
		slot:      make(chan struct{}, 1),
	}
	r.sessions[sessionID] = s
	return s
}

// Get returns a snapshot of a session. It does not wait for a handler that
// holds the session.
func (r *Registry) Get(sessionID string) (View, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// Ledger returns the ledger of a session, opening it if the session is not
// live in this process.
func (r *Registry) Ledger(sessionID string) ledger.Store {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return s.ledger
	}
	return r.backend.Open(sessionID)
}

// Delete destroys a session and clears its ledger.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	h, err := r.Acquire(ctx, sessionID, "")
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	defer h.Release()

	if err := h.s.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("Delete: clear ledger: %w", err)
	}
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

// IDs lists live sessions in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// View returns a snapshot of the held session.
func (h *Handle) View() View { return h.s.view() }

// Ledger returns the held session's ledger.
func (h *Handle) Ledger() ledger.Store { return h.s.ledger }

// Append records turns in the session history.
func (h *Handle) Append(msgs ...Message) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for _, m := range msgs {
		if m.At.IsZero() {
			m.At = h.reg.now().UTC()
		}
		h.s.history = append(h.s.history, m)
	}
	if max := h.reg.maxHistory; max > 0 && len(h.s.history) > max {
		h.s.history = append([]Message(nil), h.s.history[len(h.s.history)-max:]...)
	}
}

// Release gives the session back. Calling it more than once is safe.
func (h *Handle) Release() {
	h.release.Do(func() { <-h.s.slot })
}
