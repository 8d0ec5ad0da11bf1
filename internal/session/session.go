// Package session holds the established session shared between the
// connection phase and the in-room phase.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/arena/internal/transport"
)

var (
	// ErrNotInitialized is returned by Get when no session has been published.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrAlreadyPublished is returned by Publish when the slot is occupied.
	ErrAlreadyPublished = errors.New("session already published")
)

// Conn is the part of the transport the in-room phase uses.
type Conn interface {
	Register(name string, h transport.Handlers) *transport.Registration
	RemoveAllListeners()
	IsConnected() bool
	SetVariables(vars ...transport.Variable) error
	SendPublicMessage(text string) error
	SendObjectMessage(payload map[string]any) error
}

// Session is an established, authenticated handle to the game server.
type Session struct {
	// ID identifies this session in logs.
	ID uuid.UUID
	// Zone is the zone negotiated at login.
	Zone string
	// Self is the local user.
	Self transport.User
	// Conn is the transport the session was established on.
	Conn Conn
}

// New creates a Session with a fresh ID.
//
// Precondition: conn must be non-nil.
func New(zone string, self transport.User, conn Conn) *Session {
	return &Session{ID: uuid.New(), Zone: zone, Self: self, Conn: conn}
}

// IsSelf reports whether u is the local user.
func (s *Session) IsSelf(u transport.User) bool {
	return u.ID == s.Self.ID
}

// Connected reports whether the underlying transport is still connected.
func (s *Session) Connected() bool {
	return s.Conn != nil && s.Conn.IsConnected()
}

// String returns a short description for logging.
func (s *Session) String() string {
	return fmt.Sprintf("%s@%s(%s)", s.Self.Name, s.Zone, s.ID)
}

// Registry is a single-slot holder for the current Session.
// It is passed explicitly to the phases that share it. All methods are safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	current *Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish stores s as the current session.
//
// Precondition: s must be non-nil.
// Postcondition: IsInitialized reports true, or ErrAlreadyPublished is returned
// and the slot is unchanged.
func (r *Registry) Publish(s *Session) error {
	if s == nil {
		return errors.New("publishing nil session")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return fmt.Errorf("publishing %s: %w", s, ErrAlreadyPublished)
	}
	r.current = s
	return nil
}

// IsInitialized reports whether a session is published.
func (r *Registry) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current != nil
}

// Get returns the current session or ErrNotInitialized.
func (r *Registry) Get() (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, ErrNotInitialized
	}
	return r.current, nil
}

// Clear empties the slot and returns the session that was held, if any.
func (r *Registry) Clear() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.current
	r.current = nil
	return s
}
