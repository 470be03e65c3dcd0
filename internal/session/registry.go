package session

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/protocol"
)

// Handle is the registry's view of one live connection.
type Handle interface {
	// Send queues one envelope for delivery. It must be safe to call from
	// any goroutine.
	Send(env *protocol.Envelope) error
	// Close releases the underlying connection.
	Close() error
	// ID identifies the physical connection in logs.
	ID() string
}

// Session binds an authenticated user to the connection that logged in.
type Session struct {
	UserID          int64
	Handle          Handle
	AuthenticatedAt time.Time
}

// Registry maps user ids to their live session. Presence is exactly
// membership in this map.
// ARCHITECTURAL DISCOVERY: The lock guards only the map. Sends, closes and
// logging happen after the lock is released so a slow peer can never stall
// a lookup from another connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[int64]*Session),
		logger:   logger.Named("registry"),
		now:      time.Now,
	}
}

// Register binds userID to h. An existing binding is replaced (last login
// wins) and returned; its connection is left open.
func (r *Registry) Register(userID int64, h Handle) (*Session, error) {
	if h == nil {
		return nil, ErrNilHandle
	}
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}

	s := &Session{UserID: userID, Handle: h, AuthenticatedAt: r.now()}

	r.mu.Lock()
	previous := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if previous != nil && previous.Handle != h {
		r.logger.Info("session replaced by newer login",
			zap.Int64("user_id", userID),
			zap.String("previous_conn_id", previous.Handle.ID()),
			zap.String("conn_id", h.ID()))
		return previous, nil
	}
	return nil, nil
}

// Unregister removes userID's binding. Absent ids are a no-op.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
}

// UnregisterHandle removes userID's binding only if it still points at h.
// A connection orphaned by a newer login must not evict that login.
func (r *Registry) UnregisterHandle(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok || s.Handle != h {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// Lookup returns the live handle for userID.
func (r *Registry) Lookup(userID int64) (Handle, bool) {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Handle, true
}

// Session returns a copy of userID's session record.
func (r *Registry) Session(userID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// IsOnline reports whether userID has a live session.
func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// OnlineUsers returns the online user ids in ascending order.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats reports registry counters for the admin API.
func (r *Registry) Stats() map[string]int {
	return map[string]int{
		"online_users": r.Count(),
	}
}

// CloseAll closes every registered connection and returns how many it
// closed. Entries stay in place: each connection's disconnect hook removes
// its own binding through UnregisterHandle, which is what marks the user
// offline.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Handle.Close(); err != nil {
			r.logger.Debug("close on shutdown failed", zap.Int64("user_id", s.UserID), zap.Error(err))
		}
	}
	return len(sessions)
}
