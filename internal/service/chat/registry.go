package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
)

// ErrSessionNotFound is returned by lookups of unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Registry owns every live conversation, keyed by session id. It is the only
// process-wide mutable structure; conversations are reached through it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Conversation

	idleTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTTL evicts conversations unused for longer than ttl during Sweep.
// Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.idleTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger used for eviction messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry bootstraps an empty in-memory registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Conversation),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// NewSessionID returns a fresh opaque session id.
func NewSessionID() string {
	return uuid.NewString()
}

// GetOrCreate returns the conversation for id, creating it when missing.
func (r *Registry) GetOrCreate(id string) *Conversation {
	now := r.now()

	r.mu.RLock()
	conv, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		conv.touch(now)
		return conv
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok = r.sessions[id]; ok {
		conv.touch(now)
		return conv
	}
	conv = newConversation(id, r.now)
	r.sessions[id] = conv
	return conv
}

// Get looks up an existing conversation.
func (r *Registry) Get(id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return conv, nil
}

// Delete drops the conversation for id and reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts conversations idle for longer than the configured TTL and
// returns how many were removed. A conversation in the middle of an exchange
// is never evicted.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, conv := range r.sessions {
		if !conv.idleSince().Before(cutoff) {
			continue
		}
		if !conv.turnMu.TryLock() {
			continue
		}
		delete(r.sessions, id)
		conv.turnMu.Unlock()
		evicted++
	}
	if evicted > 0 {
		r.logger.Info("evicted idle sessions", "count", evicted, "remaining", len(r.sessions))
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
