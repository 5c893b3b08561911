// Package shortref maps long identifiers (job and folder paths) to short opaque
// tokens that fit inside size-constrained callback payloads.
//
// Tokens are scoped: every token belongs to the rendered message that carries it.
// When that message is edited or deleted the scope is released and its tokens are
// reclaimed. Tokens also expire after a bounded TTL, so a press on a button from a
// long-forgotten message resolves to ErrStale instead of to some unrelated value.
//
// Token ids come from a wrapping counter. An id is only handed out again after the
// counter has cycled through the whole id space and the id is no longer live.
package shortref

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrStale indicates the token is unknown, released, or expired.
	ErrStale = errors.New("stale reference")

	// ErrExhausted indicates every token id is currently live.
	ErrExhausted = errors.New("reference pool exhausted")
)

// IsStale returns true if the error indicates a stale reference.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// Config configures a Map.
type Config struct {
	// TTL bounds how long a token stays resolvable.
	// Default: 24h
	TTL time.Duration

	// MaxTokens is the size of the token id space. Tokens are base36 encoded,
	// so the default of 36^5 keeps every token at five characters or fewer.
	MaxTokens uint64

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultConfig returns the default map configuration.
func DefaultConfig() Config {
	return Config{
		TTL:       24 * time.Hour,
		MaxTokens: 36 * 36 * 36 * 36 * 36,
	}
}

type entry struct {
	value   string
	scope   string
	expires time.Time
}

// Map is a scoped token arena. It is safe for concurrent use.
type Map struct {
	mu      sync.Mutex
	cfg     Config
	next    uint64
	entries map[string]entry
	scopes  map[string]map[string]struct{}
}

// New creates a Map. Zero config values fall back to DefaultConfig.
func New(cfg Config) *Map {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Map{
		cfg:     cfg,
		entries: make(map[string]entry),
		scopes:  make(map[string]map[string]struct{}),
	}
}

// Intern records value under a fresh token owned by scope and returns the token.
//
// Two calls always produce distinct tokens, even for equal values.
func (m *Map) Intern(scope, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := uint64(0); i < m.cfg.MaxTokens; i++ {
		m.next = m.next%m.cfg.MaxTokens + 1
		token := strconv.FormatUint(m.next, 36)
		if _, live := m.entries[token]; live {
			continue
		}

		m.entries[token] = entry{
			value:   value,
			scope:   scope,
			expires: m.cfg.Now().Add(m.cfg.TTL),
		}
		set, ok := m.scopes[scope]
		if !ok {
			set = make(map[string]struct{})
			m.scopes[scope] = set
		}
		set[token] = struct{}{}
		return token, nil
	}
	return "", ErrExhausted
}

// Resolve returns the value behind token, or ErrStale.
func (m *Map) Resolve(token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[token]
	if !ok {
		return "", ErrStale
	}
	if !m.cfg.Now().Before(e.expires) {
		m.removeLocked(token, e.scope)
		return "", ErrStale
	}
	return e.value, nil
}

// ReleaseScope reclaims every token owned by scope and returns how many were released.
func (m *Map) ReleaseScope(scope string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.scopes[scope]
	for token := range set {
		delete(m.entries, token)
	}
	delete(m.scopes, scope)
	return len(set)
}

// RenameScope moves every token of from into to.
//
// Keyboards are rendered before the message that carries them exists, so callers
// intern under a provisional scope and rename it once the message id is known.
func (m *Map) RenameScope(from, to string) {
	if from == to {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.scopes[from]
	if !ok {
		return
	}
	delete(m.scopes, from)

	dst, ok := m.scopes[to]
	if !ok {
		dst = make(map[string]struct{}, len(set))
		m.scopes[to] = dst
	}
	for token := range set {
		e := m.entries[token]
		e.scope = to
		m.entries[token] = e
		dst[token] = struct{}{}
	}
}

// Sweep drops expired tokens and returns how many were removed.
func (m *Map) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now()
	removed := 0
	for token, e := range m.entries {
		if !now.Before(e.expires) {
			m.removeLocked(token, e.scope)
			removed++
		}
	}
	return removed
}

// Len returns the number of live tokens.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run sweeps expired tokens every interval until ctx is cancelled.
func (m *Map) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Map) removeLocked(token, scope string) {
	delete(m.entries, token)
	if set, ok := m.scopes[scope]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(m.scopes, scope)
		}
	}
}
