// Package session holds per-chat dialogue state.
//
// A chat is always in exactly one Expectation. Variants carry typed context
// (job id and path, chosen time) so the controller never parses state out of
// strings. State lives in memory only; a restart returns every chat to Idle.
package session

import (
	"sync"
	"time"
)

// Expectation describes which free-text input a chat is waiting for.
type Expectation interface {
	expectation()
	// Name is a stable identifier used in logs.
	Name() string
}

// Idle means no free-text input is pending.
type Idle struct{}

// AwaitingFeedback waits for a feedback message.
type AwaitingFeedback struct{}

// AwaitingSearchQuery waits for a catalog search query.
type AwaitingSearchQuery struct{}

// AwaitingVersion waits for the build parameter of an immediate deploy.
type AwaitingVersion struct {
	JobID  int64
	JobURL string
}

// AwaitingScheduleTime waits for the trigger time of a new schedule.
type AwaitingScheduleTime struct {
	JobID  int64
	JobURL string
}

// AwaitingScheduleParameter waits for the build parameter of a schedule
// whose time was already chosen.
type AwaitingScheduleParameter struct {
	JobID  int64
	JobURL string
	At     time.Time
}

// AwaitingEditTime waits for a replacement time of an existing schedule.
type AwaitingEditTime struct {
	JobID  int64
	JobURL string
}

func (Idle) expectation()                      {}
func (AwaitingFeedback) expectation()          {}
func (AwaitingSearchQuery) expectation()       {}
func (AwaitingVersion) expectation()           {}
func (AwaitingScheduleTime) expectation()      {}
func (AwaitingScheduleParameter) expectation() {}
func (AwaitingEditTime) expectation()          {}

func (Idle) Name() string                      { return "idle" }
func (AwaitingFeedback) Name() string          { return "awaiting_feedback" }
func (AwaitingSearchQuery) Name() string       { return "awaiting_search_query" }
func (AwaitingVersion) Name() string           { return "awaiting_version" }
func (AwaitingScheduleTime) Name() string      { return "awaiting_schedule_time" }
func (AwaitingScheduleParameter) Name() string { return "awaiting_schedule_parameter" }
func (AwaitingEditTime) Name() string          { return "awaiting_edit_time" }

// ViewKind identifies which list a chat is currently paging through.
type ViewKind int

const (
	// ViewNone means nothing paginated has been rendered.
	ViewNone ViewKind = iota
	// ViewFolders is the top-level folder list from /deploy.
	ViewFolders
	// ViewJobs is the job list of one folder.
	ViewJobs
	// ViewSearch is a search result list.
	ViewSearch
)

// Entry is one rendered list item.
type Entry struct {
	Name string
	Path string
}

// View is the last rendered list snapshot, kept so page callbacks can
// re-render without refetching.
type View struct {
	Kind    ViewKind
	Title   string
	Folders []Entry
	Jobs    []Entry
	Page    int
}

// State is the complete per-chat state.
type State struct {
	Expect Expectation
	View   View
}

// Pending reports whether a free-text expectation is active.
func (s State) Pending() bool {
	if s.Expect == nil {
		return false
	}
	_, idle := s.Expect.(Idle)
	return !idle
}

// Registry stores State per chat id. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	states map[int64]State
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[int64]State)}
}

// Get returns the state of chatID, or an Idle state if none is stored.
func (r *Registry) Get(chatID int64) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[chatID]
	if !ok || s.Expect == nil {
		s.Expect = Idle{}
	}
	return s
}

// Set replaces the state of chatID.
func (r *Registry) Set(chatID int64, s State) {
	if s.Expect == nil {
		s.Expect = Idle{}
	}
	r.mu.Lock()
	r.states[chatID] = s
	r.mu.Unlock()
}

// Expect replaces only the expectation, keeping the current view.
func (r *Registry) Expect(chatID int64, e Expectation) {
	if e == nil {
		e = Idle{}
	}
	r.mu.Lock()
	s := r.states[chatID]
	s.Expect = e
	r.states[chatID] = s
	r.mu.Unlock()
}

// SetView replaces only the view, keeping the current expectation.
func (r *Registry) SetView(chatID int64, v View) {
	r.mu.Lock()
	s := r.states[chatID]
	if s.Expect == nil {
		s.Expect = Idle{}
	}
	s.View = v
	r.states[chatID] = s
	r.mu.Unlock()
}

// Reset returns chatID to Idle, keeping the current view.
func (r *Registry) Reset(chatID int64) {
	r.Expect(chatID, Idle{})
}

// Clear drops all state for chatID.
func (r *Registry) Clear(chatID int64) {
	r.mu.Lock()
	delete(r.states, chatID)
	r.mu.Unlock()
}

// Len returns the number of chats with stored state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
