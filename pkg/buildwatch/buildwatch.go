// Package buildwatch tells chats when a build they triggered finishes.
//
// After a successful trigger the caller registers a watch on the job path.
// Completion events arrive from the Jenkins Notification plugin webhook;
// each watching chat is notified once and its watch removed. Watches that
// never see a completion expire.
package buildwatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/jenkins"
)

// DefaultTTL is how long a watch waits for a completion event.
const DefaultTTL = 24 * time.Hour

// Phases reported by the Notification plugin.
const (
	PhaseQueued    = "QUEUED"
	PhaseStarted   = "STARTED"
	PhaseCompleted = "COMPLETED"
	PhaseFinalized = "FINALIZED"
)

// Event is a Jenkins Notification plugin payload.
type Event struct {
	Name  string     `json:"name"`
	URL   string     `json:"url"`
	Build BuildEvent `json:"build"`
}

// BuildEvent is the build section of an Event.
type BuildEvent struct {
	FullURL string `json:"full_url"`
	Number  int    `json:"number"`
	Phase   string `json:"phase"`
	Status  string `json:"status"`
	URL     string `json:"url"`
}

// JobPath returns the catalog path of the job the event is about.
func (e Event) JobPath() string {
	if p := jenkins.PathFromJobURL(e.URL); p != "" {
		return p
	}
	if p := jenkins.PathFromJobURL(e.Build.URL); p != "" {
		return p
	}
	return jenkins.NormalizePath(e.Name)
}

// Finished reports whether the event marks the end of a build.
func (e Event) Finished() bool {
	switch strings.ToUpper(e.Build.Phase) {
	case PhaseCompleted, PhaseFinalized:
		return true
	}
	return false
}

// Registry tracks which chats wait for which job. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	watches map[string]map[int64]time.Time
	ttl     time.Duration
	sender  chat.Sender
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Registry that notifies through sender. A nil logger
// discards logs.
func New(sender chat.Sender, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		watches: make(map[string]map[int64]time.Time),
		ttl:     ttl,
		sender:  sender,
		logger:  logger,
		now:     time.Now,
	}
}

// Watch registers chatID for the next completion of path. Re-watching
// extends the expiry.
func (r *Registry) Watch(path string, chatID int64) {
	path = jenkins.NormalizePath(path)
	if path == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chats, ok := r.watches[path]
	if !ok {
		chats = make(map[int64]time.Time)
		r.watches[path] = chats
	}
	chats[chatID] = r.now().Add(r.ttl)
}

// Take removes and returns the live watchers of path.
func (r *Registry) Take(path string) []int64 {
	path = jenkins.NormalizePath(path)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	chats := r.watches[path]
	delete(r.watches, path)

	out := make([]int64, 0, len(chats))
	for id, exp := range chats {
		if now.Before(exp) {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of watched paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

// Sweep drops expired watches and returns how many were dropped.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for path, chats := range r.watches {
		for id, exp := range chats {
			if !now.Before(exp) {
				delete(chats, id)
				dropped++
			}
		}
		if len(chats) == 0 {
			delete(r.watches, path)
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("Expired build watches", zap.Int("dropped", n))
			}
		}
	}
}

// HandleEvent notifies the chats watching the event's job when the build
// has finished. It returns the number of chats notified.
func (r *Registry) HandleEvent(ctx context.Context, ev Event) int {
	if !ev.Finished() {
		return 0
	}
	path := ev.JobPath()
	chats := r.Take(path)
	if len(chats) == 0 {
		return 0
	}

	text := FormatEvent(ev)
	notified := 0
	for _, id := range chats {
		if _, err := r.sender.Send(ctx, id, chat.OutgoingMessage{Text: text}); err != nil {
			r.logger.Warn("Failed to send build notification",
				zap.Int64("chat_id", id),
				zap.String("job_path", path),
				zap.Error(err),
			)
			continue
		}
		notified++
	}

	r.logger.Info("Build completion delivered",
		zap.String("job_path", path),
		zap.Int("build", ev.Build.Number),
		zap.String("status", ev.Build.Status),
		zap.Int("chats", notified),
	)
	return notified
}

// FormatEvent renders a completion message.
func FormatEvent(ev Event) string {
	icon := "⚠️"
	switch strings.ToUpper(ev.Build.Status) {
	case "SUCCESS":
		icon = "✅"
	case "FAILURE":
		icon = "❌"
	case "ABORTED":
		icon = "⏹"
	}

	status := ev.Build.Status
	if status == "" {
		status = "UNKNOWN"
	}

	msg := fmt.Sprintf("%s Build #%d của %s kết thúc: %s", icon, ev.Build.Number, ev.JobPath(), status)
	if ev.Build.FullURL != "" {
		msg += "\n" + ev.Build.FullURL
	}
	return msg
}
