// Package scheduler fires scheduled deploy entries when they come due.
//
// A single periodic tick lists every entry whose time has passed, triggers
// it and deletes it whether or not the trigger succeeded. Delivery is
// therefore at most once per entry, except that a crash between trigger
// and delete fires the entry again on the next tick. Running two instances
// against one store double-fires entries.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
)

// DefaultInterval is the tick period.
const DefaultInterval = 60 * time.Second

// Store lists and removes scheduled entries.
//
// *jobstore.Store satisfies Store.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]jobstore.Job, error)
	DeleteFired(ctx context.Context, id int64, scheduledTime time.Time) (bool, error)
}

// Deployer triggers a single build attempt.
//
// *deploy.Executor satisfies Deployer.
type Deployer interface {
	Trigger(ctx context.Context, path string, creds jenkins.Credentials, parameter string) bool
}

// CredentialResolver maps a user to CI credentials.
//
// *deploy.Resolver satisfies CredentialResolver.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID int64) (string, jenkins.Credentials, error)
}

// Watcher registers interest in the completion of a triggered build.
//
// *buildwatch.Registry satisfies Watcher.
type Watcher interface {
	Watch(path string, chatID int64)
}

// Config configures the scheduler.
type Config struct {
	// Interval is the tick period.
	// Default: 60s
	Interval time.Duration

	// Location renders times in notifications.
	// Default: time.Local
	Location *time.Location
}

// Summary describes one tick.
type Summary struct {
	Due       int
	Triggered int
	Failed    int
	Deleted   int

	// Rescheduled counts entries moved or removed by their owner while
	// firing. A moved entry is kept.
	Rescheduled int
}

// Scheduler drives periodic ticks.
type Scheduler struct {
	store    Store
	deployer Deployer
	creds    CredentialResolver
	notifier chat.Sender
	watcher  Watcher
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Scheduler. notifier may be nil, in which case owners are
// not told about fired entries. A nil logger discards logs.
func New(store Store, deployer Deployer, creds CredentialResolver, notifier chat.Sender, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		deployer: deployer,
		creds:    creds,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithWatcher registers successful triggers with w.
// Returns the scheduler for method chaining.
func (s *Scheduler) WithWatcher(w Watcher) *Scheduler {
	s.watcher = w
	return s
}

// Start begins ticking every Interval until Stop or ctx cancellation.
// A tick still running when the next one is due is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	spec := fmt.Sprintf("@every %s", s.config.Interval)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Tick(s.baseCtx, s.now()); err != nil {
			s.logger.Error("Scheduler tick failed", zap.Error(err))
		}
	}); err != nil {
		s.cancel()
		return fmt.Errorf("register scheduler tick: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("Scheduler started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	s.logger.Info("Scheduler stopped")
}

// Tick fires every entry due at now. Per-entry failures are logged and do
// not stop the sweep; only a failure to list due entries is returned.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("list due entries: %w", err)
	}
	sum.Due = len(due)
	if len(due) == 0 {
		return sum, nil
	}

	s.logger.Info("Firing scheduled entries", zap.Int("due", len(due)))

	for _, job := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		ok := s.fire(ctx, job)
		if ok {
			sum.Triggered++
		} else {
			sum.Failed++
		}

		at := now
		if job.ScheduledTime != nil {
			at = *job.ScheduledTime
		}
		deleted, err := s.store.DeleteFired(ctx, job.ID, at)
		switch {
		case err != nil:
			s.logger.Error("Failed to delete fired entry",
				zap.Int64("job_id", job.ID),
				zap.String("job_path", job.URL),
				zap.Error(err),
			)
		case deleted:
			sum.Deleted++
		default:
			sum.Rescheduled++
			s.logger.Info("Scheduled entry changed while firing",
				zap.Int64("job_id", job.ID),
				zap.String("job_path", job.URL),
			)
		}

		s.notify(ctx, job, ok)
	}

	return sum, nil
}

func (s *Scheduler) fire(ctx context.Context, job jobstore.Job) bool {
	role, creds, err := s.creds.Resolve(ctx, job.OwnerUserID)
	if err != nil {
		s.logger.Warn("Cannot resolve credentials for scheduled entry",
			zap.Int64("job_id", job.ID),
			zap.Int64("user_id", job.OwnerUserID),
			zap.String("role", role),
			zap.Error(err),
		)
		return false
	}

	ok := s.deployer.Trigger(ctx, job.URL, creds, job.Parameter)
	if ok && s.watcher != nil && job.ChatID != 0 {
		s.watcher.Watch(job.URL, job.ChatID)
	}
	return ok
}

func (s *Scheduler) notify(ctx context.Context, job jobstore.Job, ok bool) {
	if s.notifier == nil || job.ChatID == 0 {
		return
	}

	text := fmt.Sprintf("❌ Deploy theo lịch thất bại: %s", job.URL)
	if ok {
		text = fmt.Sprintf("✅ Đã deploy theo lịch: %s", job.URL)
	}
	if job.Parameter != "" {
		text += fmt.Sprintf("\nVERSION: %s", job.Parameter)
	}
	if job.ScheduledTime != nil {
		text += fmt.Sprintf("\nThời gian: %s", job.ScheduledTime.In(s.config.Location).Format("02/01/2006 15:04"))
	}

	if _, err := s.notifier.Send(ctx, job.ChatID, chat.OutgoingMessage{Text: text}); err != nil {
		s.logger.Warn("Failed to notify schedule owner",
			zap.Int64("chat_id", job.ChatID),
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// cronLogger routes robfig/cron logs through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
