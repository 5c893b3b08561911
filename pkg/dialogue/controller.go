// Package dialogue drives the chat conversation: browsing the catalog,
// confirming and scheduling deploys, searching, and managing scheduled
// entries.
//
// Every inbound message is routed in order:
//  1. a pending free-text expectation for the chat consumes it
//  2. a leading "/" dispatches to a command
//  3. anything else is ignored
//
// Callback queries are routed by data prefix and are always answered exactly
// once, including on failure.
package dialogue

import (
	"context"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/pkg/catalog"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
	"github.com/3leaps/deploybot/pkg/paginate"
	"github.com/3leaps/deploybot/pkg/session"
	"github.com/3leaps/deploybot/pkg/shortref"
)

// TimeLayout is the user-facing date format for schedule input.
const TimeLayout = "02/01/2006 15:04"

// DefaultDelay is what "df" schedules relative to now.
const DefaultDelay = 30 * time.Minute

// Catalog browses the job tree.
//
// *catalog.Discovery satisfies Catalog.
type Catalog interface {
	Children(ctx context.Context, path string) ([]catalog.Folder, []catalog.Job, error)
	ListLeafJobs(ctx context.Context, root string) ([]catalog.Job, error)
}

// Searcher searches the job tree.
//
// *catalog.Engine satisfies Searcher.
type Searcher interface {
	Search(ctx context.Context, roots []string, query string, progress chan<- catalog.Progress) (*catalog.Result, error)
}

// JobStore persists job references and scheduled entries.
//
// *jobstore.Store satisfies JobStore.
type JobStore interface {
	UpsertJob(ctx context.Context, ref jobstore.JobRef) (*jobstore.Job, error)
	GetJob(ctx context.Context, id int64) (*jobstore.Job, error)
	Schedule(ctx context.Context, id int64, req jobstore.ScheduleRequest) error
	UpdateScheduledTime(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
	ListScheduledByOwner(ctx context.Context, ownerUserID int64) ([]jobstore.Job, error)
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

// Config configures the controller.
type Config struct {
	// Root is the catalog folder listed by /deploy. Empty is the CI root.
	Root string

	// SearchRoots are the folders /projects searches. Empty means Root.
	SearchRoots []string

	// PageSize is the number of list items per page.
	// Default: 10
	PageSize int

	// Parameterized lists doublestar globs of job paths that take a
	// VERSION parameter. Matching is case-insensitive.
	Parameterized []string

	// ParameterName labels the build parameter in prompts.
	// Default: VERSION
	ParameterName string

	// Location interprets schedule input.
	// Default: time.Local
	Location *time.Location

	// DefaultDelay is the offset used for "df".
	// Default: 30m
	DefaultDelay time.Duration

	// FeedbackChatID receives /feedback messages. Zero only logs them.
	FeedbackChatID int64

	// ProgressInterval throttles search progress edits.
	// Default: 1s
	ProgressInterval time.Duration

	// BotName is stripped from "/command@BotName".
	BotName string

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Deps are the collaborators of a Controller. Watcher is optional.
type Deps struct {
	Transport   chat.Transport
	Sessions    *session.Registry
	Refs        *shortref.Map
	Catalog     Catalog
	Searcher    Searcher
	Store       JobStore
	Deployer    Deployer
	Credentials CredentialResolver
	Watcher     Watcher
}

// Controller implements chat.Handler.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New creates a Controller. A nil logger discards logs.
func New(deps Deps, cfg Config, logger *zap.Logger) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = paginate.DefaultPageSize
	}
	if cfg.ParameterName == "" {
		cfg.ParameterName = jenkins.DefaultParameterName
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = DefaultDelay
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Root = jenkins.NormalizePath(cfg.Root)
	if len(cfg.SearchRoots) == 0 {
		cfg.SearchRoots = []string{cfg.Root}
	}
	patterns := make([]string, 0, len(cfg.Parameterized))
	for _, p := range cfg.Parameterized {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	cfg.Parameterized = patterns

	if deps.Sessions == nil {
		deps.Sessions = session.NewRegistry()
	}
	if deps.Refs == nil {
		deps.Refs = shortref.New(shortref.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, deps: deps, logger: logger}
}

// Sessions returns the session registry.
func (c *Controller) Sessions() *session.Registry {
	return c.deps.Sessions
}

// HandleUpdate routes one inbound update.
func (c *Controller) HandleUpdate(ctx context.Context, u chat.Update) {
	switch {
	case u.Callback != nil:
		c.handleCallback(ctx, u.Callback)
	case u.Message != nil:
		c.handleMessage(ctx, u.Message)
	}
}

func (c *Controller) handleMessage(ctx context.Context, m *chat.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	st := c.deps.Sessions.Get(m.ChatID)
	if st.Pending() {
		c.logger.Debug("Routing message to pending expectation",
			zap.Int64("chat_id", m.ChatID),
			zap.String("expect", st.Expect.Name()),
		)
		if err := c.handleInput(ctx, m, st.Expect, text); err != nil {
			c.fail(ctx, m.ChatID, "input", err)
		}
		return
	}

	if !strings.HasPrefix(text, "/") {
		return
	}

	name, args := c.parseCommand(text)
	if err := c.handleCommand(ctx, m, name, args); err != nil {
		c.fail(ctx, m.ChatID, name, err)
	}
}

func (c *Controller) parseCommand(text string) (string, string) {
	name, args, _ := strings.Cut(text, " ")
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if c.cfg.BotName == "" || strings.EqualFold(name[at+1:], c.cfg.BotName) {
			name = name[:at]
		}
	}
	return name, strings.TrimSpace(args)
}

// fail logs err and tells the user what went wrong.
func (c *Controller) fail(ctx context.Context, chatID int64, op string, err error) {
	fields := []zap.Field{
		zap.Int64("chat_id", chatID),
		zap.String("op", op),
		zap.Error(err),
	}
	switch {
	case apperrors.IsInvalidInput(err), apperrors.IsNotFound(err), apperrors.IsForbidden(err):
		c.logger.Info("Request rejected", fields...)
	default:
		c.logger.Error("Request failed", fields...)
	}
	c.reply(ctx, chatID, apperrors.UserMessage(err))
}

func (c *Controller) isParameterized(path string) bool {
	path = strings.ToLower(path)
	for _, p := range c.cfg.Parameterized {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

func (c *Controller) resolveCredentials(ctx context.Context, userID int64) (jenkins.Credentials, error) {
	role, creds, err := c.deps.Credentials.Resolve(ctx, userID)
	switch {
	case err == nil:
		return creds, nil
	case deploy.IsNoCredentials(err):
		c.logger.Info("User has no deploy credentials", zap.Int64("user_id", userID), zap.String("role", role))
		return creds, apperrors.NewForbiddenError(msgNotAuthorized)
	default:
		return creds, apperrors.WrapStore(err, "resolve credentials", msgGenericStore)
	}
}

// deploy triggers job and reports the outcome in chatID.
func (c *Controller) deploy(ctx context.Context, chatID, userID int64, job *jobstore.Job, parameter string) (string, error) {
	creds, err := c.resolveCredentials(ctx, userID)
	if err != nil {
		return "", err
	}

	c.logger.Info("Deploy requested",
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
		zap.String("job_path", job.URL),
		zap.Bool("parameterized", parameter != ""),
	)

	if !c.deps.Deployer.Trigger(ctx, job.URL, creds, parameter) {
		return deployFailedText(job.URL), nil
	}
	if c.deps.Watcher != nil {
		c.deps.Watcher.Watch(job.URL, chatID)
	}
	return deployedText(job.URL, c.cfg.ParameterName, parameter), nil
}
