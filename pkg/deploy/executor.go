// Package deploy triggers CI builds on behalf of chat users.
package deploy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/deploybot/pkg/jenkins"
)

// BuildSession is one authenticated conversation with the CI server.
//
// *jenkins.Session satisfies BuildSession.
type BuildSession interface {
	Crumb(ctx context.Context) (jenkins.Crumb, error)
	Build(ctx context.Context, path string, crumb jenkins.Crumb, parameter string) (string, error)
}

// SessionFactory starts a BuildSession for a credential set.
type SessionFactory func(creds jenkins.Credentials) BuildSession

// FromClient adapts a jenkins client into a SessionFactory.
func FromClient(c *jenkins.Client) SessionFactory {
	return func(creds jenkins.Credentials) BuildSession {
		return c.NewSession(creds)
	}
}

// Executor triggers builds. Each call is a single attempt; retries are the
// caller's decision. Triggering twice queues two builds.
type Executor struct {
	sessions SessionFactory
	logger   *zap.Logger
}

// NewExecutor creates an Executor. A nil logger discards logs.
func NewExecutor(sessions SessionFactory, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{sessions: sessions, logger: logger}
}

// Trigger fetches a crumb and queues a build of path, with parameter when
// non-empty. It reports whether the CI server accepted the build; failures
// are logged.
//
// A controller without CSRF protection has no crumb issuer; the build is
// then sent without a crumb.
func (e *Executor) Trigger(ctx context.Context, path string, creds jenkins.Credentials, parameter string) bool {
	path = jenkins.NormalizePath(path)
	start := time.Now()
	s := e.sessions(creds)

	crumb, err := s.Crumb(ctx)
	if err != nil && !jenkins.IsNotFound(err) {
		e.logger.Error("Failed to fetch crumb",
			zap.String("job_path", path),
			zap.String("user", creds.User),
			zap.Error(err),
		)
		return false
	}
	if err != nil {
		e.logger.Debug("Crumb issuer not available, building without crumb", zap.String("job_path", path))
	}

	queued, err := s.Build(ctx, path, crumb, parameter)
	if err != nil {
		e.logger.Error("Failed to trigger build",
			zap.String("job_path", path),
			zap.Bool("parameterized", parameter != ""),
			zap.Error(err),
		)
		return false
	}

	e.logger.Info("Build triggered",
		zap.String("job_path", path),
		zap.String("parameter", parameter),
		zap.String("queue_item", queued),
		zap.Duration("duration", time.Since(start)),
	)
	return true
}
