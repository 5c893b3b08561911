package dialogue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
	"github.com/3leaps/deploybot/pkg/session"
	"github.com/3leaps/deploybot/pkg/shortref"
)

// callbackFunc handles a callback whose data matched a route. arg is the data
// after the route prefix. The returned text is shown as the callback answer.
type callbackFunc func(ctx context.Context, cb *chat.Callback, arg string) (string, error)

type callbackRoute struct {
	prefix string
	exact  bool
	handle callbackFunc
}

func (c *Controller) routes() []callbackRoute {
	return []callbackRoute{
		{prefix: cbFolderPage, handle: c.onFolderPage},
		{prefix: cbFolder, handle: c.onFolder},
		{prefix: cbPage, handle: c.onPage},
		{prefix: cbDeploy, handle: c.onDeploy},
		{prefix: cbConfirmYes, handle: c.onConfirmYes},
		{prefix: cbConfirmVer, handle: c.onConfirmVersion},
		{prefix: cbConfirmSch, handle: c.onConfirmSchedule},
		{prefix: cbConfirmNo, handle: c.onConfirmNo},
		{prefix: cbSchedEdit, handle: c.onScheduleEdit},
		{prefix: cbSchedDelete, handle: c.onScheduleDelete},
		{prefix: cbSearchAgain, exact: true, handle: c.onSearchAgain},
		{prefix: cbHome, exact: true, handle: c.onHome},
		{prefix: cbNoop, exact: true, handle: func(context.Context, *chat.Callback, string) (string, error) { return "", nil }},
	}
}

func (c *Controller) handleCallback(ctx context.Context, cb *chat.Callback) {
	var answer string
	defer func() {
		if err := c.deps.Transport.AnswerCallback(ctx, cb.ID, answer); err != nil {
			c.logger.Warn("Failed to answer callback",
				zap.Int64("chat_id", cb.ChatID),
				zap.String("callback_id", cb.ID),
				zap.Error(err),
			)
		}
	}()

	for _, r := range c.routes() {
		var arg string
		if r.exact {
			if cb.Data != r.prefix {
				continue
			}
		} else {
			if !strings.HasPrefix(cb.Data, r.prefix) {
				continue
			}
			arg = strings.TrimPrefix(cb.Data, r.prefix)
		}

		text, err := r.handle(ctx, cb, arg)
		if err != nil {
			c.fail(ctx, cb.ChatID, r.prefix, err)
			answer = "❌"
			return
		}
		answer = text
		return
	}

	c.logger.Warn("Unknown callback data",
		zap.Int64("chat_id", cb.ChatID),
		zap.String("data", cb.Data),
	)
}

// resolveRef maps a button token back to its path.
func (c *Controller) resolveRef(token string) (string, error) {
	value, err := c.deps.Refs.Resolve(token)
	if err != nil {
		if shortref.IsStale(err) {
			return "", apperrors.WrapNotFound(err, "resolve ref "+token, msgStaleButton)
		}
		return "", apperrors.WrapInternal(context.Background(), err, "resolve ref")
	}
	return value, nil
}

// jobArg loads the job referenced by callback data of the form <id>_<token>,
// where token stands for the job path the button was rendered for. A row
// whose id was recycled for another path is reported as gone.
func (c *Controller) jobArg(ctx context.Context, arg string) (*jobstore.Job, error) {
	rawID, token, ok := strings.Cut(arg, "_")
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %q", arg), msgStaleButton)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %q", arg), msgStaleButton)
	}
	path, err := c.resolveRef(token)
	if err != nil {
		return nil, err
	}

	job, err := c.deps.Store.GetJob(ctx, id)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return nil, apperrors.WrapNotFound(err, "load job", msgJobGone)
		}
		return nil, apperrors.WrapStore(err, "load job", msgGenericStore)
	}
	if job.URL != path {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %d at %q", id, path), msgJobGone)
	}
	return job, nil
}

func (c *Controller) onFolder(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	path, err := c.resolveRef(arg)
	if err != nil {
		return "", err
	}

	jobs, err := c.deps.Catalog.ListLeafJobs(ctx, path)
	if err != nil {
		return "", apperrors.WrapRemote(err, "list folder "+path, msgCatalogFailed)
	}

	v := session.View{Kind: session.ViewJobs, Title: "📂 " + path}
	for _, j := range jobs {
		name := strings.TrimPrefix(j.Path, path+"/")
		v.Jobs = append(v.Jobs, session.Entry{Name: name, Path: j.Path})
	}

	render, page := c.renderView(v)
	v.Page = page
	if err := c.edit(ctx, cb.ChatID, cb.MessageID, render); err != nil {
		return "", err
	}
	c.deps.Sessions.SetView(cb.ChatID, v)
	return "", nil
}

func (c *Controller) onHome(ctx context.Context, cb *chat.Callback, _ string) (string, error) {
	v, err := c.rootView(ctx)
	if err != nil {
		return "", err
	}
	render, page := c.renderView(v)
	v.Page = page
	if err := c.edit(ctx, cb.ChatID, cb.MessageID, render); err != nil {
		return "", err
	}
	c.deps.Sessions.SetView(cb.ChatID, v)
	return "", nil
}

func (c *Controller) onFolderPage(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	return c.turnPage(ctx, cb, arg, true)
}

func (c *Controller) onPage(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	return c.turnPage(ctx, cb, arg, false)
}

// turnPage re-renders the stored view at the requested page.
func (c *Controller) turnPage(ctx context.Context, cb *chat.Callback, arg string, folders bool) (string, error) {
	page, err := strconv.Atoi(arg)
	if err != nil {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("page %q", arg), msgStaleButton)
	}

	v := c.deps.Sessions.Get(cb.ChatID).View
	if v.Kind == session.ViewNone || (v.Kind == session.ViewFolders) != folders {
		return "", apperrors.NewNotFoundError("view", msgStaleButton)
	}

	v.Page = page
	render, clamped := c.renderView(v)
	v.Page = clamped
	if err := c.edit(ctx, cb.ChatID, cb.MessageID, render); err != nil {
		return "", err
	}
	c.deps.Sessions.SetView(cb.ChatID, v)
	return "", nil
}

func (c *Controller) onDeploy(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	path, err := c.resolveRef(arg)
	if err != nil {
		return "", err
	}
	path = jenkins.NormalizePath(path)

	job, err := c.deps.Store.UpsertJob(ctx, jobstore.JobRef{
		Name:        jenkins.BaseName(path),
		URL:         path,
		OwnerUserID: cb.UserID,
		ChatID:      cb.ChatID,
	})
	if err != nil {
		return "", apperrors.WrapStore(err, "record job", msgGenericStore)
	}

	if _, err := c.send(ctx, cb.ChatID, c.confirmMessage(job.ID, job.URL)); err != nil {
		return "", err
	}
	return "", nil
}

func (c *Controller) onConfirmYes(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	job, err := c.jobArg(ctx, arg)
	if err != nil {
		return "", err
	}
	c.deps.Sessions.Reset(cb.ChatID)
	c.editText(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf(msgDeploying, job.URL))

	text, err := c.deploy(ctx, cb.ChatID, cb.UserID, job, "")
	if err != nil {
		return "", err
	}
	c.reply(ctx, cb.ChatID, text)
	return "", nil
}

func (c *Controller) onConfirmVersion(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	job, err := c.jobArg(ctx, arg)
	if err != nil {
		return "", err
	}
	c.deps.Sessions.Expect(cb.ChatID, session.AwaitingVersion{JobID: job.ID, JobURL: job.URL})
	c.editText(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf(msgAskParameter, c.cfg.ParameterName, job.URL))
	return "", nil
}

func (c *Controller) onConfirmSchedule(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	job, err := c.jobArg(ctx, arg)
	if err != nil {
		return "", err
	}
	c.deps.Sessions.Expect(cb.ChatID, session.AwaitingScheduleTime{JobID: job.ID, JobURL: job.URL})
	c.editText(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf(msgAskScheduleTime, job.URL, humanDelay(c.cfg.DefaultDelay)))
	return "", nil
}

func (c *Controller) onConfirmNo(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	job, err := c.jobArg(ctx, arg)
	if err != nil {
		return "", err
	}
	c.deps.Sessions.Reset(cb.ChatID)
	c.remove(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf(msgDeployAborted, job.URL))
	return "", nil
}

// ownedSchedule loads a scheduled entry and checks that userID owns it.
func (c *Controller) ownedSchedule(ctx context.Context, arg string, userID int64) (*jobstore.Job, error) {
	job, err := c.jobArg(ctx, arg)
	if err != nil {
		return nil, err
	}
	if !job.Scheduled() {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("schedule %d", job.ID), msgJobGone)
	}
	if job.OwnerUserID != userID {
		return nil, apperrors.NewForbiddenError(msgNotOwner)
	}
	return job, nil
}

func (c *Controller) onScheduleEdit(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	job, err := c.ownedSchedule(ctx, arg, cb.UserID)
	if err != nil {
		return "", err
	}
	c.deps.Sessions.Expect(cb.ChatID, session.AwaitingEditTime{JobID: job.ID, JobURL: job.URL})
	c.reply(ctx, cb.ChatID, fmt.Sprintf(msgAskEditTime, job.ID, job.URL))
	return "", nil
}

func (c *Controller) onScheduleDelete(ctx context.Context, cb *chat.Callback, arg string) (string, error) {
	job, err := c.ownedSchedule(ctx, arg, cb.UserID)
	if err != nil {
		return "", err
	}
	if err := c.deps.Store.Delete(ctx, job.ID); err != nil {
		if jobstore.IsNotFound(err) {
			return "", apperrors.WrapNotFound(err, "delete schedule", msgJobGone)
		}
		return "", apperrors.WrapStore(err, "delete schedule", msgGenericStore)
	}

	c.logger.Info("Schedule deleted",
		zap.Int64("chat_id", cb.ChatID),
		zap.Int64("job_id", job.ID),
		zap.String("job_path", job.URL),
	)
	c.reply(ctx, cb.ChatID, fmt.Sprintf(msgScheduleDeleted, job.ID, job.URL))
	return "🗑", nil
}

func (c *Controller) onSearchAgain(ctx context.Context, cb *chat.Callback, _ string) (string, error) {
	c.deps.Sessions.Expect(cb.ChatID, session.AwaitingSearchQuery{})
	c.reply(ctx, cb.ChatID, msgAskSearchQuery)
	return "", nil
}
