package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/jobstore"
	"github.com/3leaps/deploybot/pkg/session"
)

// isCancel reports whether text aborts the pending expectation.
func isCancel(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "hủy", "huỷ", "cancel":
		return true
	}
	return false
}

// parseScheduleTime reads "DD/MM/YYYY HH:mm" in loc, or "df" for now+delay
// rounded up to the minute. The result must lie in the future.
func parseScheduleTime(text string, now time.Time, loc *time.Location, delay time.Duration) (time.Time, error) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "df") {
		at := now.Add(delay)
		if floor := at.Truncate(time.Minute); floor.Before(at) {
			at = floor.Add(time.Minute)
		}
		return at, nil
	}

	at, err := time.ParseInLocation(TimeLayout, strings.Join(strings.Fields(text), " "), loc)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(msgBadTime)
	}
	if !at.After(now) {
		return time.Time{}, apperrors.NewValidationError(msgPastTime)
	}
	return at, nil
}

func humanDelay(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d giờ", int(d/time.Hour))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d phút", int(d/time.Minute))
	}
	return d.String()
}

// handleInput feeds text to the pending expectation of the chat. Invalid
// input leaves the expectation in place so the user can retry.
func (c *Controller) handleInput(ctx context.Context, m *chat.Message, expect session.Expectation, text string) error {
	if isCancel(text) {
		c.deps.Sessions.Reset(m.ChatID)
		c.logger.Debug("Expectation cancelled",
			zap.Int64("chat_id", m.ChatID),
			zap.String("expect", expect.Name()),
		)
		c.reply(ctx, m.ChatID, msgCancelled)
		return nil
	}

	switch e := expect.(type) {
	case session.AwaitingFeedback:
		return c.inputFeedback(ctx, m, text)
	case session.AwaitingSearchQuery:
		c.deps.Sessions.Reset(m.ChatID)
		return c.runSearch(ctx, m.ChatID, text)
	case session.AwaitingVersion:
		return c.inputVersion(ctx, m, e, text)
	case session.AwaitingScheduleTime:
		return c.inputScheduleTime(ctx, m, e, text)
	case session.AwaitingScheduleParameter:
		return c.inputScheduleParameter(ctx, m, e, text)
	case session.AwaitingEditTime:
		return c.inputEditTime(ctx, m, e, text)
	default:
		c.deps.Sessions.Reset(m.ChatID)
		return nil
	}
}

func (c *Controller) inputFeedback(ctx context.Context, m *chat.Message, text string) error {
	c.deps.Sessions.Reset(m.ChatID)

	from := m.UserName
	if from == "" {
		from = "người dùng"
	}
	c.logger.Info("Feedback received",
		zap.Int64("chat_id", m.ChatID),
		zap.Int64("user_id", m.UserID),
		zap.String("user_name", m.UserName),
		zap.String("feedback", text),
	)
	if c.cfg.FeedbackChatID != 0 {
		c.reply(ctx, c.cfg.FeedbackChatID, fmt.Sprintf(msgFeedbackFwd, from, m.UserID, text))
	}
	c.reply(ctx, m.ChatID, msgFeedbackSent)
	return nil
}

// loadPendingJob loads the job an expectation refers to. A vanished job, or
// an id now held by another path, resets the chat.
func (c *Controller) loadPendingJob(ctx context.Context, chatID, id int64, url string) (*jobstore.Job, error) {
	job, err := c.deps.Store.GetJob(ctx, id)
	if err == nil && job.URL != url {
		err = fmt.Errorf("job %d moved from %q to %q: %w", id, url, job.URL, jobstore.ErrNotFound)
	}
	if err == nil {
		return job, nil
	}
	if jobstore.IsNotFound(err) {
		c.deps.Sessions.Reset(chatID)
		return nil, apperrors.WrapNotFound(err, "load pending job", msgJobGone)
	}
	return nil, apperrors.WrapStore(err, "load pending job", msgGenericStore)
}

func (c *Controller) inputVersion(ctx context.Context, m *chat.Message, e session.AwaitingVersion, text string) error {
	job, err := c.loadPendingJob(ctx, m.ChatID, e.JobID, e.JobURL)
	if err != nil {
		return err
	}
	c.deps.Sessions.Reset(m.ChatID)

	reply, err := c.deploy(ctx, m.ChatID, m.UserID, job, text)
	if err != nil {
		return err
	}
	c.reply(ctx, m.ChatID, reply)
	return nil
}

func (c *Controller) inputScheduleTime(ctx context.Context, m *chat.Message, e session.AwaitingScheduleTime, text string) error {
	at, err := parseScheduleTime(text, c.cfg.Now(), c.cfg.Location, c.cfg.DefaultDelay)
	if err != nil {
		return err
	}

	job, err := c.loadPendingJob(ctx, m.ChatID, e.JobID, e.JobURL)
	if err != nil {
		return err
	}

	if c.isParameterized(job.URL) {
		c.deps.Sessions.Expect(m.ChatID, session.AwaitingScheduleParameter{JobID: job.ID, JobURL: job.URL, At: at})
		c.reply(ctx, m.ChatID, fmt.Sprintf(msgAskParameter, c.cfg.ParameterName, job.URL))
		return nil
	}
	return c.commitSchedule(ctx, m, job, at, "")
}

func (c *Controller) inputScheduleParameter(ctx context.Context, m *chat.Message, e session.AwaitingScheduleParameter, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.NewValidationError(msgEmptyParam)
	}
	job, err := c.loadPendingJob(ctx, m.ChatID, e.JobID, e.JobURL)
	if err != nil {
		return err
	}
	return c.commitSchedule(ctx, m, job, e.At, strings.TrimSpace(text))
}

func (c *Controller) commitSchedule(ctx context.Context, m *chat.Message, job *jobstore.Job, at time.Time, parameter string) error {
	replaced := job.Scheduled() && job.OwnerUserID != m.UserID

	err := c.deps.Store.Schedule(ctx, job.ID, jobstore.ScheduleRequest{
		At:          at,
		Parameter:   parameter,
		OwnerUserID: m.UserID,
		ChatID:      m.ChatID,
	})
	if err != nil {
		if jobstore.IsNotFound(err) {
			c.deps.Sessions.Reset(m.ChatID)
			return apperrors.WrapNotFound(err, "schedule job", msgJobGone)
		}
		return apperrors.WrapStore(err, "schedule job", msgGenericStore)
	}
	c.deps.Sessions.Reset(m.ChatID)

	c.logger.Info("Deploy scheduled",
		zap.Int64("chat_id", m.ChatID),
		zap.Int64("user_id", m.UserID),
		zap.Int64("job_id", job.ID),
		zap.String("job_path", job.URL),
		zap.Time("scheduled_time", at),
	)

	text := fmt.Sprintf(msgScheduled, job.URL, formatTime(at, c.cfg.Location))
	if parameter != "" {
		text += fmt.Sprintf("\n%s: %s", c.cfg.ParameterName, parameter)
	}
	if replaced {
		prevAt := formatTime(*job.ScheduledTime, c.cfg.Location)
		c.logger.Info("Schedule taken over",
			zap.Int64("job_id", job.ID),
			zap.Int64("previous_owner", job.OwnerUserID),
			zap.Int64("user_id", m.UserID),
		)
		text += "\n" + fmt.Sprintf(msgScheduleReplaced, job.OwnerUserID, prevAt)
		if job.ChatID != 0 && job.ChatID != m.ChatID {
			c.reply(ctx, job.ChatID, fmt.Sprintf(msgScheduleTakenOver, job.URL, prevAt, m.UserID))
		}
	}
	c.reply(ctx, m.ChatID, text)
	return nil
}

func (c *Controller) inputEditTime(ctx context.Context, m *chat.Message, e session.AwaitingEditTime, text string) error {
	at, err := parseScheduleTime(text, c.cfg.Now(), c.cfg.Location, c.cfg.DefaultDelay)
	if err != nil {
		return err
	}

	job, err := c.loadPendingJob(ctx, m.ChatID, e.JobID, e.JobURL)
	if err != nil {
		return err
	}
	if job.OwnerUserID != m.UserID {
		c.deps.Sessions.Reset(m.ChatID)
		return apperrors.NewForbiddenError(msgNotOwner)
	}

	if err := c.deps.Store.UpdateScheduledTime(ctx, job.ID, at); err != nil {
		if jobstore.IsNotFound(err) {
			c.deps.Sessions.Reset(m.ChatID)
			return apperrors.WrapNotFound(err, "reschedule job", msgJobGone)
		}
		return apperrors.WrapStore(err, "reschedule job", msgGenericStore)
	}
	c.deps.Sessions.Reset(m.ChatID)

	c.logger.Info("Deploy rescheduled",
		zap.Int64("chat_id", m.ChatID),
		zap.Int64("job_id", job.ID),
		zap.Time("scheduled_time", at),
	)
	c.reply(ctx, m.ChatID, fmt.Sprintf(msgRescheduled, job.ID, job.URL, formatTime(at, c.cfg.Location)))
	return nil
}
