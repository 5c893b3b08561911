package dialogue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/pkg/catalog"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/session"
)

func (c *Controller) handleCommand(ctx context.Context, m *chat.Message, name, args string) error {
	c.logger.Debug("Command received",
		zap.Int64("chat_id", m.ChatID),
		zap.Int64("user_id", m.UserID),
		zap.String("command", name),
	)

	switch name {
	case "deploy":
		return c.cmdDeploy(ctx, m.ChatID)
	case "projects":
		if args == "" {
			c.deps.Sessions.Expect(m.ChatID, session.AwaitingSearchQuery{})
			c.reply(ctx, m.ChatID, msgAskSearchQuery)
			return nil
		}
		return c.runSearch(ctx, m.ChatID, args)
	case "status":
		return c.cmdStatus(ctx, m.ChatID, m.UserID)
	case "clear":
		c.deps.Sessions.Clear(m.ChatID)
		c.reply(ctx, m.ChatID, msgCleared)
		return nil
	case "feedback":
		c.deps.Sessions.Expect(m.ChatID, session.AwaitingFeedback{})
		c.reply(ctx, m.ChatID, msgAskFeedback)
		return nil
	case "help", "start":
		c.reply(ctx, m.ChatID, msgHelp)
		return nil
	default:
		c.reply(ctx, m.ChatID, msgUnknownCommand)
		return nil
	}
}

// rootView lists the folders and jobs directly below the configured root.
func (c *Controller) rootView(ctx context.Context) (session.View, error) {
	folders, jobs, err := c.deps.Catalog.Children(ctx, c.cfg.Root)
	if err != nil {
		return session.View{}, apperrors.WrapRemote(err, "list root", msgCatalogFailed)
	}

	v := session.View{Kind: session.ViewFolders, Title: msgRootTitle}
	for _, f := range folders {
		v.Folders = append(v.Folders, session.Entry{Name: f.Name, Path: f.Path})
	}
	for _, j := range jobs {
		v.Jobs = append(v.Jobs, session.Entry{Name: j.Name, Path: j.Path})
	}
	return v, nil
}

func (c *Controller) cmdDeploy(ctx context.Context, chatID int64) error {
	v, err := c.rootView(ctx)
	if err != nil {
		return err
	}

	render, page := c.renderView(v)
	v.Page = page
	if _, err := c.send(ctx, chatID, render); err != nil {
		return err
	}
	c.deps.Sessions.SetView(chatID, v)
	return nil
}

// runSearch searches for query and renders the result into a progress
// message that is edited while the search runs.
func (c *Controller) runSearch(ctx context.Context, chatID int64, query string) error {
	msgID, err := c.send(ctx, chatID, func(*keyboardBuilder) chat.OutgoingMessage {
		return chat.OutgoingMessage{Text: fmt.Sprintf(msgSearching, query)}
	})
	if err != nil {
		return err
	}

	progress := make(chan catalog.Progress, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		throttle := rate.Sometimes{Interval: c.cfg.ProgressInterval}
		for p := range progress {
			throttle.Do(func() {
				err := c.deps.Transport.Edit(ctx, chatID, msgID, chat.OutgoingMessage{
					Text: fmt.Sprintf(msgSearchProgress, query, p.String()),
				})
				if err != nil {
					c.logger.Debug("Failed to edit search progress", zap.Int64("chat_id", chatID), zap.Error(err))
				}
			})
		}
	}()

	res, err := c.deps.Searcher.Search(ctx, c.cfg.SearchRoots, query, progress)
	close(progress)
	wg.Wait()

	if err != nil && (res == nil || ctx.Err() != nil) {
		c.editText(ctx, chatID, msgID, msgSearchFailed)
		return apperrors.WrapInternal(ctx, err, "search")
	}

	c.logger.Info("Search finished",
		zap.Int64("chat_id", chatID),
		zap.String("query", query),
		zap.Int("jobs", len(res.Jobs)),
		zap.Int("folders", len(res.Folders)),
		zap.Bool("partial", res.Partial),
		zap.Bool("cached", res.Cached),
	)

	v := searchView(res)
	render, page := c.renderView(v)
	v.Page = page
	if err := c.edit(ctx, chatID, msgID, render); err != nil {
		return err
	}
	c.deps.Sessions.SetView(chatID, v)
	return nil
}

func searchView(res *catalog.Result) session.View {
	v := session.View{Kind: session.ViewSearch, Title: fmt.Sprintf(msgSearchTitle, res.Query)}
	if res.Partial {
		v.Title += msgSearchPartial
	}
	for _, f := range res.Folders {
		v.Folders = append(v.Folders, session.Entry{Name: f.Path, Path: f.Path})
	}
	for _, j := range res.Jobs {
		v.Jobs = append(v.Jobs, session.Entry{Name: j.Path, Path: j.Path})
	}
	return v
}

func (c *Controller) cmdStatus(ctx context.Context, chatID, userID int64) error {
	jobs, err := c.deps.Store.ListScheduledByOwner(ctx, userID)
	if err != nil {
		return apperrors.WrapStore(err, "list schedules", msgGenericStore)
	}
	if len(jobs) == 0 {
		c.reply(ctx, chatID, msgNoSchedules)
		return nil
	}

	_, err = c.send(ctx, chatID, func(b *keyboardBuilder) chat.OutgoingMessage {
		kb := make(chat.Keyboard, 0, len(jobs))
		for _, j := range jobs {
			name := jenkins.BaseName(j.URL)
			kb = append(kb, chat.Row(
				chat.Button{Label: fmt.Sprintf("✏️ Sửa #%d %s", j.ID, name), Data: b.jobRef(cbSchedEdit, j.ID, j.URL)},
				chat.Button{Label: fmt.Sprintf("🗑 Xóa #%d", j.ID), Data: b.jobRef(cbSchedDelete, j.ID, j.URL)},
			))
		}
		return chat.OutgoingMessage{
			Text:     schedulesText(jobs, c.cfg.Location, c.cfg.ParameterName),
			Keyboard: kb,
		}
	})
	return err
}
