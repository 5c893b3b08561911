package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/paginate"
	"github.com/3leaps/deploybot/pkg/session"
	"github.com/3leaps/deploybot/pkg/shortref"
)

// Callback data prefixes.
const (
	cbFolder      = "folder_"
	cbFolderPage  = "folderpage_"
	cbPage        = "page_"
	cbDeploy      = "deploy_"
	cbConfirmYes  = "confirm_job_yes_"
	cbConfirmVer  = "confirm_job_ver_"
	cbConfirmSch  = "confirm_job_sched_"
	cbConfirmNo   = "confirm_job_no_"
	cbSchedEdit   = "sched_edit_"
	cbSchedDelete = "sched_del_"
	cbSearchAgain = "search_again"
	cbHome        = "home"
	cbNoop        = "noop"
)

// keyboardBuilder interns button targets under one message scope.
type keyboardBuilder struct {
	refs  *shortref.Map
	scope string
	err   error
}

// ref returns prefix followed by a token standing for value.
func (b *keyboardBuilder) ref(prefix, value string) string {
	if b.err != nil {
		return cbNoop
	}
	token, err := b.refs.Intern(b.scope, value)
	if err != nil {
		b.err = err
		return cbNoop
	}
	return prefix + token
}

// jobRef returns prefix followed by id and a token standing for the job path.
// The path lets a press detect that id now names a different job.
func (b *keyboardBuilder) jobRef(prefix string, id int64, path string) string {
	return b.ref(fmt.Sprintf("%s%d_", prefix, id), path)
}

type renderFunc func(b *keyboardBuilder) chat.OutgoingMessage

// reply sends plain text and logs a failed send.
func (c *Controller) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := c.deps.Transport.Send(ctx, chatID, chat.OutgoingMessage{Text: text}); err != nil {
		c.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// send renders a new message. Tokens are interned under a provisional scope
// and moved to the message scope once the message id is known.
func (c *Controller) send(ctx context.Context, chatID int64, render renderFunc) (int, error) {
	b := &keyboardBuilder{refs: c.deps.Refs, scope: "pending:" + uuid.NewString()}
	msg := render(b)
	if b.err != nil {
		c.deps.Refs.ReleaseScope(b.scope)
		return 0, apperrors.WrapInternal(ctx, b.err, "render keyboard")
	}

	id, err := c.deps.Transport.Send(ctx, chatID, msg)
	if err != nil {
		c.deps.Refs.ReleaseScope(b.scope)
		return 0, apperrors.WrapRemote(err, "send message", "")
	}
	c.deps.Refs.RenameScope(b.scope, chat.MessageScope(chatID, id))
	return id, nil
}

// edit re-renders messageID. Tokens of the replaced content are released
// first.
func (c *Controller) edit(ctx context.Context, chatID int64, messageID int, render renderFunc) error {
	scope := chat.MessageScope(chatID, messageID)
	released := c.deps.Refs.ReleaseScope(scope)

	b := &keyboardBuilder{refs: c.deps.Refs, scope: scope}
	msg := render(b)
	if b.err != nil {
		c.deps.Refs.ReleaseScope(scope)
		return apperrors.WrapInternal(ctx, b.err, "render keyboard")
	}

	if err := c.deps.Transport.Edit(ctx, chatID, messageID, msg); err != nil {
		c.deps.Refs.ReleaseScope(scope)
		return apperrors.WrapRemote(err, "edit message", "")
	}

	c.logger.Debug("Message re-rendered",
		zap.Int64("chat_id", chatID),
		zap.Int("message_id", messageID),
		zap.Int("released_refs", released),
	)
	return nil
}

// editText replaces messageID with text and no keyboard. Failures are logged.
func (c *Controller) editText(ctx context.Context, chatID int64, messageID int, text string) {
	err := c.edit(ctx, chatID, messageID, func(*keyboardBuilder) chat.OutgoingMessage {
		return chat.OutgoingMessage{Text: text}
	})
	if err != nil {
		c.logger.Warn("Failed to edit message",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
	}
}

// remove deletes messageID and releases its tokens, then sends text. When the
// platform refuses the delete the message is replaced by text instead.
func (c *Controller) remove(ctx context.Context, chatID int64, messageID int, text string) {
	c.deps.Refs.ReleaseScope(chat.MessageScope(chatID, messageID))
	if err := c.deps.Transport.Delete(ctx, chatID, messageID); err != nil {
		c.logger.Debug("Failed to delete message, editing instead",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
		c.editText(ctx, chatID, messageID, text)
		return
	}
	c.reply(ctx, chatID, text)
}

// listItem is one row of a paginated view.
type listItem struct {
	entry  session.Entry
	folder bool
}

func viewItems(v session.View) []listItem {
	items := make([]listItem, 0, len(v.Folders)+len(v.Jobs))
	for _, f := range v.Folders {
		items = append(items, listItem{entry: f, folder: true})
	}
	for _, j := range v.Jobs {
		items = append(items, listItem{entry: j})
	}
	return items
}

// renderView renders page v.Page of v. It returns the clamped page.
func (c *Controller) renderView(v session.View) (renderFunc, int) {
	items := viewItems(v)
	window, page, total := paginate.Window(items, v.Page, c.cfg.PageSize)

	navPrefix := cbPage
	if v.Kind == session.ViewFolders {
		navPrefix = cbFolderPage
	}

	return func(b *keyboardBuilder) chat.OutgoingMessage {
		var text strings.Builder
		text.WriteString(v.Title)
		if total > 1 {
			text.WriteString(" ")
			text.WriteString(paginate.Header(page, total))
		}

		var kb chat.Keyboard
		if len(items) == 0 {
			text.WriteString("\n")
			if v.Kind == session.ViewSearch {
				text.WriteString(msgNoResults)
			} else {
				text.WriteString(msgEmptyFolder)
			}
		}

		for _, it := range window {
			if it.folder {
				kb = append(kb, chat.Row(chat.Button{Label: "📁 " + it.entry.Name, Data: b.ref(cbFolder, it.entry.Path)}))
				continue
			}
			kb = append(kb, chat.Row(chat.Button{Label: "🚀 " + it.entry.Name, Data: b.ref(cbDeploy, it.entry.Path)}))
		}
		if nav := paginate.NavRow(navPrefix, page, total); len(nav) > 0 {
			kb = append(kb, nav)
		}

		switch v.Kind {
		case session.ViewJobs:
			kb = append(kb, chat.Row(chat.Button{Label: "🏠 Về danh sách thư mục", Data: cbHome}))
		case session.ViewSearch:
			kb = append(kb, chat.Row(chat.Button{Label: "🔍 Tìm lại", Data: cbSearchAgain}))
		}

		return chat.OutgoingMessage{Text: text.String(), Keyboard: kb}
	}, page
}

// confirmMessage renders the deploy confirmation of job id.
func (c *Controller) confirmMessage(id int64, path string) renderFunc {
	parameterized := c.isParameterized(path)
	return func(b *keyboardBuilder) chat.OutgoingMessage {
		row := chat.Row(
			chat.Button{Label: "✅ Đồng ý", Data: b.jobRef(cbConfirmYes, id, path)},
			chat.Button{Label: "⏰ Lên lịch", Data: b.jobRef(cbConfirmSch, id, path)},
		)
		kb := chat.Keyboard{row}
		if parameterized {
			kb = append(kb, chat.Row(chat.Button{Label: "🏷 Nhập " + c.cfg.ParameterName, Data: b.jobRef(cbConfirmVer, id, path)}))
		}
		kb = append(kb, chat.Row(chat.Button{Label: "❌ Hủy", Data: b.jobRef(cbConfirmNo, id, path)}))
		return chat.OutgoingMessage{Text: fmt.Sprintf(msgConfirmDeploy, path), Keyboard: kb}
	}
}
