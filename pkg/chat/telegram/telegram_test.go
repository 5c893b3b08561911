package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/deploybot/pkg/chat"
)

func TestToInlineMarkupSkipsEmptyRows(t *testing.T) {
	kb := chat.Keyboard{
		chat.Row(chat.Button{Label: "Team-A", Data: "folder_1"}, chat.Button{Label: "Team-B", Data: "folder_2"}),
		{},
		chat.Row(chat.Button{Label: "Next", Data: "folderpage_1"}),
	}

	markup := toInlineMarkup(kb)
	require.Len(t, markup.InlineKeyboard, 2)
	require.Len(t, markup.InlineKeyboard[0], 2)

	btn := markup.InlineKeyboard[0][1]
	assert.Equal(t, "Team-B", btn.Text)
	require.NotNil(t, btn.CallbackData)
	assert.Equal(t, "folder_2", *btn.CallbackData)
}

func TestFromUpdateMessage(t *testing.T) {
	raw := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 12,
			Text:      "/deploy",
			Chat:      &tgbotapi.Chat{ID: 100},
			From:      &tgbotapi.User{ID: 7, UserName: "alice"},
		},
	}

	u, ok := fromUpdate(raw)
	require.True(t, ok)
	require.NotNil(t, u.Message)
	assert.Equal(t, int64(100), u.Message.ChatID)
	assert.Equal(t, int64(7), u.Message.UserID)
	assert.Equal(t, "alice", u.Message.UserName)
	assert.Equal(t, 12, u.Message.MessageID)
	assert.Equal(t, "/deploy", u.Message.Text)
}

func TestFromUpdateCallback(t *testing.T) {
	raw := tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			Data: "deploy_a1",
			From: &tgbotapi.User{ID: 7},
			Message: &tgbotapi.Message{
				MessageID: 40,
				Chat:      &tgbotapi.Chat{ID: 100},
			},
		},
	}

	u, ok := fromUpdate(raw)
	require.True(t, ok)
	require.NotNil(t, u.Callback)
	assert.Equal(t, "cb-1", u.Callback.ID)
	assert.Equal(t, int64(100), u.Callback.ChatID)
	assert.Equal(t, 40, u.Callback.MessageID)
	assert.Equal(t, "deploy_a1", u.Callback.Data)
}

func TestFromUpdateCallbackWithoutMessageFallsBackToUser(t *testing.T) {
	raw := tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb-2", From: &tgbotapi.User{ID: 9}},
	}

	u, ok := fromUpdate(raw)
	require.True(t, ok)
	assert.Equal(t, int64(9), u.Callback.ChatID)
}

func TestFromUpdateIgnoresOtherKinds(t *testing.T) {
	_, ok := fromUpdate(tgbotapi.Update{UpdateID: 3})
	assert.False(t, ok)
}

func TestIsNotModified(t *testing.T) {
	assert.True(t, isNotModified(errors.New("Bad Request: message is not modified: specified new message content")))
	assert.False(t, isNotModified(errors.New("Bad Request: chat not found")))
	assert.False(t, isNotModified(nil))
}
