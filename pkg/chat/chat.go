// Package chat defines the chat transport contract consumed by the dialogue
// controller.
//
// The transport is a thin I/O collaborator: it sends, edits and deletes text
// messages carrying optional inline keyboards, delivers inbound messages and
// callback queries, and answers callback queries.
package chat

import (
	"context"
	"strconv"
)

// MaxCallbackData is the hard ceiling on a button's callback payload in bytes.
const MaxCallbackData = 64

// Button is an inline keyboard button. Data is the only channel back into the
// system when the button is pressed.
type Button struct {
	Label string
	Data  string
}

// Keyboard is an inline keyboard laid out as rows of buttons.
type Keyboard [][]Button

// Empty reports whether the keyboard has no buttons.
func (k Keyboard) Empty() bool {
	for _, row := range k {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// Row builds a single keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// OutgoingMessage is a message rendered by the system.
type OutgoingMessage struct {
	Text     string
	Keyboard Keyboard
}

// Message is an inbound text message.
type Message struct {
	ChatID    int64
	UserID    int64
	UserName  string
	MessageID int
	Text      string
}

// Callback is an inbound callback query produced by a keyboard button press.
type Callback struct {
	ID        string
	ChatID    int64
	UserID    int64
	UserName  string
	MessageID int
	Data      string
}

// Update is a single inbound event. Exactly one field is set.
type Update struct {
	Message  *Message
	Callback *Callback
}

// ChatID returns the chat the update belongs to.
func (u Update) ChatID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.ChatID
	case u.Callback != nil:
		return u.Callback.ChatID
	default:
		return 0
	}
}

// Sender delivers messages to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, msg OutgoingMessage) (int, error)
}

// Transport is the full chat surface used by the dialogue controller.
type Transport interface {
	Sender

	// Edit replaces text and keyboard of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, msg OutgoingMessage) error

	// Delete removes a previously sent message.
	Delete(ctx context.Context, chatID int64, messageID int) error

	// AnswerCallback clears the pending indicator of a callback query.
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// MessageScope identifies a rendered message; keyboard tokens are scoped to it.
func MessageScope(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}
