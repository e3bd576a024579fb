package types

import (
	"context"

	"github.com/go-telegram/bot/models"
)

// ChatTransport delivers bot output to a chat. Every call may fail; callers
// decide whether a failure is fatal.
type ChatTransport interface {
	SendText(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, keyboard *models.InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendVideo(ctx context.Context, chatID int64, filePath, caption string, durationSeconds int) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
