package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/messages"
)

// API is the subset of *bot.Bot the transport needs.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

var ErrNoMessage = errors.New("telegram returned no message")

// Transport sends bot output through the Telegram Bot API. All text is sent
// in HTML parse mode.
type Transport struct {
	api API
}

func NewTransport(api API) *Transport {
	return &Transport{api: api}
}

func (t *Transport) SendText(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (int, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	msg, err := t.api.SendMessage(ctx, params)
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, ErrNoMessage
	}
	return msg.ID, nil
}

// EditText replaces a message's text and keyboard. A nil keyboard removes
// the buttons. Editing to identical content is not an error.
func (t *Transport) EditText(ctx context.Context, chatID int64, messageID int, text string, keyboard *models.InlineKeyboardMarkup) error {
	if keyboard == nil {
		keyboard = &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}}
	}
	_, err := t.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: keyboard,
	})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		return nil
	}
	return err
}

func (t *Transport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

// SendVideo uploads the file at filePath as a streamable video.
func (t *Transport) SendVideo(ctx context.Context, chatID int64, filePath, caption string, durationSeconds int) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	params := &bot.SendVideoParams{
		ChatID: chatID,
		Video: &models.InputFileUpload{
			Filename: filepath.Base(filePath),
			Data:     f,
		},
		Caption:           caption,
		ParseMode:         messages.ParseModeHTML,
		SupportsStreaming: true,
	}
	if durationSeconds > 0 {
		params.Duration = durationSeconds
	}
	msg, err := t.api.SendVideo(ctx, params)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNoMessage
	}
	return nil
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	_, err := t.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	return err
}
