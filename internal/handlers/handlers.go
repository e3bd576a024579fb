package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/middleware"
	"github.com/BatmanBruc/bat-bot-video/internal/orchestrator"
	"github.com/BatmanBruc/bat-bot-video/types"
)

// Dispatcher runs conversation events off the update goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, req orchestrator.Request)
}

type Config struct {
	MaxFileSizeMB int
	DefaultPreset string
}

type Handlers struct {
	transport types.ChatTransport
	userStore types.UserStore
	flow      Dispatcher
	cfg       Config
	// base outlives single updates; dispatched work must not be cancelled
	// when the update handler returns.
	base context.Context
}

func NewHandlers(base context.Context, transport types.ChatTransport, userStore types.UserStore, flow Dispatcher, cfg Config) *Handlers {
	return &Handlers{
		transport: transport,
		userStore: userStore,
		flow:      flow,
		cfg:       cfg,
		base:      base,
	}
}

func (bh *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	userID, chatID := middleware.Sender(update)
	if userID == 0 || chatID == 0 {
		return
	}
	messageType, _ := contextkeys.GetMessageType(ctx)

	switch messageType {
	case contextkeys.MessageTypeCommand:
		bh.HandleCommand(ctx, update, userID, chatID)
	case contextkeys.MessageTypeText:
		bh.HandleText(ctx, update, userID, chatID)
	case contextkeys.MessageTypeClickButton:
		bh.HandleClickButton(ctx, update, userID, chatID)
	default:
		logx.FromCtx(ctx).Debug().Str("type", string(messageType)).Msg("unsupported message")
		bh.sendText(ctx, chatID, messages.ErrorUnsupportedMessageType(), nil)
	}
}

func (bh *Handlers) dispatch(userID, chatID int64, messageID int, ev orchestrator.Event) {
	bh.flow.Dispatch(bh.base, orchestrator.Request{
		UserID:    userID,
		ChatID:    chatID,
		MessageID: messageID,
		Event:     ev,
	})
}

func (bh *Handlers) sendText(ctx context.Context, chatID int64, text string, kb *models.InlineKeyboardMarkup) {
	if _, err := bh.transport.SendText(ctx, chatID, text, kb); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("send message failed")
	}
}

// showText edits messageID in place, sending a new message when that fails.
func (bh *Handlers) showText(ctx context.Context, chatID int64, messageID int, text string, kb *models.InlineKeyboardMarkup) {
	if messageID != 0 {
		if err := bh.transport.EditText(ctx, chatID, messageID, text, kb); err == nil {
			return
		}
	}
	bh.sendText(ctx, chatID, text, kb)
}
