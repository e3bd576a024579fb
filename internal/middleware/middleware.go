package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/types"
)

type Middlewares struct {
	users     types.UserStore
	transport types.ChatTransport
}

func New(users types.UserStore, transport types.ChatTransport) *Middlewares {
	return &Middlewares{
		users:     users,
		transport: transport,
	}
}

// Sender extracts the user and chat of an update. Zero ids mean the update
// has no usable sender.
func Sender(update *models.Update) (userID, chatID int64) {
	switch {
	case update == nil:
		return 0, 0
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, update.Message.Chat.ID
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID, getChatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
	default:
		return 0, 0
	}
}

func getChatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}

// AuthMiddleware drops updates from users that are not whitelisted. They get
// a short notice; button presses get an alert instead.
func (m *Middlewares) AuthMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		userID, chatID := Sender(update)
		if userID == 0 || chatID == 0 {
			return
		}
		ctx = contextkeys.WithUserID(ctx, userID)
		ctx = contextkeys.WithChatID(ctx, chatID)
		log := logx.FromCtx(ctx)

		allowed, err := m.users.IsWhitelisted(userID)
		if err != nil {
			log.Error().Err(err).Msg("whitelist lookup failed")
			m.deny(ctx, update, chatID, messages.ErrorStorage())
			return
		}
		if !allowed {
			log.Warn().Int64("chat_id", chatID).Msg("unauthorized access attempt")
			if err := m.users.AddUser(userID, false); err != nil {
				log.Debug().Err(err).Msg("cannot record user")
			}
			if err := m.users.LogAction(types.LogLevelWarning, fmt.Sprintf("unauthorized access from user %d", userID)); err != nil {
				log.Debug().Err(err).Msg("action log write failed")
			}
			m.deny(ctx, update, chatID, messages.ErrorUnauthorized())
			return
		}
		next(ctx, b, update)
	}
}

func (m *Middlewares) deny(ctx context.Context, update *models.Update, chatID int64, text string) {
	if update.CallbackQuery != nil {
		_ = m.transport.AnswerCallback(ctx, update.CallbackQuery.ID, messages.ErrorUnauthorizedShort(), true)
		return
	}
	_, _ = m.transport.SendText(ctx, chatID, text, nil)
}

func (m *Middlewares) AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.CallbackQuery != nil {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
			ctx = contextkeys.WithCallbackID(ctx, update.CallbackQuery.ID)
			next(ctx, b, update)
			return
		}
		if update.Message != nil {
			ctx = contextkeys.WithMessageType(ctx, determineMessageType(update.Message))
		}
		next(ctx, b, update)
	}
}

func determineMessageType(msg *models.Message) contextkeys.MessageType {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/"):
		return contextkeys.MessageTypeCommand
	case text != "":
		return contextkeys.MessageTypeText
	case hasMedia(msg):
		return contextkeys.MessageTypeMedia
	default:
		return contextkeys.MessageTypeUnknown
	}
}

func hasMedia(msg *models.Message) bool {
	return len(msg.Photo) > 0 ||
		msg.Video != nil ||
		msg.Document != nil ||
		msg.Audio != nil ||
		msg.Voice != nil ||
		msg.Sticker != nil ||
		msg.VideoNote != nil ||
		msg.Animation != nil
}
