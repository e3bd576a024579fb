package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/orchestrator"
)

func (bh *Handlers) HandleCommand(ctx context.Context, update *models.Update, userID, chatID int64) {
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if strings.Contains(cmd, "@") {
		cmd = strings.SplitN(cmd, "@", 2)[0]
	}

	switch strings.ToLower(cmd) {
	case "/start":
		bh.sendText(ctx, chatID, messages.StartWelcome(), menuKeyboard())
	case "/help":
		bh.sendHelp(ctx, chatID, 0)
	case "/settings":
		bh.sendSettings(ctx, userID, chatID, 0)
	case "/cancel":
		bh.dispatch(userID, chatID, 0, orchestrator.Cancel{})
	default:
		bh.sendText(ctx, chatID, messages.ErrorUnknownCommand(), nil)
	}
}
