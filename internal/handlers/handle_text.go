package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/orchestrator"
)

// HandleText hands free text to the conversation. Whether it is a URL, and
// whether one is expected, is decided there.
func (bh *Handlers) HandleText(ctx context.Context, update *models.Update, userID, chatID int64) {
	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}
	bh.dispatch(userID, chatID, 0, orchestrator.SubmitURL{Text: text})
}
