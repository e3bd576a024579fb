package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/utils"
	"github.com/BatmanBruc/bat-bot-video/types"
)

func menuKeyboard() *models.InlineKeyboardMarkup {
	return utils.BuildMenuKeyboard(formats.MenuButtons()...)
}

func settingsKeyboard(current string) *models.InlineKeyboardMarkup {
	buttons := append(formats.PresetButtons(current), formats.BackButton())
	return utils.BuildMenuKeyboard(buttons...)
}

func (bh *Handlers) sendHelp(ctx context.Context, chatID int64, messageID int) {
	text := formats.GetHelpMessage(bh.cfg.MaxFileSizeMB, bh.cfg.DefaultPreset)
	bh.showText(ctx, chatID, messageID, text, utils.BuildMenuKeyboard(formats.BackButton()))
}

func (bh *Handlers) sendSettings(ctx context.Context, userID, chatID int64, messageID int) {
	current := bh.currentPreset(ctx, userID)
	bh.showText(ctx, chatID, messageID, messages.Settings(current), settingsKeyboard(current))
}

func (bh *Handlers) currentPreset(ctx context.Context, userID int64) string {
	v, ok, err := bh.userStore.GetSetting(userID, types.SettingEncodingPreset)
	if err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Msg("cannot read preset")
	}
	if !ok || !formats.PresetExists(v) {
		return bh.cfg.DefaultPreset
	}
	return v
}
