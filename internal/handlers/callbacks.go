package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-video/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/internal/orchestrator"
	"github.com/BatmanBruc/bat-bot-video/types"
)

// HandleClickButton answers every button press, then routes it by its
// callback data.
func (bh *Handlers) HandleClickButton(ctx context.Context, update *models.Update, userID, chatID int64) {
	if update.CallbackQuery == nil {
		return
	}
	cq := update.CallbackQuery
	data, _ := contextkeys.GetCallbackData(ctx)
	if data == "" {
		data = cq.Data
	}
	data = strings.TrimSpace(data)
	messageID := 0
	if cq.Message.Message != nil {
		messageID = cq.Message.Message.ID
	}

	if name, ok := formats.ParsePresetCallback(data); ok {
		bh.selectPreset(ctx, cq.ID, userID, chatID, messageID, name)
		return
	}
	_ = bh.answerCallback(ctx, cq.ID, "")

	switch data {
	case formats.CallbackDownload:
		bh.dispatch(userID, chatID, messageID, orchestrator.StartDownload{})
		return
	case formats.CallbackBack:
		bh.dispatch(userID, chatID, messageID, orchestrator.Cancel{})
		return
	case formats.CallbackHelp:
		bh.sendHelp(ctx, chatID, messageID)
		return
	case formats.CallbackSettings:
		bh.sendSettings(ctx, userID, chatID, messageID)
		return
	case formats.CallbackConfirmYes:
		bh.dispatch(userID, chatID, messageID, orchestrator.Confirm{Yes: true})
		return
	case formats.CallbackConfirmNo:
		bh.dispatch(userID, chatID, messageID, orchestrator.Confirm{Yes: false})
		return
	}

	if height, skip, ok := formats.ParseQualityCallback(data); ok {
		if skip {
			bh.dispatch(userID, chatID, messageID, orchestrator.SkipQuality{})
		} else {
			bh.dispatch(userID, chatID, messageID, orchestrator.ChooseQuality{Height: height})
		}
		return
	}

	logx.FromCtx(ctx).Warn().Str("data", data).Msg("unknown callback data")
	bh.sendText(ctx, chatID, messages.ErrorInvalidState(), nil)
}

func (bh *Handlers) selectPreset(ctx context.Context, callbackID string, userID, chatID int64, messageID int, name string) {
	if err := bh.userStore.SetSetting(userID, types.SettingEncodingPreset, name); err != nil {
		logx.FromCtx(ctx).Error().Err(err).Str("preset", name).Msg("cannot save preset")
		_ = bh.answerCallback(ctx, callbackID, "")
		bh.sendText(ctx, chatID, messages.ErrorStorage(), nil)
		return
	}
	logx.FromCtx(ctx).Info().Str("preset", name).Msg("preset changed")
	_ = bh.answerCallback(ctx, callbackID, messages.PresetSaved(name))
	bh.showText(ctx, chatID, messageID, messages.Settings(name), settingsKeyboard(name))
}

func (bh *Handlers) answerCallback(ctx context.Context, callbackID, text string) error {
	err := bh.transport.AnswerCallback(ctx, callbackID, text, false)
	if err != nil {
		logx.FromCtx(ctx).Debug().Err(err).Msg("answer callback failed")
	}
	return err
}
