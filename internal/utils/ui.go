package utils

import (
	"github.com/BatmanBruc/bat-bot-video/internal/formats"
	"github.com/go-telegram/bot/models"
)

// BuildInlineKeyboard lays buttons out three per row.
func BuildInlineKeyboard(buttons []formats.FormatButton) *models.InlineKeyboardMarkup {
	return BuildInlineKeyboardRows(buttons, 3)
}

// BuildMenuKeyboard puts every button on its own row.
func BuildMenuKeyboard(buttons ...formats.FormatButton) *models.InlineKeyboardMarkup {
	return BuildInlineKeyboardRows(buttons, 1)
}

func BuildInlineKeyboardRows(buttons []formats.FormatButton, perRow int) *models.InlineKeyboardMarkup {
	if perRow <= 0 {
		perRow = 1
	}
	pad := func(s string) string { return " " + s + " " }
	rows := make([][]models.InlineKeyboardButton, 0)
	row := make([]models.InlineKeyboardButton, 0, perRow)
	for i, button := range buttons {
		if i > 0 && i%perRow == 0 {
			rows = append(rows, row)
			row = make([]models.InlineKeyboardButton, 0, perRow)
		}
		row = append(row, models.InlineKeyboardButton{
			Text:         pad(button.Text),
			CallbackData: button.CallbackData,
		})
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}
