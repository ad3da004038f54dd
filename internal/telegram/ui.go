package telegram

import (
	"fmt"
	"strconv"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"quotabot/internal/aimodel"
	"quotabot/internal/storage"
)

const cbModelPrefix = "qb:model:"

func modelMenuText() string {
	return "Select an AI model. The number is how many tokens you have left for it."
}

// modelMenuKeyboard renders one button per catalog model with the user's
// remaining balance for it; models without a grant show zero.
func modelMenuKeyboard(user storage.UserWithGrants) gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(aimodel.All()))
	for _, id := range aimodel.All() {
		label := fmt.Sprintf("%s — %s", aimodel.DisplayName(id), formatAmount(user.Grant(id)))
		if id == user.ActiveModel {
			label = "• " + label
		}
		rows = append(rows, []gotgbot.InlineKeyboardButton{
			{Text: label, CallbackData: cbModelPrefix + string(id)},
		})
	}
	return gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func formatAmount(g storage.TokenGrant) string {
	if g.Unlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(g.Amount, 10)
}
