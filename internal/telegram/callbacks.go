package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"quotabot/internal/aimodel"
	"quotabot/internal/session"
)

func (s *Service) onModelSelected(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	model := aimodel.ID(strings.TrimPrefix(strings.TrimSpace(ctx.CallbackQuery.Data), cbModelPrefix))

	res, err := s.sessions.SwitchModel(context.Background(), externalID(ctx), model)
	if err != nil {
		s.answerCallback(b, ctx, "Could not switch the model, try again.", true)
		return err
	}

	switch res.Status {
	case session.SwitchAlreadyActive:
		s.answerCallback(b, ctx, "", false)
		return s.editCallbackMessage(ctx, b,
			fmt.Sprintf("%s is already the selected model.", aimodel.DisplayName(res.Model)))
	case session.SwitchNoQuota:
		s.answerCallback(b, ctx,
			fmt.Sprintf("No tokens left for %s.", aimodel.DisplayName(res.Model)), true)
		return nil
	default:
		s.answerCallback(b, ctx, "", false)
		return s.editCallbackMessage(ctx, b,
			fmt.Sprintf("You chose %s.", aimodel.DisplayName(res.Model)))
	}
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

// editCallbackMessage replaces the menu message, dropping its keyboard so the
// model cannot be re-picked from a stale menu.
func (s *Service) editCallbackMessage(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx == nil || ctx.CallbackQuery == nil || ctx.CallbackQuery.Message == nil {
		return nil
	}
	_, _, err := ctx.CallbackQuery.Message.EditText(b, text, &gotgbot.EditMessageTextOpts{})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		return fmt.Errorf("edit menu message: %w", err)
	}
	return nil
}
