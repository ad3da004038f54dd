package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"quotabot/internal/aimodel"
	"quotabot/internal/session"
)

const helpText = `I stream AI replies into the chat as they are generated.

/setmodel - choose the AI model
/newchat - start the conversation over
/help - this message

Each reply costs tokens from your per-model balance; when a model runs dry, switch to another one.`

func (s *Service) onStart(b *gotgbot.Bot, ctx *ext.Context) error {
	user, err := s.sessions.GetOrCreateUser(context.Background(), externalID(ctx), displayName(ctx.EffectiveUser))
	if err != nil {
		return err
	}
	_, err = ctx.EffectiveMessage.Reply(b, modelMenuText(), &gotgbot.SendMessageOpts{
		ReplyMarkup: modelMenuKeyboard(user),
	})
	if err != nil {
		return fmt.Errorf("send model menu: %w", err)
	}
	return nil
}

func (s *Service) onSetModel(b *gotgbot.Bot, ctx *ext.Context) error {
	user, err := s.sessions.GetUser(context.Background(), externalID(ctx))
	if err != nil {
		return err
	}
	_, err = ctx.EffectiveMessage.Reply(b, modelMenuText(), &gotgbot.SendMessageOpts{
		ReplyMarkup: modelMenuKeyboard(user),
	})
	if err != nil {
		return fmt.Errorf("send model menu: %w", err)
	}
	return nil
}

func (s *Service) onNewChat(b *gotgbot.Bot, ctx *ext.Context) error {
	if err := s.sessions.StartNewChat(context.Background(), externalID(ctx)); err != nil {
		return err
	}
	return reply(b, ctx, "Started a new chat. Previous messages are no longer part of the conversation.")
}

func (s *Service) onHelp(b *gotgbot.Bot, ctx *ext.Context) error {
	return reply(b, ctx, helpText)
}

func (s *Service) onText(b *gotgbot.Bot, ctx *ext.Context) error {
	if s.rate != nil {
		allowed, used, resetAt, err := s.rate.Allow(context.Background(), ctx.EffectiveUser.Id, time.Now().UTC())
		if err != nil {
			s.logger.Warn().Err(err).Msg("rate limiter unavailable, letting the turn through")
		} else if !allowed {
			s.logger.Info().
				Int64("user_id", ctx.EffectiveUser.Id).
				Int64("used", used).
				Msg("turn rejected by rate limiter")
			wait := time.Until(resetAt).Round(time.Minute)
			return reply(b, ctx, fmt.Sprintf("Too many messages. Try again in about %s.", wait))
		}
	}

	turnCtx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	defer cancel()

	res, err := s.sessions.RunTurn(turnCtx, session.TurnRequest{
		ChatID:         ctx.EffectiveChat.Id,
		ExternalUserID: externalID(ctx),
		Text:           ctx.EffectiveMessage.Text,
	})
	if err != nil {
		return fmt.Errorf("run turn: %w", err)
	}
	if res.Status == session.TurnQuotaDenied {
		return reply(b, ctx, fmt.Sprintf(
			"You are out of tokens for %s. Pick another model with /setmodel.",
			aimodel.DisplayName(res.Model),
		))
	}
	return nil
}
