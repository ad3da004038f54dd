package telegram

import (
	"context"
	"fmt"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"quotabot/internal/session"
)

// botTransport adapts the gotgbot API to the chat platform capability the
// session coordinator consumes.
type botTransport struct {
	bot *gotgbot.Bot
}

func NewTransport(bot *gotgbot.Bot) session.Transport {
	return &botTransport{bot: bot}
}

func (t *botTransport) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	msg, err := t.bot.SendMessageWithContext(ctx, chatID, text, nil)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return msg.MessageId, nil
}

func (t *botTransport) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	_, _, err := t.bot.EditMessageTextWithContext(ctx, text, &gotgbot.EditMessageTextOpts{
		ChatId:    chatID,
		MessageId: messageID,
	})
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *botTransport) SendTyping(ctx context.Context, chatID int64) error {
	_, err := t.bot.SendChatActionWithContext(ctx, chatID, "typing", nil)
	if err != nil {
		return fmt.Errorf("send typing action: %w", err)
	}
	return nil
}
