package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/rs/zerolog"

	"quotabot/internal/limiter"
	"quotabot/internal/metrics"
	"quotabot/internal/session"
)

// Service wires bot commands, text messages and model-menu callbacks to the
// session coordinator.
type Service struct {
	sessions    *session.Coordinator
	rate        *limiter.RateLimiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	turnTimeout time.Duration
}

type Config struct {
	Sessions    *session.Coordinator
	RateLimiter *limiter.RateLimiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	// TurnTimeout bounds one full streamed turn, including retries.
	TurnTimeout time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	return &Service{
		sessions:    cfg.Sessions,
		rate:        cfg.RateLimiter,
		logger:      cfg.Logger,
		metrics:     m,
		turnTimeout: cfg.TurnTimeout,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.onStart))
	d.AddHandler(handlers.NewCommand("setmodel", s.onSetModel))
	d.AddHandler(handlers.NewCommand("newchat", s.onNewChat))
	d.AddHandler(handlers.NewCommand("help", s.onHelp))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbModelPrefix), s.onModelSelected))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg) && !strings.HasPrefix(msg.Text, "/")
	}, s.onText))
}

// SetupCommands publishes the command list shown in the Telegram client menu.
func SetupCommands(b *gotgbot.Bot) error {
	_, err := b.SetMyCommands([]gotgbot.BotCommand{
		{Command: "setmodel", Description: "Choose the AI model"},
		{Command: "newchat", Description: "Start the conversation over"},
		{Command: "help", Description: "How the bot works"},
	}, nil)
	if err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}
	return nil
}

func reply(b *gotgbot.Bot, ctx *ext.Context, text string) error {
	_, err := ctx.EffectiveMessage.Reply(b, text, nil)
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func externalID(ctx *ext.Context) string {
	return fmt.Sprintf("%d", ctx.EffectiveUser.Id)
}

func displayName(u *gotgbot.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fmt.Sprintf("user-%d", u.Id)
	}
	return name
}
