// Package session implements the conversation session coordinator: resolving
// the context window for a turn, gating it on token quota, streaming the AI
// response back as a throttled edited message, and committing model switches.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quotabot/internal/aimodel"
	"quotabot/internal/metrics"
	"quotabot/internal/providers"
	"quotabot/internal/storage"
)

// Store is the persistence capability consumed by the coordinator. All calls
// are atomic at single-row granularity; no cross-row transactions are assumed.
type Store interface {
	GetUserWithGrants(ctx context.Context, externalID string) (storage.UserWithGrants, error)
	CreateUser(ctx context.Context, profile storage.NewUser, seeds []storage.GrantSeed) (storage.UserWithGrants, error)
	SetActiveModel(ctx context.Context, userID int64, model aimodel.ID) error
	EnsureGrant(ctx context.Context, userID int64, model aimodel.ID, amount int64) (storage.TokenGrant, error)
	GrantAmount(ctx context.Context, userID int64, model aimodel.ID) (int64, error)
	DebitGrant(ctx context.Context, userID int64, model aimodel.ID, amount int64) error
	SaveTurn(ctx context.Context, t storage.Turn) (int64, error)
	FindTurns(ctx context.Context, userID int64) ([]storage.Turn, error)
	TombstoneTurns(ctx context.Context, userID int64, cutoff time.Time) error
}

// Transport is the chat platform capability. Every call is a network call
// that may fail independently.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (messageID int64, err error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// StreamerSource resolves the streaming client for a catalog model.
type StreamerSource interface {
	ForModel(id aimodel.ID) (providers.Streamer, error)
}

type Config struct {
	EditInterval   time.Duration
	TypingInterval time.Duration
	NewChatOffset  time.Duration
	MaxTokens      int
	Placeholder    string
}

type Coordinator struct {
	store     Store
	streams   StreamerSource
	transport Transport
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	cfg       Config
	now       func() time.Time
}

func NewCoordinator(store Store, streams StreamerSource, transport Transport, m *metrics.Metrics, logger zerolog.Logger, cfg Config) *Coordinator {
	if m == nil {
		m = metrics.Global()
	}
	if cfg.EditInterval <= 0 {
		cfg.EditInterval = 500 * time.Millisecond
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = 6 * time.Second
	}
	if cfg.NewChatOffset <= 0 {
		cfg.NewChatOffset = 2 * time.Hour
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = "..."
	}
	return &Coordinator{
		store:     store,
		streams:   streams,
		transport: transport,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type TurnStatus int

const (
	TurnCompleted TurnStatus = iota
	TurnQuotaDenied
)

type TurnRequest struct {
	ChatID         int64
	ExternalUserID string
	Text           string
}

type TurnResult struct {
	Status     TurnStatus
	Model      aimodel.ID
	UsedTokens int64
}

// RunTurn executes one full conversation turn: quota gate, placeholder
// message, heartbeat, history resolution, throttled streaming, persistence
// and post-paid debit. Quota exhaustion is a normal outcome, not an error.
func (c *Coordinator) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	log := c.logger.With().
		Str("turn_id", uuid.NewString()).
		Str("external_user_id", req.ExternalUserID).
		Logger()

	user, err := c.store.GetUserWithGrants(ctx, req.ExternalUserID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load user %s: %w", req.ExternalUserID, err)
	}

	model := user.ActiveModel
	if user.Grant(model).Amount <= 0 {
		c.metrics.QuotaDenied.Inc()
		log.Info().Str("model", string(model)).Msg("turn denied: token grant exhausted")
		return TurnResult{Status: TurnQuotaDenied, Model: model}, nil
	}

	streamer, err := c.streams.ForModel(model)
	if err != nil {
		return TurnResult{}, fmt.Errorf("resolve streamer: %w", err)
	}
	c.metrics.TurnsStarted.Inc()

	placeholderID, err := c.transport.SendMessage(ctx, req.ChatID, c.cfg.Placeholder)
	if err != nil {
		return TurnResult{}, fmt.Errorf("send placeholder message: %w", err)
	}

	hb := StartHeartbeat(ctx, c.cfg.TypingInterval, func(hctx context.Context) error {
		return c.transport.SendTyping(hctx, req.ChatID)
	}, log)
	defer hb.Stop()

	turns, err := c.store.FindTurns(ctx, user.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("resolve history window: %w", err)
	}

	// The user turn persists concurrently with the stream; the turn reports
	// complete only after both writes land.
	userTurn := storage.Turn{
		UserID: user.ID,
		Role:   storage.RoleUser,
		Text:   req.Text,
		Model:  model,
		SentAt: c.now(),
	}
	userSaved := make(chan error, 1)
	go func() {
		_, err := c.store.SaveTurn(context.WithoutCancel(ctx), userTurn)
		userSaved <- err
	}()

	throttle := NewThrottle(ctx, c.cfg.EditInterval, func(ectx context.Context, text string) error {
		if err := c.transport.EditMessageText(ectx, req.ChatID, placeholderID, text); err != nil {
			return err
		}
		c.metrics.StreamEdits.Inc()
		return nil
	}, func(err error) {
		c.metrics.EditFailures.Inc()
		log.Warn().Err(err).Msg("outbound message edit failed")
	})

	res, streamErr := streamer.Stream(ctx, providers.StreamRequest{
		Model:      aimodel.APIVersion(model),
		Messages:   contextWindow(turns, req.Text),
		MaxTokens:  c.cfg.MaxTokens,
		OnSnapshot: throttle.Publish,
	})

	hb.Stop()

	if streamErr != nil {
		throttle.Cancel()
		if err := <-userSaved; err != nil {
			log.Error().Err(err).Msg("failed to persist user turn")
		}
		c.metrics.TurnsFailed.Inc()
		return TurnResult{}, fmt.Errorf("stream generation: %w", streamErr)
	}

	throttle.Finalize(res.Text)

	assistantTurn := storage.Turn{
		UserID:     user.ID,
		Role:       storage.RoleAssistant,
		Text:       res.Text,
		Model:      model,
		UsedTokens: &res.UsedTokens,
		SentAt:     c.now(),
	}
	_, assistantErr := c.store.SaveTurn(ctx, assistantTurn)
	userErr := <-userSaved
	if err := errors.Join(userErr, assistantErr); err != nil {
		c.metrics.TurnsFailed.Inc()
		return TurnResult{}, fmt.Errorf("persist turn: %w", err)
	}

	if err := c.store.DebitGrant(ctx, user.ID, model, res.UsedTokens); err != nil {
		c.metrics.TurnsFailed.Inc()
		return TurnResult{}, fmt.Errorf("debit token grant: %w", err)
	}

	c.metrics.TurnsCompleted.Inc()
	c.metrics.TokensSpent.Add(float64(res.UsedTokens))
	log.Info().
		Str("model", string(model)).
		Int64("used_tokens", res.UsedTokens).
		Msg("turn completed")

	return TurnResult{Status: TurnCompleted, Model: model, UsedTokens: res.UsedTokens}, nil
}

type SwitchStatus int

const (
	SwitchCommitted SwitchStatus = iota
	SwitchAlreadyActive
	SwitchNoQuota
)

type SwitchResult struct {
	Status    SwitchStatus
	Model     aimodel.ID
	Remaining int64
}

// SwitchModel validates and commits a request to change the active model.
// Selecting the active model or a model with no remaining quota changes
// nothing and persists nothing.
func (c *Coordinator) SwitchModel(ctx context.Context, externalUserID string, model aimodel.ID) (SwitchResult, error) {
	if !aimodel.Valid(model) {
		return SwitchResult{}, fmt.Errorf("unknown model %q", model)
	}
	user, err := c.store.GetUserWithGrants(ctx, externalUserID)
	if err != nil {
		return SwitchResult{}, fmt.Errorf("load user %s: %w", externalUserID, err)
	}
	if user.ActiveModel == model {
		return SwitchResult{Status: SwitchAlreadyActive, Model: model}, nil
	}
	grant := user.Grant(model)
	if grant.Amount <= 0 {
		return SwitchResult{Status: SwitchNoQuota, Model: model}, nil
	}
	if err := c.store.SetActiveModel(ctx, user.ID, model); err != nil {
		return SwitchResult{}, fmt.Errorf("commit model switch: %w", err)
	}
	c.metrics.ModelSwitches.Inc()
	c.logger.Info().
		Str("external_user_id", externalUserID).
		Str("model", string(model)).
		Msg("active model switched")
	return SwitchResult{Status: SwitchCommitted, Model: model, Remaining: grant.Amount}, nil
}

// GetOrCreateUser loads a user by external id, creating one with the default
// model and its default grant on first contact.
func (c *Coordinator) GetOrCreateUser(ctx context.Context, externalID, name string) (storage.UserWithGrants, error) {
	user, err := c.store.GetUserWithGrants(ctx, externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.UserWithGrants{}, fmt.Errorf("load user %s: %w", externalID, err)
	}

	user, err = c.store.CreateUser(ctx, storage.NewUser{
		ExternalID:  externalID,
		Name:        name,
		ActiveModel: aimodel.Default,
	}, []storage.GrantSeed{{Model: aimodel.Default, Amount: aimodel.DefaultGrant}})
	if err != nil {
		return storage.UserWithGrants{}, fmt.Errorf("create user %s: %w", externalID, err)
	}
	c.logger.Info().Str("external_user_id", externalID).Msg("user created")
	return user, nil
}

// GetUser loads a user that must already exist.
func (c *Coordinator) GetUser(ctx context.Context, externalID string) (storage.UserWithGrants, error) {
	user, err := c.store.GetUserWithGrants(ctx, externalID)
	if err != nil {
		return storage.UserWithGrants{}, fmt.Errorf("load user %s: %w", externalID, err)
	}
	return user, nil
}

// StartNewChat resets the conversational context by tombstoning all history
// at a generous future cutoff, so no stray prior turn leaks into the next
// window. Audit history stays queryable.
func (c *Coordinator) StartNewChat(ctx context.Context, externalUserID string) error {
	user, err := c.store.GetUserWithGrants(ctx, externalUserID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", externalUserID, err)
	}
	cutoff := c.now().Add(c.cfg.NewChatOffset)
	if err := c.store.TombstoneTurns(ctx, user.ID, cutoff); err != nil {
		return fmt.Errorf("tombstone history: %w", err)
	}
	return nil
}
