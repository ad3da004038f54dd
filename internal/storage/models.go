package storage

import (
	"time"

	"quotabot/internal/aimodel"
)

// Turn roles as stored and as sent to the AI provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID          int64
	ExternalID  string
	Name        string
	ActiveModel aimodel.ID
	CreatedAt   time.Time
}

// TokenGrant is the remaining quota for one (user, model) pair. Amounts above
// aimodel.UnlimitedThreshold are treated as unbounded.
type TokenGrant struct {
	UserID int64
	Model  aimodel.ID
	Amount int64
}

func (g TokenGrant) Unlimited() bool {
	return g.Amount > aimodel.UnlimitedThreshold
}

// Turn is one message exchange unit. Immutable once written, except DeletedAt,
// which is a logical tombstone: a turn is outside the context window when
// DeletedAt is set and SentAt is at or before it.
type Turn struct {
	ID         int64
	UserID     int64
	Role       string
	Text       string
	Model      aimodel.ID
	UsedTokens *int64
	SentAt     time.Time
	DeletedAt  *time.Time
}

type UserWithGrants struct {
	User
	Grants []TokenGrant
}

// Grant returns the grant for model, or a zero-amount grant when none exists.
func (u UserWithGrants) Grant(model aimodel.ID) TokenGrant {
	for _, g := range u.Grants {
		if g.Model == model {
			return g
		}
	}
	return TokenGrant{UserID: u.ID, Model: model, Amount: 0}
}

// NewUser is the profile used to create a user on first contact.
type NewUser struct {
	ExternalID  string
	Name        string
	ActiveModel aimodel.ID
}

// GrantSeed is an initial allotment attached to a newly created user.
type GrantSeed struct {
	Model  aimodel.ID
	Amount int64
}
