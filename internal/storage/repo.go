package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"quotabot/internal/aimodel"
)

var ErrNotFound = errors.New("not found")

// GetUserWithGrants loads a user by the chat platform's user id, together
// with every token grant the user holds.
func (s *Store) GetUserWithGrants(ctx context.Context, externalID string) (UserWithGrants, error) {
	q := s.sql.Select("id", "external_id", "name", "active_model", "created_at").
		From("users").
		Where(sq.Eq{"external_id": externalID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UserWithGrants{}, fmt.Errorf("build get user query: %w", err)
	}

	var u User
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&u.ID, &u.ExternalID, &u.Name, &u.ActiveModel, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserWithGrants{}, ErrNotFound
		}
		return UserWithGrants{}, fmt.Errorf("get user: %w", err)
	}

	grants, err := s.ListGrants(ctx, u.ID)
	if err != nil {
		return UserWithGrants{}, err
	}
	return UserWithGrants{User: u, Grants: grants}, nil
}

// CreateUser inserts the user and seeds the initial grants.
func (s *Store) CreateUser(ctx context.Context, profile NewUser, seeds []GrantSeed) (UserWithGrants, error) {
	q := s.sql.Insert("users").
		Columns("external_id", "name", "active_model").
		Values(profile.ExternalID, profile.Name, profile.ActiveModel).
		Suffix("RETURNING id, created_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UserWithGrants{}, fmt.Errorf("build create user query: %w", err)
	}

	u := User{
		ExternalID:  profile.ExternalID,
		Name:        profile.Name,
		ActiveModel: profile.ActiveModel,
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&u.ID, &u.CreatedAt); err != nil {
		return UserWithGrants{}, fmt.Errorf("create user: %w", err)
	}

	grants := make([]TokenGrant, 0, len(seeds))
	for _, seed := range seeds {
		g, err := s.EnsureGrant(ctx, u.ID, seed.Model, seed.Amount)
		if err != nil {
			return UserWithGrants{}, err
		}
		grants = append(grants, g)
	}
	return UserWithGrants{User: u, Grants: grants}, nil
}

// SetActiveModel commits a model switch as a single row update.
func (s *Store) SetActiveModel(ctx context.Context, userID int64, model aimodel.ID) error {
	q := s.sql.Update("users").
		Set("active_model", model).
		Where(sq.Eq{"id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set active model query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set active model: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureGrant creates the (user, model) grant when missing and returns the
// current row either way. Idempotent.
func (s *Store) EnsureGrant(ctx context.Context, userID int64, model aimodel.ID, amount int64) (TokenGrant, error) {
	q := s.sql.Insert("token_grants").
		Columns("user_id", "model", "amount").
		Values(userID, model, amount).
		Suffix("ON CONFLICT(user_id, model) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return TokenGrant{}, fmt.Errorf("build ensure grant query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return TokenGrant{}, fmt.Errorf("ensure grant: %w", err)
	}

	amount, err = s.GrantAmount(ctx, userID, model)
	if err != nil {
		return TokenGrant{}, err
	}
	return TokenGrant{UserID: userID, Model: model, Amount: amount}, nil
}

// GrantAmount reads the remaining quota. A missing grant reads as zero.
func (s *Store) GrantAmount(ctx context.Context, userID int64, model aimodel.ID) (int64, error) {
	q := s.sql.Select("amount").
		From("token_grants").
		Where(sq.Eq{"user_id": userID, "model": model})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build grant amount query: %w", err)
	}
	var amount int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get grant amount: %w", err)
	}
	return amount, nil
}

// DebitGrant reduces the remaining quota by amount, floored at zero. The
// single conditional update keeps concurrent debits for the same pair from
// losing each other.
func (s *Store) DebitGrant(ctx context.Context, userID int64, model aimodel.ID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	q := s.sql.Update("token_grants").
		Set("amount", greatestExpr(s.driver, amount)).
		Where(sq.Eq{"user_id": userID, "model": model})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build debit grant query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("debit grant: %w", err)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, userID int64) ([]TokenGrant, error) {
	q := s.sql.Select("user_id", "model", "amount").
		From("token_grants").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("model ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list grants query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	out := make([]TokenGrant, 0)
	for rows.Next() {
		var g TokenGrant
		if err := rows.Scan(&g.UserID, &g.Model, &g.Amount); err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant rows: %w", err)
	}
	return out, nil
}

// SaveTurn persists one turn and returns its id.
func (s *Store) SaveTurn(ctx context.Context, t Turn) (int64, error) {
	if t.SentAt.IsZero() {
		t.SentAt = time.Now().UTC()
	}
	q := s.sql.Insert("messages").
		Columns("user_id", "role", "text", "model", "used_tokens", "sent_at", "deleted_at").
		Values(t.UserID, t.Role, t.Text, t.Model, t.UsedTokens, t.SentAt, t.DeletedAt).
		Suffix("RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build save turn query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("save turn: %w", err)
	}
	return id, nil
}

// FindTurns returns the user's context window: every turn not excluded by a
// tombstone, oldest first. A turn is visible when it has no tombstone or was
// sent after the tombstone instant stamped on it.
func (s *Store) FindTurns(ctx context.Context, userID int64) ([]Turn, error) {
	q := s.sql.Select("id", "user_id", "role", "text", "model", "used_tokens", "sent_at", "deleted_at").
		From("messages").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Or{
			sq.Eq{"deleted_at": nil},
			sq.Expr("sent_at > deleted_at"),
		}).
		OrderBy("sent_at ASC", "id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find turns query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("find turns: %w", err)
	}
	defer rows.Close()

	out := make([]Turn, 0)
	for rows.Next() {
		var t Turn
		var usedTokens sql.NullInt64
		var deletedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Role, &t.Text, &t.Model, &usedTokens, &t.SentAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if usedTokens.Valid {
			t.UsedTokens = &usedTokens.Int64
		}
		if deletedAt.Valid {
			t.DeletedAt = &deletedAt.Time
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

// TombstoneTurns stamps cutoff on every turn sent at or before it, excluding
// them from future context windows without deleting the rows.
func (s *Store) TombstoneTurns(ctx context.Context, userID int64, cutoff time.Time) error {
	q := s.sql.Update("messages").
		Set("deleted_at", cutoff).
		Where(sq.Eq{"user_id": userID, "deleted_at": nil}).
		Where(sq.LtOrEq{"sent_at": cutoff})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build tombstone query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("tombstone turns: %w", err)
	}
	return nil
}
