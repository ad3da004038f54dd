package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quotabot/internal/aimodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "quotabot.db") + "?_pragma=busy_timeout(5000)"
	s, err := Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, externalID string) UserWithGrants {
	t.Helper()
	u, err := s.CreateUser(context.Background(), NewUser{
		ExternalID:  externalID,
		Name:        "tester",
		ActiveModel: aimodel.Default,
	}, []GrantSeed{{Model: aimodel.Default, Amount: aimodel.DefaultGrant}})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCreateAndGetUserWithGrants(t *testing.T) {
	s := openTestStore(t)
	created := createTestUser(t, s, "tg-100")

	got, err := s.GetUserWithGrants(context.Background(), "tg-100")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ID != created.ID || got.ActiveModel != aimodel.Default {
		t.Fatalf("unexpected user %+v", got.User)
	}
	if len(got.Grants) != 1 || got.Grants[0].Amount != aimodel.DefaultGrant {
		t.Fatalf("unexpected grants %+v", got.Grants)
	}

	if _, err := s.GetUserWithGrants(context.Background(), "tg-missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureGrantIdempotent(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-101")

	g, err := s.EnsureGrant(context.Background(), u.ID, aimodel.GPT4oMini, 500)
	if err != nil {
		t.Fatalf("ensure grant: %v", err)
	}
	if g.Amount != 500 {
		t.Fatalf("expected amount 500, got %d", g.Amount)
	}

	// Second ensure with a different default must keep the existing row.
	g, err = s.EnsureGrant(context.Background(), u.ID, aimodel.GPT4oMini, 9999)
	if err != nil {
		t.Fatalf("ensure grant again: %v", err)
	}
	if g.Amount != 500 {
		t.Fatalf("ensure is not idempotent, got amount %d", g.Amount)
	}
}

func TestDebitGrantFloorsAtZero(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-102")

	if err := s.DebitGrant(context.Background(), u.ID, aimodel.Default, 300); err != nil {
		t.Fatalf("debit: %v", err)
	}
	amount, err := s.GrantAmount(context.Background(), u.ID, aimodel.Default)
	if err != nil {
		t.Fatalf("grant amount: %v", err)
	}
	if amount != aimodel.DefaultGrant-300 {
		t.Fatalf("expected %d, got %d", aimodel.DefaultGrant-300, amount)
	}

	if err := s.DebitGrant(context.Background(), u.ID, aimodel.Default, 10_000); err != nil {
		t.Fatalf("over-debit: %v", err)
	}
	amount, err = s.GrantAmount(context.Background(), u.ID, aimodel.Default)
	if err != nil {
		t.Fatalf("grant amount: %v", err)
	}
	if amount != 0 {
		t.Fatalf("expected floor at 0, got %d", amount)
	}
}

func TestDebitGrantConcurrent(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-103")

	const workers = 20
	const each = 30
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.DebitGrant(context.Background(), u.ID, aimodel.Default, each); err != nil {
				t.Errorf("concurrent debit: %v", err)
			}
		}()
	}
	wg.Wait()

	amount, err := s.GrantAmount(context.Background(), u.ID, aimodel.Default)
	if err != nil {
		t.Fatalf("grant amount: %v", err)
	}
	want := aimodel.DefaultGrant - workers*each
	if want < 0 {
		want = 0
	}
	if amount != want {
		t.Fatalf("lost update: expected %d, got %d", want, amount)
	}
}

func TestGrantAmountMissingReadsZero(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-104")

	amount, err := s.GrantAmount(context.Background(), u.ID, aimodel.GPT4o)
	if err != nil {
		t.Fatalf("grant amount: %v", err)
	}
	if amount != 0 {
		t.Fatalf("expected 0 for missing grant, got %d", amount)
	}
}

func TestSetActiveModel(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-105")

	if err := s.SetActiveModel(context.Background(), u.ID, aimodel.GPT4oMini); err != nil {
		t.Fatalf("set active model: %v", err)
	}
	got, err := s.GetUserWithGrants(context.Background(), "tg-105")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ActiveModel != aimodel.GPT4oMini {
		t.Fatalf("expected active model %s, got %s", aimodel.GPT4oMini, got.ActiveModel)
	}

	if err := s.SetActiveModel(context.Background(), 99999, aimodel.GPT4o); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
}

func saveTurnAt(t *testing.T, s *Store, userID int64, role, text string, at time.Time) {
	t.Helper()
	if _, err := s.SaveTurn(context.Background(), Turn{
		UserID: userID,
		Role:   role,
		Text:   text,
		Model:  aimodel.Default,
		SentAt: at,
	}); err != nil {
		t.Fatalf("save turn: %v", err)
	}
}

func TestTombstoneExcludesOlderTurns(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-106")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	saveTurnAt(t, s, u.ID, RoleUser, "first", base)
	saveTurnAt(t, s, u.ID, RoleAssistant, "first reply", base.Add(time.Second))
	saveTurnAt(t, s, u.ID, RoleUser, "second", base.Add(2*time.Second))

	cutoff := base.Add(time.Second)
	if err := s.TombstoneTurns(context.Background(), u.ID, cutoff); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	turns, err := s.FindTurns(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("find turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "second" {
		t.Fatalf("expected only the turn after the cutoff, got %+v", turns)
	}
}

func TestTombstoneFutureCutoffClearsHistory(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-107")

	now := time.Now().UTC()
	saveTurnAt(t, s, u.ID, RoleUser, "old question", now.Add(-time.Minute))
	saveTurnAt(t, s, u.ID, RoleAssistant, "old answer", now.Add(-30*time.Second))

	// "Start fresh": generous future cutoff so no stray prior turn leaks in.
	if err := s.TombstoneTurns(context.Background(), u.ID, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	turns, err := s.FindTurns(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("find turns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty window after new chat, got %+v", turns)
	}

	// A turn saved after the reset has no tombstone and stays visible.
	saveTurnAt(t, s, u.ID, RoleUser, "fresh question", now)
	turns, err = s.FindTurns(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("find turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "fresh question" {
		t.Fatalf("expected only the fresh turn, got %+v", turns)
	}
}

func TestFindTurnsOrderAndUsedTokens(t *testing.T) {
	s := openTestStore(t)
	u := createTestUser(t, s, "tg-108")

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	saveTurnAt(t, s, u.ID, RoleUser, "q", base)
	used := int64(42)
	if _, err := s.SaveTurn(context.Background(), Turn{
		UserID:     u.ID,
		Role:       RoleAssistant,
		Text:       "a",
		Model:      aimodel.Default,
		UsedTokens: &used,
		SentAt:     base.Add(time.Second),
	}); err != nil {
		t.Fatalf("save assistant turn: %v", err)
	}

	turns, err := s.FindTurns(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("find turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected order: %+v", turns)
	}
	if turns[0].UsedTokens != nil {
		t.Fatalf("user turn must not carry used tokens")
	}
	if turns[1].UsedTokens == nil || *turns[1].UsedTokens != used {
		t.Fatalf("assistant turn used tokens: %+v", turns[1].UsedTokens)
	}
}
