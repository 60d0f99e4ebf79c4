package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/linkpage/internal/db/dbtest"
	"github.com/templui/linkpage/internal/model"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func seedAccount(t *testing.T, repo AccountRepository, username, email string, level model.VerificationLevel) *model.Account {
	t.Helper()
	account := model.NewAccount(username, level, fixedNow)
	err := repo.Create(context.Background(), account, &model.Credential{
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	return account
}

func TestAccountCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))

	seedAccount(t, repo, "alice", "alice@example.com", model.LevelAwaitingVerification)

	got, err := repo.ByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.LevelAwaitingVerification, got.VerificationLevel)
	assert.Equal(t, model.DefaultBio, got.Bio)
	assert.Equal(t, model.StringList{}, got.Links)
	assert.True(t, fixedNow.Equal(got.LastUsernameChangeAt))

	byEmail, err := repo.ByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", byEmail.Username)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAccountNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))

	_, err := repo.ByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.ByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "ghost"), ErrAccountNotFound)
}

func TestAccountCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "alice", "alice@example.com", model.LevelMember)

	err := repo.Create(ctx, model.NewAccount("alice", model.LevelMember, fixedNow),
		&model.Credential{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	err = repo.Create(ctx, model.NewAccount("bob", model.LevelMember, fixedNow),
		&model.Credential{Username: "bob", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	// The failed credential insert must not leave bob's account row behind.
	_, err = repo.ByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountCreateConcurrentSameUsername(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, model.NewAccount("race", model.LevelMember, fixedNow),
				&model.Credential{Username: "race", Email: []string{"a@example.com", "b@example.com"}[i]})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrDuplicateUsername)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestTransitionLevelCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "alice", "alice@example.com", model.LevelMember)

	require.NoError(t, repo.TransitionLevel(ctx, "alice", model.LevelMember, model.LevelVerified, nil))

	err := repo.TransitionLevel(ctx, "alice", model.LevelMember, model.LevelSuspended, nil)
	assert.ErrorIs(t, err, ErrStaleWrite)

	err = repo.TransitionLevel(ctx, "ghost", model.LevelMember, model.LevelVerified, nil)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	sub := &model.Subscription{Paid: true, Expiry: model.ExpiryForever}
	require.NoError(t, repo.TransitionLevel(ctx, "alice", model.LevelVerified, model.LevelStaff, sub))

	got, err := repo.ByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.LevelStaff, got.VerificationLevel)
	assert.True(t, got.Paid)
	assert.Equal(t, model.ExpiryForever, got.SubscriptionExpiry)
}

func TestMarkPaidUntilKeepsForever(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "dated", "dated@example.com", model.LevelMember)
	seedAccount(t, repo, "forever", "forever@example.com", model.LevelMember)
	require.NoError(t, repo.CompareAndSetExpiry(ctx, "forever", model.ExpiryNone, model.ExpiryForever))

	for _, name := range []string{"dated", "forever"} {
		require.NoError(t, repo.MarkPaidUntil(ctx, name, "2027-03-14"))
	}

	dated, err := repo.ByUsername(ctx, "dated")
	require.NoError(t, err)
	assert.True(t, dated.Paid)
	assert.Equal(t, model.Expiry("2027-03-14"), dated.SubscriptionExpiry)

	forever, err := repo.ByUsername(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, model.ExpiryForever, forever.SubscriptionExpiry)

	assert.ErrorIs(t, repo.MarkPaidUntil(ctx, "ghost", "2027-03-14"), ErrAccountNotFound)
}

func TestMarkUnpaidSkipsForever(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "dated", "dated@example.com", model.LevelMember)
	seedAccount(t, repo, "forever", "forever@example.com", model.LevelMember)
	require.NoError(t, repo.MarkPaidUntil(ctx, "dated", "2027-03-14"))
	require.NoError(t, repo.CompareAndSetExpiry(ctx, "forever", model.ExpiryNone, model.ExpiryForever))

	changed, err := repo.MarkUnpaid(ctx, "dated")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkUnpaid(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, changed)

	dated, err := repo.ByUsername(ctx, "dated")
	require.NoError(t, err)
	assert.False(t, dated.Paid)
	assert.Equal(t, model.ExpiryNone, dated.SubscriptionExpiry)

	forever, err := repo.ByUsername(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, forever.Paid)
}

func TestCompareAndSetExpiryDetectsStaleRead(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "alice", "alice@example.com", model.LevelMember)

	require.NoError(t, repo.CompareAndSetExpiry(ctx, "alice", model.ExpiryNone, "2026-06-14"))
	err := repo.CompareAndSetExpiry(ctx, "alice", model.ExpiryNone, "2026-09-14")
	assert.ErrorIs(t, err, ErrStaleWrite)
}

func TestExpireLapsed(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "lapsed", "lapsed@example.com", model.LevelMember)
	seedAccount(t, repo, "today", "today@example.com", model.LevelMember)
	seedAccount(t, repo, "forever", "forever@example.com", model.LevelStaff)
	seedAccount(t, repo, "free", "free@example.com", model.LevelMember)
	require.NoError(t, repo.MarkPaidUntil(ctx, "lapsed", "2020-01-01"))
	require.NoError(t, repo.MarkPaidUntil(ctx, "today", "2026-03-14"))
	require.NoError(t, repo.CompareAndSetExpiry(ctx, "forever", model.ExpiryNone, model.ExpiryForever))

	n, err := repo.ExpireLapsed(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.ExpireLapsed(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	lapsed, err := repo.ByUsername(ctx, "lapsed")
	require.NoError(t, err)
	assert.False(t, lapsed.Paid)
	assert.Equal(t, model.ExpiryNone, lapsed.SubscriptionExpiry)

	paid, err := repo.CountPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, paid)
}

func TestUpdateColumn(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "alice", "alice@example.com", model.LevelMember)

	require.NoError(t, repo.UpdateColumn(ctx, "alice", "bio", "hello"))
	require.NoError(t, repo.UpdateColumn(ctx, "alice", "links", model.StringList{"https://a.example", "https://b.example"}))
	require.NoError(t, repo.UpdateColumn(ctx, "alice", "age_gated", true))

	got, err := repo.ByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Bio)
	assert.Equal(t, model.StringList{"https://a.example", "https://b.example"}, got.Links)
	assert.True(t, got.AgeGated)

	assert.ErrorIs(t, repo.UpdateColumn(ctx, "alice", "verification_level", 2), ErrColumnNotEditable)
	assert.ErrorIs(t, repo.UpdateColumn(ctx, "ghost", "bio", "x"), ErrAccountNotFound)
}

func TestRenameMovesDependentRows(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewAccountRepository(conn)
	tokens := NewTokenRepository(conn)
	creds := NewCredentialRepository(conn)

	seedAccount(t, repo, "alice", "alice@example.com", model.LevelMember)
	seedAccount(t, repo, "bob", "bob@example.com", model.LevelMember)
	shadow := model.NewAccount("alias", model.LevelShadow, fixedNow)
	shadow.DisplayName = "alice"
	require.NoError(t, repo.Create(ctx, shadow, &model.Credential{Username: "alias", Email: "alias@shadow.invalid"}))
	require.NoError(t, tokens.Replace(ctx, model.TokenKindReset, &model.Token{
		Email: "alice@example.com", Username: "alice", Token: "tok", ExpiresAt: fixedNow.Add(time.Hour),
	}))

	later := fixedNow.Add(24 * time.Hour)
	require.NoError(t, repo.Rename(ctx, "alice", "alicia", later))

	_, err := repo.ByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	got, err := repo.ByUsername(ctx, "alicia")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastUsernameChangeAt))

	cred, err := creds.ByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alicia", cred.Username)

	tok, err := tokens.Consume(ctx, model.TokenKindReset, "tok")
	require.NoError(t, err)
	assert.Equal(t, "alicia", tok.Username)

	alias, err := repo.ByUsername(ctx, "alias")
	require.NoError(t, err)
	assert.Equal(t, "alicia", alias.RedirectTarget())

	assert.ErrorIs(t, repo.Rename(ctx, "alicia", "bob", later), ErrDuplicateUsername)
	assert.ErrorIs(t, repo.Rename(ctx, "ghost", "casper", later), ErrAccountNotFound)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewAccountRepository(conn)
	tokens := NewTokenRepository(conn)
	creds := NewCredentialRepository(conn)

	seedAccount(t, repo, "alice", "alice@example.com", model.LevelMember)
	require.NoError(t, tokens.Replace(ctx, model.TokenKindVerification, &model.Token{
		Email: "alice@example.com", Username: "alice", Token: "tok", ExpiresAt: fixedNow.Add(time.Hour),
	}))

	require.NoError(t, repo.Delete(ctx, "alice"))

	_, err := creds.ByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	_, err = tokens.Consume(ctx, model.TokenKindVerification, "tok")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestDeleteIfLevel(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.Open(t))
	seedAccount(t, repo, "pending", "pending@example.com", model.LevelAwaitingVerification)
	seedAccount(t, repo, "member", "member@example.com", model.LevelMember)

	deleted, err := repo.DeleteIfLevel(ctx, "member", model.LevelAwaitingVerification)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = repo.DeleteIfLevel(ctx, "pending", model.LevelAwaitingVerification)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteIfLevel(ctx, "pending", model.LevelAwaitingVerification)
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnverifiedWithoutToken(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewAccountRepository(conn)
	tokens := NewTokenRepository(conn)

	seedAccount(t, repo, "pending", "pending@example.com", model.LevelAwaitingVerification)
	seedAccount(t, repo, "orphan", "orphan@example.com", model.LevelAwaitingVerification)
	seedAccount(t, repo, "member", "member@example.com", model.LevelMember)
	require.NoError(t, tokens.Replace(ctx, model.TokenKindVerification, &model.Token{
		Email: "pending@example.com", Username: "pending", Token: "tok", ExpiresAt: fixedNow.Add(time.Hour),
	}))

	stale, err := repo.UnverifiedWithoutToken(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, stale)

	stale, err = repo.UnverifiedWithoutToken(ctx, fixedNow.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
