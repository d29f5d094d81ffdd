package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/password"
)

func TestAuthenticate_Success(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-bob", "t1", "bob", "s3cret")

	res, err := h.svc.Authenticate(context.Background(), LoginRequest{
		Username: "bob",
		Password: "s3cret",
		TenantID: "t1",
		IP:       "10.0.0.7",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "u-bob", res.User.ID)
	assert.Equal(t, "t1", res.User.TenantID)
	assert.Equal(t, h.clock().Add(8*time.Hour), res.ExpiresAt)

	stored, ok := h.sessions.byHash(h.svc.tokens.Hash(res.Token))
	require.True(t, ok)
	assert.True(t, stored.Active)
	assert.NotEqual(t, res.Token, stored.TokenHash)

	_, cached := h.cache.Get(stored.TokenHash)
	assert.True(t, cached)

	event, ok := h.audit.last(domain.EventLoginSuccess)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", event.Metadata["ip"])
}

func TestAuthenticate_SuccessResetsAttemptsAndStampsAccess(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	u.FailedAttempts = 3

	h.login(t, "t1", "ana", "correcta")

	got := h.users.get("u-1")
	assert.Zero(t, got.FailedAttempts)
	require.NotNil(t, got.LastAccessAt)
	assert.Equal(t, h.clock(), *got.LastAccessAt)
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "nadie", Password: "x", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidCredentials))

	event, ok := h.audit.last(domain.EventLoginFailed)
	require.True(t, ok)
	assert.Equal(t, "usuario_inexistente", event.Metadata["motivo"])
	assert.Empty(t, event.UserID)
}

func TestAuthenticate_UserOfAnotherTenant(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "correcta", TenantID: "t2"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidCredentials))
}

func TestAuthenticate_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  LoginRequest
		code pkgerrors.ErrorCode
	}{
		{"missing tenant", LoginRequest{Username: "a", Password: "b"}, pkgerrors.ErrValidation},
		{"missing password", LoginRequest{Username: "a", TenantID: "t1"}, pkgerrors.ErrValidation},
		{"oversized password", LoginRequest{Username: "a", Password: strings.Repeat("x", 2000), TenantID: "t1"}, pkgerrors.ErrValidation},
		{"malformed username", LoginRequest{Username: "a b;--", Password: "b", TenantID: "t1"}, pkgerrors.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Authenticate(context.Background(), tt.req)
			assert.True(t, pkgerrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestAuthenticate_WrongPasswordCounts(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "mala", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidCredentials))

	got := h.users.get("u-1")
	assert.Equal(t, 1, got.FailedAttempts)
	assert.False(t, got.Locked)
	assert.Zero(t, h.sessions.active())

	event, ok := h.audit.last(domain.EventLoginFailed)
	require.True(t, ok)
	assert.Equal(t, "password_incorrecto", event.Metadata["motivo"])
	assert.Equal(t, "1", event.Metadata["intentos"])
}

func TestAuthenticate_LockoutOnLastAttempt(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	u.FailedAttempts = testPolicy.MaxLoginAttempts - 1

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "mala", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked))

	got := h.users.get("u-1")
	assert.True(t, got.Locked)
	assert.Equal(t, testPolicy.MaxLoginAttempts, got.FailedAttempts)
	assert.Contains(t, h.audit.kinds(), domain.EventAccountLocked)
}

func TestAuthenticate_ExhaustedAttemptsLockBeforePasswordCheck(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	u.FailedAttempts = testPolicy.MaxLoginAttempts

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "correcta", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked))
	assert.True(t, h.users.get("u-1").Locked)
}

func TestAuthenticate_LockIsSticky(t *testing.T) {
	h := newHarness(t, withPolicy(domain.Policy{MaxLoginAttempts: 3, InactiveUserDays: 90, SessionTimeoutMinutes: 480}))
	h.addUser(t, "u-alice", "t1", "alice", "correcta")

	for i := 1; i <= 3; i++ {
		_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "alice", Password: "mala", TenantID: "t1"})
		if i < 3 {
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidCredentials), "attempt %d", i)
		} else {
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked), "attempt %d", i)
		}
	}

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "alice", Password: "correcta", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked))
	assert.Zero(t, h.sessions.active())
}

func TestAuthenticate_LockoutRevokesExistingSessions(t *testing.T) {
	h := newHarness(t, withPolicy(domain.Policy{MaxLoginAttempts: 2, InactiveUserDays: 90, SessionTimeoutMinutes: 480}))
	h.addUser(t, "u-1", "t1", "ana", "correcta")
	token := h.login(t, "t1", "ana", "correcta")

	for i := 0; i < 2; i++ {
		_, _ = h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "mala", TenantID: "t1"})
	}
	require.True(t, h.users.get("u-1").Locked)

	_, err := h.svc.Validate(context.Background(), token)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked))
	assert.Zero(t, h.sessions.active())
}

func TestAuthenticate_Inactive(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	last := h.clock().Add(-91 * 24 * time.Hour)
	u.LastAccessAt = &last

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "correcta", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountInactive))

	event, ok := h.audit.last(domain.EventLoginFailed)
	require.True(t, ok)
	assert.Equal(t, "cuenta_inactiva", event.Metadata["motivo"])
}

func TestAuthenticate_NeverLoggedInIsNotInactive(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	h.login(t, "t1", "ana", "correcta")
}

func TestAuthenticate_LockedUser(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	u.Locked = true

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "correcta", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked))
	assert.Zero(t, h.users.get("u-1").FailedAttempts)
}

func TestAuthenticate_MigratesLegacyHash(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	sum := sha256.Sum256([]byte("correcta"))
	u.PasswordHash = hex.EncodeToString(sum[:])

	h.login(t, "t1", "ana", "correcta")

	upgraded := h.users.get("u-1").PasswordHash
	assert.True(t, strings.HasPrefix(upgraded, "$argon2id$"))
	assert.Contains(t, h.audit.kinds(), domain.EventPasswordRehashed)

	ok, rehash, err := h.hasher.Verify("correcta", upgraded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, rehash)
}

func TestAuthenticate_UnreadableHashIsMismatch(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "u-1", "t1", "ana", "correcta")
	u.PasswordHash = "not-a-hash"

	_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "correcta", TenantID: "t1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidCredentials))
	assert.Equal(t, 1, h.users.get("u-1").FailedAttempts)
}

func TestAuthenticate_ConcurrentFailuresCountExactly(t *testing.T) {
	h := newHarness(t, withPolicy(domain.Policy{MaxLoginAttempts: 100, InactiveUserDays: 90, SessionTimeoutMinutes: 480}))
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: "mala", TenantID: "t1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, h.users.get("u-1").FailedAttempts)
}

func TestAuthenticate_ConcurrentBurstCannotBypassLockout(t *testing.T) {
	const wrong = 5
	policy := testPolicy
	policy.MaxLoginAttempts = 3

	var gate *gatedHasher
	h := newHarness(t, withPolicy(policy), withPasswords(func(p password.Hasher) password.Hasher {
		gate = &gatedHasher{Hasher: p, gated: "correcta", release: make(chan struct{})}
		return gate
	}))
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	// все попытки читают пользователя до первой записи
	var read sync.WaitGroup
	read.Add(wrong + 1)
	h.users.afterFind = func() {
		read.Done()
		read.Wait()
	}

	login := func(plain string) error {
		_, err := h.svc.Authenticate(context.Background(), LoginRequest{Username: "ana", Password: plain, TenantID: "t1"})
		return err
	}

	correct := make(chan error, 1)
	go func() { correct <- login("correcta") }()

	wrongErrs := make(chan error, wrong)
	for i := 0; i < wrong; i++ {
		go func() { wrongErrs <- login("mala") }()
	}
	locked := 0
	for i := 0; i < wrong; i++ {
		if pkgerrors.IsCode(<-wrongErrs, pkgerrors.ErrAccountLocked) {
			locked++
		}
	}
	assert.Equal(t, wrong-policy.MaxLoginAttempts+1, locked)

	close(gate.release)
	err := <-correct
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked), "got %v", err)

	got := h.users.get("u-1")
	assert.True(t, got.Locked)
	assert.Equal(t, wrong, got.FailedAttempts)
	assert.Nil(t, got.LastAccessAt)
	assert.Zero(t, h.sessions.active())
	assert.Zero(t, h.cache.Len())
	assert.NotContains(t, h.audit.kinds(), domain.EventLoginSuccess)
}

func TestAuthenticate_LockDuringIssueKeepsSessionOutOfCache(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")

	// блокировка параллельной попыткой после фиксации входа
	h.sessions.beforeCreate = func() {
		_, err := h.users.Lock(context.Background(), "u-1")
		require.NoError(t, err)
		h.cache.InvalidateByUser("u-1")
	}

	token := h.login(t, "t1", "ana", "correcta")
	_, cached := h.cache.Get(h.svc.tokens.Hash(token))
	assert.False(t, cached)

	_, err := h.svc.Validate(context.Background(), token)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrAccountLocked))
	assert.Zero(t, h.sessions.active())
}
