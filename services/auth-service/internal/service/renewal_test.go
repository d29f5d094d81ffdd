package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/services/auth-service/internal/domain"
)

func TestRenew_ExtendsExpiry(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")
	token := h.login(t, "t1", "ana", "correcta")
	before, _ := h.sessions.byHash(h.svc.tokens.Hash(token))

	h.advance(time.Minute)

	res, err := h.svc.Renew(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.Rotated)
	assert.Equal(t, token, res.Token)
	assert.True(t, res.ExpiresAt.After(before.ExpiresAt))
	assert.Equal(t, h.clock().Add(8*time.Hour), res.ExpiresAt)

	claims, err := h.svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, res.ExpiresAt, claims.ExpiresAt)
	assert.Contains(t, h.audit.kinds(), domain.EventSessionRenewed)
}

func TestRenew_KeepsSessionAlivePastOriginalExpiry(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")
	token := h.login(t, "t1", "ana", "correcta")

	h.advance(7 * time.Hour)
	_, err := h.svc.Renew(context.Background(), token)
	require.NoError(t, err)

	h.advance(2 * time.Hour)
	_, err = h.svc.Validate(context.Background(), token)
	assert.NoError(t, err)
}

func TestRenew_ExpiredSession(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")
	token := h.login(t, "t1", "ana", "correcta")

	h.advance(9 * time.Hour)

	_, err := h.svc.Renew(context.Background(), token)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrSessionExpired))
}

func TestRenew_RevokedSession(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u-1", "t1", "ana", "correcta")
	token := h.login(t, "t1", "ana", "correcta")
	_, err := h.svc.RevokeOne(context.Background(), token)
	require.NoError(t, err)

	_, err = h.svc.Renew(context.Background(), token)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidSession))
}

func TestRenew_Rotation(t *testing.T) {
	h := newHarness(t, withRotation())
	h.addUser(t, "u-1", "t1", "ana", "correcta")
	token := h.login(t, "t1", "ana", "correcta")

	h.advance(time.Minute)

	res, err := h.svc.Renew(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, res.Rotated)
	assert.NotEqual(t, token, res.Token)

	_, err = h.svc.Validate(context.Background(), token)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrInvalidSession))

	claims, err := h.svc.Validate(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, res.ExpiresAt, claims.ExpiresAt)
	assert.Equal(t, 1, h.sessions.active())

	old, ok := h.sessions.byHash(h.svc.tokens.Hash(token))
	require.True(t, ok)
	assert.False(t, old.Active)
}
