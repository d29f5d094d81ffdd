package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/ratelimit"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/csrf"
	"WorkshopPlatform/services/auth-service/internal/service"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Authenticate(ctx context.Context, req service.LoginRequest) (*domain.LoginResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*domain.LoginResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthService) Validate(ctx context.Context, token string) (domain.SessionClaims, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.SessionClaims), args.Error(1)
}

func (m *mockAuthService) Renew(ctx context.Context, token string) (*domain.RenewResult, error) {
	args := m.Called(ctx, token)
	if r := args.Get(0); r != nil {
		return r.(*domain.RenewResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthService) RevokeOne(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuthService) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockAuthService) RevokeAllForTenant(ctx context.Context, tenantID string) (int, error) {
	args := m.Called(ctx, tenantID)
	return args.Int(0), args.Error(1)
}

func (m *mockAuthService) BlockUser(ctx context.Context, actor domain.Actor, userID string) (int, error) {
	args := m.Called(ctx, actor, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockAuthService) UnblockUser(ctx context.Context, actor domain.Actor, userID string) (bool, error) {
	args := m.Called(ctx, actor, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuthService) RevokeUserSessions(ctx context.Context, actor domain.Actor, userID string) (int, error) {
	args := m.Called(ctx, actor, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockAuthService) SuspendTenant(ctx context.Context, actor domain.Actor, tenantID string) (int, error) {
	args := m.Called(ctx, actor, tenantID)
	return args.Int(0), args.Error(1)
}

const (
	testToken  = "token-de-prueba"
	testTenant = "t1"
)

type fixture struct {
	svc     *mockAuthService
	csrf    *csrf.Manager
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &mockAuthService{}
	manager := csrf.NewManager("test-secret-test-secret-test-secret", time.Hour)
	h := NewHandler(svc, manager, ratelimit.NewMemoryRateLimiter(), Config{
		Cookie:         CookieConfig{Name: "sesion", Secure: true},
		TenantHeader:   "X-Negocio-ID",
		CSRFHeader:     "X-CSRF-Token",
		LoginPerMinute: 3,
	}, logger.NewNop())
	return &fixture{svc: svc, csrf: manager, handler: h.Routes()}
}

func (f *fixture) authed(method, path string, claims domain.SessionClaims, withCSRF bool, t *testing.T) *http.Request {
	t.Helper()
	f.svc.On("Validate", mock.Anything, testToken).Return(claims, nil).Maybe()

	req := httptest.NewRequest(method, path, nil)
	req.AddCookie(&http.Cookie{Name: "sesion", Value: testToken})
	req.Header.Set("X-Negocio-ID", testTenant)
	if withCSRF {
		token, _, err := f.csrf.Issue(tokenHash(testToken))
		require.NoError(t, err)
		req.Header.Set("X-CSRF-Token", token)
	}
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "sesion" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestLogin_SetsHTTPOnlyCookie(t *testing.T) {
	f := newFixture(t)
	expires := time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)
	f.svc.On("Authenticate", mock.Anything, mock.MatchedBy(func(req service.LoginRequest) bool {
		return req.Username == "bob" && req.TenantID == testTenant && req.IP == "192.0.2.1"
	})).Return(&domain.LoginResult{
		Token:     testToken,
		User:      domain.UserView{ID: "u-bob", TenantID: testTenant, Username: "bob"},
		ExpiresAt: expires,
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":" bob ","password":"s3cret","negocio_id":"t1"}`))
	req.RemoteAddr = "192.0.2.1:4000"
	w := f.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)
	assert.Equal(t, testToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)

	var body loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u-bob", body.User.ID)
	assert.NotContains(t, w.Body.String(), testToken)
	assert.NoError(t, f.csrf.Verify(body.CSRFToken, tokenHash(testToken)))
}

func TestLogin_TenantFromHeader(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Authenticate", mock.Anything, mock.MatchedBy(func(req service.LoginRequest) bool {
		return req.TenantID == "t9"
	})).Return(nil, pkgerrors.New(pkgerrors.ErrInvalidCredentials, "invalid credentials"))

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"bob","password":"x"}`))
	req.Header.Set("X-Negocio-ID", "t9")
	w := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Usuario o contraseña incorrectos")
	f.svc.AssertExpectations(t)
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		code   pkgerrors.ErrorCode
		status int
	}{
		{pkgerrors.ErrInvalidCredentials, http.StatusUnauthorized},
		{pkgerrors.ErrAccountLocked, http.StatusForbidden},
		{pkgerrors.ErrAccountInactive, http.StatusForbidden},
		{pkgerrors.ErrValidation, http.StatusBadRequest},
		{pkgerrors.ErrTransientStore, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			f := newFixture(t)
			f.svc.On("Authenticate", mock.Anything, mock.Anything).Return(nil, pkgerrors.New(tt.code, "x"))

			w := f.do(httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"a","password":"b","negocio_id":"t1"}`)))
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), string(tt.code))
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestLogin_BadBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.svc.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Authenticate", mock.Anything, mock.Anything).Return(nil, pkgerrors.New(pkgerrors.ErrInvalidCredentials, "x"))

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"a","password":"b","negocio_id":"t1"}`))
		req.RemoteAddr = "198.51.100.7:1000"
		last = f.do(req).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	f.svc.AssertNumberOfCalls(t, "Authenticate", 3)
}

func TestSession_ReturnsClaims(t *testing.T) {
	f := newFixture(t)
	claims := domain.SessionClaims{UserID: "u-bob", TenantID: testTenant, Role: "vendedor"}

	w := f.do(f.authed(http.MethodGet, "/session", claims, false, t))

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.SessionClaims
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "u-bob", got.UserID)
	assert.Equal(t, testTenant, got.TenantID)
}

func TestSession_Expired(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Validate", mock.Anything, testToken).
		Return(domain.SessionClaims{}, pkgerrors.New(pkgerrors.ErrSessionExpired, "expired"))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: "sesion", Value: testToken})
	req.Header.Set("X-Negocio-ID", testTenant)
	w := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_EXPIRED")
}

func TestCSRF_Issue(t *testing.T) {
	f := newFixture(t)
	w := f.do(f.authed(http.MethodGet, "/csrf", domain.SessionClaims{UserID: "u", TenantID: testTenant}, false, t))

	require.Equal(t, http.StatusOK, w.Code)
	var body csrfResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NoError(t, f.csrf.Verify(body.Token, tokenHash(testToken)))
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	expires := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	f.svc.On("Renew", mock.Anything, testToken).Return(&domain.RenewResult{Token: testToken, ExpiresAt: expires}, nil)

	w := f.do(f.authed(http.MethodPost, "/refresh", domain.SessionClaims{UserID: "u", TenantID: testTenant}, false, t))

	require.Equal(t, http.StatusOK, w.Code)
	var body refreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.ExpiresAt.Equal(expires))
	assert.False(t, body.Rotated)
	assert.Empty(t, body.CSRFToken)
	assert.Equal(t, testToken, sessionCookie(t, w).Value)
}

func TestRefresh_Rotated(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Renew", mock.Anything, testToken).
		Return(&domain.RenewResult{Token: "nuevo", ExpiresAt: time.Now().Add(time.Hour), Rotated: true}, nil)

	w := f.do(f.authed(http.MethodPost, "/refresh", domain.SessionClaims{UserID: "u", TenantID: testTenant}, false, t))

	require.Equal(t, http.StatusOK, w.Code)
	var body refreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Rotated)
	assert.NoError(t, f.csrf.Verify(body.CSRFToken, tokenHash("nuevo")))
	assert.Equal(t, "nuevo", sessionCookie(t, w).Value)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.svc.On("RevokeOne", mock.Anything, testToken).Return(true, nil)

	w := f.do(f.authed(http.MethodPost, "/logout", domain.SessionClaims{UserID: "u", TenantID: testTenant}, true, t))

	assert.Equal(t, http.StatusNoContent, w.Code)
	cookie := sessionCookie(t, w)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)
	f.svc.AssertExpectations(t)
}

func TestLogout_RequiresCSRF(t *testing.T) {
	f := newFixture(t)

	w := f.do(f.authed(http.MethodPost, "/logout", domain.SessionClaims{UserID: "u", TenantID: testTenant}, false, t))

	assert.Equal(t, http.StatusForbidden, w.Code)
	f.svc.AssertNotCalled(t, "RevokeOne", mock.Anything, mock.Anything)
}

func TestAdmin_RequiresPermission(t *testing.T) {
	f := newFixture(t)
	claims := domain.SessionClaims{UserID: "u", TenantID: testTenant, Permissions: []string{"ventas:crear"}}

	w := f.do(f.authed(http.MethodPost, "/admin/users/u-2/block", claims, true, t))

	assert.Equal(t, http.StatusForbidden, w.Code)
	f.svc.AssertNotCalled(t, "BlockUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmin_Actions(t *testing.T) {
	claims := domain.SessionClaims{UserID: "u-admin", TenantID: testTenant, Permissions: []string{domain.PermissionBlockUsers}}
	actor := domain.Actor{UserID: "u-admin", TenantID: testTenant}

	t.Run("block", func(t *testing.T) {
		f := newFixture(t)
		f.svc.On("BlockUser", mock.Anything, actor, "u-2").Return(2, nil)
		w := f.do(f.authed(http.MethodPost, "/admin/users/u-2/block", claims, true, t))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"sesiones_revocadas":2}`, w.Body.String())
	})

	t.Run("unblock", func(t *testing.T) {
		f := newFixture(t)
		f.svc.On("UnblockUser", mock.Anything, actor, "u-2").Return(true, nil)
		w := f.do(f.authed(http.MethodPost, "/admin/users/u-2/unblock", claims, true, t))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"desbloqueado":true}`, w.Body.String())
	})

	t.Run("revoke user sessions", func(t *testing.T) {
		f := newFixture(t)
		f.svc.On("RevokeUserSessions", mock.Anything, actor, "u-2").Return(1, nil)
		w := f.do(f.authed(http.MethodDelete, "/admin/users/u-2/sessions", claims, true, t))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"sesiones_revocadas":1}`, w.Body.String())
	})

	t.Run("suspend tenant outside scope", func(t *testing.T) {
		f := newFixture(t)
		f.svc.On("SuspendTenant", mock.Anything, actor, "t2").
			Return(0, pkgerrors.New(pkgerrors.ErrForbidden, "outside scope"))
		w := f.do(f.authed(http.MethodDelete, "/admin/tenants/t2/sessions", claims, true, t))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
