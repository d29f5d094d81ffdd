package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/services/cli-service/internal/store"
)

const (
	apiPrefix = "/api/v1/auth"
	userAgent = "workshopctl/1.0"

	// NoticeSessionExpired уведомление при завершении сессии
	NoticeSessionExpired = "Su sesión ha expirado. Inicie sesión nuevamente con 'workshopctl login'."
	noticeOffline        = "Sin conexión con el servidor. Se mantiene el último usuario conocido."
	noticeOnline         = "Conexión con el servidor restablecida."
)

// ErrNotLoggedIn локальной сессии нет
var ErrNotLoggedIn = errors.New("no hay sesión activa, ejecute 'workshopctl login'")

// Options параметры клиента
type Options struct {
	BaseURL      string
	TenantID     string
	TenantHeader string
	CSRFHeader   string
	Timeout      time.Duration
	Throttle     time.Duration
	RefreshAhead time.Duration
	NoticeDelay  time.Duration

	Store   *store.SessionStore
	Logger  logger.Logger
	Notices io.Writer
	// OnTerminate вызывается через NoticeDelay после уведомления об истечении
	OnTerminate func()
}

// Claims данные текущей сессии
type Claims struct {
	UserID      string    `json:"usuario_id" yaml:"usuario_id"`
	Username    string    `json:"username" yaml:"username"`
	Name        string    `json:"nombre" yaml:"nombre"`
	Role        string    `json:"rol" yaml:"rol"`
	Permissions []string  `json:"permisos" yaml:"permisos"`
	TenantID    string    `json:"negocio_id" yaml:"negocio_id"`
	ExpiresAt   time.Time `json:"expira" yaml:"expira"`
	Offline     bool      `json:"offline,omitempty" yaml:"offline,omitempty"`
}

// Client HTTP клиент сервиса аутентификации. Сессия передается
// HTTP-only cookie, которую клиент только хранит и возвращает серверу.
type Client struct {
	opts        Options
	base        *url.URL
	http        *http.Client
	jar         http.CookieJar
	coordinator *RefreshCoordinator
	log         logger.Logger
	nowFn       func() time.Time

	mu      sync.Mutex
	session *store.Session

	terminateOnce sync.Once
	done          chan struct{}
}

// New создает клиент и восстанавливает сохраненную сессию
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("неверный адрес сервера %q", opts.BaseURL)
	}
	// cookie jar сопоставляет cookie только с абсолютным путем
	if base.Path == "" {
		base.Path = "/"
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("хранилище сессии не задано")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Notices == nil {
		opts.Notices = io.Discard
	}
	if opts.TenantHeader == "" {
		opts.TenantHeader = "X-Negocio-ID"
	}
	if opts.CSRFHeader == "" {
		opts.CSRFHeader = "X-CSRF-Token"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания cookie jar: %w", err)
	}

	c := &Client{
		opts:  opts,
		base:  base,
		http:  &http.Client{Timeout: opts.Timeout, Jar: jar},
		jar:   jar,
		log:   opts.Logger,
		nowFn: time.Now,
		done:  make(chan struct{}),
	}
	c.coordinator = NewRefreshCoordinator(c.refreshCall, c, opts.Throttle)

	session, err := opts.Store.Load()
	switch {
	case errors.Is(err, store.ErrNoSession):
	case err != nil:
		return nil, err
	case session.Server != opts.BaseURL:
		c.log.Debug("stored session belongs to another server", logger.String("server", session.Server))
	default:
		c.session = session
		c.restoreCookies(session.Cookies)
		c.coordinator.setOffline(session.Offline)
	}

	return c, nil
}

// Coordinator координатор обновления сессии
func (c *Client) Coordinator() *RefreshCoordinator {
	return c.coordinator
}

// Done закрывается после завершения сессии и паузы на уведомление
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Session копия локального состояния сессии
func (c *Client) Session() (store.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return store.Session{}, false
	}
	return *c.session, true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TenantID string `json:"negocio_id"`
}

type loginResponse struct {
	User      store.User `json:"usuario"`
	ExpiresAt time.Time  `json:"expira"`
	CSRFToken string     `json:"csrf_token"`
}

// Login выполняет вход и сохраняет сессию
func (c *Client) Login(ctx context.Context, username, password string) (*store.User, error) {
	var resp loginResponse
	err := c.send(ctx, http.MethodPost, "/login", loginRequest{
		Username: username,
		Password: password,
		TenantID: c.opts.TenantID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := &store.Session{
		Server:    c.opts.BaseURL,
		TenantID:  c.opts.TenantID,
		User:      &resp.User,
		Cookies:   c.cookies(),
		CSRFToken: resp.CSRFToken,
		ExpiresAt: resp.ExpiresAt,
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.coordinator.Reset()

	if err := c.opts.Store.Save(session); err != nil {
		return nil, err
	}

	c.log.Info("logged in",
		logger.String("user_id", resp.User.ID),
		logger.String("tenant_id", resp.User.TenantID),
	)
	return &resp.User, nil
}

// Logout отзывает сессию на сервере и удаляет локальное состояние.
// Уже недействительная сессия ошибкой не считается.
func (c *Client) Logout(ctx context.Context) error {
	if _, ok := c.Session(); !ok {
		return ErrNotLoggedIn
	}

	err := c.send(ctx, http.MethodPost, "/logout", nil, nil)
	if err != nil && !IsRejected(err) {
		return err
	}

	c.forget()
	return c.opts.Store.Clear()
}

// Whoami возвращает данные текущей сессии. В автономном режиме без verify
// возвращается последний известный пользователь без обращения к серверу.
func (c *Client) Whoami(ctx context.Context, verify bool) (*Claims, error) {
	session, ok := c.Session()
	if !ok {
		return nil, ErrNotLoggedIn
	}

	if c.coordinator.Offline() && !verify {
		return cachedClaims(session), nil
	}

	var claims Claims
	err := c.do(ctx, http.MethodGet, "/session", nil, &claims)
	if IsUnreachable(err) && session.User != nil {
		c.coordinator.setOffline(true)
		c.OfflineChanged(true)
		return cachedClaims(session), nil
	}
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// Refresh явно продлевает сессию через координатор
func (c *Client) Refresh(ctx context.Context) (RefreshResult, error) {
	if _, ok := c.Session(); !ok {
		return RefreshResult{}, ErrNotLoggedIn
	}
	return c.coordinator.Refresh(ctx)
}

type revokedResponse struct {
	Revoked int `json:"sesiones_revocadas"`
}

// BlockUser блокирует пользователя и отзывает его сессии
func (c *Client) BlockUser(ctx context.Context, userID string) (int, error) {
	var resp revokedResponse
	err := c.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(userID)+"/block", nil, &resp)
	return resp.Revoked, err
}

// UnblockUser снимает блокировку
func (c *Client) UnblockUser(ctx context.Context, userID string) (bool, error) {
	var resp map[string]bool
	err := c.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(userID)+"/unblock", nil, &resp)
	return resp["desbloqueado"], err
}

// RevokeUserSessions отзывает все сессии пользователя
func (c *Client) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	var resp revokedResponse
	err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID)+"/sessions", nil, &resp)
	return resp.Revoked, err
}

// RevokeTenantSessions отзывает все сессии бизнеса
func (c *Client) RevokeTenantSessions(ctx context.Context, tenantID string) (int, error) {
	var resp revokedResponse
	err := c.do(ctx, http.MethodDelete, "/admin/tenants/"+url.PathEscape(tenantID)+"/sessions", nil, &resp)
	return resp.Revoked, err
}

// do выполняет запрос с сессией: заблаговременное обновление, затем
// не более одного обновления и повтора при отказе в авторизации
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if _, ok := c.Session(); !ok {
		return ErrNotLoggedIn
	}
	if err := c.refreshAhead(ctx); err != nil {
		return err
	}

	err := c.send(ctx, method, path, in, out)
	if !needsRefresh(err) {
		c.observe(err)
		return err
	}

	c.log.Debug("authorization rejected, refreshing session", logger.String("path", path))
	if _, rerr := c.coordinator.Refresh(ctx); rerr != nil {
		return rerr
	}

	err = c.send(ctx, method, path, in, out)
	c.observe(err)
	return err
}

func (c *Client) refreshAhead(ctx context.Context) error {
	session, _ := c.Session()
	if c.opts.RefreshAhead <= 0 || session.ExpiresAt.IsZero() || c.coordinator.Offline() {
		return nil
	}
	if session.ExpiresAt.Sub(c.nowFn()) > c.opts.RefreshAhead {
		return nil
	}

	_, err := c.coordinator.Refresh(ctx)
	if err != nil && (IsRejected(err) || errors.Is(err, ErrSessionTerminated)) {
		return err
	}
	if err != nil {
		c.log.Debug("proactive refresh failed", logger.Error(err))
	}
	return nil
}

func (c *Client) observe(err error) {
	if err == nil {
		c.coordinator.Reachable()
	}
}

func (c *Client) refreshCall(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	err := c.send(ctx, http.MethodPost, "/refresh", nil, &res)
	return res, err
}

func (c *Client) send(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ошибка кодирования запроса: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path).String(), body)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	tenant := c.opts.TenantID
	var csrfToken string
	if c.session != nil {
		if c.session.TenantID != "" {
			tenant = c.session.TenantID
		}
		csrfToken = c.session.CSRFToken
	}
	c.mu.Unlock()

	if tenant != "" {
		req.Header.Set(c.opts.TenantHeader, tenant)
	}
	if csrfToken != "" && method != http.MethodGet && method != http.MethodHead {
		req.Header.Set(c.opts.CSRFHeader, csrfToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа: %w", err)
	}
	return nil
}

// SessionRefreshed сохраняет новый срок, cookie и при ротации CSRF токен
func (c *Client) SessionRefreshed(res RefreshResult) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	c.session.ExpiresAt = res.ExpiresAt
	c.session.Cookies = c.cookies()
	c.session.Offline = false
	if res.CSRFToken != "" {
		c.session.CSRFToken = res.CSRFToken
	}
	snapshot := *c.session
	c.mu.Unlock()

	if err := c.opts.Store.Save(&snapshot); err != nil {
		c.log.Warn("failed to persist refreshed session", logger.Error(err))
	}
	c.log.Debug("session refreshed",
		logger.Time("expires_at", res.ExpiresAt),
		logger.Bool("rotated", res.Rotated),
	)
}

// SessionExpired завершает локальную сессию: очищает пользователя,
// показывает уведомление и через паузу вызывает OnTerminate
func (c *Client) SessionExpired(err error) {
	c.log.Info("session terminated by server", logger.Error(err))

	c.forget()
	if cerr := c.opts.Store.Clear(); cerr != nil {
		c.log.Warn("failed to clear session state", logger.Error(cerr))
	}
	fmt.Fprintln(c.opts.Notices, NoticeSessionExpired)

	c.terminateOnce.Do(func() {
		time.AfterFunc(c.opts.NoticeDelay, func() {
			close(c.done)
			if c.opts.OnTerminate != nil {
				c.opts.OnTerminate()
			}
		})
	})
}

// OfflineChanged переключает автономный режим, пользователь сохраняется
func (c *Client) OfflineChanged(offline bool) {
	c.mu.Lock()
	if c.session == nil || c.session.Offline == offline {
		c.mu.Unlock()
		return
	}
	c.session.Offline = offline
	snapshot := *c.session
	c.mu.Unlock()

	if err := c.opts.Store.Save(&snapshot); err != nil {
		c.log.Warn("failed to persist offline flag", logger.Error(err))
	}
	if offline {
		fmt.Fprintln(c.opts.Notices, noticeOffline)
	} else {
		fmt.Fprintln(c.opts.Notices, noticeOnline)
	}
}

func (c *Client) forget() {
	c.mu.Lock()
	stored := c.session
	c.session = nil
	c.mu.Unlock()

	if stored == nil {
		return
	}
	expired := make([]*http.Cookie, 0, len(stored.Cookies))
	for _, ck := range stored.Cookies {
		expired = append(expired, &http.Cookie{Name: ck.Name, Path: "/", MaxAge: -1})
	}
	c.jar.SetCookies(c.base, expired)
}

func (c *Client) cookies() []store.Cookie {
	var out []store.Cookie
	for _, ck := range c.jar.Cookies(c.endpoint("")) {
		out = append(out, store.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return out
}

func (c *Client) endpoint(path string) *url.URL {
	return c.base.JoinPath(apiPrefix, path)
}

func (c *Client) restoreCookies(cookies []store.Cookie) {
	restored := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		restored = append(restored, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.jar.SetCookies(c.base, restored)
}

func cachedClaims(s store.Session) *Claims {
	claims := &Claims{
		TenantID:  s.TenantID,
		ExpiresAt: s.ExpiresAt,
		Offline:   true,
	}
	if s.User != nil {
		claims.UserID = s.User.ID
		claims.Username = s.User.Username
		claims.Name = s.User.Name
		claims.Role = s.User.Role
		claims.Permissions = s.User.Permissions
	}
	return claims
}
