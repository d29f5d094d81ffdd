package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/password"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// memUsers хранилище пользователей в памяти с теми же гарантиями
// атомарности, что и SQL реализация
// afterFind вызывается в FindByUsername после чтения, вне блокировки.
type memUsers struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	afterFind func()
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) add(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUsers) get(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memUsers) FindByUsername(_ context.Context, tenantID, username string) (*domain.User, error) {
	m.mu.Lock()
	var found *domain.User
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Username == username {
			cp := *u
			found = &cp
			break
		}
	}
	hook := m.afterFind
	m.mu.Unlock()

	if found == nil {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return found, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) RegisterFailedAttempt(_ context.Context, id string, maxAttempts int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, false, repository.ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= maxAttempts {
		u.Locked = true
	}
	return u.FailedAttempts, u.Locked, nil
}

func (m *memUsers) Lock(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.Locked = true
	return true, nil
}

func (m *memUsers) Unlock(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.Locked = false
	u.FailedAttempts = 0
	return true, nil
}

func (m *memUsers) RecordSuccessfulLogin(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if u.Locked {
		return false, nil
	}
	u.FailedAttempts = 0
	u.LastAccessAt = &at
	return true, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// memSessions хранилище сессий в памяти. beforeFind вызывается внутри
// FindActiveByTokenHash после чтения, но до возврата результата.
// beforeCreate вызывается в Create до записи.
type memSessions struct {
	mu           sync.Mutex
	sessions     map[string]*domain.Session
	finds        int
	beforeFind   func()
	beforeCreate func()
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*domain.Session)}
}

func (m *memSessions) findCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

func (m *memSessions) byHash(tokenHash string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

func (m *memSessions) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Active {
			n++
		}
	}
	return n
}

func (m *memSessions) Create(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	hook := m.beforeCreate
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.TokenHash] = &cp
	return nil
}

func (m *memSessions) FindActiveByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	m.mu.Lock()
	m.finds++
	s, ok := m.sessions[tokenHash]
	var cp domain.Session
	if ok {
		cp = *s
	}
	hook := m.beforeFind
	m.mu.Unlock()

	if !ok || !cp.Active {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (m *memSessions) Deactivate(_ context.Context, tokenHash string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok || !s.Active {
		return nil, nil
	}
	s.Active = false
	cp := *s
	return &cp, nil
}

func (m *memSessions) deactivateWhere(match func(*domain.Session) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hashes []string
	for h, s := range m.sessions {
		if s.Active && match(s) {
			s.Active = false
			hashes = append(hashes, h)
		}
	}
	sort.Strings(hashes)
	return hashes
}

func (m *memSessions) DeactivateByUser(_ context.Context, userID string) ([]string, error) {
	return m.deactivateWhere(func(s *domain.Session) bool { return s.UserID == userID }), nil
}

func (m *memSessions) DeactivateByTenant(_ context.Context, tenantID string) ([]string, error) {
	return m.deactivateWhere(func(s *domain.Session) bool { return s.TenantID == tenantID }), nil
}

func (m *memSessions) DeactivateExpired(_ context.Context, now time.Time) ([]string, error) {
	return m.deactivateWhere(func(s *domain.Session) bool { return s.Expired(now) }), nil
}

func (m *memSessions) Extend(_ context.Context, tokenHash string, expiresAt, now time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok || !s.Active || s.Expired(now) {
		return nil, repository.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	s.LastActivityAt = now
	cp := *s
	return &cp, nil
}

func (m *memSessions) Rotate(_ context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[oldHash]
	if !ok || !s.Active || s.Expired(now) {
		return nil, repository.ErrNotFound
	}
	s.Active = false
	s.LastActivityAt = now
	rotated := &domain.Session{
		ID:             s.ID + "-r",
		TokenHash:      newHash,
		UserID:         s.UserID,
		TenantID:       s.TenantID,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		LastActivityAt: now,
		Active:         true,
	}
	m.sessions[newHash] = rotated
	cp := *rotated
	return &cp, nil
}

// gatedHasher задерживает проверку пароля gated до закрытия release
type gatedHasher struct {
	password.Hasher
	gated   string
	release chan struct{}
}

func (g *gatedHasher) Verify(plain, encoded string) (bool, bool, error) {
	if plain == g.gated {
		<-g.release
	}
	return g.Hasher.Verify(plain, encoded)
}

type fixedPolicy struct {
	policy domain.Policy
}

func (f fixedPolicy) Policy(context.Context, string) (domain.Policy, error) {
	return f.policy, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (m *memAudit) Record(_ context.Context, event domain.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memAudit) kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]domain.EventKind, 0, len(m.events))
	for _, e := range m.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (m *memAudit) last(kind domain.EventKind) (domain.AuditEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Kind == kind {
			return m.events[i], true
		}
	}
	return domain.AuditEvent{}, false
}

// recordingBus запоминает опубликованные инвалидации
type recordingBus struct {
	mu       sync.Mutex
	messages []cache.Message
}

func (b *recordingBus) Publish(_ context.Context, scope cache.Scope, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, cache.Message{Scope: scope, Keys: keys})
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, _ func(cache.Message)) error {
	<-ctx.Done()
	return nil
}

func (b *recordingBus) sent() []cache.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cache.Message(nil), b.messages...)
}

var testPolicy = domain.Policy{
	MaxLoginAttempts:      5,
	InactiveUserDays:      90,
	SessionTimeoutMinutes: 480,
}

type harness struct {
	svc      *Service
	users    *memUsers
	sessions *memSessions
	audit    *memAudit
	bus      *recordingBus
	cache    *cache.SessionCache
	hasher   *password.Argon2Hasher

	mu  sync.Mutex
	now time.Time
}

type harnessOption func(*Dependencies)

func withPolicy(p domain.Policy) harnessOption {
	return func(d *Dependencies) { d.Policies = fixedPolicy{policy: p} }
}

func withPasswords(p func(password.Hasher) password.Hasher) harnessOption {
	return func(d *Dependencies) { d.Passwords = p(d.Passwords) }
}

func withRotation() harnessOption {
	return func(d *Dependencies) { d.RotateOnRenew = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		users:    newMemUsers(),
		sessions: newMemSessions(),
		audit:    &memAudit{},
		bus:      &recordingBus{},
		cache:    cache.NewSessionCache(),
		hasher:   password.NewArgon2Hasher(password.Params{Time: 1, MemoryKiB: 1024, Threads: 1}),
		now:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	deps := Dependencies{
		Users:     h.users,
		Sessions:  h.sessions,
		Policies:  fixedPolicy{policy: testPolicy},
		Cache:     h.cache,
		Bus:       h.bus,
		Audit:     h.audit,
		Passwords: h.hasher,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.svc = NewAuthService(deps)
	h.svc.nowFn = h.clock
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) addUser(t *testing.T, id, tenantID, username, plain string) *domain.User {
	t.Helper()
	encoded, err := h.hasher.Hash(plain)
	require.NoError(t, err)

	u := &domain.User{
		ID:           id,
		TenantID:     tenantID,
		Username:     username,
		PasswordHash: encoded,
		Name:         username,
		RoleID:       "rol-vendedor",
		RoleName:     "vendedor",
		Permissions:  []string{"ventas:crear"},
	}
	h.users.add(u)
	return u
}

func (h *harness) login(t *testing.T, tenantID, username, plain string) string {
	t.Helper()
	res, err := h.svc.Authenticate(context.Background(), LoginRequest{
		Username: username,
		Password: plain,
		TenantID: tenantID,
	})
	require.NoError(t, err)
	return res.Token
}
