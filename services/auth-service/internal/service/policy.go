package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// PolicySource источник параметров входа для бизнеса
type PolicySource interface {
	Policy(ctx context.Context, tenantID string) (domain.Policy, error)
}

type policyEntry struct {
	policy   domain.Policy
	loadedAt time.Time
}

// PolicyProvider читает параметры из configuracion и кэширует их на ttl.
// Отсутствующие и некорректные значения берутся из defaults.
type PolicyProvider struct {
	repo     repository.PolicyRepository
	defaults domain.Policy
	ttl      time.Duration
	log      logger.Logger
	nowFn    func() time.Time

	mu      sync.Mutex
	entries map[string]policyEntry
}

// NewPolicyProvider создает новый экземпляр PolicyProvider
func NewPolicyProvider(repo repository.PolicyRepository, defaults domain.Policy, ttl time.Duration, log logger.Logger) *PolicyProvider {
	return &PolicyProvider{
		repo:     repo,
		defaults: defaults,
		ttl:      ttl,
		log:      log,
		nowFn:    time.Now,
		entries:  make(map[string]policyEntry),
	}
}

// Policy возвращает параметры бизнеса
func (p *PolicyProvider) Policy(ctx context.Context, tenantID string) (domain.Policy, error) {
	now := p.nowFn()

	p.mu.Lock()
	entry, ok := p.entries[tenantID]
	p.mu.Unlock()
	if ok && now.Sub(entry.loadedAt) < p.ttl {
		return entry.policy, nil
	}

	values, err := p.repo.Load(ctx, tenantID)
	if err != nil {
		return domain.Policy{}, pkgerrors.Transient(err, "load policy")
	}

	policy := p.defaults
	p.apply(tenantID, values, domain.PolicyKeyMaxLoginAttempts, &policy.MaxLoginAttempts)
	p.apply(tenantID, values, domain.PolicyKeyInactiveUserDays, &policy.InactiveUserDays)
	p.apply(tenantID, values, domain.PolicyKeySessionTimeout, &policy.SessionTimeoutMinutes)

	p.mu.Lock()
	p.entries[tenantID] = policyEntry{policy: policy, loadedAt: now}
	p.mu.Unlock()

	return policy, nil
}

// Invalidate сбрасывает кэш бизнеса, чтобы следующее чтение пошло в базу
func (p *PolicyProvider) Invalidate(tenantID string) {
	p.mu.Lock()
	delete(p.entries, tenantID)
	p.mu.Unlock()
}

func (p *PolicyProvider) apply(tenantID string, values map[string]string, key string, target *int) {
	raw, ok := values[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		p.log.Warn("ignoring invalid policy value",
			logger.String("tenant_id", tenantID),
			logger.String("key", key),
			logger.String("value", raw),
		)
		return
	}
	*target = n
}
