package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"WorkshopPlatform/pkg/logger"
)

// Scope область инвалидации
type Scope string

const (
	ScopeTokens Scope = "tokens"
	ScopeUser   Scope = "user"
	ScopeTenant Scope = "tenant"
)

// Message сообщение об инвалидации для других экземпляров сервиса
type Message struct {
	Origin string   `json:"origin"`
	Scope  Scope    `json:"scope"`
	Keys   []string `json:"keys"`
}

// Bus рассылает инвалидации между экземплярами. Доставка не гарантируется:
// экземпляр, пропустивший сообщение, отдает запись из кэша до ее истечения.
type Bus interface {
	Publish(ctx context.Context, scope Scope, keys ...string) error
	// Subscribe блокируется до отмены ctx
	Subscribe(ctx context.Context, apply func(Message)) error
}

// Apply применяет сообщение к кэшу
func (c *SessionCache) Apply(m Message) int {
	switch m.Scope {
	case ScopeTokens:
		return c.InvalidateMany(m.Keys)
	case ScopeUser:
		removed := 0
		for _, k := range m.Keys {
			removed += c.InvalidateByUser(k)
		}
		return removed
	case ScopeTenant:
		removed := 0
		for _, k := range m.Keys {
			removed += c.InvalidateByTenant(k)
		}
		return removed
	}
	return 0
}

// NopBus шина для одиночного экземпляра
type NopBus struct{}

func (NopBus) Publish(context.Context, Scope, ...string) error { return nil }

func (NopBus) Subscribe(ctx context.Context, _ func(Message)) error {
	<-ctx.Done()
	return nil
}

// RedisBus шина на Redis pub/sub
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
	log     logger.Logger
}

// NewRedisBus создает шину. Собственные сообщения экземпляр игнорирует.
func NewRedisBus(client *redis.Client, channel string, log logger.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
	}
}

// Publish отправляет инвалидацию
func (b *RedisBus) Publish(ctx context.Context, scope Scope, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(Message{Origin: b.origin, Scope: scope, Keys: keys})
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe слушает канал и применяет чужие сообщения
func (b *RedisBus) Subscribe(ctx context.Context, apply func(Message)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("subscribed to session invalidations", logger.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription %s closed", b.channel)
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.log.Warn("malformed invalidation message", logger.Error(err))
				continue
			}
			if m.Origin == b.origin {
				continue
			}
			apply(m)
		}
	}
}
