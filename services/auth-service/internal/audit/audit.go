package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/pkg/rabbitmq"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// Sink журнал событий безопасности. Сбой записи не прерывает операцию,
// которая его вызвала.
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

// Publisher публикация событий в брокер
type Publisher interface {
	Publish(ctx context.Context, body []byte, options ...rabbitmq.PublishOption) error
}

// Recorder пишет событие в eventos_sistema и, если задан publisher,
// дублирует его в RabbitMQ с ключом auth.<tipo>
type Recorder struct {
	store     repository.AuditRepository
	publisher Publisher
	metrics   *metrics.AuthMetrics
	log       logger.Logger
	nowFn     func() time.Time
}

// NewRecorder создает Recorder. publisher может быть nil.
func NewRecorder(store repository.AuditRepository, publisher Publisher, m *metrics.AuthMetrics, log logger.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		metrics:   m,
		log:       log,
		nowFn:     time.Now,
	}
}

// Record записывает событие
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.nowFn().UTC()
	}

	fields := []logger.Field{
		logger.CtxField(ctx),
		logger.String("event", string(event.Kind)),
		logger.String("tenant_id", event.TenantID),
		logger.String("user_id", event.UserID),
	}

	if err := r.store.Insert(ctx, &event); err != nil {
		r.metrics.AuditFailed("postgres")
		r.log.Error("failed to write audit event", append(fields, logger.Error(err))...)
	}

	if r.publisher == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		r.metrics.AuditFailed("rabbitmq")
		r.log.Error("failed to encode audit event", append(fields, logger.Error(err))...)
		return
	}

	err = r.publisher.Publish(ctx, body,
		rabbitmq.WithRoutingKey("auth."+string(event.Kind)),
		rabbitmq.WithMessageID(event.ID),
		rabbitmq.WithHeaders(amqp091.Table{"negocio_id": event.TenantID}),
	)
	if err != nil {
		r.metrics.AuditFailed("rabbitmq")
		r.log.Warn("failed to publish audit event", append(fields, logger.Error(err))...)
	}
}
