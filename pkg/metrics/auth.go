package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AuthMetrics метрики жизненного цикла сессий.
// Все методы допускают nil получатель.
type AuthMetrics struct {
	LoginAttempts     *prometheus.CounterVec
	ValidationResults *prometheus.CounterVec
	Revocations       *prometheus.CounterVec
	Renewals          *prometheus.CounterVec
	SweepDeactivated  prometheus.Counter
	SweepRuns         *prometheus.CounterVec
	AuditFailures     *prometheus.CounterVec
	CachedSessions    prometheus.Gauge

	tracer trace.Tracer
}

// NewAuthMetrics регистрирует метрики аутентификации
func NewAuthMetrics(namespace string, reg prometheus.Registerer) *AuthMetrics {
	return &AuthMetrics{
		LoginAttempts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"})),
		ValidationResults: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_validations_total",
			Help:      "Session validations by source and outcome",
		}, []string{"source", "outcome"})),
		Revocations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "sessions_revoked_total",
			Help:      "Sessions deactivated by scope",
		}, []string{"scope"})),
		Renewals: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_renewals_total",
			Help:      "Session renewals by outcome",
		}, []string{"outcome"})),
		SweepDeactivated: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "sweep_deactivated_total",
			Help:      "Expired sessions deactivated by the background sweep",
		})),
		SweepRuns: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "sweep_runs_total",
			Help:      "Background sweep runs by outcome",
		}, []string{"outcome"})),
		AuditFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "audit_failures_total",
			Help:      "Audit events that could not be written",
		}, []string{"sink"})),
		CachedSessions: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "cached_sessions",
			Help:      "Entries in the process-local session cache",
		})),
		tracer: otel.Tracer(namespace + "/auth"),
	}
}

// Login фиксирует исход попытки входа
func (m *AuthMetrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// Validation фиксирует исход проверки сессии (source: cache или store)
func (m *AuthMetrics) Validation(source, outcome string) {
	if m == nil {
		return
	}
	m.ValidationResults.WithLabelValues(source, outcome).Inc()
}

// Revoked добавляет число деактивированных сессий
func (m *AuthMetrics) Revoked(scope string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Revocations.WithLabelValues(scope).Add(float64(n))
}

// Renewal фиксирует исход продления
func (m *AuthMetrics) Renewal(outcome string) {
	if m == nil {
		return
	}
	m.Renewals.WithLabelValues(outcome).Inc()
}

// Sweep фиксирует прогон фоновой очистки
func (m *AuthMetrics) Sweep(deactivated int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepRuns.WithLabelValues("error").Inc()
		return
	}
	m.SweepRuns.WithLabelValues("ok").Inc()
	m.SweepDeactivated.Add(float64(deactivated))
}

// AuditFailed фиксирует сбой записи аудита
func (m *AuthMetrics) AuditFailed(sink string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(sink).Inc()
}

// CacheSize обновляет размер кэша сессий
func (m *AuthMetrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.CachedSessions.Set(float64(n))
}

// StartSpan открывает спан операции над сессиями
func (m *AuthMetrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("auth")
	if m != nil {
		tracer = m.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan закрывает спан, отмечая ошибку
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
