package monitoring

import (
	"context"
	"log/slog"
	"time"

	"clubsite/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_attempts_total",
			Help: "Ticket scan attempts by outcome",
		},
		[]string{"outcome"},
	)

	webhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_notifications_total",
			Help: "Payment notifications handled by reference kind and result",
		},
		[]string{"kind", "result"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Pending tickets created by purchases",
		},
	)

	ticketsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_confirmed_total",
			Help: "Tickets promoted from pending to valid",
		},
	)

	ticketsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_expired_total",
			Help: "Pending tickets cancelled after their hold lapsed",
		},
	)

	oversellGuard = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_oversell_guard_total",
			Help: "Approved batches rejected by the quantity_sold guard",
		},
	)

	emailFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Emails that could not be delivered",
		},
		[]string{"kind"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "operation", "status"},
	)

	pendingTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickets_pending",
			Help: "Tickets currently waiting for payment",
		},
	)
)

func TrackScan(outcome models.ScanOutcome) {
	scansTotal.WithLabelValues(string(outcome)).Inc()
}

func TrackWebhook(kind, result string) {
	webhookNotifications.WithLabelValues(kind, result).Inc()
}

func TrackTicketsIssued(n int) {
	ticketsIssued.Add(float64(n))
}

func TrackTicketsConfirmed(n int) {
	ticketsConfirmed.Add(float64(n))
}

func TrackTicketsExpired(n int) {
	ticketsExpired.Add(float64(n))
}

func TrackOversellGuard() {
	oversellGuard.Inc()
}

func TrackEmailFailure(kind string) {
	emailFailures.WithLabelValues(kind).Inc()
}

// TrackGatewayCall records the duration of a gateway call started at start.
func TrackGatewayCall(provider, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayDuration.WithLabelValues(provider, operation, status).Observe(time.Since(start).Seconds())
}

// PendingCounter is the store query the monitor polls.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type PendingCounterFunc func(ctx context.Context) (int, error)

func (f PendingCounterFunc) CountPending(ctx context.Context) (int, error) {
	return f(ctx)
}

type Monitor struct {
	counter  PendingCounter
	interval time.Duration
	ready    func() bool
}

func NewMonitor(counter PendingCounter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{counter: counter, interval: interval}
}

// WhenReady makes collection a no-op while ready reports false.
func (m *Monitor) WhenReady(ready func() bool) *Monitor {
	m.ready = ready
	return m
}

// Run collects gauges until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	if m.ready != nil && !m.ready() {
		return
	}
	n, err := m.counter.CountPending(ctx)
	if err != nil {
		slog.Warn("monitor.collect()", "error", err)
		return
	}
	pendingTickets.Set(float64(n))
}
