/**
 * @description
 * Prometheus collectors for the library-service. Collectors are registered on the
 * registerer passed to New, so tests can use a private registry. Every helper is
 * safe on a nil *Metrics.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Collectors and registration.
 */

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "library"

// Metrics groups every collector the service reports.
type Metrics struct {
	LedgerOperations *prometheus.CounterVec
	CreditsMoved     *prometheus.CounterVec
	PaymentEvents    *prometheus.CounterVec
	FileResponses    *prometheus.CounterVec
	BytesServed      prometheus.Counter
	ExpirySweeps     *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LedgerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		CreditsMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_moved_total",
			Help:      "Credits added or spent, by entry kind.",
		}, []string{"kind"}),
		PaymentEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_requests_total",
			Help:      "Payment requests by resulting status.",
		}, []string{"status"}),
		FileResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_responses_total",
			Help:      "File server responses by HTTP status.",
		}, []string{"code"}),
		BytesServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_bytes_served_total",
			Help:      "Bytes written by the file server.",
		}),
		ExpirySweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweeps_total",
			Help:      "Credit expiry sweep runs by outcome.",
		}, []string{"outcome"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests refused by the rate limiter, by scope.",
		}, []string{"scope"}),
	}
}

func (m *Metrics) ObserveLedger(operation, outcome string) {
	if m == nil {
		return
	}
	m.LedgerOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) AddCredits(kind string, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.CreditsMoved.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) ObservePayment(status string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveFileResponse(code int, bytes int64) {
	if m == nil {
		return
	}
	m.FileResponses.WithLabelValues(strconv.Itoa(code)).Inc()
	if bytes > 0 {
		m.BytesServed.Add(float64(bytes))
	}
}

func (m *Metrics) ObserveSweep(outcome string) {
	if m == nil {
		return
	}
	m.ExpirySweeps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}
