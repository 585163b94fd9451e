package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentsInitiatedTotal,
		paymentsFinalizedTotal,
		callbacksTotal,
		statusPollsTotal,
		gatewayRequestDuration,
		eventsPublishedTotal,
		recordsEvictedTotal,
	)
}

var (
	// result: recorded|unrecorded|validation|auth_error|submit_error
	paymentsInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_payments_initiated_total",
			Help: "STK push initiations by result.",
		},
		[]string{"result"},
	)

	// status: success|failed|cancelled; source: callback|query
	paymentsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_payments_finalized_total",
			Help: "Payments moved to a terminal status, by status and source.",
		},
		[]string{"status", "source"},
	)

	// outcome: finalized|duplicate|malformed|store_error
	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_callbacks_total",
			Help: "Gateway callbacks received, by handling outcome.",
		},
		[]string{"outcome"},
	)

	statusPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_status_polls_total",
			Help: "Status polls, by whether the id was known.",
		},
		[]string{"found"},
	)

	// op: token|submit|query
	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stk_gateway_request_duration_seconds",
			Help:    "Latency of gateway calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"op", "result"},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_events_published_total",
			Help: "Finalized-payment events handed to the broker, by result.",
		},
		[]string{"result"},
	)

	recordsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stk_records_evicted_total",
			Help: "Payment records dropped by the retention sweep.",
		},
	)
)

func IncInitiated(result string) {
	paymentsInitiatedTotal.WithLabelValues(norm(result)).Inc()
}

func IncFinalized(status, source string) {
	paymentsFinalizedTotal.WithLabelValues(norm(status), norm(source)).Inc()
}

func IncCallback(outcome string) {
	callbacksTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncStatusPoll(found bool) {
	l := "false"
	if found {
		l = "true"
	}
	statusPollsTotal.WithLabelValues(l).Inc()
}

// ObserveGateway records one gateway call. Usage: defer metrics.ObserveGateway("submit", time.Now(), &err)
func ObserveGateway(op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	gatewayRequestDuration.WithLabelValues(norm(op), resultLabel(e)).Observe(time.Since(start).Seconds())
}

func IncEventPublished(err error) {
	eventsPublishedTotal.WithLabelValues(resultLabel(err)).Inc()
}

func AddEvicted(n int) {
	recordsEvictedTotal.Add(float64(n))
}
