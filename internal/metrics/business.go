// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Booking engine metrics
	bookingCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_booking_commands_total",
		Help: "Coordinator commands by command and outcome",
	}, []string{"command", "outcome"}) // command=create|cancel|rebook, outcome=success|error kind

	bookingCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookd_booking_command_duration_seconds",
		Help:    "End-to-end coordinator command latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	idempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookd_idempotent_replays_total",
		Help: "Create calls short-circuited by an existing idempotency key",
	})

	cleanupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_cleanup_total",
		Help: "Compensation runs after partial create failures by outcome",
	}, []string{"outcome"}) // outcome=performed|failed

	// Lock metrics
	lockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_lock_acquire_total",
		Help: "Lock acquisition attempts by outcome",
	}, []string{"outcome"}) // outcome=acquired|contended|canceled|error

	// Credit ledger metrics
	creditOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_credit_ops_total",
		Help: "Credit ledger operations by op, field and outcome",
	}, []string{"op", "field", "outcome"}) // op=deduct|restore

	// Counter service metrics
	counterOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_counter_ops_total",
		Help: "Session counter mutations by op and mode",
	}, []string{"op", "mode"}) // op=increment|decrement|set, mode=atomic|fallback

	// Cache metrics
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_cache_requests_total",
		Help: "Cache lookups by outcome",
	}, []string{"outcome"}) // outcome=hit|miss|error

	cacheInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_cache_invalidations_total",
		Help: "Pattern invalidations by outcome",
	}, []string{"outcome"}) // outcome=ok|error

	// CRM client metrics
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_crm_requests_total",
		Help: "CRM requests by operation and status class",
	}, []string{"operation", "status"}) // status=2xx|4xx|5xx|429|error

	crmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookd_crm_request_duration_seconds",
		Help:    "CRM request latency including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	crmRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookd_crm_retries_total",
		Help: "CRM request retries after 429/5xx responses",
	})

	// Projection syncer metrics
	syncTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_sync_tasks_total",
		Help: "Fire-and-forget projection tasks by outcome",
	}, []string{"outcome"}) // outcome=queued|dropped|done|failed

	syncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookd_sync_queue_depth",
		Help: "Projection tasks currently waiting in the queue",
	})

	// Scheduled activation metrics
	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_activations_total",
		Help: "Scheduled session activations by outcome",
	}, []string{"outcome"}) // outcome=activated|failed

	activationTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookd_activation_ticks_total",
		Help: "Activator ticks executed",
	})

	// Reconciliation metrics
	reconcileRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_reconcile_repairs_total",
		Help: "Reconciliation repairs by kind",
	}, []string{"kind"}) // kind=counter_drift|session_sync|refund_retry|refund_gave_up

	// Read resolver metrics
	resolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookd_resolver_lookups_total",
		Help: "Read resolver lookups by entity and source",
	}, []string{"entity", "source"}) // source=faststore|crm|miss
)

func RecordBookingCommand(command, outcome string) {
	bookingCommandsTotal.WithLabelValues(command, outcome).Inc()
}

func ObserveBookingCommand(command string, seconds float64) {
	bookingCommandDuration.WithLabelValues(command).Observe(seconds)
}

func IncIdempotentReplay() { idempotentReplaysTotal.Inc() }

func RecordCleanup(outcome string) { cleanupTotal.WithLabelValues(outcome).Inc() }

func RecordLockAcquire(outcome string) { lockAcquireTotal.WithLabelValues(outcome).Inc() }

func RecordCreditOp(op, field, outcome string) {
	creditOpsTotal.WithLabelValues(op, field, outcome).Inc()
}

func RecordCounterOp(op, mode string) { counterOpsTotal.WithLabelValues(op, mode).Inc() }

func RecordCacheRequest(outcome string) { cacheRequestsTotal.WithLabelValues(outcome).Inc() }

func RecordCacheInvalidation(outcome string) {
	cacheInvalidationsTotal.WithLabelValues(outcome).Inc()
}

func RecordCRMRequest(operation, status string) {
	crmRequestsTotal.WithLabelValues(operation, status).Inc()
}

func ObserveCRMRequest(operation string, seconds float64) {
	crmRequestDuration.WithLabelValues(operation).Observe(seconds)
}

func IncCRMRetry() { crmRetriesTotal.Inc() }

func RecordSyncTask(outcome string) { syncTasksTotal.WithLabelValues(outcome).Inc() }

func SetSyncQueueDepth(n int) { syncQueueDepth.Set(float64(n)) }

func RecordActivation(outcome string, n int) {
	activationsTotal.WithLabelValues(outcome).Add(float64(n))
}

func IncActivationTick() { activationTicks.Inc() }

func RecordReconcileRepair(kind string) { reconcileRepairsTotal.WithLabelValues(kind).Inc() }

func RecordResolverLookup(entity, source string) {
	resolverLookupsTotal.WithLabelValues(entity, source).Inc()
}
