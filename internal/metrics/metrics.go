// Package metrics defines and registers all custom Prometheus metrics for the
// guild sync service. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics register with the default Prometheus registry at package init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guildsync"

// ── Reconciliation runs ──────────────────────────────────────────────────────

// SyncRunsTotal counts finished reconciliation runs.
// Labels:
//   - kind: "full", "incremental" or "member_join"
//   - result: "success" (lists fetched) or "fetch_failure"
var SyncRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Total number of reconciliation runs, by kind and result.",
	},
	[]string{"kind", "result"},
)

// SyncRunDuration measures wall time of a run.
var SyncRunDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_run_duration_seconds",
		Help:      "Duration of reconciliation runs.",
		Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"kind"},
)

// SyncUserFailuresTotal counts per-user step failures.
// Labels:
//   - step: the failing step (e.g. "role_grant", "notify", "grace_expire")
//   - error_class: the mapped error class (e.g. "permission_denied")
var SyncUserFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_user_failures_total",
		Help:      "Total number of per-user step failures during reconciliation.",
	},
	[]string{"step", "error_class"},
)

// SyncLastSuccess is the unix time of the last full run whose list fetch succeeded.
var SyncLastSuccess = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix time of the last successful full reconciliation run.",
	},
)

// ── Roles and notifications ──────────────────────────────────────────────────

// RoleMutationsTotal counts Ensure outcomes.
// Labels:
//   - action: "grant" or "revoke"
//   - outcome: "applied", "already_correct" or "failed"
var RoleMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_mutations_total",
		Help:      "Total number of role ensure calls, by action and outcome.",
	},
	[]string{"action", "outcome"},
)

// NotificationsTotal counts dispatcher outcomes.
// Labels:
//   - kind: "confirmation", "grace_reminder" or "expiration"
//   - outcome: "sent", "skipped" or "failed"
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Total number of lifecycle notifications, by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// NotificationDedupTotal counts ledger decisions.
// Label:
//   - result: "hit" (duplicate, skipped) or "miss" (first claim)
var NotificationDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_dedup_total",
		Help:      "Total number of notification deduplication checks, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// ── Billing events ───────────────────────────────────────────────────────────

// BillingEventsTotal counts accepted webhook events.
// Label:
//   - type: the webhook type, or "unknown"
var BillingEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_events_total",
		Help:      "Total number of billing webhook events accepted, by type.",
	},
	[]string{"type"},
)

// BillingQueueDepth tracks the number of events waiting in each worker channel.
var BillingQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "billing_queue_depth",
		Help:      "Current number of billing events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
