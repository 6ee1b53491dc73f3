package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Core operation counters and histograms.

var (
	// Blacklist engine
	RejectionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "blacklist",
		Name:      "rejections_processed_total",
		Help:      "Total rejections processed by the blacklist engine",
	}, []string{"outcome"}) // counted | warning | blacklisted

	BlacklistTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "blacklist",
		Name:      "transitions_total",
		Help:      "Total blacklist state transitions",
	}, []string{"action"}) // AUTO_BLACKLIST | MANUAL_BLACKLIST | WHITELIST

	ApprovalResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "blacklist",
		Name:      "approval_resets_total",
		Help:      "Total consecutive-rejection counter resets on approval",
	})

	BlacklistChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "blacklist",
		Name:      "checks_total",
		Help:      "Total blacklist gate checks",
	}, []string{"result", "source"}) // result: clear|blacklisted, source: cache|db

	// Token ledger
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "token",
		Name:      "issued_total",
		Help:      "Total transport tokens issued",
	})

	ScansProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "token",
		Name:      "scans_total",
		Help:      "Total checkpoint scans by outcome reason",
	}, []string{"reason"}) // OK | NOT_FOUND | EXPIRED | CANCELLED | INVALID_PERIOD | INVALID_MATERIAL | INVALID_QUANTITY | EXHAUSTED | SHARE_MISMATCH

	ScanLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "etoken",
		Subsystem: "token",
		Name:      "scan_duration_seconds",
		Help:      "Checkpoint scan processing duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	TokensExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "token",
		Name:      "exhausted_total",
		Help:      "Total tokens retired after full material consumption",
	})

	TokensShared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "token",
		Name:      "shares_total",
		Help:      "Total driver delegations created",
	})

	GeoFenceWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "token",
		Name:      "geofence_warnings_total",
		Help:      "Total scans logged outside the configured bounding box",
	})

	// Notifications
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Total notifications dispatched",
	}, []string{"channel", "kind"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Total notification send failures (logged, never propagated)",
	}, []string{"channel", "kind"})

	NotificationsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "notify",
		Name:      "cooldown_skipped_total",
		Help:      "Total notifications suppressed by cooldown",
	}, []string{"channel", "kind"})

	// API
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total API requests by path pattern and status",
	}, []string{"path", "status"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etoken",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"path"})
)
