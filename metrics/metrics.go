// Package metrics exposes the service's Prometheus collectors and the
// standalone metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlowsRegistered counts flow registrations by flow type.
	FlowsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrack",
		Name:      "flows_registered_total",
		Help:      "Flows registered, by flow type.",
	}, []string{"flow_type"})

	// FlowsFinished counts flows reaching a terminal status.
	FlowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrack",
		Name:      "flows_finished_total",
		Help:      "Flows that reached a terminal status, by status.",
	}, []string{"status"})

	// StagesConfirmed counts confirmed stages by stage name.
	StagesConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrack",
		Name:      "stages_confirmed_total",
		Help:      "Stage confirmations, by stage.",
	}, []string{"stage"})

	// BlocksScanned counts blocks fetched and scanned by the pollers.
	BlocksScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrack",
		Name:      "poller_blocks_scanned_total",
		Help:      "Blocks scanned by the pollers, by chain id.",
	}, []string{"chain"})

	// ScanErrors counts per-height fetch errors the pollers advanced past.
	ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrack",
		Name:      "poller_scan_errors_total",
		Help:      "Per-height errors the pollers skipped, by chain id.",
	}, []string{"chain"})

	// JobsEnqueued counts tracking jobs handed to the queue.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrack",
		Name:      "jobs_enqueued_total",
		Help:      "Tracking jobs enqueued, by kind (track or resume).",
	}, []string{"kind"})

	// ActiveSubscriptions gauges live WebSocket subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowtrack",
		Name:      "websocket_subscriptions",
		Help:      "Active WebSocket flow subscriptions.",
	})
)
