// Package metrics defines the prometheus metric types statetransd exposes
// and is kept as the single place new instrumentation gets added.
//
// Grounded on _examples/m-lab-etl/metrics/metrics.go's pattern of a single
// package-level var block of promauto constructors, one doc comment per
// metric naming the series it produces and a usage example.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnomalyCount counts anomaly reports emitted to the uplink, broken down
	// by the state machine that produced them.
	//
	// Provides metrics:
	//   statetrans_anomaly_count{statemachine}
	// Example usage:
	//   metrics.AnomalyCount.WithLabelValues("tcp").Inc()
	AnomalyCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statetrans_anomaly_count",
			Help: "Number of anomaly reports emitted to the uplink.",
		},
		[]string{"statemachine"},
	)

	// BelowThresholdCount counts finished conversations scored in DETECTION
	// mode that did not clear the anomaly threshold.
	//
	// Provides metrics:
	//   statetrans_below_threshold_count{statemachine}
	BelowThresholdCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statetrans_below_threshold_count",
			Help: "Number of scored conversations that did not clear the anomaly threshold.",
		},
		[]string{"statemachine"},
	)

	// LearningSampleCount counts conversations folded into a host's learning
	// profile, broken down by state machine and evaluator.
	//
	// Provides metrics:
	//   statetrans_learning_sample_count{statemachine, evaluator}
	LearningSampleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statetrans_learning_sample_count",
			Help: "Number of conversations folded into a host's learning profile.",
		},
		[]string{"statemachine", "evaluator"},
	)

	// Mode reports the Engine's current operating mode as a gauge: 0 for
	// LEARNING, 1 for DETECTION.
	//
	// Provides metrics:
	//   statetrans_mode
	Mode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statetrans_mode",
			Help: "Current engine mode: 0=LEARNING, 1=DETECTION.",
		},
	)

	// HostCount reports the number of distinct profile keys the Engine is
	// currently tracking in its active mode's profile pool.
	//
	// Provides metrics:
	//   statetrans_host_count
	HostCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statetrans_host_count",
			Help: "Number of distinct hosts with an active learning or detection profile.",
		},
	)

	// UplinkReconnectCount counts successful reconnections made by the
	// uplink client after a dropped connection to the upstream controller;
	// failed redial attempts are not counted.
	//
	// Provides metrics:
	//   statetrans_uplink_reconnect_count
	UplinkReconnectCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statetrans_uplink_reconnect_count",
			Help: "Number of times the uplink client has reconnected to the controller.",
		},
	)

	// TransitionCount counts classified state transitions per state machine
	// and transition label (statemachine.Transition.MetricLabel).
	//
	// Provides metrics:
	//   statetrans_transition_count{statemachine, transition}
	TransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statetrans_transition_count",
			Help: "Number of classified state transitions, by transition label.",
		},
		[]string{"statemachine", "transition"},
	)
)
