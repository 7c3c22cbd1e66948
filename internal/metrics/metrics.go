package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "samgo",
			Subsystem: "emulator",
			Name:      "launches_total",
			Help:      "Number of emulated game launches by result.",
		}, []string{"result"},
	)
	exits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "samgo",
			Subsystem: "emulator",
			Name:      "exits_total",
			Help:      "Number of reaped emulated game processes.",
		},
	)
	refreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "samgo",
			Subsystem: "channel",
			Name:      "refresh_requests_total",
			Help:      "Number of retrieve doorbells rung.",
		},
	)
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "samgo",
			Subsystem: "channel",
			Name:      "mutations_total",
			Help:      "Mutation records by outcome (sent, confirmed, unconfirmed, unknown, error).",
		}, []string{"outcome"},
	)
	desyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "samgo",
			Subsystem: "channel",
			Name:      "desyncs_total",
			Help:      "Number of failed snapshot reads that ended a session.",
		},
	)
	achievements = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "samgo",
			Subsystem: "snapshot",
			Name:      "achievements",
			Help:      "Achievements in the cached snapshot (total and achieved).",
		}, []string{"kind"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "samgo",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between supervisor states.",
		}, []string{"from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "samgo",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, exits, refreshes, mutations, desyncs, achievements, stateTransitions, currentStates, childCPUPercent, childMemoryMB, childNumThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(result string) {
	if regOK.Load() {
		launches.WithLabelValues(result).Inc()
	}
}

func IncExit() {
	if regOK.Load() {
		exits.Inc()
	}
}

func IncRefresh() {
	if regOK.Load() {
		refreshes.Inc()
	}
}

func IncMutation(outcome string) {
	if regOK.Load() {
		mutations.WithLabelValues(outcome).Inc()
	}
}

func IncDesync() {
	if regOK.Load() {
		desyncs.Inc()
	}
}

func SetAchievements(total, achieved int) {
	if regOK.Load() {
		achievements.WithLabelValues("total").Set(float64(total))
		achievements.WithLabelValues("achieved").Set(float64(achieved))
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(state).Set(value)
	}
}
