// Package metrics exports dispatch outcomes as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/dispatch"
)

// Observer implements dispatch.Observer.
type Observer struct {
	decisions *prometheus.CounterVec
	deletions prometheus.Counter
}

// NewObserver registers the counters on reg. A nil reg uses the default
// Prometheus registerer.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoversion_decisions_total",
			Help: "Lifecycle events settled by the dispatcher, by event kind and outcome",
		}, []string{"event", "outcome"}),
		deletions: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoversion_history_deletions_total",
			Help: "Version histories deleted",
		}),
	}
}

// ObserveDecision implements dispatch.Observer.
func (o *Observer) ObserveDecision(kind core.EventKind, outcome dispatch.Outcome) {
	o.decisions.WithLabelValues(kind.String(), string(outcome)).Inc()
}

// ObserveHistoryDeleted implements dispatch.Observer.
func (o *Observer) ObserveHistoryDeleted(core.NodeRef) {
	o.deletions.Inc()
}

var _ dispatch.Observer = (*Observer)(nil)
