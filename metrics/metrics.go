// Package metrics exports transaction layer statistics to Prometheus.
//
// [Collector] is both a [transaction.Stats] sink and a [prometheus.Collector]:
//
//	c := metrics.NewCollector(&metrics.Options{Namespace: "pbx"})
//	prometheus.MustRegister(c)
//	layer, err := transaction.NewLayer(tp, &transaction.LayerOptions{Stats: c})
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghettovoice/siptx/sip"
	"github.com/ghettovoice/siptx/transaction"
)

// MethodOther is the method label of extension methods.
const MethodOther = "OTHER"

// Options configures a [Collector].
type Options struct {
	// Namespace prefixes metric names. Default is "siptx".
	Namespace string
	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels
	// StateTransitions enables the per-state transition counter.
	StateTransitions bool
}

func (o *Options) namespace() string {
	if o == nil || o.Namespace == "" {
		return "siptx"
	}
	return o.Namespace
}

func (o *Options) constLabels() prometheus.Labels {
	if o == nil {
		return nil
	}
	return o.ConstLabels
}

func (o *Options) stateTransitions() bool { return o != nil && o.StateTransitions }

// Collector counts transaction layer events.
type Collector struct {
	created     *prometheus.CounterVec
	terminated  *prometheus.CounterVec
	live        *prometheus.GaugeVec
	retransmits *prometheus.CounterVec
	ignored     *prometheus.CounterVec
	transitions *prometheus.CounterVec // nil when disabled
}

var _ interface {
	transaction.Stats
	prometheus.Collector
} = (*Collector)(nil)

// NewCollector creates a collector. It is not registered anywhere.
func NewCollector(opts *Options) *Collector {
	ns, cl := opts.namespace(), opts.constLabels()
	const subsystem = "transactions"

	c := &Collector{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        "created_total",
			Help:        "Total number of created transactions.",
			ConstLabels: cl,
		}, []string{"role", "method"}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        "terminated_total",
			Help:        "Total number of terminated transactions by termination reason.",
			ConstLabels: cl,
		}, []string{"role", "method", "reason"}),
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        "live",
			Help:        "Number of transactions that are not terminated yet.",
			ConstLabels: cl,
		}, []string{"role", "method"}),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        "retransmissions_total",
			Help:        "Total number of retransmitted messages.",
			ConstLabels: cl,
		}, []string{"role", "method"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        "ignored_messages_total",
			Help:        "Total number of received messages ignored by transactions.",
			ConstLabels: cl,
		}, []string{"role", "method"}),
	}
	if opts.stateTransitions() {
		c.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        "state_transitions_total",
			Help:        "Total number of transaction state changes.",
			ConstLabels: cl,
		}, []string{"role", "from", "to"})
	}
	return c
}

func (c *Collector) vecs() []prometheus.Collector {
	vs := []prometheus.Collector{c.created, c.terminated, c.live, c.retransmits, c.ignored}
	if c.transitions != nil {
		vs = append(vs, c.transitions)
	}
	return vs
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, v := range c.vecs() {
		v.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, v := range c.vecs() {
		v.Collect(ch)
	}
}

// methodLabel keeps label cardinality bounded: extension methods share one label value.
func methodLabel(m sip.Method) string {
	if m.IsKnown() {
		return string(m)
	}
	return MethodOther
}

func (c *Collector) TransactionCreated(role transaction.Role, method sip.Method) {
	ml := methodLabel(method)
	c.created.WithLabelValues(string(role), ml).Inc()
	c.live.WithLabelValues(string(role), ml).Inc()
}

func (c *Collector) TransactionTerminated(role transaction.Role, method sip.Method, reason transaction.Reason) {
	ml := methodLabel(method)
	c.terminated.WithLabelValues(string(role), ml, string(reason)).Inc()
	c.live.WithLabelValues(string(role), ml).Dec()
}

func (c *Collector) StateChanged(role transaction.Role, from, to transaction.State) {
	if c.transitions == nil {
		return
	}
	c.transitions.WithLabelValues(string(role), string(from), string(to)).Inc()
}

func (c *Collector) MessageRetransmitted(role transaction.Role, method sip.Method) {
	c.retransmits.WithLabelValues(string(role), methodLabel(method)).Inc()
}

func (c *Collector) MessageIgnored(role transaction.Role, method sip.Method) {
	c.ignored.WithLabelValues(string(role), methodLabel(method)).Inc()
}
