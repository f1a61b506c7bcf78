package raft

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters/gauges a deployed node exposes on its
// /metrics endpoint (cmd/node wires the registry). The consensus core
// only increments these; it never reads them back.
type Metrics struct {
	ElectionsStarted prometheus.Counter
	ElectionsWon     prometheus.Counter
	TermAdvances     prometheus.Counter
	AppendEntriesIn  prometheus.Counter
	AppendEntriesOut prometheus.Counter
	CommandsApplied  prometheus.Counter
	ReplayHits       prometheus.Counter
	CurrentTerm      prometheus.Gauge
	CommitIndex      prometheus.Gauge
	Role             prometheus.Gauge
}

// NewMetrics constructs every metric under the "bftraft" namespace,
// labelled with this replica's id so a shared registry can hold
// several replicas, and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer, node NodeId) *Metrics {
	labels := prometheus.Labels{"node": string(node)}

	m := &Metrics{
		ElectionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "elections_started_total", ConstLabels: labels,
		}),
		ElectionsWon: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "elections_won_total", ConstLabels: labels,
		}),
		TermAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "term_advances_total", ConstLabels: labels,
		}),
		AppendEntriesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "append_entries_received_total", ConstLabels: labels,
		}),
		AppendEntriesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "append_entries_sent_total", ConstLabels: labels,
		}),
		CommandsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "commands_applied_total", ConstLabels: labels,
		}),
		ReplayHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bftraft", Name: "replay_cache_hits_total", ConstLabels: labels,
		}),
		CurrentTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bftraft", Name: "current_term", ConstLabels: labels,
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bftraft", Name: "commit_index", ConstLabels: labels,
		}),
		Role: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bftraft", Name: "role", ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ElectionsStarted, m.ElectionsWon, m.TermAdvances,
			m.AppendEntriesIn, m.AppendEntriesOut,
			m.CommandsApplied, m.ReplayHits,
			m.CurrentTerm, m.CommitIndex, m.Role,
		)
	}
	return m
}
