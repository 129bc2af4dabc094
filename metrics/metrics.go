package metrics

import "github.com/prometheus/client_golang/prometheus"

// Observer records observations of a metric. Labels are positional.
type Observer interface {
	Observe(val float64, labels ...string)
	prometheus.Collector
}

// Metrics is the set of metrics the bot reports.
type Metrics struct {
	// CommandCount counts commands by name.
	CommandCount Observer
	// Transitions counts session transitions by kind and event.
	Transitions Observer
	// Rejections counts refused transitions by operation and reason.
	Rejections Observer
	// LiveSessions tracks the number of sessions that have not ended.
	LiveSessions Observer
	// SessionLength observes how long sessions were active, in seconds.
	SessionLength Observer
	// AnnounceLatency observes the time to apply a render plan to an
	// announcement, in seconds.
	AnnounceLatency Observer
	// ReportsSent counts submitted reports by kind.
	ReportsSent Observer
	// SuggestionsSent counts routed suggestions by category.
	SuggestionsSent Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CommandCount,
		m.Transitions,
		m.Rejections,
		m.LiveSessions,
		m.SessionLength,
		m.AnnounceLatency,
		m.ReportsSent,
		m.SuggestionsSent,
	}
}

// New creates the bot's metrics with Prometheus collectors.
func New() Metrics {
	return Metrics{
		CommandCount:    Counter("concierge_commands_total", "Number of commands executed.", "command"),
		Transitions:     Counter("concierge_session_transitions_total", "Number of session lifecycle transitions.", "kind", "event"),
		Rejections:      Counter("concierge_session_rejections_total", "Number of refused session operations.", "op", "reason"),
		LiveSessions:    Gauge("concierge_live_sessions", "Number of sessions that have not ended."),
		SessionLength:   Histogram("concierge_session_length_seconds", "How long sessions were active.", []float64{300, 900, 1800, 3600, 5400, 7200, 10800}, "kind"),
		AnnounceLatency: Histogram("concierge_announce_latency_seconds", "Time to create or update an announcement.", nil),
		ReportsSent:     Counter("concierge_reports_total", "Number of reports submitted.", "kind"),
		SuggestionsSent: Counter("concierge_suggestions_total", "Number of suggestions routed.", "category"),
	}
}
