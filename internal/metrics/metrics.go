package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal   prometheus.Counter
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	TurnsFailed    prometheus.Counter
	QuotaDenied    prometheus.Counter
	StreamEdits    prometheus.Counter
	EditFailures   prometheus.Counter
	ModelSwitches  prometheus.Counter
	TokensSpent    prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "turns_started_total",
				Help:      "Total conversation turns that passed the quota gate",
			}),
			TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "turns_completed_total",
				Help:      "Total conversation turns persisted and debited",
			}),
			TurnsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "turns_failed_total",
				Help:      "Total conversation turns aborted by an error",
			}),
			QuotaDenied: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "quota_denied_total",
				Help:      "Total turns short-circuited by an exhausted token grant",
			}),
			StreamEdits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "stream_edits_total",
				Help:      "Total outbound message edits issued while streaming",
			}),
			EditFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "stream_edit_failures_total",
				Help:      "Total outbound message edits that failed and were skipped",
			}),
			ModelSwitches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "model_switches_total",
				Help:      "Total committed active-model switches",
			}),
			TokensSpent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "quotabot",
				Name:      "tokens_spent_total",
				Help:      "Total tokens debited from grants",
			}),
		}
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.TurnsStarted,
			global.TurnsCompleted,
			global.TurnsFailed,
			global.QuotaDenied,
			global.StreamEdits,
			global.EditFailures,
			global.ModelSwitches,
			global.TokensSpent,
		)
	})
	return global
}
