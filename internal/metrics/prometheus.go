package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_sessions_created_total",
		Help: "Total number of new chat sessions created.",
	})
	SessionsResumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_sessions_resumed_total",
		Help: "Total number of chat sessions resumed.",
	})
	UpstreamFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_upstream_failures_total",
		Help: "Total number of failed upstream session exchanges.",
	})
	AuthFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_auth_failures_total",
		Help: "Total number of rejected bearer tokens.",
	})
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatkit_active_sessions_gauge",
		Help: "Number of chat sessions created over this process lifetime.",
	})
)

// Register registers the gateway's custom metrics with the given
// registerer. It should be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	collectors := []prometheus.Collector{
		SessionsCreatedTotal,
		SessionsResumedTotal,
		UpstreamFailuresTotal,
		AuthFailuresTotal,
		ActiveSessionsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}
