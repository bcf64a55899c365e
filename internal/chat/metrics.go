package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "relaybot_chat"

type metricCollector struct {
	connects     prometheus.Counter
	sentMessages prometheus.Counter
	sendErrors   prometheus.Counter
	sessionState prometheus.Gauge
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		connects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "connects_total",
			Help:      "count of successful logins to the chat server",
		}),
		sentMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "sent_messages_total",
			Help:      "count of messages transmitted to the chat server",
		}),
		sendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "send_errors_total",
			Help:      "count of message transmissions that failed",
		}),
		sessionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "session_state",
			Help:      "current session state (0=disconnected, 1=connecting, 2=logging_in, 3=ready)",
		}),
	}
}
