package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "relaybot_relay"

const resultLabel = "result"

const (
	eventResultRelayed    = "relayed"
	eventResultDuplicate  = "duplicate"
	eventResultIgnored    = "ignored"
	eventResultFiltered   = "filtered"
	eventResultSendFailed = "send_failed"
)

type metricCollector struct {
	events *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		events: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "events_total",
				Help:      "count of processed webhook events by relay result",
			},
			[]string{resultLabel},
		),
	}
}
