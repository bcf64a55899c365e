package github

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "relaybot_webhook"

const resultLabel = "result"

const (
	deliveryResultAccepted  = "accepted"
	deliveryResultInvalid   = "invalid"
	deliveryResultQueueFull = "queue_full"
)

type metricCollector struct {
	deliveries *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "deliveries_total",
				Help:      "count of received webhook deliveries by validation result",
			},
			[]string{resultLabel},
		),
	}
}
