// Package github receives and validates Github webhook deliveries.
package github

import (
	"net/http"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/logfields"
)

const loggerName = "github-event-provider"

// Provider listens for github-webhook http-requests at a http-server
// handler, validates the payload signature and forwards the delivery
// to an event channel.
// Signature validation compares the HMAC-SHA256 of the raw payload,
// keyed with the shared webhook secret, in constant time against the
// signature header. Deliveries that fail validation are dropped and
// logged, they are never forwarded.
type Provider struct {
	logger        *zap.Logger
	webhookSecret []byte
	c             chan<- *Event
}

type Option func(*Provider)

func WithPayloadSecret(secret string) Option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func New(eventChan chan<- *Event, opts ...Option) *Provider {
	p := Provider{
		c: eventChan,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logger == nil {
		p.logger = zap.L().Named(loggerName)
	}

	return &p
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logFields := []zap.Field{
		logfields.EventProvider("github"),
		logfields.DeliveryID(deliveryID),
		zap.String("github.webhook_type", hookType),
	}

	logger := p.logger.With(logFields...)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)

		metrics.deliveries.WithLabelValues(deliveryResultInvalid).Inc()

		http.Error(resp, "invalid request", http.StatusBadRequest)
		return
	}

	if hookType == "" {
		logger.Info(
			"received http request without webhook event type header",
			logfields.Event("github_http_request_without_event_type"),
		)

		metrics.deliveries.WithLabelValues(deliveryResultInvalid).Inc()

		http.Error(resp, "missing event type header", http.StatusBadRequest)
		return
	}

	ev := Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		Payload:    payload,
		LogFields:  logFields,
	}

	select {
	case p.c <- &ev:
		metrics.deliveries.WithLabelValues(deliveryResultAccepted).Inc()

		logger.Debug(
			"delivery forwarded to event channel",
			logfields.Event("github_event_forwarded"),
		)

	default:
		metrics.deliveries.WithLabelValues(deliveryResultQueueFull).Inc()

		logger.Warn(
			"delivery lost, forwarding to event channel would have blocked",
			logfields.Event("github_forwarding_event_failed"),
		)

		http.Error(resp, "queue full", http.StatusServiceUnavailable)
		return
	}
}
