package github

import "go.uber.org/zap"

// Event is a validated Github webhook delivery.
type Event struct {
	// DeliveryID is the unique github ID of the delivery
	DeliveryID string
	// Type is the github webhook event type returned by github.WebHookType()
	Type string
	// Payload is the raw event payload as JSON
	Payload   []byte
	LogFields []zap.Field
}
