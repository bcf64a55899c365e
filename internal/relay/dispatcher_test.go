package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/relaybot/relaybot/internal/cfg"
	"github.com/relaybot/relaybot/internal/dedup"
	"github.com/relaybot/relaybot/internal/provider/github"
	"github.com/relaybot/relaybot/internal/render"
)

const pushPayload = `{
  "ref": "refs/heads/main",
  "after": "0da2590a700d054fc2ce39ddc9c95f360329d9be",
  "forced": false,
  "compare": "https://github.com/org/repo/compare/6113728f27ae...0da2590a700d",
  "commits": [
    {"id": "e004e9d2", "message": "fix off-by-one in pager"},
    {"id": "0da2590a", "message": "add pagination"}
  ],
  "head_commit": {"id": "0da2590a700d054fc2ce39ddc9c95f360329d9be", "message": "add pagination"},
  "pusher": {"name": "xfix"},
  "repository": {"full_name": "org/repo", "name": "repo"}
}`

type recordedMessage struct {
	room string
	text string
}

type fakeSender struct {
	mu       sync.Mutex
	messages []recordedMessage
	// failures makes the first n Send calls fail
	failures int
}

func (s *fakeSender) Send(_ context.Context, room, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("session not ready")
	}

	s.messages = append(s.messages, recordedMessage{room: room, text: text})

	return nil
}

func (s *fakeSender) recorded() []recordedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]recordedMessage{}, s.messages...)
}

func newTestDispatcher(t *testing.T, sender Sender, opts ...Option) *Dispatcher {
	t.Helper()

	logger := zaptest.NewLogger(t).Named(t.Name())

	cache, err := dedup.New(32)
	require.NoError(t, err)

	renderer, err := render.New(
		&cfg.Config{
			Routes: []*cfg.Route{
				{Repository: "org/repo", Rooms: []string{"dev"}},
			},
		},
		render.WithLogger(logger),
	)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(logger)}, opts...)

	return NewDispatcher(cache, renderer, sender, opts...)
}

func pushDelivery(deliveryID string) *github.Event {
	return &github.Event{
		DeliveryID: deliveryID,
		Type:       "push",
		Payload:    []byte(pushPayload),
	}
}

func TestPushDeliveryIsRelayedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	dispatcher := newTestDispatcher(t, sender)

	go dispatcher.Start()

	dispatcher.C() <- pushDelivery("delivery-1")
	// webhook retries carry a new delivery ID but the same payload
	dispatcher.C() <- pushDelivery("delivery-2")

	dispatcher.Stop()

	msgs := sender.recorded()
	require.Len(t, msgs, 1, "a redelivered event must be relayed exactly once")
	assert.Equal(t, "dev", msgs[0].room)
	assert.Equal(t, "xfix pushed 2 commits to org/repo (main): add pagination", msgs[0].text)
}

func TestUnsupportedDeliveriesAreIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	dispatcher := newTestDispatcher(t, sender)

	go dispatcher.Start()

	dispatcher.C() <- &github.Event{DeliveryID: "d-1", Type: "team_add", Payload: []byte(`{}`)}
	dispatcher.C() <- &github.Event{DeliveryID: "d-2", Type: "push", Payload: []byte(`{invalid`)}

	dispatcher.Stop()

	assert.Empty(t, sender.recorded())
}

func TestUnroutedDeliveriesAreDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	dispatcher := newTestDispatcher(t, sender)

	go dispatcher.Start()

	payload := `{
	  "ref": "refs/heads/main",
	  "commits": [{"id": "abc", "message": "msg"}],
	  "head_commit": {"id": "abc", "message": "msg"},
	  "pusher": {"name": "xfix"},
	  "repository": {"full_name": "org/unrouted"}
	}`

	dispatcher.C() <- &github.Event{DeliveryID: "d-1", Type: "push", Payload: []byte(payload)}

	dispatcher.Stop()

	assert.Empty(t, sender.recorded())
}

// blockedSender blocks in Send until its context is cancelled, like a
// blocking-backpressure chat session with a full queue and an
// unreachable server.
type blockedSender struct {
	sending chan struct{}
}

func (s *blockedSender) Send(ctx context.Context, _, _ string) error {
	close(s.sending)

	<-ctx.Done()

	return ctx.Err()
}

func TestStopAbandonsBlockedSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &blockedSender{sending: make(chan struct{})}
	dispatcher := newTestDispatcher(t, sender, WithStopTimeout(50*time.Millisecond))

	go dispatcher.Start()

	dispatcher.C() <- pushDelivery("delivery-1")
	<-sender.sending

	stopped := make(chan struct{})

	go func() {
		dispatcher.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return, the blocked send was not abandoned")
	}
}

func TestSendFailureDoesNotStopProcessing(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{failures: 1}
	dispatcher := newTestDispatcher(t, sender)

	go dispatcher.Start()

	// the send of this delivery's notification fails
	dispatcher.C() <- pushDelivery("delivery-1")

	// distinct event, must still be processed after the failed send
	prPayload := `{
	  "action": "opened",
	  "pull_request": {"number": 3, "title": "a change", "html_url": "https://github.com/org/repo/pull/3", "base": {"ref": "main"}},
	  "repository": {"full_name": "org/repo"},
	  "sender": {"login": "dev"}
	}`
	dispatcher.C() <- &github.Event{DeliveryID: "delivery-2", Type: "pull_request", Payload: []byte(prPayload)}

	dispatcher.Stop()

	msgs := sender.recorded()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "opened pull request #3")
}
