// Package relay glues the notification pipeline together: it consumes
// validated webhook deliveries, normalizes and deduplicates them,
// renders notifications and feeds them into the chat session.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/dedup"
	"github.com/relaybot/relaybot/internal/event"
	"github.com/relaybot/relaybot/internal/logfields"
	"github.com/relaybot/relaybot/internal/provider/github"
	"github.com/relaybot/relaybot/internal/render"
)

const (
	DefEventChannelBufferSize = 512
	DefStopTimeout            = 15 * time.Second
)

const loggerName = "dispatcher"

// Sender delivers a rendered notification to a chat room.
// It is implemented by chat.Session.
type Sender interface {
	Send(ctx context.Context, room, text string) error
}

// Dispatcher receives webhook deliveries on a channel and relays them
// as chat notifications.
// The channel is consumed by a single loop goroutine: dedup decisions
// are serialized through it and notifications reach the chat session's
// queue in a single global order. Webhook handling stays concurrent,
// only the forwarding into the channel synchronizes.
type Dispatcher struct {
	ch       chan *github.Event
	logger   *zap.Logger
	cache    *dedup.Cache
	renderer *render.Renderer
	sender   Sender

	loopDeferFn func()
	done        chan struct{}

	stopTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

type Option func(*Dispatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithLoopDeferFunc sets a function that is run when the dispatcher
// loop goroutine returns. It can be used to install a panic handler.
func WithLoopDeferFunc(fn func()) Option {
	return func(d *Dispatcher) {
		d.loopDeferFn = fn
	}
}

func WithEventChannelBufferSize(size int) Option {
	return func(d *Dispatcher) {
		d.ch = make(chan *github.Event, size)
	}
}

// WithStopTimeout sets how long Stop() waits for queued deliveries to
// drain before in-flight sends are abandoned.
func WithStopTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.stopTimeout = timeout
	}
}

func NewDispatcher(cache *dedup.Cache, renderer *render.Renderer, sender Sender, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := Dispatcher{
		ch:          make(chan *github.Event, DefEventChannelBufferSize),
		cache:       cache,
		renderer:    renderer,
		sender:      sender,
		done:        make(chan struct{}),
		stopTimeout: DefStopTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, opt := range opts {
		opt(&d)
	}

	if d.logger == nil {
		d.logger = zap.L().Named(loggerName)
	}

	return &d
}

// C returns the delivery channel.
// Deliveries sent to this channel will be processed.
// The channel is closed when Stop() is called.
func (d *Dispatcher) C() chan<- *github.Event {
	return d.ch
}

func (d *Dispatcher) Start() {
	if d.loopDeferFn != nil {
		defer d.loopDeferFn()
	}

	defer close(d.done)

	d.logger.Info("ready to process deliveries", logfields.Event("dispatcher_started"))

	for delivery := range d.ch {
		d.process(d.ctx, delivery)
	}

	d.logger.Info(
		"dispatcher terminated, event channel was closed",
		logfields.Event("dispatcher_terminated"),
	)
}

// Stop closes the delivery channel and waits until the loop processed
// the remaining deliveries.
// When the loop does not finish within the stop timeout, e.g. because
// a send blocks on an unreachable chat server, the context passed to
// the sender is cancelled and the in-flight work is abandoned.
func (d *Dispatcher) Stop() {
	d.logger.Debug("dispatcher terminating", logfields.Event("dispatcher_terminating"))

	close(d.ch)

	select {
	case <-d.done:

	case <-time.After(d.stopTimeout):
		d.logger.Warn(
			"dispatcher did not drain in time, abandoning in-flight sends",
			logfields.Event("dispatcher_stop_timeout"),
			zap.Duration("stop_timeout", d.stopTimeout),
		)

		d.cancel()
		<-d.done
	}

	d.cancel()
}

func (d *Dispatcher) process(ctx context.Context, delivery *github.Event) {
	logger := d.logger.With(delivery.LogFields...)

	ev := event.Normalize(delivery.Type, delivery.Payload)
	if ev == nil {
		metrics.events.WithLabelValues(eventResultIgnored).Inc()

		logger.Debug(
			"delivery not relayed, event type or action is not supported",
			logfields.Event("event_ignored"),
		)

		return
	}

	logger = logger.With(ev.LogFields()...)

	fingerprint := ev.Fingerprint()

	if d.cache.SeenOrInsert(fingerprint) {
		metrics.events.WithLabelValues(eventResultDuplicate).Inc()

		logger.Debug(
			"delivery not relayed, duplicate of an already relayed event",
			logfields.Event("event_duplicate_suppressed"),
			logfields.Fingerprint(fingerprint),
		)

		return
	}

	msgs := d.renderer.Render(ev)
	if len(msgs) == 0 {
		metrics.events.WithLabelValues(eventResultFiltered).Inc()

		logger.Debug(
			"delivery not relayed, no room configured or suppressed by filter",
			logfields.Event("event_filtered"),
		)

		return
	}

	for _, msg := range msgs {
		if err := d.sender.Send(ctx, msg.Room, msg.Text); err != nil {
			metrics.events.WithLabelValues(eventResultSendFailed).Inc()

			logger.Warn(
				"sending notification failed",
				logfields.Event("notification_send_failed"),
				logfields.Room(msg.Room),
				zap.Error(err),
			)

			continue
		}

		metrics.events.WithLabelValues(eventResultRelayed).Inc()

		logger.Info(
			"notification relayed",
			logfields.Event("notification_relayed"),
			logfields.Room(msg.Room),
		)
	}
}
