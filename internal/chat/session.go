// Package chat maintains the persistent session to the chat server
// that notifications are delivered over.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/logfields"
)

const loggerName = "chat-session"

// State is the connection state of the session.
type State uint8

const (
	Disconnected State = iota
	Connecting
	LoggingIn
	Ready
)

var stateString = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	LoggingIn:    "logging_in",
	Ready:        "ready",
}

func (s State) String() string {
	if int(s) > len(stateString)-1 {
		return fmt.Sprintf("unsupported State value: %d", uint8(s))
	}

	return stateString[s]
}

// BackpressurePolicy defines how Send behaves while the session is
// not ready or the outbound queue is full.
type BackpressurePolicy uint8

const (
	// BackpressureDrop discards the message, Send returns ErrNotReady
	// or ErrQueueFull without blocking. Preferred for notifications,
	// stale ones have diminishing value.
	BackpressureDrop BackpressurePolicy = iota
	// BackpressureBlock blocks the caller until the message is
	// enqueued or the passed context is cancelled.
	BackpressureBlock
)

var (
	ErrNotReady  = errors.New("chat session is not ready")
	ErrQueueFull = errors.New("outbound message queue is full")
)

const (
	DefQueueSize              = 512
	DefBackoffInitialInterval = 2 * time.Second
	DefBackoffMaxInterval     = time.Minute
	DefReadyGracePeriod       = 30 * time.Second
	DefHandshakeTimeout       = 30 * time.Second
)

type message struct {
	room string
	text string
}

// Session owns the single outbound connection to the chat server.
// Its Run method drives a reconnect loop through the states
// Disconnected -> Connecting -> LoggingIn -> Ready; all transport I/O
// happens in that single goroutine. Other goroutines interact with
// the session only through Send and Join.
type Session struct {
	logger     *zap.Logger
	serverURL  string
	user       string
	credential string

	dial         DialFunc
	backpressure BackpressurePolicy

	sendq chan message
	joinq chan string

	mu    sync.Mutex
	state State
	rooms map[string]struct{}

	stateListener func(State)

	backoffInitialInterval time.Duration
	backoffMaxInterval     time.Duration
	readyGracePeriod       time.Duration
	handshakeTimeout       time.Duration
	queueSize              int
}

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithDialFunc(dial DialFunc) Option {
	return func(s *Session) {
		s.dial = dial
	}
}

func WithBackpressure(policy BackpressurePolicy) Option {
	return func(s *Session) {
		s.backpressure = policy
	}
}

// WithBackoff overrides the reconnect backoff parameters. The delay
// between consecutive failed connection attempts grows from initial
// up to max and is reset to initial after the session was ready for
// longer than grace.
func WithBackoff(initial, max, grace time.Duration) Option {
	return func(s *Session) {
		s.backoffInitialInterval = initial
		s.backoffMaxInterval = max
		s.readyGracePeriod = grace
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.handshakeTimeout = timeout
	}
}

func WithQueueSize(size int) Option {
	return func(s *Session) {
		s.queueSize = size
	}
}

// WithStateListener registers a function that is called on every
// state transition, from the session's driver goroutine.
func WithStateListener(fn func(State)) Option {
	return func(s *Session) {
		s.stateListener = fn
	}
}

func New(serverURL, user, credential string, rooms []string, opts ...Option) *Session {
	s := Session{
		serverURL:              serverURL,
		user:                   user,
		credential:             credential,
		dial:                   DialWebsocket,
		state:                  Disconnected,
		rooms:                  make(map[string]struct{}, len(rooms)),
		backoffInitialInterval: DefBackoffInitialInterval,
		backoffMaxInterval:     DefBackoffMaxInterval,
		readyGracePeriod:       DefReadyGracePeriod,
		handshakeTimeout:       DefHandshakeTimeout,
		queueSize:              DefQueueSize,
	}

	for _, room := range rooms {
		s.rooms[room] = struct{}{}
	}

	for _, o := range opts {
		o(&s)
	}

	if s.logger == nil {
		s.logger = zap.L().Named(loggerName)
	}

	s.sendq = make(chan message, s.queueSize)
	s.joinq = make(chan string, 16)

	return &s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Send enqueues a message for transmission to a room.
// Messages are transmitted in the order they were enqueued.
// Behavior while the session is not ready depends on the configured
// backpressure policy.
func (s *Session) Send(ctx context.Context, room, text string) error {
	m := message{room: room, text: text}

	if s.backpressure == BackpressureBlock {
		select {
		case s.sendq <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.State() != Ready {
		return ErrNotReady
	}

	select {
	case s.sendq <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Join adds a room to the set of rooms the session is a member of.
// It is idempotent. All rooms in the set are re-joined automatically
// after every reconnect.
func (s *Session) Join(room string) {
	s.mu.Lock()
	_, already := s.rooms[room]
	s.rooms[room] = struct{}{}
	ready := s.state == Ready
	s.mu.Unlock()

	if already || !ready {
		// the room is joined on the next reconnect
		return
	}

	select {
	case s.joinq <- room:
	default:
		// join queue full, the room is joined on the next reconnect
	}
}

// Run drives the session until the context is cancelled.
// Connection losses are recovered locally with backoff, they are
// never returned as errors.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.backoffInitialInterval
	bo.MaxInterval = s.backoffMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		readyDuration, err := s.connectAndServe(ctx)

		s.setState(Disconnected)

		if ctx.Err() != nil {
			s.logger.Info(
				"chat session terminated",
				logfields.Event("chat_session_terminated"),
			)

			return ctx.Err()
		}

		s.logger.Warn(
			"chat connection lost",
			logfields.Event("chat_connection_lost"),
			zap.Error(err),
			zap.Duration("ready_duration", readyDuration),
		)

		if readyDuration > s.readyGracePeriod {
			bo.Reset()
		}

		delay := bo.NextBackOff()

		s.logger.Info(
			"chat reconnect scheduled",
			logfields.Event("chat_reconnect_scheduled"),
			zap.Duration("reconnect_in", delay),
		)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// connectAndServe performs one full connection attempt: dial, login,
// join rooms, then relay queued messages until the connection fails.
// It returns how long the session was in the Ready state.
func (s *Session) connectAndServe(ctx context.Context) (time.Duration, error) {
	s.setState(Connecting)

	dialCtx, cancelDial := context.WithTimeout(ctx, s.handshakeTimeout)
	tr, err := s.dial(dialCtx, s.serverURL)
	cancelDial()
	if err != nil {
		return 0, fmt.Errorf("connecting to %s failed: %w", s.serverURL, err)
	}
	defer tr.Close()

	s.setState(LoggingIn)

	if err := s.login(ctx, tr); err != nil {
		return 0, fmt.Errorf("login failed: %w", err)
	}

	s.setState(Ready)
	metrics.connects.Inc()
	readyAt := time.Now()

	if err := s.joinAll(ctx, tr); err != nil {
		return time.Since(readyAt), err
	}

	err = s.pump(ctx, tr)

	return time.Since(readyAt), err
}

// login performs the challenge/response handshake.
func (s *Session) login(ctx context.Context, tr Transport) error {
	ctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	for {
		line, err := tr.ReadLine(ctx)
		if err != nil {
			return err
		}

		cmd, rest := parseLine(line)

		switch cmd {
		case cmdChallenge:
			err := tr.WriteLine(ctx, loginLine(s.user, signChallenge(rest, s.credential)))
			if err != nil {
				return err
			}

		case cmdOK:
			s.logger.Info(
				"logged in to chat server",
				logfields.Event("chat_login_succeeded"),
				zap.String("chat_user", s.user),
			)

			return nil

		case cmdFail:
			return fmt.Errorf("server rejected login: %s", rest)

		default:
			// servers may send informational lines before the
			// handshake completes
		}
	}
}

func (s *Session) joinAll(ctx context.Context, tr Transport) error {
	for _, room := range s.roomList() {
		if err := tr.WriteLine(ctx, joinLine(room)); err != nil {
			return err
		}

		s.logger.Debug(
			"joined room",
			logfields.Event("chat_room_joined"),
			logfields.Room(room),
		)
	}

	return nil
}

func (s *Session) roomList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		result = append(result, room)
	}

	sort.Strings(result)

	return result
}

// pump relays queued messages and joins to the transport and answers
// server pings, until the connection or the context fails.
// It is the only writer of the connection.
func (s *Session) pump(ctx context.Context, tr Transport) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		for {
			line, err := tr.ReadLine(readCtx)
			if err != nil {
				readErr <- err
				return
			}

			select {
			case lines <- line:
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case line := <-lines:
			if err := s.handleLine(ctx, tr, line); err != nil {
				return err
			}

		case room := <-s.joinq:
			if err := tr.WriteLine(ctx, joinLine(room)); err != nil {
				return err
			}

		case m := <-s.sendq:
			if err := tr.WriteLine(ctx, sayLine(m.room, m.text)); err != nil {
				metrics.sendErrors.Inc()
				return err
			}

			metrics.sentMessages.Inc()
		}
	}
}

func (s *Session) handleLine(ctx context.Context, tr Transport, line string) error {
	cmd, _ := parseLine(line)

	switch cmd {
	case cmdPing:
		return tr.WriteLine(ctx, cmdPong)

	default:
		s.logger.Debug(
			"received chat server line",
			logfields.Event("chat_line_received"),
			zap.String("line", line),
		)
	}

	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	listener := s.stateListener
	s.mu.Unlock()

	if previous == state {
		return
	}

	metrics.sessionState.Set(float64(state))

	s.logger.Info(
		"chat session state changed",
		logfields.Event("chat_session_state_changed"),
		zap.String("previous_state", previous.String()),
		zap.String("state", state.String()),
	)

	if listener != nil {
		listener(state)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
