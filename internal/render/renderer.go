// Package render maps normalized events to chat messages using the
// configured repository-to-room routing table.
package render

import (
	"bytes"
	"sort"
	"text/template"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/cfg"
	"github.com/relaybot/relaybot/internal/event"
	"github.com/relaybot/relaybot/internal/logfields"
)

const loggerName = "renderer"

// RoutedMessage is a rendered notification line together with the
// room it is addressed to.
type RoutedMessage struct {
	Room string
	Text string
}

// Renderer is a pure function over its immutable routing
// configuration, it has no network or cache side effects.
type Renderer struct {
	logger       *zap.Logger
	routes       map[string]*route
	defaultRooms []string
}

func New(config *cfg.Config, opts ...Option) (*Renderer, error) {
	r := Renderer{
		routes: make(map[string]*route, len(config.Routes)),
	}

	for _, o := range opts {
		o(&r)
	}

	if r.logger == nil {
		r.logger = zap.L().Named(loggerName)
	}

	if config.Chat.DefaultRoom != "" {
		r.defaultRooms = []string{config.Chat.DefaultRoom}
	}

	for _, routeCfg := range config.Routes {
		route, err := newRoute(routeCfg)
		if err != nil {
			return nil, err
		}

		r.routes[routeCfg.Repository] = route
	}

	return &r, nil
}

type Option func(*Renderer)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// Render returns one message per room that the event's repository is
// routed to. It returns an empty slice when no room is configured for
// the repository or a configured filter suppresses the event.
func (r *Renderer) Render(ev *event.Event) []RoutedMessage {
	logger := r.logger.With(ev.LogFields()...)

	rooms := r.defaultRooms

	if route, exists := r.routes[ev.Repository]; exists {
		allowed, err := route.allows(ev)
		if err != nil {
			logger.Error(
				"evaluating route filter failed, event suppressed",
				logfields.Event("route_filter_evaluation_failed"),
				zap.Error(err),
			)

			return nil
		}

		if !allowed {
			logger.Debug(
				"event suppressed by route filter",
				logfields.Event("event_suppressed_by_filter"),
			)

			return nil
		}

		rooms = route.rooms
	}

	if len(rooms) == 0 {
		logger.Debug(
			"no room configured for repository, event discarded",
			logfields.Event("event_unrouted"),
		)

		return nil
	}

	text, err := formatMessage(ev)
	if err != nil {
		logger.Error(
			"rendering message failed",
			logfields.Event("message_rendering_failed"),
			zap.Error(err),
		)

		return nil
	}

	result := make([]RoutedMessage, 0, len(rooms))

	for _, room := range rooms {
		result = append(result, RoutedMessage{Room: room, Text: text})
	}

	return result
}

// AllRooms returns the sorted union of all rooms that events can be
// routed to, including the default room. The chat session joins these
// at startup.
func (r *Renderer) AllRooms() []string {
	set := make(map[string]struct{})

	for _, room := range r.defaultRooms {
		set[room] = struct{}{}
	}

	for _, route := range r.routes {
		for _, room := range route.rooms {
			set[room] = struct{}{}
		}
	}

	result := make([]string, 0, len(set))
	for room := range set {
		result = append(result, room)
	}

	sort.Strings(result)

	return result
}

var messageTemplates = map[event.Kind]*template.Template{
	event.KindPush: template.Must(template.New("push").Parse(
		`{{.Actor}} {{if .Forced}}force-pushed{{else}}pushed{{end}} {{.CommitCount}} commit{{if ne .CommitCount 1}}s{{end}} to {{.Repository}} ({{.Branch}}): {{.Summary}}`,
	)),
	event.KindPullRequest: template.Must(template.New("pull_request").Parse(
		`{{.Actor}} {{.Action}} pull request #{{.Number}} in {{.Repository}}: {{.Summary}}{{if .URL}} ({{.URL}}){{end}}`,
	)),
	event.KindIssue: template.Must(template.New("issue").Parse(
		`{{.Actor}} {{.Action}} issue #{{.Number}} in {{.Repository}}: {{.Summary}}{{if .URL}} ({{.URL}}){{end}}`,
	)),
	event.KindRelease: template.Must(template.New("release").Parse(
		`{{.Actor}} published release {{.Tag}} of {{.Repository}}: {{.Summary}}{{if .URL}} ({{.URL}}){{end}}`,
	)),
}

func formatMessage(ev *event.Event) (string, error) {
	templ, exists := messageTemplates[ev.Kind]
	if !exists {
		return "", &unsupportedKindError{kind: ev.Kind}
	}

	var out bytes.Buffer

	if err := templ.Execute(&out, newView(ev)); err != nil {
		return "", err
	}

	return out.String(), nil
}

type unsupportedKindError struct {
	kind event.Kind
}

func (e *unsupportedKindError) Error() string {
	return "no message template for event kind: " + e.kind.String()
}
