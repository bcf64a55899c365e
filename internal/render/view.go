package render

import (
	"html"
	"strings"

	"github.com/relaybot/relaybot/internal/event"
)

// view carries the event fields in the form they are substituted into
// a message template: escaped for the chat dialect's HTML-based
// formatting and reduced to a single line.
// Payload strings are attacker-controlled, the normalizer passes them
// through unmodified.
type view struct {
	Actor       string
	Repository  string
	Branch      string
	Summary     string
	URL         string
	Action      string
	Tag         string
	Number      int
	CommitCount int
	Forced      bool
}

func newView(ev *event.Event) *view {
	return &view{
		Actor:       escape(ev.Actor),
		Repository:  escape(ev.Repository),
		Branch:      escape(ev.Branch),
		Summary:     escape(ev.Summary),
		URL:         escape(ev.URL),
		Action:      escape(ev.Action),
		Tag:         escape(ev.Tag),
		Number:      ev.Number,
		CommitCount: ev.CommitCount,
		Forced:      ev.Forced,
	}
}

var newlineReplacer = strings.NewReplacer("\r", " ", "\n", " ")

func escape(val string) string {
	return html.EscapeString(newlineReplacer.Replace(val))
}
