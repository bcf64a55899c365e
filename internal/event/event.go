// Package event converts GitHub webhook payloads into a small set of
// normalized notification events.
package event

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/logfields"
)

// Kind identifies the variant of a normalized event.
// The set of supported kinds is fixed, webhook event types outside of
// it are intentionally not relayed.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindPush
	KindPullRequest
	KindIssue
	KindRelease
)

var kindString = [...]string{
	KindUndefined:   "undefined",
	KindPush:        "push",
	KindPullRequest: "pull_request",
	KindIssue:       "issue",
	KindRelease:     "release",
}

func (k Kind) String() string {
	if int(k) > len(kindString)-1 {
		return fmt.Sprintf("unsupported Kind value: %d", uint8(k))
	}

	return kindString[k]
}

// MarshalText makes Kind render as its name in the JSON form of an
// Event, the form that route filter queries are evaluated on.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a normalized repository notification.
// It is immutable after construction.
type Event struct {
	Kind       Kind   `json:"kind"`
	Repository string `json:"repository"`
	Actor      string `json:"actor"`
	Summary    string `json:"summary"`
	URL        string `json:"url,omitempty"`
	Branch     string `json:"branch,omitempty"`

	// Push fields
	CommitCount  int    `json:"commit_count,omitempty"`
	Forced       bool   `json:"forced,omitempty"`
	HeadCommitID string `json:"head_commit_id,omitempty"`

	// PullRequest and Issue fields
	Number int `json:"number,omitempty"`
	// Action is the display form of the webhook action, e.g. "merged"
	// for a closed pull request that was merged.
	Action string `json:"action,omitempty"`

	// Release fields
	Tag string `json:"tag,omitempty"`
}

func (e *Event) String() string {
	return fmt.Sprintf("%s event for %s", e.Kind, e.Repository)
}

func (e *Event) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 4)

	fields = append(fields, zap.String("event_kind", e.Kind.String()))

	if e.Repository != "" {
		fields = append(fields, logfields.Repository(e.Repository))
	}

	if e.Actor != "" {
		fields = append(fields, logfields.Actor(e.Actor))
	}

	if e.Branch != "" {
		fields = append(fields, logfields.Branch(e.Branch))
	}

	return fields
}
