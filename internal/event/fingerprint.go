package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// Fingerprint returns a deterministic key that identifies the event
// for deduplication.
// Webhook redeliveries of the same event carry a new delivery ID, the
// fingerprint is therefore derived from the event content: identical
// redeliveries map to the same fingerprint, distinct events do not.
func (e *Event) Fingerprint() string {
	h := sha256.New()

	writeField(h, e.Kind.String())
	writeField(h, e.Repository)

	switch e.Kind {
	case KindPush:
		writeField(h, e.Branch)
		writeField(h, e.HeadCommitID)
		writeField(h, strconv.Itoa(e.CommitCount))
	case KindPullRequest, KindIssue:
		writeField(h, strconv.Itoa(e.Number))
		writeField(h, e.Action)
	case KindRelease:
		writeField(h, e.Tag)
		writeField(h, e.Action)
	default:
		writeField(h, e.Summary)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes the value so that concatenations of
// adjacent fields can not collide.
func writeField(w io.Writer, val string) {
	fmt.Fprintf(w, "%d:%s", len(val), val)
}
