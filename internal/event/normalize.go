package event

import (
	"strings"

	"github.com/google/go-github/v43/github"
)

const summaryMaxLen = 120

const branchRefPrefix = "refs/heads/"

// pullRequestActions maps relayed pull-request webhook actions to
// their display form. Actions without an entry, e.g. "labeled" or
// "ready_for_review", are not relayed.
var pullRequestActions = map[string]string{
	"opened":   "opened",
	"reopened": "reopened",
	"closed":   "closed",
}

var issueActions = map[string]string{
	"opened":   "opened",
	"reopened": "reopened",
	"closed":   "closed",
}

// Normalize converts a raw webhook payload into a normalized Event.
// It returns nil for payloads that are intentionally not relayed:
// malformed JSON, unrecognized event types, pushes without commits or
// to non-branch refs, and event actions outside of the relayed sets.
// It never fails, unexpected webhook deliveries are a normal
// occurrence and must not disturb the pipeline.
func Normalize(eventType string, payload []byte) *Event {
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil
	}

	switch ev := parsed.(type) {
	case *github.PushEvent:
		return normalizePush(ev)
	case *github.PullRequestEvent:
		return normalizePullRequest(ev)
	case *github.IssuesEvent:
		return normalizeIssue(ev)
	case *github.ReleaseEvent:
		return normalizeRelease(ev)
	default:
		return nil
	}
}

func normalizePush(ev *github.PushEvent) *Event {
	if len(ev.Commits) == 0 {
		return nil
	}

	ref := ev.GetRef()
	if !strings.HasPrefix(ref, branchRefPrefix) {
		// tag pushes are covered by release events
		return nil
	}

	return &Event{
		Kind:         KindPush,
		Repository:   ev.GetRepo().GetFullName(),
		Actor:        ev.GetPusher().GetName(),
		Summary:      summarize(ev.GetHeadCommit().GetMessage()),
		URL:          ev.GetCompare(),
		Branch:       strings.TrimPrefix(ref, branchRefPrefix),
		CommitCount:  len(ev.Commits),
		Forced:       ev.GetForced(),
		HeadCommitID: ev.GetHeadCommit().GetID(),
	}
}

func normalizePullRequest(ev *github.PullRequestEvent) *Event {
	action, ok := pullRequestActions[ev.GetAction()]
	if !ok {
		return nil
	}

	pr := ev.GetPullRequest()

	// github reports a merge as action "closed" with the merged flag
	// set on the pull request
	if action == "closed" && pr.GetMerged() {
		action = "merged"
	}

	return &Event{
		Kind:       KindPullRequest,
		Repository: ev.GetRepo().GetFullName(),
		Actor:      ev.GetSender().GetLogin(),
		Summary:    summarize(pr.GetTitle()),
		URL:        pr.GetHTMLURL(),
		Branch:     pr.GetBase().GetRef(),
		Number:     pr.GetNumber(),
		Action:     action,
	}
}

func normalizeIssue(ev *github.IssuesEvent) *Event {
	action, ok := issueActions[ev.GetAction()]
	if !ok {
		return nil
	}

	issue := ev.GetIssue()

	return &Event{
		Kind:       KindIssue,
		Repository: ev.GetRepo().GetFullName(),
		Actor:      ev.GetSender().GetLogin(),
		Summary:    summarize(issue.GetTitle()),
		URL:        issue.GetHTMLURL(),
		Number:     issue.GetNumber(),
		Action:     action,
	}
}

func normalizeRelease(ev *github.ReleaseEvent) *Event {
	if ev.GetAction() != "published" {
		return nil
	}

	release := ev.GetRelease()

	summary := release.GetName()
	if summary == "" {
		summary = release.GetTagName()
	}

	return &Event{
		Kind:       KindRelease,
		Repository: ev.GetRepo().GetFullName(),
		Actor:      ev.GetSender().GetLogin(),
		Summary:    summarize(summary),
		URL:        release.GetHTMLURL(),
		Tag:        release.GetTagName(),
		Action:     "published",
	}
}

// summarize reduces a text to its first line, capped at summaryMaxLen
// runes, so that one event renders as one chat line.
func summarize(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx != -1 {
		text = text[:idx]
	}

	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) <= summaryMaxLen {
		return text
	}

	return string(runes[:summaryMaxLen-3]) + "..."
}
