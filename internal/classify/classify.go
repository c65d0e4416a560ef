// Package classify recognizes captured endpoint responses and parses their
// JSON envelopes into typed values.
package classify

import (
	"net/url"
	"regexp"
)

// Kind identifies which endpoint a captured URL belongs to.
type Kind int

const (
	KindUnmatched Kind = iota
	KindTimeline
	KindDMSnapshot
	KindDMDelta
	KindDMInbox
	KindDMConversation
)

func (k Kind) String() string {
	switch k {
	case KindTimeline:
		return "timeline"
	case KindDMSnapshot:
		return "dm_snapshot"
	case KindDMDelta:
		return "dm_delta"
	case KindDMInbox:
		return "dm_inbox"
	case KindDMConversation:
		return "dm_conversation"
	default:
		return "unmatched"
	}
}

// IsDM reports whether k is one of the direct-message endpoints.
func (k Kind) IsDM() bool {
	return k >= KindDMSnapshot && k <= KindDMConversation
}

var (
	timelinePath     = regexp.MustCompile(`^/i/api/graphql/[^/]+/(Bookmarks|Likes|UserTweets|UserTweetsAndReplies)$`)
	dmSnapshotPath   = regexp.MustCompile(`^/i/api/1\.1/dm/inbox_initial_state\.json$`)
	dmDeltaPath      = regexp.MustCompile(`^/i/api/1\.1/dm/user_updates\.json$`)
	dmInboxPath      = regexp.MustCompile(`^/i/api/1\.1/dm/inbox_timeline/[^/]+\.json$`)
	dmConversationRe = regexp.MustCompile(`^/i/api/1\.1/dm/conversation/([^/]+)\.json$`)
)

// Match returns the endpoint kind of rawURL and a detail: the operation name
// for timelines (e.g. "UserTweets"), the conversation ID for conversation
// pages.
func Match(rawURL string) (Kind, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindUnmatched, ""
	}
	p := u.Path

	if m := timelinePath.FindStringSubmatch(p); m != nil {
		return KindTimeline, m[1]
	}
	switch {
	case dmSnapshotPath.MatchString(p):
		return KindDMSnapshot, ""
	case dmDeltaPath.MatchString(p):
		return KindDMDelta, ""
	case dmInboxPath.MatchString(p):
		return KindDMInbox, ""
	}
	if m := dmConversationRe.FindStringSubmatch(p); m != nil {
		return KindDMConversation, m[1]
	}
	return KindUnmatched, ""
}
