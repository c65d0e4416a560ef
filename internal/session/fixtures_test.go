package session

import (
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// Fixture builders. They produce response bodies in the shapes the
// classifier accepts, sized for the scenario tests.

type obj = map[string]any

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func tweetResult(handle, userID, postID, text string) obj {
	return obj{
		"__typename": "Tweet",
		"rest_id":    postID,
		"core": obj{"user_results": obj{"result": obj{
			"rest_id": userID,
			"legacy":  obj{"screen_name": handle, "name": handle},
		}}},
		"legacy": obj{
			"id_str":              postID,
			"created_at":          "Tue Nov 14 22:13:20 +0000 2023",
			"full_text":           text,
			"conversation_id_str": postID,
			"favorite_count":      1,
			"entities":            obj{},
		},
	}
}

func itemEntry(result obj) obj {
	return obj{
		"entryId": "tweet-" + result["rest_id"].(string),
		"content": obj{
			"entryType":   "TimelineTimelineItem",
			"itemContent": obj{"itemType": "TimelineTweet", "tweet_results": obj{"result": result}},
		},
	}
}

func cursorEntry(kind string) obj {
	return obj{
		"entryId": "cursor-" + kind,
		"content": obj{"entryType": "TimelineTimelineCursor", "cursorType": kind, "value": "c-" + kind},
	}
}

// userTweetsPage wraps entries in the user-timeline envelope.
func userTweetsPage(t *testing.T, entries []obj) string {
	t.Helper()
	list := make([]any, len(entries))
	for i, e := range entries {
		list[i] = e
	}
	return mustJSON(t, obj{"data": obj{"user": obj{"result": obj{
		"__typename": "User",
		"timeline": obj{"timeline": obj{"instructions": []any{
			obj{"type": "TimelineClearCache"},
			obj{"type": "TimelineAddEntries", "entries": list},
		}}},
	}}}})
}

// ownerTimelinePages splits total owner posts into pages of 20, the first
// reposts of them being reposts, and appends a terminal cursor-only page.
func ownerTimelinePages(t *testing.T, total, reposts int) []string {
	t.Helper()
	var pages []string
	var entries []obj
	for i := 0; i < total; i++ {
		text := fmt.Sprintf("post number %d", i)
		if i < reposts {
			text = fmt.Sprintf("RT @friend: shared %d", i)
		}
		entries = append(entries, itemEntry(tweetResult("owner", "1", fmt.Sprintf("17%016d", i), text)))
		if len(entries) == 20 || i == total-1 {
			entries = append(entries, cursorEntry("Top"), cursorEntry("Bottom"))
			pages = append(pages, userTweetsPage(t, entries))
			entries = nil
		}
	}
	return append(pages, userTweetsPage(t, []obj{cursorEntry("Top"), cursorEntry("Bottom")}))
}

type dmConv struct {
	id           string
	typ          string
	participants []string
}

// dmWorld builds 44 conversations among 78 users with 126 participant rows:
// 30 one-to-one threads with the owner, and 14 groups of the owner plus
// three or four new users, five of which also include a one-to-one partner.
func dmWorld() (users []string, convs []dmConv) {
	users = append(users, "1")
	for i := 0; i < 30; i++ {
		u := fmt.Sprintf("%d", 100+i)
		users = append(users, u)
		convs = append(convs, dmConv{id: "1-" + u, typ: "ONE_TO_ONE", participants: []string{"1", u}})
	}

	next := 500
	for g := 0; g < 14; g++ {
		members := []string{"1"}
		n := 3
		if g < 5 {
			n = 4
			members = append(members, fmt.Sprintf("%d", 100+g))
		}
		for i := 0; i < n; i++ {
			u := fmt.Sprintf("%d", next)
			next++
			users = append(users, u)
			members = append(members, u)
		}
		convs = append(convs, dmConv{id: fmt.Sprintf("g%d", 9000+g), typ: "GROUP_DM", participants: members})
	}
	return users, convs
}

func dmUsers(ids []string) obj {
	out := obj{}
	for _, id := range ids {
		out[id] = obj{"id_str": id, "name": "User " + id, "screen_name": "user" + id}
	}
	return out
}

func dmConversations(convs []dmConv, sortKey string) obj {
	out := obj{}
	for _, c := range convs {
		var parts []any
		for _, p := range c.participants {
			parts = append(parts, obj{"user_id": p})
		}
		out[c.id] = obj{
			"conversation_id": c.id,
			"type":            c.typ,
			"sort_timestamp":  sortKey,
			"participants":    parts,
			"trusted":         true,
		}
	}
	return out
}

func participantsOf(convs []dmConv) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range convs {
		for _, p := range c.participants {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func dmMessages(conversationID string, from, n int) []any {
	var out []any
	for i := from; i < from+n; i++ {
		id := fmt.Sprintf("18%016d", i)
		ts := fmt.Sprintf("%d", 1700000000000+int64(i)*1000)
		out = append(out, obj{"message": obj{
			"id":              id,
			"time":            ts,
			"conversation_id": conversationID,
			"message_data":    obj{"id": id, "time": ts, "sender_id": "1", "text": fmt.Sprintf("message %d", i)},
		}})
	}
	return out
}

func dmSnapshot(t *testing.T, convs []dmConv, trustedStatus string) string {
	t.Helper()
	return mustJSON(t, obj{"inbox_initial_state": obj{
		"inbox_timelines": obj{
			"trusted":   obj{"status": trustedStatus},
			"untrusted": obj{"status": "HAS_MORE"},
		},
		"entries":       []any{},
		"users":         dmUsers(participantsOf(convs)),
		"conversations": dmConversations(convs, "1700000000000"),
	}})
}

func dmDelta(t *testing.T, convs []dmConv) string {
	t.Helper()
	return mustJSON(t, obj{"user_events": obj{
		"entries":       []any{},
		"users":         dmUsers(participantsOf(convs)),
		"conversations": dmConversations(convs, "1700000000000"),
	}})
}

func dmConversationPage(t *testing.T, conv dmConv, status string, messages []any) string {
	t.Helper()
	if messages == nil {
		messages = []any{}
	}
	return mustJSON(t, obj{"conversation_timeline": obj{
		"status":        status,
		"entries":       messages,
		"users":         dmUsers(conv.participants),
		"conversations": dmConversations([]dmConv{conv}, "1700000000000"),
	}})
}
