package classify

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// StatusAtEnd marks a DM timeline with nothing left to page through.
const StatusAtEnd = "AT_END"

// DMUser is a user record from a DM envelope's users map.
type DMUser struct {
	IDStr                string `json:"id_str"`
	Name                 string `json:"name"`
	ScreenName           string `json:"screen_name"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

// DMParticipant is one member of a conversation.
type DMParticipant struct {
	UserID string `json:"user_id"`
}

// DMConversation is a conversation record from a DM envelope.
type DMConversation struct {
	ConversationID string          `json:"conversation_id"`
	Type           string          `json:"type"`
	SortEventID    string          `json:"sort_event_id,omitempty"`
	SortTimestamp  string          `json:"sort_timestamp"`
	Participants   []DMParticipant `json:"participants"`
	MinEntryID     string          `json:"min_entry_id,omitempty"`
	MaxEntryID     string          `json:"max_entry_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Trusted        bool            `json:"trusted"`
}

// DMEntry is one event of a DM timeline. Only message events carry data the
// indexer stores.
type DMEntry struct {
	Message *DMMessage `json:"message,omitempty"`
}

type DMMessage struct {
	ID             string `json:"id"`
	Time           string `json:"time"`
	ConversationID string `json:"conversation_id"`
	MessageData    struct {
		ID       string `json:"id"`
		Time     string `json:"time"`
		SenderID string `json:"sender_id"`
		Text     string `json:"text"`
	} `json:"message_data"`
}

// MessageID prefers the message_data id, which equals the event id for
// ordinary messages.
func (m *DMMessage) MessageID() string {
	if m.MessageData.ID != "" {
		return m.MessageData.ID
	}
	return m.ID
}

// CreatedAtMillis parses the event time, in epoch milliseconds.
func (m *DMMessage) CreatedAtMillis() int64 {
	t := m.MessageData.Time
	if t == "" {
		t = m.Time
	}
	ms, _ := strconv.ParseInt(t, 10, 64)
	return ms
}

type dmTimelineStatus struct {
	Status     string `json:"status"`
	MinEntryID string `json:"min_entry_id,omitempty"`
}

type dmBody struct {
	Status         string                    `json:"status,omitempty"`
	MinEntryID     string                    `json:"min_entry_id,omitempty"`
	MaxEntryID     string                    `json:"max_entry_id,omitempty"`
	Entries        []DMEntry                 `json:"entries"`
	Users          map[string]DMUser         `json:"users"`
	Conversations  map[string]DMConversation `json:"conversations"`
	InboxTimelines *struct {
		Trusted   *dmTimelineStatus `json:"trusted"`
		Untrusted *dmTimelineStatus `json:"untrusted"`
	} `json:"inbox_timelines,omitempty"`
}

// DMEnvelope is a parsed DM response of any of the four kinds.
type DMEnvelope struct {
	Kind          Kind
	Users         map[string]DMUser
	Conversations map[string]DMConversation
	Entries       []DMEntry

	// Status is the page status of inbox and conversation pages.
	Status string

	// TrustedStatus and UntrustedStatus are the per-tier statuses of a
	// snapshot.
	TrustedStatus   string
	UntrustedStatus string
}

// AtEnd reports whether the envelope signals that no more DM data remains.
// A snapshot signals this through its trusted tier; deltas never do.
func (e *DMEnvelope) AtEnd() bool {
	switch e.Kind {
	case KindDMSnapshot:
		return e.TrustedStatus == StatusAtEnd
	case KindDMInbox, KindDMConversation:
		return e.Status == StatusAtEnd
	default:
		return false
	}
}

// Messages returns the message events of the envelope.
func (e *DMEnvelope) Messages() []*DMMessage {
	var out []*DMMessage
	for _, entry := range e.Entries {
		if entry.Message != nil {
			out = append(out, entry.Message)
		}
	}
	return out
}

// rootKey is the top-level object holding each kind's payload.
var rootKey = map[Kind]string{
	KindDMSnapshot:     "inbox_initial_state",
	KindDMDelta:        "user_events",
	KindDMInbox:        "inbox_timeline",
	KindDMConversation: "conversation_timeline",
}

// ParseDM parses a DM response body of the given kind. A body missing the
// kind's root object is an error.
func ParseDM(kind Kind, body []byte) (*DMEnvelope, error) {
	key, ok := rootKey[kind]
	if !ok {
		return nil, fmt.Errorf("not a DM endpoint kind: %s", kind)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("invalid DM JSON: %w", err)
	}
	raw, ok := root[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("missing %q object", key)
	}

	var b dmBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("invalid %q object: %w", key, err)
	}

	env := &DMEnvelope{
		Kind:          kind,
		Users:         b.Users,
		Conversations: b.Conversations,
		Entries:       b.Entries,
		Status:        b.Status,
	}
	if b.InboxTimelines != nil {
		if b.InboxTimelines.Trusted != nil {
			env.TrustedStatus = b.InboxTimelines.Trusted.Status
		}
		if b.InboxTimelines.Untrusted != nil {
			env.UntrustedStatus = b.InboxTimelines.Untrusted.Status
		}
	}
	return env, nil
}
