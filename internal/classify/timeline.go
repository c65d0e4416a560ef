package classify

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Variant is the discriminated shape of a timeline response.
type Variant int

const (
	Unrecognized Variant = iota
	Bookmarks
	UserTimeline
	UserTimelineV2
	UpstreamError
)

func (v Variant) String() string {
	switch v {
	case Bookmarks:
		return "bookmarks"
	case UserTimeline:
		return "user_timeline"
	case UserTimelineV2:
		return "user_timeline_v2"
	case UpstreamError:
		return "upstream_error"
	default:
		return "unrecognized"
	}
}

// Envelope is a parsed timeline response.
type Envelope struct {
	Variant      Variant
	Instructions []Instruction

	// Errors is set for UpstreamError.
	Errors []APIError
}

// APIError is one entry of an upstream error envelope.
type APIError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// ErrorMessages returns the messages of an UpstreamError envelope.
func (e *Envelope) ErrorMessages() []string {
	out := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err.Message)
	}
	return out
}

// Instruction is one step of a timeline response.
type Instruction struct {
	Type    string  `json:"type"`
	Entries []Entry `json:"entries,omitempty"`
	Entry   *Entry  `json:"entry,omitempty"`
}

// Entry is a timeline entry: a post, a module of posts, or a cursor.
type Entry struct {
	EntryID   string       `json:"entryId"`
	SortIndex string       `json:"sortIndex,omitempty"`
	Content   EntryContent `json:"content"`
}

// EntryContent carries the union of fields used by the entry types.
type EntryContent struct {
	EntryType   string       `json:"entryType"`
	Typename    string       `json:"__typename,omitempty"`
	CursorType  string       `json:"cursorType,omitempty"`
	Value       string       `json:"value,omitempty"`
	ItemContent *ItemContent `json:"itemContent,omitempty"`
	Items       []ModuleItem `json:"items,omitempty"`
}

// ModuleItem is one item of a TimelineTimelineModule entry.
type ModuleItem struct {
	EntryID string `json:"entryId"`
	Item    struct {
		ItemContent *ItemContent `json:"itemContent,omitempty"`
	} `json:"item"`
}

// ItemContent wraps a post result.
type ItemContent struct {
	ItemType     string        `json:"itemType,omitempty"`
	TweetResults *TweetResults `json:"tweet_results,omitempty"`
}

type TweetResults struct {
	Result *TweetResult `json:"result,omitempty"`
}

// TweetResult is a post as returned by the GraphQL API. A
// TweetWithVisibilityResults wraps the real result in Tweet.
type TweetResult struct {
	Typename string       `json:"__typename,omitempty"`
	RestID   string       `json:"rest_id,omitempty"`
	Core     *TweetCore   `json:"core,omitempty"`
	Legacy   *TweetLegacy `json:"legacy,omitempty"`
	Tweet    *TweetResult `json:"tweet,omitempty"`
}

type TweetCore struct {
	UserResults struct {
		Result *UserResult `json:"result,omitempty"`
	} `json:"user_results"`
}

// UserResult is a post author.
type UserResult struct {
	RestID string      `json:"rest_id,omitempty"`
	Legacy *UserLegacy `json:"legacy,omitempty"`
	Core   *UserCore   `json:"core,omitempty"`
}

type UserLegacy struct {
	ScreenName           string `json:"screen_name,omitempty"`
	Name                 string `json:"name,omitempty"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https,omitempty"`
}

// UserCore carries name fields in newer responses.
type UserCore struct {
	ScreenName string `json:"screen_name,omitempty"`
	Name       string `json:"name,omitempty"`
}

// TweetLegacy holds the post fields the indexer reads.
type TweetLegacy struct {
	IDStr                 string     `json:"id_str"`
	CreatedAt             string     `json:"created_at"`
	FullText              string     `json:"full_text"`
	ConversationIDStr     string     `json:"conversation_id_str,omitempty"`
	FavoriteCount         int        `json:"favorite_count"`
	QuoteCount            int        `json:"quote_count"`
	ReplyCount            int        `json:"reply_count"`
	RetweetCount          int        `json:"retweet_count"`
	Favorited             bool       `json:"favorited"`
	Retweeted             bool       `json:"retweeted"`
	Bookmarked            bool       `json:"bookmarked"`
	InReplyToStatusIDStr  string     `json:"in_reply_to_status_id_str,omitempty"`
	InReplyToUserIDStr    string     `json:"in_reply_to_user_id_str,omitempty"`
	IsQuoteStatus         bool       `json:"is_quote_status"`
	QuotedStatusPermalink *Permalink `json:"quoted_status_permalink,omitempty"`
	Entities              Entities   `json:"entities"`
	ExtendedEntities      *Entities  `json:"extended_entities,omitempty"`
}

type Permalink struct {
	URL      string `json:"url,omitempty"`
	Expanded string `json:"expanded,omitempty"`
	Display  string `json:"display,omitempty"`
}

type Entities struct {
	URLs  []URLEntity   `json:"urls,omitempty"`
	Media []MediaEntity `json:"media,omitempty"`
}

type URLEntity struct {
	URL         string `json:"url"`
	DisplayURL  string `json:"display_url"`
	ExpandedURL string `json:"expanded_url"`
	Indices     []int  `json:"indices"`
}

type MediaEntity struct {
	IDStr         string     `json:"id_str"`
	Type          string     `json:"type"`
	MediaURLHTTPS string     `json:"media_url_https"`
	URL           string     `json:"url,omitempty"`
	Indices       []int      `json:"indices"`
	VideoInfo     *VideoInfo `json:"video_info,omitempty"`
}

type VideoInfo struct {
	Variants []VideoVariant `json:"variants"`
}

type VideoVariant struct {
	Bitrate     *int   `json:"bitrate,omitempty"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// AllMedia returns extended_entities media when present, which lists every
// attachment, and entities media otherwise.
func (t *TweetLegacy) AllMedia() []MediaEntity {
	if t.ExtendedEntities != nil && len(t.ExtendedEntities.Media) > 0 {
		return t.ExtendedEntities.Media
	}
	return t.Entities.Media
}

type timelineBody struct {
	Instructions []Instruction `json:"instructions"`
}

type timelineHolder struct {
	Timeline *timelineBody `json:"timeline"`
}

type rawTimeline struct {
	Data *struct {
		BookmarkTimelineV2 *timelineHolder `json:"bookmark_timeline_v2"`
		User               *struct {
			Result *struct {
				Timeline   *timelineHolder `json:"timeline"`
				TimelineV2 *timelineHolder `json:"timeline_v2"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
	Errors []APIError `json:"errors"`
}

// discriminators are tried in order; the first match decides the variant.
var discriminators = []struct {
	variant Variant
	match   func(*rawTimeline) *timelineBody
}{
	{Bookmarks, func(r *rawTimeline) *timelineBody {
		if r.Data != nil && r.Data.BookmarkTimelineV2 != nil {
			return r.Data.BookmarkTimelineV2.Timeline
		}
		return nil
	}},
	{UserTimeline, func(r *rawTimeline) *timelineBody {
		if r.Data != nil && r.Data.User != nil && r.Data.User.Result != nil && r.Data.User.Result.Timeline != nil {
			return r.Data.User.Result.Timeline.Timeline
		}
		return nil
	}},
	{UserTimelineV2, func(r *rawTimeline) *timelineBody {
		if r.Data != nil && r.Data.User != nil && r.Data.User.Result != nil && r.Data.User.Result.TimelineV2 != nil {
			return r.Data.User.Result.TimelineV2.Timeline
		}
		return nil
	}},
}

// ParseTimeline parses a timeline response body. A body that is valid JSON
// but matches no known envelope yields Variant Unrecognized and no error;
// invalid JSON is an error.
func ParseTimeline(body []byte) (*Envelope, error) {
	var raw rawTimeline
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid timeline JSON: %w", err)
	}

	for _, d := range discriminators {
		if tb := d.match(&raw); tb != nil {
			return &Envelope{Variant: d.variant, Instructions: tb.Instructions}, nil
		}
	}
	if len(raw.Errors) > 0 {
		return &Envelope{Variant: UpstreamError, Errors: raw.Errors}, nil
	}
	return &Envelope{Variant: Unrecognized}, nil
}

// InstructionAddEntries is the only instruction type whose entries are
// indexed.
const InstructionAddEntries = "TimelineAddEntries"

// Entries returns the entries of every TimelineAddEntries instruction, in
// order.
func Entries(instructions []Instruction) []Entry {
	var out []Entry
	for _, in := range instructions {
		if in.Type == InstructionAddEntries {
			out = append(out, in.Entries...)
		}
	}
	return out
}

// IsCursor reports whether e is a pure pagination cursor.
func (e *Entry) IsCursor() bool {
	return e.Content.EntryType == "TimelineTimelineCursor" ||
		(e.Content.EntryType == "" && e.Content.CursorType != "") ||
		strings.HasPrefix(e.EntryID, "cursor-")
}

// IsTerminalCursorPair reports whether entries are exactly a Top cursor and a
// Bottom cursor, the shape of the last page of a timeline.
func IsTerminalCursorPair(entries []Entry) bool {
	if len(entries) != 2 {
		return false
	}
	var top, bottom bool
	for i := range entries {
		e := &entries[i]
		if !e.IsCursor() || e.Content.ItemContent != nil || len(e.Content.Items) > 0 {
			return false
		}
		switch e.Content.CursorType {
		case "Top":
			top = true
		case "Bottom":
			bottom = true
		}
	}
	return top && bottom
}
