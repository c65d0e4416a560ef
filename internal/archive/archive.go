// Package archive holds the normalized rows the indexer writes to an
// account store.
package archive

// RepostMarker prefixes the body text of a repost.
const RepostMarker = "RT @"

// Post is a timeline item owned by, liked by, or bookmarked by the account.
type Post struct {
	PostID         string
	AuthorHandle   string
	ConversationID string

	// CreatedAt is a Unix timestamp (seconds)
	CreatedAt int64

	LikeCount   int
	QuoteCount  int
	ReplyCount  int
	RepostCount int

	LikedByOwner    bool
	RepostedByOwner bool
	Bookmarked      bool

	Text string

	// Path is the canonical "<handle>/status/<id>" path
	Path string

	HasMedia bool

	IsReply         bool
	ReplyToPostID   *string
	ReplyToAuthorID *string

	IsQuote       bool
	QuotedPostURL *string

	// Soft-delete timestamps are independent of each other.
	DeletedPostAt     *int64
	DeletedRepostAt   *int64
	DeletedLikeAt     *int64
	DeletedBookmarkAt *int64

	ArchivedAt *int64
	AddedAt    int64
}

// IsRepost reports whether the body carries the repost marker.
func (p *Post) IsRepost() bool {
	return len(p.Text) >= len(RepostMarker) && p.Text[:len(RepostMarker)] == RepostMarker
}

// Media is an attachment of a post.
type Media struct {
	MediaID    string
	PostID     string
	Type       string
	URL        string
	Filename   string
	StartIndex int
	EndIndex   int
}

// Link is a shortened URL in a post body with its expansion.
type Link struct {
	ShortURL    string
	DisplayURL  string
	ExpandedURL string
	StartIndex  int
	EndIndex    int
	PostID      string
}

// Profile is a user seen in direct-message payloads.
type Profile struct {
	UserID string
	Name   string
	Handle string

	// AvatarDataURI is the embedded avatar ("data:image/jpeg;base64,...")
	AvatarDataURI string

	// AvatarURL is where the avatar is fetched from; not persisted
	AvatarURL string

	UpdatedAt int64
}

// Conversation is a direct-message thread.
type Conversation struct {
	ConversationID string
	Type           string
	SortKey        string
	MinEntryID     *string
	MaxEntryID     *string
	Trusted        bool

	ShouldIndexMessages bool
	DeletedAt           *int64

	// Participants are user IDs; they replace the stored set on every index.
	Participants []string

	AddedAt   int64
	UpdatedAt int64
}

// Message is a direct message within a conversation.
type Message struct {
	MessageID      string
	ConversationID string
	SenderID       string

	// CreatedAt is a Unix timestamp (milliseconds, as the platform reports it)
	CreatedAt int64

	Text      string
	DeletedAt *int64
}
