package index

import (
	"time"

	"github.com/hpungsan/chirpkeep/internal/archive"
	"github.com/hpungsan/chirpkeep/internal/classify"
)

// postTimeLayout is the created_at format of timeline posts.
const postTimeLayout = time.RubyDate

func toPost(a classify.Author, t *classify.TweetLegacy, now time.Time) *archive.Post {
	p := &archive.Post{
		PostID:          t.IDStr,
		AuthorHandle:    a.Handle,
		ConversationID:  t.ConversationIDStr,
		LikeCount:       t.FavoriteCount,
		QuoteCount:      t.QuoteCount,
		ReplyCount:      t.ReplyCount,
		RepostCount:     t.RetweetCount,
		LikedByOwner:    t.Favorited,
		RepostedByOwner: t.Retweeted,
		Bookmarked:      t.Bookmarked,
		Text:            t.FullText,
		Path:            a.Handle + "/status/" + t.IDStr,
		HasMedia:        len(t.AllMedia()) > 0,
		IsQuote:         t.IsQuoteStatus,
		AddedAt:         now.Unix(),
	}
	if created, err := time.Parse(postTimeLayout, t.CreatedAt); err == nil {
		p.CreatedAt = created.Unix()
	}
	if t.InReplyToStatusIDStr != "" {
		p.IsReply = true
		p.ReplyToPostID = strPtr(t.InReplyToStatusIDStr)
		if t.InReplyToUserIDStr != "" {
			p.ReplyToAuthorID = strPtr(t.InReplyToUserIDStr)
		}
	}
	if t.QuotedStatusPermalink != nil && t.QuotedStatusPermalink.Expanded != "" {
		p.QuotedPostURL = strPtr(t.QuotedStatusPermalink.Expanded)
	}
	return p
}

func toMedia(postID string, m classify.MediaEntity) *archive.Media {
	src := SelectMediaURL(m)
	start, end := offsets(m.Indices)
	return &archive.Media{
		MediaID:    m.IDStr,
		PostID:     postID,
		Type:       m.Type,
		URL:        src,
		Filename:   mediaFilename(m.IDStr, src),
		StartIndex: start,
		EndIndex:   end,
	}
}

func toLink(postID string, u classify.URLEntity) *archive.Link {
	start, end := offsets(u.Indices)
	return &archive.Link{
		ShortURL:    u.URL,
		DisplayURL:  u.DisplayURL,
		ExpandedURL: u.ExpandedURL,
		StartIndex:  start,
		EndIndex:    end,
		PostID:      postID,
	}
}

func toConversation(c classify.DMConversation, now time.Time) *archive.Conversation {
	conv := &archive.Conversation{
		ConversationID: c.ConversationID,
		Type:           c.Type,
		SortKey:        c.SortTimestamp,
		Trusted:        c.Trusted,
		AddedAt:        now.Unix(),
		UpdatedAt:      now.Unix(),
	}
	if c.MinEntryID != "" {
		conv.MinEntryID = strPtr(c.MinEntryID)
	}
	if c.MaxEntryID != "" {
		conv.MaxEntryID = strPtr(c.MaxEntryID)
	}
	for _, p := range c.Participants {
		if p.UserID != "" {
			conv.Participants = append(conv.Participants, p.UserID)
		}
	}
	return conv
}

func toMessage(m *classify.DMMessage) *archive.Message {
	return &archive.Message{
		MessageID:      m.MessageID(),
		ConversationID: m.ConversationID,
		SenderID:       m.MessageData.SenderID,
		CreatedAt:      m.CreatedAtMillis(),
		Text:           m.MessageData.Text,
	}
}

func offsets(indices []int) (start, end int) {
	if len(indices) >= 2 {
		return indices[0], indices[1]
	}
	return 0, 0
}

func strPtr(s string) *string { return &s }
