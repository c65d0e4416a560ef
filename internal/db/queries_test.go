package db

import (
	"context"
	"testing"

	"github.com/hpungsan/chirpkeep/internal/archive"
	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(n int64) *int64   { return &n }

func samplePost(id string) *archive.Post {
	return &archive.Post{
		PostID:         id,
		AuthorHandle:   "owner",
		ConversationID: id,
		CreatedAt:      1700000000,
		LikeCount:      3,
		QuoteCount:     1,
		ReplyCount:     2,
		RepostCount:    4,
		Text:           "hello world",
		Path:           "owner/status/" + id,
		AddedAt:        1700000100,
	}
}

func sampleMessage(id string) *archive.Message {
	return &archive.Message{
		MessageID:      id,
		ConversationID: "1-2",
		SenderID:       "1",
		CreatedAt:      1700000000000,
		Text:           "hi",
	}
}

func TestReplacePost_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := samplePost("100")
	p.LikedByOwner = true
	p.HasMedia = true
	p.IsReply = true
	p.ReplyToPostID = strPtr("99")
	p.ReplyToAuthorID = strPtr("42")
	p.IsQuote = true
	p.QuotedPostURL = strPtr("https://x.com/other/status/5")
	p.DeletedLikeAt = intPtr(1700000200)

	require.NoError(t, ReplacePost(ctx, db, p))

	got, err := GetPost(ctx, db, "100")
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestReplacePost_FullReplace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := samplePost("100")
	first.Bookmarked = true
	require.NoError(t, ReplacePost(ctx, db, first))

	second := samplePost("100")
	second.LikeCount = 99
	require.NoError(t, ReplacePost(ctx, db, second))

	got, err := GetPost(ctx, db, "100")
	require.NoError(t, err)
	require.Equal(t, 99, got.LikeCount)
	require.False(t, got.Bookmarked, "replace must not merge old flags")

	n, err := Count(ctx, db, TablePosts)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGetPost_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := GetPost(context.Background(), db, "nope")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMedia_SkipIfPresent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := &archive.Media{MediaID: "m1", PostID: "100", Type: "photo", URL: "https://pbs.twimg.com/media/a.jpg", Filename: "m1.jpg", StartIndex: 6, EndIndex: 29}

	ok, err := MediaExists(ctx, db, "m1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, InsertMedia(ctx, db, m))

	ok, err = MediaExists(ctx, db, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	err = InsertMedia(ctx, db, m)
	require.ErrorIs(t, err, ErrUniqueConstraint)

	list, err := ListMedia(ctx, db, "100")
	require.NoError(t, err)
	require.Equal(t, []archive.Media{*m}, list)
}

func TestLinks_UniquePerPost(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	l := &archive.Link{ShortURL: "https://t.co/abc", DisplayURL: "example.com", ExpandedURL: "https://example.com/", StartIndex: 0, EndIndex: 23, PostID: "100"}
	require.NoError(t, InsertLink(ctx, db, l))
	require.ErrorIs(t, InsertLink(ctx, db, l), ErrUniqueConstraint)

	// Same short URL on another post is a separate link.
	other := *l
	other.PostID = "101"
	require.NoError(t, InsertLink(ctx, db, &other))

	ok, err := LinkExists(ctx, db, "https://t.co/abc", "101")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := Count(ctx, db, TableLinks)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCount_UnknownTable(t *testing.T) {
	db := openTestDB(t)

	_, err := Count(context.Background(), db, "sqlite_master")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestProfiles_LastWriteWins(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, UpsertProfile(ctx, db, &archive.Profile{UserID: "7", Name: "Old", Handle: "old", UpdatedAt: 1}))
	require.NoError(t, SetProfileAvatar(ctx, db, "7", "data:image/jpeg;base64,AAAA"))
	require.NoError(t, UpsertProfile(ctx, db, &archive.Profile{UserID: "7", Name: "New", Handle: "new", UpdatedAt: 2}))

	got, err := GetProfile(ctx, db, "7")
	require.NoError(t, err)
	require.Equal(t, "New", got.Name)
	require.Equal(t, "new", got.Handle)
	require.Equal(t, "data:image/jpeg;base64,AAAA", got.AvatarDataURI, "upsert without avatar keeps the stored one")

	n, err := Count(ctx, db, TableProfiles)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	err = SetProfileAvatar(ctx, db, "missing", "data:")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestUpsertConversation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := &archive.Conversation{ConversationID: "1-2", Type: "ONE_TO_ONE", SortKey: "100", Trusted: true, AddedAt: 1, UpdatedAt: 1}
	inserted, err := UpsertConversation(ctx, db, c)
	require.NoError(t, err)
	require.True(t, inserted)
	require.True(t, c.ShouldIndexMessages)

	require.NoError(t, MarkConversationIndexed(ctx, db, "1-2"))

	t.Run("unchanged sort key stays indexed", func(t *testing.T) {
		same := *c
		inserted, err := UpsertConversation(ctx, db, &same)
		require.NoError(t, err)
		require.False(t, inserted)
		require.False(t, same.ShouldIndexMessages)

		pending, err := PendingConversations(ctx, db)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("moved sort key needs indexing", func(t *testing.T) {
		moved := *c
		moved.SortKey = "200"
		_, err := UpsertConversation(ctx, db, &moved)
		require.NoError(t, err)
		require.True(t, moved.ShouldIndexMessages)

		pending, err := PendingConversations(ctx, db)
		require.NoError(t, err)
		require.Equal(t, []string{"1-2"}, pending)
	})

	t.Run("re-observation clears soft delete", func(t *testing.T) {
		_, err := db.Exec(`UPDATE conversations SET deleted_at = 5 WHERE conversation_id = '1-2'`)
		require.NoError(t, err)

		again := *c
		again.SortKey = "200"
		_, err = UpsertConversation(ctx, db, &again)
		require.NoError(t, err)

		got, err := GetConversation(ctx, db, "1-2")
		require.NoError(t, err)
		require.Nil(t, got.DeletedAt)
		require.Equal(t, "200", got.SortKey)
	})
}

func TestReplaceParticipants(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := UpsertConversation(ctx, db, &archive.Conversation{ConversationID: "g1", Type: "GROUP_DM", SortKey: "1"})
	require.NoError(t, err)

	require.NoError(t, ReplaceParticipants(ctx, db, "g1", []string{"1", "2", "3"}))
	require.NoError(t, ReplaceParticipants(ctx, db, "g1", []string{"2", "4", "4"}))

	got, err := GetConversation(ctx, db, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{"2", "4"}, got.Participants)

	n, err := Count(ctx, db, TableParticipants)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestReplaceMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := sampleMessage("m1")
	require.NoError(t, ReplaceMessage(ctx, db, m))

	edited := sampleMessage("m1")
	edited.Text = "edited"
	require.NoError(t, ReplaceMessage(ctx, db, edited))

	got, err := GetMessage(ctx, db, "m1")
	require.NoError(t, err)
	require.Equal(t, "edited", got.Text)

	n, err := Count(ctx, db, TableMessages)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = GetMessage(ctx, db, "m2")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
