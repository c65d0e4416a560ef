package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/chirpkeep/internal/archive"
	"github.com/hpungsan/chirpkeep/internal/errors"
)

// ReplacePost deletes any stored row with the same post ID and inserts p.
// Callers run it inside a transaction so readers never see the gap.
func ReplacePost(ctx context.Context, q Querier, p *archive.Post) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM posts WHERE post_id = ?`, p.PostID); err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO posts (
			post_id, author_handle, conversation_id, created_at,
			like_count, quote_count, reply_count, repost_count,
			liked_by_owner, reposted_by_owner, bookmarked,
			text, path, has_media,
			is_reply, reply_to_post_id, reply_to_author_id,
			is_quote, quoted_post_url,
			deleted_post_at, deleted_repost_at, deleted_like_at, deleted_bookmark_at,
			archived_at, added_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		p.PostID, p.AuthorHandle, toNullString(p.ConversationID), p.CreatedAt,
		p.LikeCount, p.QuoteCount, p.ReplyCount, p.RepostCount,
		p.LikedByOwner, p.RepostedByOwner, p.Bookmarked,
		p.Text, p.Path, p.HasMedia,
		p.IsReply, ptrNullString(p.ReplyToPostID), ptrNullString(p.ReplyToAuthorID),
		p.IsQuote, ptrNullString(p.QuotedPostURL),
		ptrNullInt(p.DeletedPostAt), ptrNullInt(p.DeletedRepostAt), ptrNullInt(p.DeletedLikeAt), ptrNullInt(p.DeletedBookmarkAt),
		ptrNullInt(p.ArchivedAt), p.AddedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetPost retrieves a post by ID.
func GetPost(ctx context.Context, q Querier, postID string) (*archive.Post, error) {
	query := `
		SELECT post_id, author_handle, conversation_id, created_at,
			like_count, quote_count, reply_count, repost_count,
			liked_by_owner, reposted_by_owner, bookmarked,
			text, path, has_media,
			is_reply, reply_to_post_id, reply_to_author_id,
			is_quote, quoted_post_url,
			deleted_post_at, deleted_repost_at, deleted_like_at, deleted_bookmark_at,
			archived_at, added_at
		FROM posts WHERE post_id = ?
	`
	var (
		p              archive.Post
		conversationID sql.NullString
		replyTo        sql.NullString
		replyAuthor    sql.NullString
		quoted         sql.NullString
		delPost        sql.NullInt64
		delRepost      sql.NullInt64
		delLike        sql.NullInt64
		delBookmark    sql.NullInt64
		archivedAt     sql.NullInt64
	)
	err := q.QueryRowContext(ctx, query, postID).Scan(
		&p.PostID, &p.AuthorHandle, &conversationID, &p.CreatedAt,
		&p.LikeCount, &p.QuoteCount, &p.ReplyCount, &p.RepostCount,
		&p.LikedByOwner, &p.RepostedByOwner, &p.Bookmarked,
		&p.Text, &p.Path, &p.HasMedia,
		&p.IsReply, &replyTo, &replyAuthor,
		&p.IsQuote, &quoted,
		&delPost, &delRepost, &delLike, &delBookmark,
		&archivedAt, &p.AddedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("post", postID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	p.ConversationID = conversationID.String
	p.ReplyToPostID = fromNullString(replyTo)
	p.ReplyToAuthorID = fromNullString(replyAuthor)
	p.QuotedPostURL = fromNullString(quoted)
	p.DeletedPostAt = fromNullInt(delPost)
	p.DeletedRepostAt = fromNullInt(delRepost)
	p.DeletedLikeAt = fromNullInt(delLike)
	p.DeletedBookmarkAt = fromNullInt(delBookmark)
	p.ArchivedAt = fromNullInt(archivedAt)
	return &p, nil
}

// MediaExists reports whether a media row with this ID is stored.
func MediaExists(ctx context.Context, q Querier, mediaID string) (bool, error) {
	return exists(ctx, q, `SELECT 1 FROM media WHERE media_id = ? LIMIT 1`, mediaID)
}

// InsertMedia stores a new media row. Callers check MediaExists first;
// a duplicate ID is reported as ErrUniqueConstraint.
func InsertMedia(ctx context.Context, q Querier, m *archive.Media) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO media (media_id, post_id, type, url, filename, start_index, end_index)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MediaID, m.PostID, m.Type, m.URL, m.Filename, m.StartIndex, m.EndIndex,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListMedia returns the media of a post ordered by start offset.
func ListMedia(ctx context.Context, q Querier, postID string) ([]archive.Media, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT media_id, post_id, type, url, filename, start_index, end_index
		FROM media WHERE post_id = ? ORDER BY start_index, media_id`, postID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []archive.Media
	for rows.Next() {
		var m archive.Media
		if err := rows.Scan(&m.MediaID, &m.PostID, &m.Type, &m.URL, &m.Filename, &m.StartIndex, &m.EndIndex); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// LinkExists reports whether (shortURL, postID) is stored.
func LinkExists(ctx context.Context, q Querier, shortURL, postID string) (bool, error) {
	return exists(ctx, q, `SELECT 1 FROM links WHERE short_url = ? AND post_id = ? LIMIT 1`, shortURL, postID)
}

// InsertLink stores a new link row.
func InsertLink(ctx context.Context, q Querier, l *archive.Link) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO links (short_url, display_url, expanded_url, start_index, end_index, post_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ShortURL, l.DisplayURL, l.ExpandedURL, l.StartIndex, l.EndIndex, l.PostID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListLinks returns the links of a post ordered by start offset.
func ListLinks(ctx context.Context, q Querier, postID string) ([]archive.Link, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT short_url, display_url, expanded_url, start_index, end_index, post_id
		FROM links WHERE post_id = ? ORDER BY start_index`, postID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []archive.Link
	for rows.Next() {
		var l archive.Link
		if err := rows.Scan(&l.ShortURL, &l.DisplayURL, &l.ExpandedURL, &l.StartIndex, &l.EndIndex, &l.PostID); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Table names accepted by Count.
const (
	TablePosts         = "posts"
	TableMedia         = "media"
	TableLinks         = "links"
	TableProfiles      = "profiles"
	TableConversations = "conversations"
	TableParticipants  = "conversation_participants"
	TableMessages      = "messages"
)

// Count returns the number of rows in one of the archive tables.
func Count(ctx context.Context, q Querier, table string) (int, error) {
	switch table {
	case TablePosts, TableMedia, TableLinks, TableProfiles,
		TableConversations, TableParticipants, TableMessages:
	default:
		return 0, errors.NewInvalidRequest("unknown table: " + table)
	}

	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.ChirpError{
	Code:    errors.ErrConflict,
	Status:  409,
	Message: "unique constraint violation",
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func exists(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrNullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func fromNullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
