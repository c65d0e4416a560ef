package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/chirpkeep/internal/archive"
	"github.com/hpungsan/chirpkeep/internal/errors"
)

// UpsertProfile updates the profile with the same user ID or inserts a new
// one. The stored avatar is kept; SetProfileAvatar replaces it.
func UpsertProfile(ctx context.Context, q Querier, p *archive.Profile) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO profiles (user_id, name, handle, avatar, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			handle = excluded.handle,
			avatar = COALESCE(excluded.avatar, profiles.avatar),
			updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.Handle, toNullString(p.AvatarDataURI), p.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SetProfileAvatar replaces the embedded avatar of a stored profile.
func SetProfileAvatar(ctx context.Context, q Querier, userID, dataURI string) error {
	res, err := q.ExecContext(ctx, `UPDATE profiles SET avatar = ? WHERE user_id = ?`, dataURI, userID)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("profile", userID)
	}
	return nil
}

// GetProfile retrieves a profile by user ID.
func GetProfile(ctx context.Context, q Querier, userID string) (*archive.Profile, error) {
	var (
		p      archive.Profile
		avatar sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, name, handle, avatar, updated_at
		FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &p.Handle, &avatar, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("profile", userID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	p.AvatarDataURI = avatar.String
	return &p, nil
}

// UpsertConversation updates the conversation with the same ID, clearing its
// soft-delete, or inserts it. ShouldIndexMessages is set on insert and when
// the sort key moved; an earlier pending flag is never cleared here.
// It returns whether a new row was inserted and the stored flag.
func UpsertConversation(ctx context.Context, q Querier, c *archive.Conversation) (inserted bool, err error) {
	var (
		sortKey string
		pending bool
	)
	err = q.QueryRowContext(ctx,
		`SELECT sort_key, should_index_messages FROM conversations WHERE conversation_id = ?`,
		c.ConversationID,
	).Scan(&sortKey, &pending)

	switch {
	case err == sql.ErrNoRows:
		c.ShouldIndexMessages = true
		_, err = q.ExecContext(ctx, `
			INSERT INTO conversations (
				conversation_id, type, sort_key, min_entry_id, max_entry_id,
				trusted, should_index_messages, deleted_at, added_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, 1, NULL, ?, ?)`,
			c.ConversationID, c.Type, c.SortKey, ptrNullString(c.MinEntryID), ptrNullString(c.MaxEntryID),
			c.Trusted, c.AddedAt, c.UpdatedAt,
		)
		if err != nil {
			return false, errors.NewInternal(err)
		}
		return true, nil

	case err != nil:
		return false, errors.NewInternal(err)
	}

	c.ShouldIndexMessages = pending || sortKey != c.SortKey
	_, err = q.ExecContext(ctx, `
		UPDATE conversations
		SET type = ?, sort_key = ?, min_entry_id = ?, max_entry_id = ?,
			trusted = ?, should_index_messages = ?, deleted_at = NULL, updated_at = ?
		WHERE conversation_id = ?`,
		c.Type, c.SortKey, ptrNullString(c.MinEntryID), ptrNullString(c.MaxEntryID),
		c.Trusted, c.ShouldIndexMessages, c.UpdatedAt,
		c.ConversationID,
	)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return false, nil
}

// GetConversation retrieves a conversation and its participants.
func GetConversation(ctx context.Context, q Querier, conversationID string) (*archive.Conversation, error) {
	var (
		c         archive.Conversation
		minEntry  sql.NullString
		maxEntry  sql.NullString
		deletedAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT conversation_id, type, sort_key, min_entry_id, max_entry_id,
			trusted, should_index_messages, deleted_at, added_at, updated_at
		FROM conversations WHERE conversation_id = ?`, conversationID,
	).Scan(&c.ConversationID, &c.Type, &c.SortKey, &minEntry, &maxEntry,
		&c.Trusted, &c.ShouldIndexMessages, &deletedAt, &c.AddedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("conversation", conversationID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c.MinEntryID = fromNullString(minEntry)
	c.MaxEntryID = fromNullString(maxEntry)
	c.DeletedAt = fromNullInt(deletedAt)

	c.Participants, err = ListParticipants(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ReplaceParticipants deletes the stored participant set of a conversation
// and inserts userIDs.
func ReplaceParticipants(ctx context.Context, q Querier, conversationID string, userIDs []string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = ?`, conversationID); err != nil {
		return errors.NewInternal(err)
	}
	for _, id := range userIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id)
			VALUES (?, ?)`, conversationID, id); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// ListParticipants returns the user IDs of a conversation.
func ListParticipants(ctx context.Context, q Querier, conversationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ? ORDER BY rowid`, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// PendingConversations lists conversations whose messages still need
// indexing, oldest first.
func PendingConversations(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT conversation_id FROM conversations
		WHERE should_index_messages = 1 AND deleted_at IS NULL
		ORDER BY added_at, conversation_id`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// MarkConversationIndexed clears the pending-messages flag.
func MarkConversationIndexed(ctx context.Context, q Querier, conversationID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE conversations SET should_index_messages = 0 WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ReplaceMessage inserts m or replaces the stored message with its ID.
func ReplaceMessage(ctx context.Context, q Querier, m *archive.Message) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (message_id, conversation_id, sender_id, created_at, text, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.ConversationID, m.SenderID, m.CreatedAt, m.Text, ptrNullInt(m.DeletedAt),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func GetMessage(ctx context.Context, q Querier, messageID string) (*archive.Message, error) {
	var (
		m         archive.Message
		deletedAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT message_id, conversation_id, sender_id, created_at, text, deleted_at
		FROM messages WHERE message_id = ?`, messageID,
	).Scan(&m.MessageID, &m.ConversationID, &m.SenderID, &m.CreatedAt, &m.Text, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("message", messageID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	m.DeletedAt = fromNullInt(deletedAt)
	return &m, nil
}
