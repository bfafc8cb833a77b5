package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, org_id, user_id, title, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		c.ID, c.OrgID, c.UserID, c.Title, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store.CreateConversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, orgID int64, id string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org_id, user_id, title, created_at, last_message_at, archived
		FROM conversations WHERE id = $1 AND org_id = $2`, id, orgID)

	var c Conversation
	err := row.Scan(&c.ID, &c.OrgID, &c.UserID, &c.Title, &c.CreatedAt, &c.LastMessageAt, &c.Archived)
	if err != nil {
		return nil, mapScanErr("store.GetConversation", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, orgID, userID int64) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, user_id, title, created_at, last_message_at, archived
		FROM conversations
		WHERE org_id = $1 AND user_id = $2
		ORDER BY last_message_at DESC`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("store.ListConversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OrgID, &c.UserID, &c.Title, &c.CreatedAt, &c.LastMessageAt, &c.Archived); err != nil {
			return nil, fmt.Errorf("store.ListConversations: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var reasoning []byte
	if len(msg.Reasoning) > 0 {
		var err error
		if reasoning, err = json.Marshal(msg.Reasoning); err != nil {
			return fmt.Errorf("store.AppendMessage: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store.AppendMessage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, reasoning, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, reasoning, []byte(msg.Sources), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("store.AppendMessage: insert: %w", err)
	}

	title := ""
	if msg.Role == "user" {
		title = DeriveTitle(msg.Content)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2,
		    title = CASE WHEN title = '' AND $3 <> '' THEN $3 ELSE title END
		WHERE id = $1`, msg.ConversationID, msg.CreatedAt, title)
	if err != nil {
		return fmt.Errorf("store.AppendMessage: touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store.AppendMessage: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, reasoning, sources, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store.ListMessages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var reasoning, sources []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &reasoning, &sources, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store.ListMessages: %w", err)
		}
		if len(reasoning) > 0 {
			if err := json.Unmarshal(reasoning, &m.Reasoning); err != nil {
				return nil, fmt.Errorf("store.ListMessages: %w", err)
			}
		}
		m.Sources = json.RawMessage(sources)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetConversationArchived(ctx context.Context, orgID int64, id string, archived bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET archived = $3 WHERE id = $1 AND org_id = $2`,
		id, orgID, archived)
	if err != nil {
		return fmt.Errorf("store.SetConversationArchived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
