package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linkwell/linkwell/store/conversation"
)

const messageColumns = `id, conversation_id, sender_id, content, sequence, created_at, idempotency_key`

// SQLStore implements Store on Postgres. Appends lock the conversation row
// for the duration of the transaction, which serializes sequence
// assignment per conversation.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Sequence, &m.CreatedAt, &m.IdempotencyKey); err != nil {
		return nil, err
	}
	return &m, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadConversation(ctx context.Context, q queryRower, conversationID string, forUpdate bool) (*conversation.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, conversation.ErrConversationNotFound
	}

	query := `SELECT id, participant_low, participant_high, status FROM conversations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var convo conversation.Conversation
	err := q.QueryRowContext(ctx, query, conversationID).Scan(&convo.ID, &convo.ParticipantLow, &convo.ParticipantHigh, &convo.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, fmt.Errorf("message: load conversation: %w", err)
	}
	return &convo, nil
}

func (s *SQLStore) Append(ctx context.Context, p AppendParams) (msg *Message, created bool, err error) {
	if err := normalizeAppend(&p); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("message: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	convo, err := loadConversation(ctx, tx, p.ConversationID, true)
	if err != nil {
		return nil, false, err
	}
	if err = authorizeAppend(convo, p.SenderID); err != nil {
		return nil, false, err
	}

	existingQuery := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND idempotency_key = $3`
	existing, scanErr := scanMessage(tx.QueryRowContext(ctx, existingQuery, p.ConversationID, p.SenderID, p.IdempotencyKey))
	switch {
	case scanErr == nil:
		if err = tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("message: commit: %w", err)
		}
		return existing, false, nil
	case !errors.Is(scanErr, sql.ErrNoRows):
		err = fmt.Errorf("message: lookup idempotency key: %w", scanErr)
		return nil, false, err
	}

	var sequence int64
	bump := `UPDATE conversations SET last_sequence = last_sequence + 1 WHERE id = $1 RETURNING last_sequence`
	if err = tx.QueryRowContext(ctx, bump, p.ConversationID).Scan(&sequence); err != nil {
		err = fmt.Errorf("message: next sequence: %w", err)
		return nil, false, err
	}

	msg = &Message{
		ID:             uuid.NewString(),
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Sequence:       sequence,
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: p.IdempotencyKey,
	}

	insert := `
		INSERT INTO messages (id, conversation_id, sender_id, content, sequence, created_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err = tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Sequence, msg.CreatedAt, msg.IdempotencyKey); err != nil {
		err = fmt.Errorf("message: insert: %w", err)
		return nil, false, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("message: commit: %w", err)
		return nil, false, err
	}

	return msg, true, nil
}

func (s *SQLStore) History(ctx context.Context, q HistoryQuery) (*Page, error) {
	if err := normalizeHistory(&q); err != nil {
		return nil, err
	}

	convo, err := loadConversation(ctx, s.db, q.ConversationID, false)
	if err != nil {
		return nil, err
	}
	if !convo.IsParticipant(q.RequesterID) {
		return nil, ErrNotParticipant
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`

	// One past the page tells whether more follow.
	rows, err := s.db.QueryContext(ctx, query, q.ConversationID, q.Since, q.Limit+1)
	if err != nil {
		return nil, fmt.Errorf("message: history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	msgs := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: history: %w", err)
	}

	return newPage(msgs, q.Since, q.Limit), nil
}
