package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const conversationColumns = `id, participant_low, participant_high, status, requested_by, created_at, decided_at`

// SQLStore implements Store using a database/sql connection.
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

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		convo     Conversation
		decidedAt sql.NullTime
	)
	if err := row.Scan(&convo.ID, &convo.ParticipantLow, &convo.ParticipantHigh, &convo.Status, &convo.RequestedBy, &convo.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		convo.DecidedAt = &t
	}
	return &convo, nil
}

// RequestConnection inserts a pending record. The partial unique index on
// the pair (pending or accepted rows only) turns a concurrent duplicate into
// a no-op insert, which is reported as a conflict.
func (s *SQLStore) RequestConnection(ctx context.Context, requesterID, recipientID string) (*Conversation, error) {
	if err := validateRequest(requesterID, recipientID); err != nil {
		return nil, err
	}

	low, high := OrderPair(requesterID, recipientID)
	convo := &Conversation{
		ID:              uuid.NewString(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		Status:          StatusPending,
		RequestedBy:     requesterID,
		CreatedAt:       time.Now().UTC(),
	}

	query := `
		INSERT INTO conversations (id, participant_low, participant_high, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (participant_low, participant_high) WHERE status IN ('pending', 'accepted') DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, convo.ID, convo.ParticipantLow, convo.ParticipantHigh, convo.Status, convo.RequestedBy, convo.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("conversation: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("conversation: insert: %w", err)
	}
	if n == 0 {
		return nil, ErrAlreadyConnected
	}

	return convo, nil
}

// RespondToConnection checks the responder against the current record, then
// swaps the status only if it is still pending.
func (s *SQLStore) RespondToConnection(ctx context.Context, conversationID, responderID string, decision Status) (*Conversation, error) {
	if !validDecision(decision) {
		return nil, ErrInvalidDecision
	}

	current, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(current, responderID); err != nil {
		return nil, err
	}

	query := `
		UPDATE conversations
		SET status = $1, decided_at = $2
		WHERE id = $3 AND status = 'pending'
		RETURNING ` + conversationColumns

	row := s.db.QueryRowContext(ctx, query, decision, time.Now().UTC(), conversationID)
	convo, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another responder won the race.
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("conversation: update status: %w", err)
	}

	return convo, nil
}

func (s *SQLStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_low = $1 OR participant_high = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var convos []*Conversation
	for rows.Next() {
		convo, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: scan: %w", err)
		}
		convos = append(convos, convo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}

	return convos, nil
}

func (s *SQLStore) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, ErrConversationNotFound
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	convo, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: get: %w", err)
	}

	return convo, nil
}
