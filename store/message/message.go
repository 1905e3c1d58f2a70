package message

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/linkwell/linkwell/internal/apperr"
	"github.com/linkwell/linkwell/store/conversation"
)

const (
	// MaxContentLength is the longest message body accepted, in runes.
	MaxContentLength = 4000
	// MaxHistoryPage caps a single History read.
	MaxHistoryPage = 500
)

// Message is one immutable entry of a conversation log. SenderID is always
// the bare user id; display names are joined in by the client.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Sequence       int64     `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// AppendParams describes one send attempt. IdempotencyKey is scoped to the
// sender within the conversation.
type AppendParams struct {
	ConversationID string
	SenderID       string
	Content        string
	IdempotencyKey string
}

// HistoryQuery selects messages with Sequence > Since. Limit 0 means up to
// MaxHistoryPage.
type HistoryQuery struct {
	ConversationID string
	RequesterID    string
	Since          int64
	Limit          int
}

// Page is one History read. HasMore reports that messages after the page
// exist; NextSince resumes from the end of the page.
type Page struct {
	Messages  []*Message `json:"messages"`
	HasMore   bool       `json:"has_more"`
	NextSince int64      `json:"next_since"`
}

func newPage(msgs []*Message, since int64, limit int) *Page {
	p := &Page{Messages: msgs, NextSince: since}
	if len(msgs) > limit {
		p.Messages = msgs[:limit]
		p.HasMore = true
	}
	if n := len(p.Messages); n > 0 {
		p.NextSince = p.Messages[n-1].Sequence
	}
	return p
}

var (
	ErrEmptyContent   = apperr.New(apperr.KindValidation, "", "content is required")
	ErrContentTooLong = apperr.New(apperr.KindValidation, "", "content exceeds maximum length")
	ErrNegativeSince  = apperr.New(apperr.KindValidation, "", "since must not be negative")
	ErrInvalidLimit   = apperr.New(apperr.KindValidation, "", "limit must not be negative")
	ErrNotParticipant = apperr.New(apperr.KindAuthorization, "", "not a participant of this conversation")
	ErrNotAccepted    = apperr.New(apperr.KindState, "", "conversation is not accepted")
)

// Store is the durable, per-conversation ordered message log.
type Store interface {
	// Append persists a message and reports whether it was newly created.
	// A sender repeating one of its idempotency keys gets the original
	// message back with created set to false.
	Append(ctx context.Context, p AppendParams) (msg *Message, created bool, err error)
	History(ctx context.Context, q HistoryQuery) (*Page, error)
}

func normalizeAppend(p *AppendParams) error {
	if strings.TrimSpace(p.Content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(p.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	p.IdempotencyKey = strings.TrimSpace(p.IdempotencyKey)
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = uuid.NewString()
	}
	return nil
}

func normalizeHistory(q *HistoryQuery) error {
	if q.Since < 0 {
		return ErrNegativeSince
	}
	if q.Limit < 0 {
		return ErrInvalidLimit
	}
	if q.Limit == 0 || q.Limit > MaxHistoryPage {
		q.Limit = MaxHistoryPage
	}
	return nil
}

// authorizeAppend checks the sender and state of the conversation read
// under the store's per-conversation serialization.
func authorizeAppend(convo *conversation.Conversation, senderID string) error {
	if !convo.IsParticipant(senderID) {
		return ErrNotParticipant
	}
	if convo.Status != conversation.StatusAccepted {
		return ErrNotAccepted
	}
	return nil
}
