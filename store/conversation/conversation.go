package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/linkwell/linkwell/internal/apperr"
)

// Status is the consent state of a Conversation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Conversation is the consent relationship between two users. The pair is
// stored canonically ordered so (a, b) and (b, a) map to the same record.
type Conversation struct {
	ID              string     `json:"id"`
	ParticipantLow  string     `json:"participant_low"`
	ParticipantHigh string     `json:"participant_high"`
	Status          Status     `json:"status"`
	RequestedBy     string     `json:"requested_by"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
}

// IsParticipant reports whether userID is one of the two participants.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.ParticipantLow || userID == c.ParticipantHigh)
}

// Other returns the partner of userID, or "" if userID is not a participant.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh
	case c.ParticipantHigh:
		return c.ParticipantLow
	}
	return ""
}

// Participants returns both participant ids.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantLow, c.ParticipantHigh}
}

// Active reports whether the record blocks a new request for the same pair.
func (c *Conversation) Active() bool {
	return c.Status == StatusPending || c.Status == StatusAccepted
}

// OrderPair returns the two ids in canonical order.
func OrderPair(a, b string) (low, high string) {
	if strings.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

var (
	ErrConversationNotFound = apperr.New(apperr.KindNotFound, "", "conversation not found")
	ErrSelfRequest          = apperr.New(apperr.KindValidation, "", "cannot request a connection with yourself")
	ErrMissingParticipant   = apperr.New(apperr.KindValidation, "", "participant id is required")
	ErrInvalidDecision      = apperr.New(apperr.KindValidation, "", "decision must be accepted or rejected")
	ErrAlreadyConnected     = apperr.New(apperr.KindConflict, "", "a pending or accepted connection already exists")
	ErrNotResponder         = apperr.New(apperr.KindAuthorization, "", "only the requested participant may respond")
	ErrNotPending           = apperr.New(apperr.KindState, "", "conversation is not pending")
)

// Store defines the connection registry operations.
type Store interface {
	RequestConnection(ctx context.Context, requesterID, recipientID string) (*Conversation, error)
	RespondToConnection(ctx context.Context, conversationID, responderID string, decision Status) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	Get(ctx context.Context, conversationID string) (*Conversation, error)
}

func validateRequest(requesterID, recipientID string) error {
	if requesterID == "" || recipientID == "" {
		return ErrMissingParticipant
	}
	if requesterID == recipientID {
		return ErrSelfRequest
	}
	return nil
}

// checkResponse validates a decision against the current record before the
// compare-and-swap is attempted.
func checkResponse(convo *Conversation, responderID string) error {
	if !convo.IsParticipant(responderID) || responderID == convo.RequestedBy {
		return ErrNotResponder
	}
	if convo.Status != StatusPending {
		return ErrNotPending
	}
	return nil
}

func validDecision(decision Status) bool {
	return decision == StatusAccepted || decision == StatusRejected
}
