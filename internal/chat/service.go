// Package chat orchestrates connection-gated messaging: it validates the
// caller, mutates the registry or the message log, and only after the
// change is committed pushes it to live sessions.
package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/apperr"
	"github.com/linkwell/linkwell/internal/auth"
	"github.com/linkwell/linkwell/internal/realtime"
	"github.com/linkwell/linkwell/store/conversation"
	"github.com/linkwell/linkwell/store/message"
)

var ErrUnauthenticated = apperr.New(apperr.KindAuthentication, "", "authentication required")

// Publisher pushes committed changes to live sessions.
type Publisher interface {
	Publish(ctx context.Context, ev realtime.Event) error
}

// Overview partitions a user's conversations the way clients render them.
type Overview struct {
	Active   []*conversation.Conversation `json:"active"`
	Incoming []*conversation.Conversation `json:"incoming"`
	Outgoing []*conversation.Conversation `json:"outgoing"`
	Rejected []*conversation.Conversation `json:"rejected"`
}

// SendParams is one send attempt by the caller.
type SendParams struct {
	ConversationID string
	Content        string
	IdempotencyKey string
}

// Service is the API surface of the messaging core.
type Service struct {
	conversations conversation.Store
	messages      message.Store
	publisher     Publisher
	locks         *keyedMutex
	locker        Locker
	log           *zap.Logger
}

// NewService wires the orchestrator.
func NewService(conversations conversation.Store, messages message.Store, publisher Publisher, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		locks:         newKeyedMutex(),
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func authenticated(caller auth.Identity) error {
	if caller.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequestConnection opens a pending conversation from the caller to
// recipientID and notifies the recipient's live sessions.
func (s *Service) RequestConnection(ctx context.Context, caller auth.Identity, recipientID string) (*conversation.Conversation, error) {
	if err := authenticated(caller); err != nil {
		return nil, err
	}

	convo, err := s.conversations.RequestConnection(ctx, caller.UserID, recipientID)
	if err != nil {
		return nil, err
	}

	s.log.Info("connection requested",
		zap.String("conversation_id", convo.ID),
		zap.String("user_id", caller.UserID))
	s.publish(ctx, realtime.ConversationChanged(convo))
	return convo, nil
}

// RespondToConnection records the recipient's decision and tells both
// participants' sessions about it.
func (s *Service) RespondToConnection(ctx context.Context, caller auth.Identity, conversationID string, decision conversation.Status) (*conversation.Conversation, error) {
	if err := authenticated(caller); err != nil {
		return nil, err
	}

	convo, err := s.conversations.RespondToConnection(ctx, conversationID, caller.UserID, decision)
	if err != nil {
		return nil, err
	}

	s.log.Info("connection decided",
		zap.String("conversation_id", convo.ID),
		zap.String("user_id", caller.UserID),
		zap.String("status", string(convo.Status)))
	s.publish(ctx, realtime.ConversationChanged(convo))
	return convo, nil
}

// ListConversations returns every conversation of the caller, partitioned.
func (s *Service) ListConversations(ctx context.Context, caller auth.Identity) (*Overview, error) {
	if err := authenticated(caller); err != nil {
		return nil, err
	}

	convos, err := s.conversations.ListConversations(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	out := &Overview{
		Active:   []*conversation.Conversation{},
		Incoming: []*conversation.Conversation{},
		Outgoing: []*conversation.Conversation{},
		Rejected: []*conversation.Conversation{},
	}
	for _, c := range convos {
		switch {
		case c.Status == conversation.StatusAccepted:
			out.Active = append(out.Active, c)
		case c.Status == conversation.StatusRejected:
			out.Rejected = append(out.Rejected, c)
		case c.RequestedBy == caller.UserID:
			out.Outgoing = append(out.Outgoing, c)
		default:
			out.Incoming = append(out.Incoming, c)
		}
	}
	return out, nil
}

// SendMessage appends to the log and pushes the committed message. The
// per-conversation lock spans append and publish so pushes leave in
// sequence order; with a Locker configured that holds across instances.
// Replays of a known idempotency key return the original message and push
// nothing.
func (s *Service) SendMessage(ctx context.Context, caller auth.Identity, p SendParams) (*message.Message, bool, error) {
	if err := authenticated(caller); err != nil {
		return nil, false, err
	}

	unlock := s.locks.Lock(p.ConversationID)
	defer unlock()

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, p.ConversationID)
		if err != nil {
			s.log.Error("acquire conversation lock",
				zap.String("conversation_id", p.ConversationID),
				zap.Error(err))
			return nil, false, apperr.Wrap(apperr.KindInternal, "chat.SendMessage", err)
		}
		defer release()
	}

	msg, created, err := s.messages.Append(ctx, message.AppendParams{
		ConversationID: p.ConversationID,
		SenderID:       caller.UserID,
		Content:        p.Content,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.publish(ctx, realtime.MessageCreated(msg))
	} else {
		s.log.Debug("idempotent replay",
			zap.String("conversation_id", msg.ConversationID),
			zap.Int64("sequence", msg.Sequence))
	}
	return msg, created, nil
}

// GetHistory returns a page of messages after since in ascending sequence
// order. HasMore reports a capped page; NextSince resumes after it.
func (s *Service) GetHistory(ctx context.Context, caller auth.Identity, conversationID string, since int64, limit int) (*message.Page, error) {
	if err := authenticated(caller); err != nil {
		return nil, err
	}

	return s.messages.History(ctx, message.HistoryQuery{
		ConversationID: conversationID,
		RequesterID:    caller.UserID,
		Since:          since,
		Limit:          limit,
	})
}

// publish is best effort: the change is already durable and clients catch
// up through history.
func (s *Service) publish(ctx context.Context, ev realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("publish failed",
			zap.String("event", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID),
			zap.Error(err))
	}
}
