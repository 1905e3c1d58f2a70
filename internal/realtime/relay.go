package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/linkwell/linkwell/store/conversation"
)

// Conversations is the read side of the connection registry the relay
// authorizes room joins against.
type Conversations interface {
	Get(ctx context.Context, conversationID string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*conversation.Conversation, error)
}

// Options configures a Relay.
type Options struct {
	Broker     Broker
	Logger     *zap.Logger
	SendBuffer int
}

// Relay routes committed state changes to live sessions. It owns no durable
// state; a restarted relay is rebuilt by clients reconnecting.
type Relay struct {
	dir           *Directory
	conversations Conversations
	broker        Broker
	log           *zap.Logger
	sendBuffer    int
}

// NewRelay wires a relay. A nil broker means in-process delivery.
func NewRelay(dir *Directory, conversations Conversations, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Broker == nil {
		opts.Broker = NewLocalBroker()
	}
	return &Relay{
		dir:           dir,
		conversations: conversations,
		broker:        opts.Broker,
		log:           opts.Logger,
		sendBuffer:    opts.SendBuffer,
	}
}

// Start begins consuming broker payloads.
func (r *Relay) Start(ctx context.Context) error {
	return r.broker.Start(ctx, r.dispatch)
}

// Close tears down every session and the broker.
func (r *Relay) Close() error {
	r.dir.Close()
	return r.broker.Close()
}

// Directory exposes the session directory.
func (r *Relay) Directory() *Directory { return r.dir }

// Connect registers a new session for userID and subscribes it to every
// conversation the user takes part in, whatever its status, so a pending
// requester hears the decision.
//
// The session is registered before the listing so a consent change
// published in between still attaches it.
func (r *Relay) Connect(ctx context.Context, userID string) (*Session, error) {
	s := newSession(userID, r.sendBuffer)
	if err := r.dir.Add(s); err != nil {
		return nil, err
	}

	convos, err := r.conversations.ListConversations(ctx, userID)
	if err != nil {
		r.dir.Remove(s.ID)
		s.Close()
		return nil, fmt.Errorf("realtime: list conversations: %w", err)
	}
	for _, c := range convos {
		r.dir.Join(c.ID, s.ID)
	}

	r.log.Info("session connected",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.Int("rooms", len(convos)))
	return s, nil
}

// Subscribe joins the session to a conversation room. Joins for unknown
// sessions, unknown conversations or conversations the user is not part of
// are dropped and logged, never reported to the client.
func (r *Relay) Subscribe(ctx context.Context, sessionID, conversationID string) bool {
	s, ok := r.dir.Get(sessionID)
	if !ok {
		r.log.Warn("join from unknown session", zap.String("session_id", sessionID))
		return false
	}

	convo, err := r.conversations.Get(ctx, conversationID)
	if err != nil {
		r.log.Warn("join rejected",
			zap.String("session_id", sessionID),
			zap.String("user_id", s.UserID),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return false
	}
	if !convo.IsParticipant(s.UserID) {
		r.log.Warn("join rejected: not a participant",
			zap.String("session_id", sessionID),
			zap.String("user_id", s.UserID),
			zap.String("conversation_id", conversationID))
		return false
	}

	return r.dir.Join(conversationID, sessionID)
}

// Disconnect removes the session immediately. Frames still queued are lost;
// clients resume from history.
func (r *Relay) Disconnect(sessionID string) {
	s := r.dir.Remove(sessionID)
	if s == nil {
		return
	}
	s.Close()
	r.log.Info("session disconnected", zap.String("session_id", sessionID), zap.String("user_id", s.UserID))
}

// Publish hands ev to the broker. Callers publish only after the change it
// describes is committed, and in commit order per conversation.
func (r *Relay) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", ev.Type, err)
	}
	if err := r.broker.Publish(ctx, payload); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (r *Relay) dispatch(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.log.Error("drop undecodable relay payload", zap.Error(err))
		return
	}
	r.deliver(ev, payload)
}

// deliver fans a frame out to the local room. Consent changes first attach
// the participants' live sessions so every device sees the new room.
func (r *Relay) deliver(ev Event, frame []byte) int {
	if ev.Conversation != nil {
		for _, userID := range ev.Conversation.Participants() {
			r.dir.JoinUser(ev.ConversationID, userID)
		}
	}

	var suppressKey string
	if ev.Type == EventMessageCreated && ev.Message != nil {
		suppressKey = ev.Message.IdempotencyKey
	}

	delivered := 0
	for _, s := range r.dir.Members(ev.ConversationID) {
		if suppressKey != "" && s.consumeSuppressed(suppressKey) {
			continue
		}
		if err := s.enqueue(frame); err != nil {
			r.log.Debug("push dropped",
				zap.String("session_id", s.ID),
				zap.String("conversation_id", ev.ConversationID),
				zap.String("event", string(ev.Type)),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
