package message

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkwell/linkwell/store/conversation"
)

// ConversationGetter resolves the conversation a message belongs to.
type ConversationGetter interface {
	Get(ctx context.Context, conversationID string) (*conversation.Conversation, error)
}

// MemoryStore keeps logs in process. Sequences are the 1-based positions in
// each log, so a log is gapless by construction.
type MemoryStore struct {
	conversations ConversationGetter

	mu   sync.Mutex
	logs map[string][]*Message
	keys map[string]map[replayKey]*Message
}

type replayKey struct {
	sender string
	key    string
}

// NewMemoryStore creates a MemoryStore authorizing against conversations.
func NewMemoryStore(conversations ConversationGetter) *MemoryStore {
	return &MemoryStore{
		conversations: conversations,
		logs:          make(map[string][]*Message),
		keys:          make(map[string]map[replayKey]*Message),
	}
}

func (s *MemoryStore) Append(ctx context.Context, p AppendParams) (*Message, bool, error) {
	if err := normalizeAppend(&p); err != nil {
		return nil, false, err
	}

	convo, err := s.conversations.Get(ctx, p.ConversationID)
	if err != nil {
		return nil, false, err
	}
	// Accepted is terminal, so the check cannot go stale before the append.
	if err := authorizeAppend(convo, p.SenderID); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rk := replayKey{sender: p.SenderID, key: p.IdempotencyKey}
	if existing, ok := s.keys[p.ConversationID][rk]; ok {
		cp := *existing
		return &cp, false, nil
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Sequence:       int64(len(s.logs[p.ConversationID]) + 1),
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: p.IdempotencyKey,
	}
	s.logs[p.ConversationID] = append(s.logs[p.ConversationID], msg)
	if s.keys[p.ConversationID] == nil {
		s.keys[p.ConversationID] = make(map[replayKey]*Message)
	}
	s.keys[p.ConversationID][rk] = msg

	cp := *msg
	return &cp, true, nil
}

func (s *MemoryStore) History(ctx context.Context, q HistoryQuery) (*Page, error) {
	if err := normalizeHistory(&q); err != nil {
		return nil, err
	}

	convo, err := s.conversations.Get(ctx, q.ConversationID)
	if err != nil {
		return nil, err
	}
	if !convo.IsParticipant(q.RequesterID) {
		return nil, ErrNotParticipant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[q.ConversationID]
	if q.Since >= int64(len(log)) {
		return newPage([]*Message{}, q.Since, q.Limit), nil
	}
	// One past the page tells whether more follow.
	end := q.Since + int64(q.Limit) + 1
	if end > int64(len(log)) {
		end = int64(len(log))
	}

	out := make([]*Message, 0, end-q.Since)
	for _, m := range log[q.Since:end] {
		cp := *m
		out = append(out, &cp)
	}
	return newPage(out, q.Since, q.Limit), nil
}
