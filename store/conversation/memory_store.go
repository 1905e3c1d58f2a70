package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pairKey struct{ low, high string }

// MemoryStore is an in-process Store used in development mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Conversation
	active map[pairKey]string // pair -> id of the pending or accepted record
	byUser map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Conversation),
		active: make(map[pairKey]string),
		byUser: make(map[string][]string),
	}
}

func (s *MemoryStore) RequestConnection(_ context.Context, requesterID, recipientID string) (*Conversation, error) {
	if err := validateRequest(requesterID, recipientID); err != nil {
		return nil, err
	}

	low, high := OrderPair(requesterID, recipientID)
	key := pairKey{low, high}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[key]; ok {
		return nil, ErrAlreadyConnected
	}

	convo := &Conversation{
		ID:              uuid.NewString(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		Status:          StatusPending,
		RequestedBy:     requesterID,
		CreatedAt:       time.Now().UTC(),
	}
	s.byID[convo.ID] = convo
	s.active[key] = convo.ID
	s.byUser[low] = append(s.byUser[low], convo.ID)
	s.byUser[high] = append(s.byUser[high], convo.ID)

	return clone(convo), nil
}

func (s *MemoryStore) RespondToConnection(_ context.Context, conversationID, responderID string, decision Status) (*Conversation, error) {
	if !validDecision(decision) {
		return nil, ErrInvalidDecision
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.byID[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if err := checkResponse(convo, responderID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	convo.Status = decision
	convo.DecidedAt = &now
	if decision == StatusRejected {
		delete(s.active, pairKey{convo.ParticipantLow, convo.ParticipantHigh})
	}

	return clone(convo), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	convos := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		convos = append(convos, clone(s.byID[id]))
	}
	return convos, nil
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convo, ok := s.byID[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return clone(convo), nil
}

func clone(c *Conversation) *Conversation {
	cp := *c
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
