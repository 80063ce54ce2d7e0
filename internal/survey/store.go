package survey

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Conversation is the survey state of one recipient.
type Conversation struct {
	ID            string
	RecipientName string
	// QuestionIndex is the cursor into the QuestionBank, 0 <= index <= Len().
	QuestionIndex int
	// Answers maps question ID to the recorded answer; a primary answer with a
	// follow-up is stored as "<primary>-<follow-up>".
	Answers map[int]string
	// FollowUpPending is true while waiting for the follow-up to the current question.
	FollowUpPending bool
	// PendingPrimary holds the primary answer while FollowUpPending is set.
	PendingPrimary int
	StartedAt      time.Time
}

func (c Conversation) clone() Conversation {
	c.Answers = maps.Clone(c.Answers)
	return c
}

// ConversationStore maps conversation identifiers to survey state. Each
// conversation has its own slot lock; holders of different slots never block
// each other.
type ConversationStore struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu      sync.Mutex
	conv    Conversation
	removed atomic.Bool
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{slots: make(map[string]*slot)}
}

// Create registers a conversation at question 0 and runs init while holding
// its slot, so no other operation can observe it before init returns. It
// returns false, without calling init, if id is already active.
func (s *ConversationStore) Create(id, name string, now time.Time, init func(*Conversation)) bool {
	sl := &slot{conv: Conversation{
		ID:            id,
		RecipientName: name,
		Answers:       make(map[int]string),
		StartedAt:     now,
	}}

	s.mu.Lock()
	if _, exists := s.slots[id]; exists {
		s.mu.Unlock()
		return false
	}
	sl.mu.Lock()
	s.slots[id] = sl
	s.mu.Unlock()

	defer sl.mu.Unlock()
	if init != nil {
		init(&sl.conv)
	}
	return true
}

// Get returns a snapshot of the conversation. It must not be called from
// inside a Mutate callback for the same id.
func (s *ConversationStore) Get(id string) (Conversation, bool) {
	sl := s.lookup(id)
	if sl == nil {
		return Conversation{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.removed.Load() {
		return Conversation{}, false
	}
	return sl.conv.clone(), true
}

// Mutate runs fn on the conversation while holding its slot. It returns false
// if the conversation does not exist or was removed while waiting for the slot.
// fn may call Remove for the same id.
func (s *ConversationStore) Mutate(id string, fn func(*Conversation)) bool {
	sl := s.lookup(id)
	if sl == nil {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.removed.Load() {
		return false
	}
	fn(&sl.conv)
	return true
}

// Remove drops the conversation. It is idempotent and reports whether an
// active conversation was removed.
func (s *ConversationStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return false
	}
	sl.removed.Store(true)
	delete(s.slots, id)
	return true
}

// Has reports whether id has an active conversation.
func (s *ConversationStore) Has(id string) bool {
	return s.lookup(id) != nil
}

// Len returns the number of active conversations.
func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// IDs returns the identifiers of all active conversations.
func (s *ConversationStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	return ids
}

func (s *ConversationStore) lookup(id string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}
