// Package store holds the in-memory conversation state shared between the
// turn controller and any number of concurrent readers. All operations are
// total: unknown conversation or message ids are silently ignored.
package store

import (
	"context"
	"sync"
	"time"

	"interview-agent/internal/domain"
)

// MessageUpdate is a partial message edit. Nil fields are left untouched;
// Text is a full overwrite, not an append.
type MessageUpdate struct {
	Text        *string
	Typing      *bool
	OriginModel *string
	PurposeID   *string
}

type conversation struct {
	data   domain.Conversation
	cancel context.CancelFunc // active turn token, nil when idle
}

// Store owns all conversation state. It is safe for concurrent use; writers
// are expected to be the single active turn per conversation, readers are
// unrestricted.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	now           func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
}

// CreateConversation registers a new conversation and returns a snapshot.
func (s *Store) CreateConversation(modelID, purposeID string) domain.Conversation {
	conv := domain.NewConversation(modelID, purposeID)
	s.mu.Lock()
	s.conversations[conv.ID] = &conversation{data: conv}
	s.mu.Unlock()
	return conv
}

// Conversation returns a deep copy of the identified conversation.
func (s *Store) Conversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return cloneConversation(c.data), true
}

// AppendMessage inserts the message at the end of the conversation's
// sequence.
func (s *Store) AppendMessage(id string, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.data.Messages = append(c.data.Messages, msg)
	c.data.Updated = s.now().UTC()
}

// EditMessage merges the partial update into the identified message. When
// touch is true the message's Updated timestamp is set.
func (s *Store) EditMessage(id, messageID string, upd MessageUpdate, touch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	for i := range c.data.Messages {
		m := &c.data.Messages[i]
		if m.ID != messageID {
			continue
		}
		if upd.Text != nil {
			m.Text = *upd.Text
		}
		if upd.Typing != nil {
			m.Typing = *upd.Typing
		}
		if upd.OriginModel != nil {
			m.OriginModel = *upd.OriginModel
		}
		if upd.PurposeID != nil {
			m.PurposeID = *upd.PurposeID
		}
		if touch {
			m.Updated = s.now().UTC()
		}
		c.data.Updated = s.now().UTC()
		return
	}
}

// SetMessages replaces the conversation's entire message sequence.
func (s *Store) SetMessages(id string, msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.data.Messages = cloneMessages(msgs)
	c.data.Updated = s.now().UTC()
}

// StartTyping sets or clears the conversation's active turn token. Passing
// nil marks the conversation idle again.
func (s *Store) StartTyping(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.cancel = cancel
}

// Typing reports whether a turn is in flight for the conversation.
func (s *Store) Typing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return ok && c.cancel != nil
}

// CancelTyping triggers the active turn token, if any. Idempotent: the token
// stays registered until the turn's cleanup clears it, and cancelling twice
// has the same effect as once.
func (s *Store) CancelTyping(id string) {
	s.mu.RLock()
	var cancel context.CancelFunc
	if c, ok := s.conversations[id]; ok {
		cancel = c.cancel
	}
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// SetQuestions replaces the conversation's question list.
func (s *Store) SetQuestions(id string, questions []domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.data.Questions = cloneQuestions(questions)
	c.data.Updated = s.now().UTC()
}

// SetQuestionIndex advances the current question pointer. The index may move
// past the end of the list; that is the interview's terminal state.
func (s *Store) SetQuestionIndex(id string, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.data.QuestionIndex = index
	c.data.Updated = s.now().UTC()
}

// SetQuestionScore records the grading outcome for the question at index.
// Grading fields are written exactly once; a second write is ignored.
func (s *Store) SetQuestionScore(id string, index int, grade domain.Grade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || index < 0 || index >= len(c.data.Questions) {
		return
	}
	q := &c.data.Questions[index]
	if q.Graded {
		return
	}
	q.Score = grade.Score
	q.ScoreDescription = grade.Description
	q.Graded = true
	c.data.Updated = s.now().UTC()
}

// SetAutoTitle sets the auto-generated title at most once.
func (s *Store) SetAutoTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.data.AutoTitle != "" {
		return
	}
	c.data.AutoTitle = title
	c.data.Updated = s.now().UTC()
}

// SetUserTitle sets the user-provided title, which overrides the auto title.
func (s *Store) SetUserTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.data.UserTitle = title
	c.data.Updated = s.now().UTC()
}

func cloneConversation(c domain.Conversation) domain.Conversation {
	cloned := c
	cloned.Messages = cloneMessages(c.Messages)
	cloned.Questions = cloneQuestions(c.Questions)
	return cloned
}

func cloneMessages(src []domain.Message) []domain.Message {
	if len(src) == 0 {
		return nil
	}
	dst := make([]domain.Message, len(src))
	copy(dst, src)
	return dst
}

func cloneQuestions(src []domain.Question) []domain.Question {
	if len(src) == 0 {
		return nil
	}
	dst := make([]domain.Question, len(src))
	copy(dst, src)
	return dst
}
