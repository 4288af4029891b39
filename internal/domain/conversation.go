package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation entry. Messages are owned by the store;
// callers receive and hand over copies, never shared references.
type Message struct {
	ID          string
	Role        Role
	Text        string
	Typing      bool
	OriginModel string
	PurposeID   string
	Created     time.Time
	Updated     time.Time // zero until edited with touch
}

// NewMessage constructs a message with a fresh id and creation timestamp.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Text:    text,
		Created: time.Now().UTC(),
	}
}

// Question is one interview question. The grading fields are written exactly
// once, by the grading step.
type Question struct {
	Question         string      `json:"question"`
	Score            json.Number `json:"score,omitempty"`
	ScoreDescription string      `json:"score_description,omitempty"`
	Graded           bool        `json:"graded,omitempty"`
}

// Grade is the outcome of scoring a candidate answer.
type Grade struct {
	Score       json.Number `json:"score"`
	Description string      `json:"score_description"`
}

// QuestionIndexUnset marks a conversation whose interview has not started.
const QuestionIndexUnset = -1

// Conversation holds the ordered message sequence and interview state for one
// session.
type Conversation struct {
	ID            string
	Messages      []Message
	ModelID       string // experience level id
	PurposeID     string
	Questions     []Question
	QuestionIndex int
	AutoTitle     string
	UserTitle     string
	Created       time.Time
	Updated       time.Time
}

// NewConversation constructs an empty conversation for the given experience
// level and purpose.
func NewConversation(modelID, purposeID string) Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:            uuid.NewString(),
		ModelID:       modelID,
		PurposeID:     purposeID,
		QuestionIndex: QuestionIndexUnset,
		Created:       now,
		Updated:       now,
	}
}
