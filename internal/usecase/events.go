package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 16

// EventType classifies how a turn ended.
type EventType string

const (
	TurnCompleted EventType = "completed"
	TurnCancelled EventType = "cancelled"
	TurnFailed    EventType = "failed"
)

// Event describes the outcome of one turn. Failures always surface here in
// addition to the placeholder message text, so the presentation layer never
// has to scrape logs.
type Event struct {
	ConversationID string
	Type           EventType
	Code           ErrorCode
	Reason         string
}

// Broadcaster provides in-memory pub/sub for turn events. Subscribers
// register per conversation id and receive events as turns finish.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for the default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for the given conversation. The returned
// id can be used to unsubscribe; the subscription is also cleaned up when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish delivers the event to all subscribers of its conversation.
// Non-blocking: the event is dropped for subscribers whose channel is full.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.RLock()
	subs := b.subscribers[evt.ConversationID]
	targets := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", evt.ConversationID,
				"type", string(evt.Type))
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}
}
