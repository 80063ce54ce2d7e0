package bus

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// Survey lifecycle and transport events.
const (
	EventSurveyEnrolled       = "survey.enrolled"
	EventAnswerRecorded       = "survey.answer_recorded"
	EventAnswerInvalid        = "survey.answer_invalid"
	EventFollowUpSent         = "survey.follow_up_sent"
	EventReminderSent         = "survey.reminder_sent"
	EventReviewSent           = "survey.review_sent"
	EventSurveyCompleted      = "survey.completed"
	EventSurveyTimedOut       = "survey.timed_out"
	EventUnknownConversation  = "survey.unknown_conversation"
	EventSendFailed           = "transport.send_failed"
	EventRecipientSourceError = "recipient.source_error"
)

// Event describes something that happened to a conversation or the feed.
type Event struct {
	Type      string
	ChatID    string // empty for feed events
	Payload   map[string]any
	Timestamp time.Time
}

type EventHandler func(Event)

type subscription struct {
	topic   string
	handler EventHandler
}

// EventBus fans survey events out to observers such as metrics. Emit runs
// handlers on the caller's goroutine, so they must not block.
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// On registers handler for topic, or for every event when topic is
// AllEvents. The returned func removes the handler.
func (eb *EventBus) On(topic string, handler EventHandler) (off func()) {
	s := &subscription{topic: topic, handler: handler}
	eb.mu.Lock()
	eb.subs = append(eb.subs, s)
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()
			eb.subs = slices.DeleteFunc(eb.subs, func(x *subscription) bool { return x == s })
		})
	}
}

// Emit delivers event to matching handlers in registration order. A handler
// that panics is logged and the rest still run.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	var matched []*subscription
	for _, s := range eb.subs {
		if s.topic == event.Type || s.topic == AllEvents {
			matched = append(matched, s)
		}
	}
	eb.mu.RUnlock()

	for _, s := range matched {
		eb.call(s, event)
	}
}

func (eb *EventBus) call(s *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panicked", "event", event.Type, "chat", event.ChatID, "topic", s.topic, "panic", r)
		}
	}()
	s.handler(event)
}
