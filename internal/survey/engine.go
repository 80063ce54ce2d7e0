package survey

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"surveybot/internal/bus"
	"surveybot/internal/domain"

	"github.com/google/uuid"
)

const (
	DefaultBranchThreshold     = 2
	DefaultCompletionThreshold = 5
	DefaultScoreQuestionID     = 1

	defaultSendTimeout = 30 * time.Second
	defaultWorkers     = 4
	workerQueueSize    = 16
)

// Messenger is the outbound side of a messaging transport.
type Messenger interface {
	Send(ctx context.Context, chatID, content string) error
	SendMedia(ctx context.Context, chatID, path, caption string) error
}

// EngineConfig holds the dependencies and tuning of an Engine. Thresholds are
// taken as given; use the Default* constants for the standard survey.
type EngineConfig struct {
	Questions *QuestionBank
	Store     *ConversationStore
	Timers    *TimeoutScheduler
	Messenger Messenger
	Messages  Messages

	// Channel restricts Run to inbound messages from this channel; empty accepts all.
	Channel string

	BranchThreshold     int // primary answer <= this triggers the follow-up
	CompletionThreshold int // score >= this triggers the review link
	ScoreQuestionID     int // question whose answer is the score
	ReviewLink          string
	ReviewMediaPath     string

	SendRetries  int           // extra attempts after a failed send
	RetryBackoff time.Duration // multiplied by the attempt number
	SendTimeout  time.Duration
	Workers      int

	Results domain.ResultStore // optional
	Events  *bus.EventBus      // optional
	Logger  *slog.Logger
	Now     func() time.Time
}

// Engine is the survey state machine. All state changes of a conversation
// happen while holding its ConversationStore slot, including the sends that
// the change depends on.
type Engine struct {
	questions *QuestionBank
	store     *ConversationStore
	timers    *TimeoutScheduler
	messenger Messenger
	messages  Messages
	channel   string

	branchThreshold     int
	completionThreshold int
	scoreQuestionID     int
	reviewLink          string
	reviewMediaPath     string

	sendRetries  int
	retryBackoff time.Duration
	sendTimeout  time.Duration
	workers      int

	results domain.ResultStore
	events  *bus.EventBus
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an engine and registers it as the scheduler's timeout handler.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Questions == nil {
		cfg.Questions = DefaultQuestionBank()
	}
	if cfg.Store == nil {
		cfg.Store = NewConversationStore()
	}
	if cfg.Timers == nil {
		cfg.Timers = NewTimeoutScheduler(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.SendRetries < 0 {
		cfg.SendRetries = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	e := &Engine{
		questions:           cfg.Questions,
		store:               cfg.Store,
		timers:              cfg.Timers,
		messenger:           cfg.Messenger,
		messages:            cfg.Messages.WithDefaults(),
		channel:             cfg.Channel,
		branchThreshold:     cfg.BranchThreshold,
		completionThreshold: cfg.CompletionThreshold,
		scoreQuestionID:     cfg.ScoreQuestionID,
		reviewLink:          cfg.ReviewLink,
		reviewMediaPath:     cfg.ReviewMediaPath,
		sendRetries:         cfg.SendRetries,
		retryBackoff:        cfg.RetryBackoff,
		sendTimeout:         cfg.SendTimeout,
		workers:             cfg.Workers,
		results:             cfg.Results,
		events:              cfg.Events,
		logger:              cfg.Logger,
		now:                 cfg.Now,
	}
	e.timers.SetHandler(e)
	return e
}

// Enroll starts a survey for id: it creates the conversation, sends the
// greeting with the first question and arms the timers. It returns
// ErrAlreadyActive without side effects if id is already in a survey. A send
// failure is returned with created == true; the conversation stays active and
// the hard timeout eventually ends it.
func (e *Engine) Enroll(ctx context.Context, id, name string) (bool, error) {
	var sendErr error
	created := e.store.Create(id, name, e.now(), func(c *Conversation) {
		first := e.questions.At(0)
		sendErr = e.send(ctx, id, e.messages.GreetingFor(name, c.StartedAt)+first.Prompt)
		e.timers.Arm(id)
		e.logger.Info("survey started", "chat", id, "name", name)
		e.emit(bus.EventSurveyEnrolled, id, map[string]any{"name": name})
	})
	if !created {
		e.logger.Debug("enrollment skipped: survey already active", "chat", id)
		return false, ErrAlreadyActive
	}
	return true, sendErr
}

// Active reports whether id is in a survey.
func (e *Engine) Active(id string) bool {
	return e.store.Has(id)
}

// State reports where id is in the survey and the current question index.
func (e *Engine) State(id string) (State, int) {
	c, ok := e.store.Get(id)
	if !ok {
		return NotEnrolled, 0
	}
	if c.FollowUpPending {
		return AwaitingFollowUp, c.QuestionIndex
	}
	return AwaitingAnswer, c.QuestionIndex
}

// HandleMessage applies one inbound message. Messages for identifiers with
// no active survey are logged and reported as ErrUnknownConversation.
// Invalid answers are answered with the accepted bounds and reported as a
// *ValidationError.
func (e *Engine) HandleMessage(ctx context.Context, id, text string) error {
	var err error
	found := e.store.Mutate(id, func(c *Conversation) {
		err = e.answer(ctx, c, text)
	})
	if !found {
		e.logger.Info("message ignored: no active survey", "chat", id)
		e.emit(bus.EventUnknownConversation, id, nil)
		return ErrUnknownConversation
	}
	return err
}

// Run consumes inbound messages until ctx is done or the channel closes.
// Messages are sharded by chat ID across workers, so each conversation sees
// its messages in arrival order.
func (e *Engine) Run(ctx context.Context, inbound <-chan domain.InboundMessage) {
	e.logger.Info("survey engine started", "workers", e.workers, "channel", e.channel)

	queues := make([]chan domain.InboundMessage, e.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan domain.InboundMessage, workerQueueSize)
		wg.Add(1)
		go func(q <-chan domain.InboundMessage) {
			defer wg.Done()
			for msg := range q {
				e.dispatch(ctx, msg)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		e.logger.Info("survey engine stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if e.channel != "" && msg.Channel != e.channel {
				e.logger.Debug("message from other channel ignored", "channel", msg.Channel, "chat", msg.ChatID)
				continue
			}
			select {
			case queues[shard(msg.ChatID, len(queues))] <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Shutdown cancels every armed timer.
func (e *Engine) Shutdown() {
	e.timers.Stop()
}

// Remind sends the reminder if gen is still the live timer pair for id.
func (e *Engine) Remind(id string, gen uint64) {
	e.store.Mutate(id, func(c *Conversation) {
		if !e.timers.Current(id, gen) {
			return
		}
		ctx := context.Background()
		if err := e.send(ctx, id, e.messages.Reminder); err != nil {
			return
		}
		e.logger.Info("reminder sent", "chat", id, "question", c.QuestionIndex)
		e.emit(bus.EventReminderSent, id, map[string]any{"question_index": c.QuestionIndex})
	})
}

// Expire terminates the conversation if gen is still the live timer pair for id.
func (e *Engine) Expire(id string, gen uint64) {
	found := e.store.Mutate(id, func(c *Conversation) {
		if !e.timers.CancelIfCurrent(id, gen) {
			return
		}
		ctx := context.Background()
		_ = e.send(ctx, id, e.messages.Timeout)
		e.store.Remove(id)
		e.logger.Info("survey ended for inactivity", "chat", id, "question_index", c.QuestionIndex, "answers", c.Answers)
		e.finish(ctx, c, domain.OutcomeTimedOut, false)
	})
	if !found {
		e.timers.CancelIfCurrent(id, gen)
	}
}

func (e *Engine) dispatch(ctx context.Context, msg domain.InboundMessage) {
	err := e.HandleMessage(ctx, msg.ChatID, msg.Content)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownConversation), errors.Is(err, ErrInvalidAnswer) && !isSendError(err):
	default:
		e.logger.Warn("message handling incomplete", "chat", msg.ChatID, "err", err)
	}
}

func (e *Engine) answer(ctx context.Context, c *Conversation, text string) error {
	q := e.questions.At(c.QuestionIndex)
	active := q
	if c.FollowUpPending {
		active = *q.FollowUp
	}

	value, verr := parseAnswer(text, active.Range)
	if verr != nil {
		e.logger.Info("invalid answer", "chat", c.ID, "question", q.ID, "follow_up", c.FollowUpPending, "input", text)
		e.emit(bus.EventAnswerInvalid, c.ID, map[string]any{"question": q.ID, "follow_up": c.FollowUpPending})
		sendErr := e.send(ctx, c.ID, e.messages.InvalidFor(active.Range))
		e.timers.Arm(c.ID)
		return errors.Join(verr, sendErr)
	}

	if c.FollowUpPending {
		c.Answers[q.ID] = fmt.Sprintf("%d-%d", c.PendingPrimary, value)
		c.FollowUpPending = false
		c.PendingPrimary = 0
		e.emit(bus.EventAnswerRecorded, c.ID, map[string]any{"question": q.ID, "answer": c.Answers[q.ID]})
		return e.advance(ctx, c)
	}

	c.Answers[q.ID] = strconv.Itoa(value)
	e.emit(bus.EventAnswerRecorded, c.ID, map[string]any{"question": q.ID, "answer": c.Answers[q.ID]})

	if q.FollowUp != nil && value <= e.branchThreshold {
		c.FollowUpPending = true
		c.PendingPrimary = value
		err := e.send(ctx, c.ID, q.FollowUp.Prompt)
		e.timers.Arm(c.ID)
		e.logger.Debug("follow-up sent", "chat", c.ID, "question", q.ID, "primary", value)
		e.emit(bus.EventFollowUpSent, c.ID, map[string]any{"question": q.ID})
		return err
	}
	return e.advance(ctx, c)
}

func (e *Engine) advance(ctx context.Context, c *Conversation) error {
	c.QuestionIndex++
	if c.QuestionIndex < e.questions.Len() {
		err := e.send(ctx, c.ID, e.questions.At(c.QuestionIndex).Prompt)
		e.timers.Arm(c.ID)
		return err
	}
	return e.complete(ctx, c)
}

func (e *Engine) complete(ctx context.Context, c *Conversation) error {
	e.timers.Cancel(c.ID)

	var errs []error
	reviewSent := false
	if score, ok := scoreOf(c.Answers, e.scoreQuestionID); ok && score >= e.completionThreshold {
		errs = append(errs, e.send(ctx, c.ID, e.messages.ReviewFor(e.reviewLink)))
		if e.reviewMediaPath != "" {
			errs = append(errs, e.sendMedia(ctx, c.ID, e.reviewMediaPath))
		}
		reviewSent = true
		e.emit(bus.EventReviewSent, c.ID, map[string]any{"score": score})
	}
	errs = append(errs, e.send(ctx, c.ID, e.messages.Closing))

	e.store.Remove(c.ID)
	e.logger.Info("survey completed", "chat", c.ID, "answers", c.Answers, "review_sent", reviewSent)
	e.finish(ctx, c, domain.OutcomeCompleted, reviewSent)
	return errors.Join(errs...)
}

// finish records the result and emits the terminal event.
func (e *Engine) finish(ctx context.Context, c *Conversation, outcome domain.SurveyOutcome, reviewSent bool) {
	ended := e.now()
	if e.results != nil {
		result := domain.SurveyResult{
			ID:             uuid.NewString(),
			ConversationID: c.ID,
			RecipientName:  c.RecipientName,
			Outcome:        outcome,
			Answers:        c.clone().Answers,
			ReviewSent:     reviewSent,
			StartedAt:      c.StartedAt,
			EndedAt:        ended,
		}
		if err := e.results.RecordResult(ctx, result); err != nil {
			e.logger.Warn("failed to record survey result", "chat", c.ID, "outcome", outcome, "err", err)
		}
	}

	eventType := bus.EventSurveyCompleted
	if outcome == domain.OutcomeTimedOut {
		eventType = bus.EventSurveyTimedOut
	}
	e.emit(eventType, c.ID, map[string]any{
		"answers":     len(c.Answers),
		"review_sent": reviewSent,
		"duration":    ended.Sub(c.StartedAt),
	})
}

func (e *Engine) send(ctx context.Context, id, text string) error {
	return e.deliver(ctx, id, "text", func(ctx context.Context) error {
		return e.messenger.Send(ctx, id, text)
	})
}

func (e *Engine) sendMedia(ctx context.Context, id, path string) error {
	return e.deliver(ctx, id, "media", func(ctx context.Context) error {
		return e.messenger.SendMedia(ctx, id, path, "")
	})
}

// deliver runs fn, retrying up to sendRetries more times. A final failure is
// logged and returned; the conversation is left as is.
func (e *Engine) deliver(ctx context.Context, id, kind string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.sendRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("send failed, retrying", "chat", id, "kind", kind, "attempt", attempt+1, "err", err)
			if e.retryBackoff > 0 {
				select {
				case <-ctx.Done():
					return &SendError{ChatID: id, Kind: kind, Err: ctx.Err()}
				case <-time.After(time.Duration(attempt) * e.retryBackoff):
				}
			}
		}
		sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		err = fn(sendCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	e.logger.Error("send failed", "chat", id, "kind", kind, "attempts", e.sendRetries+1, "err", err)
	e.emit(bus.EventSendFailed, id, map[string]any{"kind": kind, "err": err.Error()})
	return &SendError{ChatID: id, Kind: kind, Err: err}
}

func (e *Engine) emit(eventType, chatID string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Emit(bus.Event{Type: eventType, ChatID: chatID, Payload: payload, Timestamp: e.now()})
}

func shard(chatID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(chatID)))
	return int(h.Sum32() % uint32(n))
}
