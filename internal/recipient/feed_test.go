package recipient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"surveybot/internal/bus"
	"surveybot/internal/domain"
	"surveybot/internal/survey"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeEnroller struct {
	mu       sync.Mutex
	active   map[string]bool
	enrolled []string
}

func newFakeEnroller(active ...string) *fakeEnroller {
	e := &fakeEnroller{active: make(map[string]bool)}
	for _, id := range active {
		e.active[id] = true
	}
	return e
}

func (e *fakeEnroller) Enroll(_ context.Context, id, _ string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[id] {
		return false, survey.ErrAlreadyActive
	}
	e.active[id] = true
	e.enrolled = append(e.enrolled, id)
	return true, nil
}

func (e *fakeEnroller) Active(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[id]
}

func (e *fakeEnroller) finish(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

func (e *fakeEnroller) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.enrolled...)
}

type failingSource struct {
	load, save error
	saved      [][]domain.Recipient
	records    []domain.Recipient
}

func (s *failingSource) Load() ([]domain.Recipient, error) { return s.records, s.load }
func (s *failingSource) Save(rs []domain.Recipient) error {
	if s.save != nil {
		return s.save
	}
	s.saved = append(s.saved, rs)
	s.records = rs
	return nil
}

func newFileSource(t *testing.T, recipients ...domain.Recipient) *FileSource {
	t.Helper()
	s := NewFileSource(filepath.Join(t.TempDir(), "recipients.txt"))
	require.NoError(t, s.Save(recipients))
	return s
}

func TestPollEnrollsAndRemoves(t *testing.T) {
	src := newFileSource(t,
		domain.Recipient{ConversationID: "1", Name: "Ana"},
		domain.Recipient{ConversationID: "2", Name: "Luis"},
	)
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Logger: testLogger()})

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"1", "2"}, enr.list())

	left, err := src.Load()
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestPollNeverEnrollsTwice(t *testing.T) {
	src := newFileSource(t, domain.Recipient{ConversationID: "1", Name: "Ana"})
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Logger: testLogger()})

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	enr.finish("1")

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, []string{"1"}, enr.list())
}

func TestPollDropsActiveRecipients(t *testing.T) {
	src := newFileSource(t,
		domain.Recipient{ConversationID: "1", Name: "Ana"},
		domain.Recipient{ConversationID: "2", Name: "Luis"},
	)
	enr := newFakeEnroller("1")
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Logger: testLogger()})

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"2"}, enr.list())

	left, _ := src.Load()
	require.Empty(t, left)
}

func TestPollDropsOnlyActiveWhenNothingToEnroll(t *testing.T) {
	src := newFileSource(t, domain.Recipient{ConversationID: "1", Name: "Ana"})
	f := NewFeed(FeedConfig{Source: src, Enroller: newFakeEnroller("1"), Logger: testLogger()})

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	left, _ := src.Load()
	require.Empty(t, left)
}

func TestPollDuplicateLines(t *testing.T) {
	src := newFileSource(t,
		domain.Recipient{ConversationID: "1", Name: "Ana"},
		domain.Recipient{ConversationID: "1", Name: "Ana"},
	)
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Logger: testLogger()})

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, enr.list())
	left, _ := src.Load()
	require.Empty(t, left)
}

func TestPollSkipsTickOnSourceError(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	var got []bus.Event
	events.On(bus.EventRecipientSourceError, func(e bus.Event) { got = append(got, e) })

	src := &failingSource{load: errors.New("disk gone")}
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Events: events, Logger: testLogger()})

	n, err := f.Poll(context.Background())
	require.ErrorContains(t, err, "disk gone")
	require.Zero(t, n)
	require.Empty(t, enr.list())
	require.Len(t, got, 1)
}

func TestPollSkipsTickOnMalformedSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.txt")
	src := NewFileSource(path)
	require.NoError(t, writeFile(path, "1,Ana\ngarbage\n"))
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Logger: testLogger()})

	_, err := f.Poll(context.Background())
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.Empty(t, enr.list())
}

func TestPollSaveFailureDoesNotReenroll(t *testing.T) {
	src := &failingSource{
		records: []domain.Recipient{{ConversationID: "1", Name: "Ana"}},
		save:    errors.New("read-only"),
	}
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Logger: testLogger()})

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	enr.finish("1")

	_, err = f.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, enr.list())
}

func TestRunPollsImmediatelyAndStops(t *testing.T) {
	src := newFileSource(t, domain.Recipient{ConversationID: "1", Name: "Ana"})
	enr := newFakeEnroller()
	f := NewFeed(FeedConfig{Source: src, Enroller: enr, Interval: 20 * time.Millisecond, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		left, err := src.Load()
		return err == nil && len(left) == 0 && len(enr.list()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, src.Append(domain.Recipient{ConversationID: "2", Name: "Luis"}))
	require.Eventually(t, func() bool { return len(enr.list()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type nopMessenger struct{}

func (nopMessenger) Send(context.Context, string, string) error              { return nil }
func (nopMessenger) SendMedia(context.Context, string, string, string) error { return nil }

func TestFeedWithEngine(t *testing.T) {
	engine := survey.NewEngine(survey.EngineConfig{
		Timers:    survey.NewTimeoutScheduler(time.Hour, 2*time.Hour),
		Messenger: nopMessenger{},
		Logger:    testLogger(),
	})
	defer engine.Shutdown()

	src := newFileSource(t, domain.Recipient{ConversationID: "1", Name: "Ana"})
	f := NewFeed(FeedConfig{Source: src, Enroller: engine, Logger: testLogger()})

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, engine.Active("1"))

	state, idx := engine.State("1")
	require.Equal(t, survey.AwaitingAnswer, state)
	require.Zero(t, idx)

	n, err = f.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}
