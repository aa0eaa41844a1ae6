package alert

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"spclaim/internal/eventbus"
	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func failed(name, err string, at time.Time) eventbus.Event {
	return eventbus.Event{Type: eventbus.TaskFailed, Time: at, Data: engine.TaskEvent{Name: name, Attempts: 1, Error: err}}
}

func finished(name string) eventbus.Event {
	return eventbus.Event{Type: eventbus.TaskFinished, Time: time.Now(), Data: engine.TaskEvent{Name: name, Attempts: 1}}
}

func TestFailureAlertsOnceThenRecovers(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 100, Remind: time.Hour}, snd, nil, logx.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.handle(ctx, failed("sp-main", "execution reverted", t0.Add(time.Duration(i)*time.Second)))
	}
	s.handle(ctx, finished("sp-main"))
	s.handle(ctx, finished("sp-main"))

	msgs := snd.messages()
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[0], "claim sp-main failed")
	require.Contains(t, msgs[0], "execution reverted")
	require.Equal(t, "claim sp-main recovered after 5 failed ticks", msgs[1])
}

func TestReminderWhileStillFailing(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 100, Remind: time.Minute}, snd, nil, logx.Nop())
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.handle(context.Background(), failed("a", "boom", t0))
	s.handle(context.Background(), failed("a", "boom", t0.Add(30*time.Second)))
	s.handle(context.Background(), failed("a", "boom\nagain", t0.Add(61*time.Second)))

	msgs := snd.messages()
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[1], "still failing")
	require.Contains(t, msgs[1], "failed ticks: 3")
	require.Contains(t, msgs[1], "boom again")
}

func TestRateLimitDropsExcess(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 0.001, Burst: 2}, snd, nil, logx.Nop())
	for _, name := range []string{"a", "b", "c", "d"} {
		s.handle(context.Background(), failed(name, "x", time.Now()))
	}
	require.Len(t, snd.messages(), 2)
	sent, dropped, _ := s.Stats()
	require.Equal(t, uint64(2), sent)
	require.Equal(t, uint64(2), dropped)
}

func TestDisabledAndSendErrors(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: false}, snd, nil, logx.Nop())
	require.False(t, s.Enabled())
	s.handle(context.Background(), failed("a", "x", time.Now()))
	require.Empty(t, snd.messages())

	snd.err = errors.New("telegram: Too Many Requests")
	s.Apply(Config{Enabled: true, RatePerSec: 100}, snd)
	s.handle(context.Background(), failed("b", "x", time.Now()))
	_, _, failedSends := s.Stats()
	require.Equal(t, uint64(1), failedSends)
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 100}, snd, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(failed("sp-main", "nonce too low", time.Now()))
		return len(snd.messages()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNewTelegramSenderValidates(t *testing.T) {
	t.Parallel()
	_, err := NewTelegramSender("", 1, 0, 0)
	require.Error(t, err)
	_, err = NewTelegramSender("123:abc", 0, 0, 0)
	require.Error(t, err)
	snd, err := NewTelegramSender("123:abc", -100123, 7, 0)
	require.NoError(t, err)
	require.Equal(t, int64(-100123), snd.chat.ID)
}

func TestOneLineCutsOnRuneBoundary(t *testing.T) {
	t.Parallel()
	msg := strings.Repeat("é", 499) + "\n日本語 reverted"
	out := oneLine(msg)
	require.True(t, utf8.ValidString(out))
	require.True(t, strings.HasSuffix(out, "…"))
	require.Equal(t, 501, utf8.RuneCountInString(out))
	require.NotContains(t, out, "\n")

	require.Equal(t, "execution reverted", oneLine("  execution\n\treverted "))
}

func slowBotAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSendHonorsContext(t *testing.T) {
	t.Parallel()
	snd, err := NewTelegramSender("123:abc", -100123, 0, 5*time.Second)
	require.NoError(t, err)
	snd.bot.URL = slowBotAPI(t).URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = snd.Send(ctx, "claim sp-main failed")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestTelegramSendClientTimeout(t *testing.T) {
	t.Parallel()
	snd, err := NewTelegramSender("123:abc", -100123, 0, 50*time.Millisecond)
	require.NoError(t, err)
	snd.bot.URL = slowBotAPI(t).URL

	start := time.Now()
	require.Error(t, snd.Send(context.Background(), "claim sp-main failed"))
	require.Less(t, time.Since(start), time.Second)
}
