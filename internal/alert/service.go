package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"spclaim/internal/eventbus"
	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

// Sender delivers one alert message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Enabled bool

	// RatePerSec and Burst bound messages across all claims. Messages over
	// the budget are dropped and counted.
	RatePerSec float64
	Burst      int

	// Remind repeats the failure alert while a claim keeps failing.
	// 0 means 1h.
	Remind time.Duration

	SendTimeout time.Duration
}

const (
	defaultRatePerSec  = 1
	defaultRemind      = time.Hour
	defaultSendTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSec))
	}
	if c.Remind <= 0 {
		c.Remind = defaultRemind
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

type claimState struct {
	failures  int
	alertedAt time.Time
	lastErr   string
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu      sync.Mutex
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	claims  map[string]*claimState

	sent    atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, now: time.Now, claims: map[string]*claimState{}}
	s.Apply(cfg, sender)
	return s
}

// Apply swaps the config and sender. Per-claim failure state is kept.
func (s *Service) Apply(cfg Config, sender Sender) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.sender = sender
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Run consumes task events until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return nil
	}
	events, unsub := s.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return
	}
	var text string
	switch ev.Type {
	case eventbus.TaskFailed:
		text = s.onFailed(te, ev.Time)
	case eventbus.TaskFinished:
		text = s.onFinished(te)
	default:
		return
	}
	if text != "" {
		s.deliver(ctx, te.Name, text)
	}
}

// onFailed returns the message to send, if any.
func (s *Service) onFailed(te engine.TaskEvent, at time.Time) string {
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.claims[te.Name]
	if st == nil {
		st = &claimState{}
		s.claims[te.Name] = st
	}
	st.failures++
	st.lastErr = te.Error
	if st.failures > 1 && at.Sub(st.alertedAt) < s.cfg.Remind {
		return ""
	}
	st.alertedAt = at
	if st.failures == 1 {
		return fmt.Sprintf("claim %s failed\nattempts: %d\nerror: %s", te.Name, te.Attempts, oneLine(te.Error))
	}
	return fmt.Sprintf("claim %s still failing\nfailed ticks: %d\nlast error: %s", te.Name, st.failures, oneLine(te.Error))
}

func (s *Service) onFinished(te engine.TaskEvent) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.claims[te.Name]
	if st == nil {
		return ""
	}
	delete(s.claims, te.Name)
	return fmt.Sprintf("claim %s recovered after %d failed ticks", te.Name, st.failures)
}

func (s *Service) deliver(ctx context.Context, claim, text string) {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	sender := s.sender
	limiter := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if !enabled || sender == nil {
		return
	}
	if !limiter.Allow() {
		s.dropped.Add(1)
		s.log.Debug("alert dropped: rate limited", logx.String("claim", claim), logx.Uint64("dropped", s.dropped.Load()))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sender.Send(sctx, text); err != nil {
		s.errors.Add(1)
		s.log.Warn("alert send failed", logx.String("claim", claim), logx.Err(err))
		return
	}
	s.sent.Add(1)
	s.log.Debug("alert sent", logx.String("claim", claim))
}

// Stats reports sent, rate-limited and failed messages.
func (s *Service) Stats() (sent, dropped, failed uint64) {
	return s.sent.Load(), s.dropped.Load(), s.errors.Load()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const limit = 500
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}
