package rpcreply

import (
	"strings"
	"time"

	"github.com/metalalive/mediaflux-core/internal/obslog"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
)

// Binding is one correlation-id pattern a Session classifies replies by —
// spec.md §4.5's "correlation_id.name_pattern", matched as a prefix.
type Binding struct {
	Pattern string
}

// Config carries a Session's bindings and timing. MaxMessages <= 0 defaults
// to 64; PollInterval <= 0 defaults to 200ms. PollRates optionally bounds
// how often FetchReplies is actually called (independent of PollInterval),
// so a broker that always has a backlog can't busy-loop the reply timer —
// see pollLimiter.
type Config struct {
	PollInterval time.Duration
	MaxMessages  int
	Bindings     []Binding
	PollRates    map[time.Duration]int
}

// OnUpdate inspects one tick's classified batch (keyed by binding pattern)
// and returns whether the Session should keep polling.
type OnUpdate func(accumulator map[string][]Message) (continue_ bool)

// OnError is invoked once, in place of OnUpdate, when the Broker reports an
// OS-level failure — the Session stops itself before calling it.
type OnError func(err error)

// Session implements the Reply Session of spec.md §3/§4.5: a timer that
// polls a Broker, classifies delivered messages by correlation-id pattern
// into a fresh per-tick accumulator (modeled on the teacher's
// microbatch.Batcher ping/pong shape, re-expressed here since a Session's
// "jobs" are broker-delivered messages classified by pattern rather than
// caller-submitted tasks — see DESIGN.md), and hands that accumulator to
// OnUpdate.
type Session struct {
	loop     *timerpoll.Loop
	broker   Broker
	cfg      Config
	onUpdate OnUpdate
	onError  OnError
	limiter  *pollLimiter
	metrics  *obslog.Metrics
	cancel   func()
}

// NewSession constructs a Session. It does not start polling until Start is
// called. metrics may be nil (no instrumentation).
func NewSession(loop *timerpoll.Loop, broker Broker, cfg Config, onUpdate OnUpdate, onError OnError, metrics *obslog.Metrics) *Session {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Session{
		loop:     loop,
		broker:   broker,
		cfg:      cfg,
		onUpdate: onUpdate,
		onError:  onError,
		limiter:  newPollLimiter(cfg.PollRates),
		metrics:  metrics,
	}
}

// Start installs the poll timer — spec.md §4.5's recv_reply_start.
func (s *Session) Start() {
	if s.cancel != nil {
		return
	}
	s.cancel = s.loop.ScheduleEvery(s.cfg.PollInterval, s.tick)
}

// Stop cancels the poll timer. Safe to call more than once.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) tick() {
	if s.limiter != nil {
		if _, ok := s.limiter.Allow(time.Now()); !ok {
			return
		}
	}

	messages, err := s.broker.FetchReplies(s.cfg.MaxMessages)
	if err != nil {
		s.Stop()
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	accumulator := s.classify(messages)
	continue_ := true
	if s.onUpdate != nil {
		continue_ = s.onUpdate(accumulator)
	}
	if !continue_ {
		s.Stop()
	}
}

// classify builds one tick's fresh accumulator: messages whose correlation
// id matches no binding are silently discarded — logged but not surfaced as
// errors, per spec.md §4.5.
func (s *Session) classify(messages []Message) map[string][]Message {
	accumulator := make(map[string][]Message)
	for _, m := range messages {
		pattern, ok := matchBinding(s.cfg.Bindings, m.CorrelationID)
		if !ok {
			if logger := obslog.Get(); logger != nil {
				logger.Debug().Log("discarding unmatched reply message")
			}
			if s.metrics != nil {
				s.metrics.RPCRepliesDiscarded.Inc()
			}
			continue
		}
		accumulator[pattern] = append(accumulator[pattern], m)
		if s.metrics != nil {
			s.metrics.RPCRepliesClassified.WithLabelValues(pattern).Inc()
		}
	}
	return accumulator
}

func matchBinding(bindings []Binding, corrID string) (string, bool) {
	for _, b := range bindings {
		if strings.HasPrefix(corrID, b.Pattern) {
			return b.Pattern, true
		}
	}
	return "", false
}
