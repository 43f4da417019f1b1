// Package connectivity tracks whether the support backend is reachable.
//
// Monitor is a three-state machine (CHECKING, CONNECTED, DISCONNECTED)
// driven by health probes. After a failure it schedules a bounded number of
// automatic re-probes; once those are spent only an explicit Retry resumes
// probing.
package connectivity

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/siketchat/internal/clock"
)

type State int

const (
	Checking State = iota
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Checking:
		return "CHECKING"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Prober performs one health check. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// RetryPolicy bounds the automatic re-probes after a failure. Multiplier
// values above 1 grow the delay geometrically; otherwise it is fixed.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
}

func DefaultPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second}
}

// DelayFor returns the wait before automatic attempt n (1-based).
func (p RetryPolicy) DelayFor(n int) time.Duration {
	if p.Multiplier <= 1 || n <= 1 {
		return p.Delay
	}
	return time.Duration(float64(p.Delay) * math.Pow(p.Multiplier, float64(n-1)))
}

type Options struct {
	Clock  clock.Clock
	Policy RetryPolicy
	Logger *slog.Logger
}

// Monitor is safe for concurrent use. Concurrent probes share one in-flight
// health request.
type Monitor struct {
	prober Prober
	clock  clock.Clock
	policy RetryPolicy
	logger *slog.Logger
	group  singleflight.Group

	// ctx bounds probes fired by the retry timer; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	retries int
	timer   clock.Timer
	gen     int // invalidates callbacks of stopped timers
	closed  bool
	subs    map[int]func(State)
	nextSub int

	// pending holds changes not yet handed to subscribers, oldest first.
	pending    []State
	delivering bool
}

func New(prober Prober, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		prober: prober,
		clock:  opts.Clock,
		policy: opts.Policy,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		state:  Checking,
		subs:   make(map[int]func(State)),
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries is the number of automatic re-probes scheduled since the last
// successful probe.
func (m *Monitor) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Subscribe registers fn to be called after every state change. Changes
// are delivered one at a time in the order they happened, never while the
// Monitor's lock is held, so fn may call back into the Monitor. The
// returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Probe runs a health check and returns the resulting state.
func (m *Monitor) Probe(ctx context.Context) State {
	m.group.Do("probe", func() (any, error) {
		err := m.prober.Probe(ctx)
		m.settle(err)
		return nil, nil
	})
	return m.State()
}

// Retry is the user-triggered re-probe. A pending automatic retry is
// superseded; the retry counter is left as is.
func (m *Monitor) Retry(ctx context.Context) State {
	m.mu.Lock()
	m.stopTimerLocked()
	notify := m.setLocked(Checking)
	m.mu.Unlock()
	notify()

	return m.Probe(ctx)
}

// Restart begins a fresh probe cycle with the retry counter cleared.
func (m *Monitor) Restart(ctx context.Context) State {
	m.mu.Lock()
	m.stopTimerLocked()
	m.retries = 0
	notify := m.setLocked(Checking)
	m.mu.Unlock()
	notify()

	return m.Probe(ctx)
}

// MarkUnreachable demotes the state to DISCONNECTED after a request got no
// response at all, entering the automatic retry sequence.
func (m *Monitor) MarkUnreachable() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	notify := m.setLocked(Disconnected)
	m.scheduleLocked()
	m.mu.Unlock()
	notify()
}

// Close cancels any pending retry. The Monitor keeps reporting its last
// state but no longer changes it.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopTimerLocked()
	m.mu.Unlock()
	m.cancel()
}

func (m *Monitor) settle(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var notify func()
	if err == nil {
		m.retries = 0
		m.stopTimerLocked()
		notify = m.setLocked(Connected)
	} else {
		m.logger.Debug("health probe failed", "error", err, "retries", m.retries)
		notify = m.setLocked(Disconnected)
		m.scheduleLocked()
	}
	m.mu.Unlock()
	notify()
}

func (m *Monitor) scheduleLocked() {
	if m.timer != nil {
		return
	}
	if m.retries >= m.policy.MaxAttempts {
		m.logger.Info("automatic retries exhausted, waiting for manual retry", "attempts", m.retries)
		return
	}
	m.retries++
	d := m.policy.DelayFor(m.retries)
	m.logger.Debug("scheduling health re-probe", "attempt", m.retries, "delay", d)
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(d, func() { m.fire(gen) })
}

func (m *Monitor) fire(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.Probe(m.ctx)
}

func (m *Monitor) stopTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setLocked records the new state and queues it for subscribers. The
// returned function delivers the queue; it must be called after m.mu is
// released.
func (m *Monitor) setLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	prev := m.state
	m.state = s
	m.logger.Debug("connection state changed", "from", prev, "to", s)
	m.pending = append(m.pending, s)
	return m.deliver
}

// deliver drains the pending queue. Only one goroutine drains at a time;
// changes queued meanwhile, including those made by a subscriber, are
// picked up by the goroutine already draining.
func (m *Monitor) deliver() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		s := m.pending[0]
		m.pending = m.pending[1:]
		subs := m.subscribersLocked()
		m.mu.Unlock()
		for _, fn := range subs {
			m.call(fn, s)
		}
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Monitor) subscribersLocked() []func(State) {
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(State), len(ids))
	for i, id := range ids {
		subs[i] = m.subs[id]
	}
	return subs
}

func (m *Monitor) call(fn func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state subscriber panicked", "state", s, "panic", r)
		}
	}()
	fn(s)
}
