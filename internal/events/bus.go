package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/convo/internal/chat"
	"go.uber.org/zap"
)

// LogSource reads an account's event log after a cursor. An empty cursor
// returns the current head and no events.
type LogSource interface {
	GetLog(ctx context.Context, cursor string) (*chat.LogPage, error)
}

// Options tunes the poller.
type Options struct {
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
	// MaxRetries bounds the attempts of a single poll before the bus fails.
	MaxRetries uint
	// BackOff builds the retry policy for one poll. Nil means exponential.
	BackOff func() backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.ForegroundInterval <= 0 {
		o.ForegroundInterval = time.Second
	}
	if o.BackgroundInterval <= 0 {
		o.BackgroundInterval = 5 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.BackOff == nil {
		o.BackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	return o
}

// Bus polls one account's event log and fans the events out to
// per-conversation subscriptions. A single goroutine does the polling; it
// runs while the bus is neither suspended, failed nor torn down.
type Bus struct {
	src    LogSource
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	subs      map[int]*subscription
	next      int
	cursor    string
	connected bool
	failure   *Failure
	suspended bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	wake      chan struct{}
}

// New creates a bus reading from src. Polling starts with the first
// subscription.
func New(src LogSource, opts Options, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		src:    src,
		opts:   opts.withDefaults(),
		logger: logger,
		subs:   make(map[int]*subscription),
		wake:   make(chan struct{}, 1),
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	SetCadence(Cadence)
	Close()
}

type subscription struct {
	bus     *Bus
	id      int
	convoID string
	handler Handler
	cadence Cadence
	once    sync.Once
}

// Subscribe registers h for the events of convoID. A subscriber joining a
// connected bus is sent Connected, and one joining a failed bus is sent the
// Failure, so it never waits on a stream that is not coming.
func (b *Bus) Subscribe(convoID string, h Handler) Subscription {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return closedSubscription{}
	}
	sub := &subscription{bus: b, id: b.next, convoID: convoID, handler: h}
	b.next++
	b.subs[sub.id] = sub
	var greet Event
	switch {
	case b.failure != nil:
		greet = *b.failure
	case b.connected:
		greet = Connected{}
	}
	b.startLocked()
	b.mu.Unlock()

	b.poke()
	if greet != nil {
		// Subscribe may be called from the goroutine the handler feeds.
		go h(greet)
	}
	return sub
}

func (s *subscription) SetCadence(c Cadence) {
	s.bus.mu.Lock()
	s.cadence = c
	s.bus.mu.Unlock()
	s.bus.poke()
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

type closedSubscription struct{}

func (closedSubscription) SetCadence(Cadence) {}
func (closedSubscription) Close()             {}

// Reconnect restarts a failed bus from its last cursor, so no events are
// skipped. It does nothing on a healthy, suspended or torn down bus.
func (b *Bus) Reconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failure == nil {
		return
	}
	b.logger.Info("reconnecting event log", zap.String("cursor", b.cursor))
	b.failure = nil
	b.startLocked()
}

// Suspend stops polling until Resume. Subscriptions stay registered.
func (b *Bus) Suspend() {
	b.mu.Lock()
	b.suspended = true
	b.mu.Unlock()
	b.stop()
}

// Resume restarts polling after Suspend.
func (b *Bus) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suspended = false
	b.startLocked()
}

// Teardown stops polling for good and drops every subscription.
func (b *Bus) Teardown() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[int]*subscription)
	b.mu.Unlock()
	b.stop()
}

// Cursor returns the position of the last delivered log page.
func (b *Bus) Cursor() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

func (b *Bus) startLocked() {
	if b.done != nil || b.closed || b.suspended || b.failure != nil || len(b.subs) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	go b.run(ctx, done)
}

func (b *Bus) stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.connected = false
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (b *Bus) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if interval, ok := b.interval(); ok {
			if err := b.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.fail(done, err)
				return
			}
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			case <-b.wake:
				timer.Stop()
			}
			continue
		}
		// Nobody is listening; wait for a subscriber before polling again.
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}
	}
}

// interval returns the fastest cadence requested by a live subscription.
func (b *Bus) interval() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return 0, false
	}
	for _, sub := range b.subs {
		if sub.cadence == Foreground {
			return b.opts.ForegroundInterval, true
		}
	}
	return b.opts.BackgroundInterval, true
}

func (b *Bus) poll(ctx context.Context) error {
	b.mu.Lock()
	cursor := b.cursor
	b.mu.Unlock()

	page, err := backoff.Retry(ctx, func() (*chat.LogPage, error) {
		page, err := b.src.GetLog(ctx, cursor)
		if err != nil {
			if !chat.Temporary(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return page, nil
	},
		backoff.WithBackOff(b.opts.BackOff()),
		backoff.WithMaxTries(b.opts.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Debug("event log poll failed, retrying", zap.Error(err), zap.Duration("in", next))
		}),
	)
	if err != nil {
		return err
	}
	b.deliver(page)
	return nil
}

type delivery struct {
	handler Handler
	events  []chat.LogEvent
}

func (b *Bus) deliver(page *chat.LogPage) {
	b.mu.Lock()
	if page.Cursor != "" {
		b.cursor = page.Cursor
	}
	greet := !b.connected
	b.connected = true
	out := make([]delivery, 0, len(b.subs))
	for _, sub := range b.subs {
		d := delivery{handler: sub.handler}
		for _, evt := range page.Logs {
			if evt.Type == chat.LogInvalidateBlockState || evt.ConvoID == sub.convoID {
				d.events = append(d.events, evt)
			}
		}
		out = append(out, d)
	}
	b.mu.Unlock()

	if greet {
		b.logger.Info("event log connected", zap.String("cursor", page.Cursor))
	}
	for _, d := range out {
		if greet {
			d.handler(Connected{})
		}
		if len(d.events) > 0 {
			d.handler(Logs{Events: d.events})
		}
	}
}

func (b *Bus) fail(done chan struct{}, err error) {
	f := Failure{Err: err, Recoverable: !errors.Is(err, chat.ErrUnauthenticated)}

	b.mu.Lock()
	if b.done != done {
		// Stopped by Suspend or Teardown while the poll was failing.
		b.mu.Unlock()
		return
	}
	b.cancel()
	b.cancel, b.done = nil, nil
	b.connected = false
	b.failure = &f
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		handlers = append(handlers, sub.handler)
	}
	b.mu.Unlock()

	b.logger.Warn("event log polling stopped", zap.Error(err), zap.Bool("recoverable", f.Recoverable))
	for _, h := range handlers {
		h(f)
	}
}
