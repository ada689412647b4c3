package convo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convo/internal/bus"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/events"
	"github.com/matheus3301/convo/internal/status"
	"go.uber.org/zap"
)

// Options tunes a conversation engine.
type Options struct {
	HistoryPageSize int
	QueueSize       int
}

type op struct {
	fn  func()
	ack chan struct{}
}

type inboxEvent struct {
	epoch uint64
	event events.Event
}

// Convo is the engine of one conversation. Every mutation runs on a single
// goroutine draining the dispatch queue; network calls run elsewhere and
// re-enter through the queue. Readers take snapshots.
type Convo struct {
	id     string
	agent  Agent
	events EventBus
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	machine *status.Machine
	queue   chan op
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	snap    atomic.Pointer[snapshot]

	// Subscription events waiting for the loop.
	inboxMu sync.Mutex
	inbox   []inboxEvent
	wake    chan struct{}

	// Owned by the loop goroutine.
	epoch    uint64
	sub      events.Subscription
	rec      *Reconciler
	history  *HistoryFetcher
	fetching bool
	// awaitingHead holds the first history fetch until the subscription
	// has pinned the log head.
	awaitingHead bool
	// sendRejected keeps the block row raised by a rejected send until the
	// block state is invalidated.
	sendRejected bool
	view         *chat.ConvoView
	sender       chat.Profile
	recipients   []chat.Profile
	err          *ConvoError
}

type snapshot struct{ state State }

// New starts the engine of convoID in the Uninitialized state. Call Init to
// load it and Close to release it.
func New(convoID string, agent Agent, eb EventBus, b *bus.Bus, opts Options, logger *zap.Logger) *Convo {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Convo{
		id:      convoID,
		agent:   agent,
		events:  eb,
		bus:     b,
		logger:  logger.With(zap.String("convo", convoID)),
		opts:    opts,
		machine: status.NewMachine(b, bus.Topic("convo", convoID)),
		queue:   make(chan op, opts.QueueSize),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		rec:     NewReconciler(),
	}
	c.snap.Store(&snapshot{state: StateUninitialized{}})
	go c.run()
	return c
}

// ID returns the conversation id.
func (c *Convo) ID() string { return c.id }

// Snapshot returns the latest state. It reflects every action that has
// returned.
func (c *Convo) Snapshot() State { return c.snap.Load().state }

// Subscribe returns a channel of bus events for this conversation:
// "convo.<id>.updated" carrying the new State, and
// "convo.<id>.status_changed" carrying a status.StatusChange.
func (c *Convo) Subscribe(buf int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(bus.Topic("convo", c.id)+".", buf)
}

// Close detaches the event subscription and stops the engine. Results of
// calls still in flight are discarded.
func (c *Convo) Close() {
	c.once.Do(func() {
		_ = c.call(context.Background(), func() {
			c.closeSubscription()
			c.epoch++
		})
		c.cancel()
		<-c.done
	})
}

func (c *Convo) run() {
	defer close(c.done)
	for {
		select {
		case o := <-c.queue:
			o.fn()
			c.publish()
			if o.ack != nil {
				close(o.ack)
			}
		case <-c.wake:
			c.drainInbox()
			c.publish()
		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue schedules fn on the loop. It reports false once the engine is closed.
func (c *Convo) enqueue(fn func()) bool {
	select {
	case c.queue <- op{fn: fn}:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// call runs fn on the loop and waits until its result is published.
func (c *Convo) call(ctx context.Context, fn func()) error {
	ack := make(chan struct{})
	select {
	case c.queue <- op{fn: fn, ack: ack}:
	case <-c.ctx.Done():
		return ErrNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-c.ctx.Done():
		return ErrNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Convo) publish() {
	st := c.build()
	c.snap.Store(&snapshot{state: st})
	c.bus.Publish(bus.Event{
		Kind:      bus.Topic("convo", c.id, "updated"),
		Timestamp: time.Now(),
		Payload:   st,
	})
}

func (c *Convo) build() State {
	switch c.machine.Current() {
	case status.Initializing:
		return StateInitializing{Items: c.rec.Items(), IsFetchingHistory: c.fetchingHistory()}
	case status.Ready:
		return StateReady{c.active()}
	case status.Backgrounded:
		return StateBackgrounded{c.active()}
	case status.Suspended:
		return StateSuspended{c.active()}
	case status.Error:
		return StateError{Error: *c.err}
	default:
		return StateUninitialized{}
	}
}

func (c *Convo) active() Active {
	v := *c.view
	v.Members = slices.Clone(v.Members)
	return Active{
		Convo:             v,
		Sender:            c.sender,
		Recipients:        slices.Clone(c.recipients),
		Items:             c.rec.Items(),
		IsFetchingHistory: c.fetchingHistory(),
		Actions:           Actions{c: c},
	}
}

func (c *Convo) dispatch(evt status.Event) bool {
	change, err := c.machine.Dispatch(evt)
	if err != nil {
		c.logger.Warn("rejected transition", zap.Error(err))
		return false
	}
	c.logger.Debug("status changed",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)))
	return true
}

func (c *Convo) isActive() bool { return c.machine.Current().Active() }

// Init loads the conversation.
func (c *Convo) Init() {
	_ = c.call(context.Background(), func() {
		if c.dispatch(status.EventInit) {
			c.setup()
		}
	})
}

// Background lowers the event cadence; the subscription stays live.
func (c *Convo) Background() {
	_ = c.call(context.Background(), func() {
		if c.dispatch(status.EventBackground) && c.sub != nil {
			c.sub.SetCadence(events.Background)
		}
	})
}

// Suspend detaches the event subscription and freezes the items.
func (c *Convo) Suspend() {
	_ = c.call(context.Background(), func() {
		if c.dispatch(status.EventSuspend) {
			c.closeSubscription()
			c.invalidate()
		}
	})
}

// Resume brings a backgrounded conversation to the foreground, and
// re-initializes a suspended or failed one.
func (c *Convo) Resume() {
	_ = c.call(context.Background(), c.resume)
}

func (c *Convo) resume() {
	from := c.machine.Current()
	if !c.dispatch(status.EventResume) {
		return
	}
	switch from {
	case status.Backgrounded:
		if c.sub != nil {
			c.sub.SetCadence(events.Foreground)
		}
	case status.Suspended, status.Error:
		c.err = nil
		c.setup()
	}
}

// setup subscribes and starts loading the conversation. The newest page is
// requested once the subscription reports Connected: a page read before the
// log head is known could miss a message committed in between. Pending
// messages are kept.
func (c *Convo) setup() {
	c.invalidate()
	c.rec.Reset(true)
	c.view = nil
	c.sendRejected = false
	c.history = NewHistoryFetcher(c.agent, c.id, c.opts.HistoryPageSize)
	c.awaitingHead = true
	c.subscribe()

	epoch := c.epoch
	go func() {
		view, err := c.agent.GetConvo(c.ctx, c.id)
		c.enqueue(func() {
			if epoch != c.epoch {
				return
			}
			if err != nil {
				c.fail(InitFailed, fmt.Errorf("get convo: %w", err))
				return
			}
			c.ready(view)
		})
	}()
}

func (c *Convo) ready(view *chat.ConvoView) {
	if !c.setView(view) {
		c.fail(InitFailed, fmt.Errorf("%w: account is not a member", chat.ErrNotFound))
		return
	}
	c.dispatch(status.EventReady)
}

// setView installs view and derives sender, recipients and block state.
func (c *Convo) setView(view *chat.ConvoView) bool {
	sender, ok := view.Member(c.agent.DID())
	if !ok {
		return false
	}
	c.view = view
	c.sender = sender
	c.recipients = view.Others(c.agent.DID())
	if c.blocked() {
		c.rec.SetError(ErrorItem{Key: userBlockedKey, Code: UserBlocked})
	} else {
		c.rec.ClearError(userBlockedKey)
	}
	return true
}

func (c *Convo) blocked() bool {
	if c.sendRejected {
		return true
	}
	for _, p := range c.recipients {
		if p.Viewer.BlockedBy || p.Viewer.Blocking {
			return true
		}
	}
	return false
}

func (c *Convo) fail(code ErrorCode, err error) {
	if !c.dispatch(status.EventError) {
		return
	}
	c.logger.Warn("conversation failed", zap.String("code", string(code)), zap.Error(err))
	c.closeSubscription()
	c.invalidate()
	c.rec.Reset(false)
	c.view = nil
	c.sender = chat.Profile{}
	c.recipients = nil
	c.err = &ConvoError{Code: code, Err: err, Retry: initRetry(c.id)}
}

// invalidate discards the results of every fetch started so far.
func (c *Convo) invalidate() {
	c.epoch++
	c.fetching = false
	c.awaitingHead = false
}

func (c *Convo) fetchingHistory() bool { return c.fetching || c.awaitingHead }

func (c *Convo) subscribe() {
	c.closeSubscription()
	epoch := c.epoch
	c.sub = c.events.Subscribe(c.id, func(e events.Event) {
		c.post(epoch, e)
	})
}

// post queues a subscription event for the loop without blocking: the
// poller calling it is shared by every conversation of the account.
func (c *Convo) post(epoch uint64, e events.Event) {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, inboxEvent{epoch: epoch, event: e})
	c.inboxMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drainInbox applies the queued subscription events in arrival order.
func (c *Convo) drainInbox() {
	c.inboxMu.Lock()
	pending := c.inbox
	c.inbox = nil
	c.inboxMu.Unlock()
	for _, in := range pending {
		if in.epoch == c.epoch {
			c.onEvent(in.event)
		}
	}
}

func (c *Convo) closeSubscription() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

func (c *Convo) onEvent(e events.Event) {
	switch e := e.(type) {
	case events.Connected:
		c.rec.ClearError(firehoseFailedKey)
		if c.awaitingHead {
			c.awaitingHead = false
			c.fetchHistory()
		}
	case events.Failure:
		if !e.Recoverable {
			c.fail(FirehoseTerminated, e.Err)
			return
		}
		c.rec.SetError(ErrorItem{Key: firehoseFailedKey, Code: FirehoseFailed, Retry: firehoseRetry(c.id)})
	case events.Logs:
		for _, evt := range e.Events {
			c.applyLog(evt)
		}
	}
}

func (c *Convo) applyLog(evt chat.LogEvent) {
	switch evt.Type {
	case chat.LogCreateMessage:
		if evt.Message != nil {
			c.rec.ApplyCreate(*evt.Message)
		}
	case chat.LogDeleteMessage:
		if evt.Deleted != nil {
			c.rec.ApplyDelete(*evt.Deleted)
		}
	case chat.LogInvalidateBlockState:
		if slices.Contains(evt.AccountDIDs, c.agent.DID()) {
			c.sendRejected = false
			c.refresh()
		}
	case chat.LogBeginConvo, chat.LogLeaveConvo:
		c.refresh()
	default:
		c.logger.Debug("ignoring log event", zap.String("type", string(evt.Type)))
	}
}

// refresh re-fetches the conversation view of a live conversation.
func (c *Convo) refresh() {
	if c.view == nil {
		return
	}
	epoch := c.epoch
	go func() {
		view, err := c.agent.GetConvo(c.ctx, c.id)
		c.enqueue(func() {
			if epoch != c.epoch || c.view == nil {
				return
			}
			if err != nil {
				c.logger.Warn("refresh convo failed", zap.Error(err))
				return
			}
			c.setView(view)
		})
	}()
}

func (c *Convo) fetchHistory() {
	if c.fetching || c.awaitingHead || c.history == nil || c.history.Exhausted() {
		return
	}
	c.fetching = true
	c.rec.ClearError(historyFailedKey)
	epoch, h := c.epoch, c.history
	cursor := h.Cursor()
	go func() {
		page, err := h.Fetch(c.ctx, cursor)
		c.enqueue(func() {
			if epoch != c.epoch {
				return
			}
			c.fetching = false
			if err != nil {
				c.logger.Warn("history fetch failed", zap.Error(err))
				c.rec.SetError(ErrorItem{Key: historyFailedKey, Code: HistoryFailed, Retry: historyRetry(c.id)})
				return
			}
			h.Advance(page)
			c.rec.ApplyPage(page.Entries, page.Exhausted)
		})
	}()
}

func (c *Convo) send(id, text string) {
	go func() {
		msg, err := c.agent.SendMessage(c.ctx, c.id, chat.MessageInput{Text: text, ClientMsgID: id})
		c.enqueue(func() { c.sent(id, text, msg, err) })
	}()
}

// sent applies a send result. Sends are not tied to the epoch: pending
// messages outlive a suspend, so their outcome still matters.
func (c *Convo) sent(id, text string, msg *chat.MessageView, err error) {
	if _, ok := c.rec.Pending(id); !ok {
		return
	}
	switch {
	case err == nil:
		if msg != nil {
			c.rec.Acknowledge(id, msg.ID)
		}
	case errors.Is(err, chat.ErrBlocked):
		c.logger.Info("send rejected, recipient blocked", zap.String("pending", id))
		c.rec.MarkFailed(id, nil)
		c.sendRejected = true
		c.rec.SetError(ErrorItem{Key: userBlockedKey, Code: UserBlocked})
		c.refresh()
	default:
		c.logger.Warn("send failed", zap.String("pending", id), zap.Error(err))
		c.rec.MarkFailed(id, sendRetry(c.id, id, text))
	}
}

// Retry re-runs the operation r describes.
func (c *Convo) Retry(ctx context.Context, r Retry) error {
	if r.ConvoID != "" && r.ConvoID != c.id {
		return fmt.Errorf("%w: retry for convo %s", chat.ErrInvalidRequest, r.ConvoID)
	}
	a := Actions{c: c}
	switch r.Kind {
	case RetryInit:
		var err error
		callErr := c.call(ctx, func() {
			if c.machine.Current() != status.Error {
				err = ErrNotActive
				return
			}
			c.resume()
		})
		return errors.Join(callErr, err)
	case RetrySend:
		return a.resend(ctx, r.MessageID)
	case RetryDelete:
		return a.DeleteMessage(ctx, r.MessageID)
	case RetryHistory:
		return a.FetchMessageHistory(ctx)
	case RetryFirehose:
		c.events.Reconnect()
		return nil
	default:
		return fmt.Errorf("%w: unknown retry kind %q", chat.ErrInvalidRequest, r.Kind)
	}
}

// Actions are the operations a live snapshot exposes. They fail with
// ErrNotActive once the conversation has left the live states.
type Actions struct {
	c *Convo
}

// SendMessage appends a pending message and sends it. The pending item is
// part of the snapshot by the time this returns; the returned id is its key.
func (a Actions) SendMessage(ctx context.Context, text string) (string, error) {
	c := a.c
	if c == nil {
		return "", ErrNotActive
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty message", chat.ErrInvalidRequest)
	}
	var id string
	var err error
	callErr := c.call(ctx, func() {
		if !c.isActive() {
			err = ErrNotActive
			return
		}
		if c.blocked() {
			c.rec.SetError(ErrorItem{Key: userBlockedKey, Code: UserBlocked})
			err = chat.ErrBlocked
			return
		}
		id = uuid.NewString()
		c.rec.AddPending(Pending{ID: id, Text: text, Sender: c.agent.DID(), SentAt: time.Now()})
		c.send(id, text)
	})
	if callErr != nil {
		return "", callErr
	}
	return id, err
}

func (a Actions) resend(ctx context.Context, pendingID string) error {
	c := a.c
	var err error
	callErr := c.call(ctx, func() {
		p, ok := c.rec.Pending(pendingID)
		switch {
		case !c.isActive():
			err = ErrNotActive
		case !ok:
			err = fmt.Errorf("%w: pending message %s", chat.ErrNotFound, pendingID)
		case c.blocked():
			c.rec.SetError(ErrorItem{Key: userBlockedKey, Code: UserBlocked})
			err = chat.ErrBlocked
		default:
			c.rec.MarkSending(p.ID)
			c.send(p.ID, p.Text)
		}
	})
	return errors.Join(callErr, err)
}

// DeleteMessage deletes a message for this account. The item turns into a
// tombstone when the event stream confirms the delete. On failure an error
// row with a retry is shown and the error is returned.
func (a Actions) DeleteMessage(ctx context.Context, messageID string) error {
	c := a.c
	if c == nil {
		return ErrNotActive
	}
	var err error
	if callErr := c.call(ctx, func() {
		if !c.isActive() {
			err = ErrNotActive
			return
		}
		c.rec.ClearError(deleteFailedKey(messageID))
	}); callErr != nil {
		return callErr
	}
	if err != nil {
		return err
	}

	_, err = c.agent.DeleteMessageForSelf(ctx, c.id, messageID)
	if err == nil {
		return nil
	}
	c.logger.Warn("delete failed", zap.String("message", messageID), zap.Error(err))
	_ = c.call(context.Background(), func() {
		if c.isActive() {
			c.rec.SetError(ErrorItem{
				Key:   deleteFailedKey(messageID),
				Code:  Unknown,
				Retry: deleteRetry(c.id, messageID),
			})
		}
	})
	return fmt.Errorf("delete message: %w", err)
}

// FetchMessageHistory loads the next older page, unless a fetch is already
// running or the start of the conversation has been reached.
func (a Actions) FetchMessageHistory(ctx context.Context) error {
	c := a.c
	if c == nil {
		return ErrNotActive
	}
	var err error
	callErr := c.call(ctx, func() {
		if !c.isActive() {
			err = ErrNotActive
			return
		}
		c.fetchHistory()
	})
	return errors.Join(callErr, err)
}
