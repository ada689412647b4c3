package convo

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/convo/internal/bus"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/events"
	"github.com/matheus3301/convo/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	alice = "did:convo:alice"
	bob   = "did:convo:bob"
)

// fakeAgent serves one conversation from memory and records calls.
type fakeAgent struct {
	mu sync.Mutex

	view     chat.ConvoView
	convoErr error

	pages        map[string]*chat.MessagesPage
	historyErr   error
	historyCalls int
	historyGate  chan struct{}

	sendErrs []error
	sends    []chat.MessageInput
	sent     int

	deleteErr error
	deletes   []string
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		view: chat.ConvoView{
			ID:  "c1",
			Rev: "02",
			Members: []chat.Profile{
				{DID: alice, Handle: "alice"},
				{DID: bob, Handle: "bob"},
			},
		},
		pages: map[string]*chat.MessagesPage{
			"": {Entries: []chat.Entry{msg("m2", "02"), msg("m1", "01")}},
		},
	}
}

func (f *fakeAgent) DID() string { return alice }

func (f *fakeAgent) GetConvo(_ context.Context, convoID string) (*chat.ConvoView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convoErr != nil {
		return nil, f.convoErr
	}
	v := f.view
	v.Members = append([]chat.Profile(nil), f.view.Members...)
	return &v, nil
}

func (f *fakeAgent) GetMessages(ctx context.Context, convoID, cursor string, limit int) (*chat.MessagesPage, error) {
	f.mu.Lock()
	f.historyCalls++
	gate := f.historyGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	page, ok := f.pages[cursor]
	if !ok {
		return &chat.MessagesPage{}, nil
	}
	return page, nil
}

func (f *fakeAgent) SendMessage(_ context.Context, convoID string, in chat.MessageInput) (*chat.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, in)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.sent++
	return &chat.MessageView{
		ID:          fmt.Sprintf("srv%d", f.sent),
		Text:        in.Text,
		Sender:      chat.MessageSender{DID: alice},
		ClientMsgID: in.ClientMsgID,
	}, nil
}

func (f *fakeAgent) DeleteMessageForSelf(_ context.Context, convoID, messageID string) (*chat.DeletedMessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &chat.DeletedMessageView{ID: messageID}, nil
}

func (f *fakeAgent) set(fn func(f *fakeAgent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAgent) sendInputs() []chat.MessageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.MessageInput(nil), f.sends...)
}

func (f *fakeAgent) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

// fakeEvents hands events to the subscriptions the engine opens. Like a
// connected bus it greets every subscription with Connected, unless
// holdConnected is set.
type fakeEvents struct {
	mu            sync.Mutex
	subs          []*fakeSub
	reconnects    int
	holdConnected bool
}

type fakeSub struct {
	mu      sync.Mutex
	h       events.Handler
	cadence events.Cadence
	closed  bool
}

func (s *fakeSub) SetCadence(c events.Cadence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cadence = c
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) currentCadence() events.Cadence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cadence
}

func (f *fakeEvents) Subscribe(convoID string, h events.Handler) events.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSub{h: h}
	f.subs = append(f.subs, s)
	if !f.holdConnected {
		go h(events.Connected{})
	}
	return s
}

func (f *fakeEvents) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeEvents) latest() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// emit delivers e to every open subscription.
func (f *fakeEvents) emit(e events.Event) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		if !s.isClosed() {
			s.h(e)
		}
	}
}

func (f *fakeEvents) emitLogs(evts ...chat.LogEvent) {
	f.emit(events.Logs{Events: evts})
}

const waitFor = 2 * time.Second

func newTestConvo(t *testing.T, agent *fakeAgent, ev *fakeEvents) *Convo {
	t.Helper()
	c := New("c1", agent, ev, bus.New(), Options{HistoryPageSize: 10}, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	return c
}

func waitStatus(t *testing.T, c *Convo, want status.State) State {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().Status() == want }, waitFor, time.Millisecond,
		"status never reached %s", want)
	return c.Snapshot()
}

// waitItems waits until the items of the snapshot have exactly these keys.
func waitItems(t *testing.T, c *Convo, want ...string) []Item {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, keys(ItemsOf(c.Snapshot())))
	}, waitFor, time.Millisecond, "items never became %v (last %v)", want, keys(ItemsOf(c.Snapshot())))
	return ItemsOf(c.Snapshot())
}

func readyConvo(t *testing.T, agent *fakeAgent, ev *fakeEvents) (*Convo, Active) {
	t.Helper()
	c := newTestConvo(t, agent, ev)
	c.Init()
	waitStatus(t, c, status.Ready)
	waitItems(t, c, "m1", "m2")
	a, ok := ActiveOf(c.Snapshot())
	require.True(t, ok)
	return c, a
}

func TestInitReachesReady(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c := newTestConvo(t, agent, ev)
	ch, unsub := c.Subscribe(64)
	defer unsub()

	assert.IsType(t, StateUninitialized{}, c.Snapshot())
	c.Init()
	a := mustActive(t, waitStatus(t, c, status.Ready))

	assert.Equal(t, alice, a.Sender.DID)
	require.Len(t, a.Recipients, 1)
	assert.Equal(t, bob, a.Recipients[0].DID)
	assert.Equal(t, "c1", a.Convo.ID)
	assert.Equal(t, 1, ev.count())

	var changes []status.StatusChange
	require.Eventually(t, func() bool {
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(status.StatusChange); ok {
					changes = append(changes, sc)
				}
			default:
				return len(changes) >= 2
			}
		}
	}, waitFor, time.Millisecond)
	assert.Equal(t, status.Initializing, changes[0].To)
	assert.Equal(t, status.Ready, changes[1].To)
}

func mustActive(t *testing.T, s State) Active {
	t.Helper()
	a, ok := ActiveOf(s)
	require.True(t, ok, "state %T is not active", s)
	return a
}

func TestReadyAlwaysCarriesConversation(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c := newTestConvo(t, agent, ev)
	ch, unsub := c.Subscribe(256)
	defer unsub()

	c.Init()
	waitStatus(t, c, status.Ready)
	c.Background()
	c.Resume()
	c.Suspend()
	c.Resume()
	waitStatus(t, c, status.Ready)

	for {
		select {
		case evt := <-ch:
			st, ok := evt.Payload.(State)
			if !ok {
				continue
			}
			if a, ok := ActiveOf(st); ok {
				assert.NotEmpty(t, a.Convo.ID)
				assert.Equal(t, alice, a.Sender.DID)
				assert.NotEmpty(t, a.Recipients)
			}
		default:
			return
		}
	}
}

func TestInitFailureAndRetry(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.convoErr = chat.ErrUnavailable
	c := newTestConvo(t, agent, ev)
	c.Init()

	st := waitStatus(t, c, status.Error).(StateError)
	assert.Equal(t, InitFailed, st.Error.Code)
	assert.ErrorIs(t, st.Error, chat.ErrUnavailable)
	assert.Equal(t, RetryInit, st.Error.Retry.Kind)
	assert.True(t, ev.latest().isClosed(), "error tears down the subscription")

	agent.set(func(f *fakeAgent) { f.convoErr = nil })
	require.NoError(t, c.Retry(context.Background(), st.Error.Retry))
	waitStatus(t, c, status.Ready)
	waitItems(t, c, "m1", "m2")
	assert.Equal(t, 2, ev.count())
	assert.False(t, ev.latest().isClosed())
}

func TestInitFailsWhenNotAMember(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.view.Members = agent.view.Members[1:]
	c := newTestConvo(t, agent, ev)
	c.Init()

	st := waitStatus(t, c, status.Error).(StateError)
	assert.ErrorIs(t, st.Error, chat.ErrNotFound)
}

// Ready [m1, m2]; send "hi" → pending; reject → failed; retry → accepted;
// the stream delivers m3 "hi" → [m1, m2, m3].
func TestSendRejectRetryConfirm(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.sendErrs = []error{chat.ErrUnavailable}
	c, a := readyConvo(t, agent, ev)

	id, err := a.Actions.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	// Visible as soon as the call returns.
	items := ItemsOf(c.Snapshot())
	require.Equal(t, []string{"m1", "m2", id}, keys(items))
	pending := items[2].(PendingMessageItem)
	assert.Equal(t, "hi", pending.Message.Text)

	var retry *Retry
	require.Eventually(t, func() bool {
		items := ItemsOf(c.Snapshot())
		p, ok := items[len(items)-1].(PendingMessageItem)
		if ok && p.Failed {
			retry = p.Retry
		}
		return retry != nil
	}, waitFor, time.Millisecond)
	assert.Equal(t, RetrySend, retry.Kind)
	assert.Equal(t, id, retry.MessageID)

	require.NoError(t, c.Retry(context.Background(), *retry))
	require.Eventually(t, func() bool { return len(agent.sendInputs()) == 2 }, waitFor, time.Millisecond)

	// Retry re-used the pending and its correlation id.
	inputs := agent.sendInputs()
	assert.Equal(t, id, inputs[0].ClientMsgID)
	assert.Equal(t, id, inputs[1].ClientMsgID)
	items = waitItems(t, c, "m1", "m2", id)
	assert.False(t, items[2].(PendingMessageItem).Failed)

	m3 := msg("m3", "03")
	m3.Text = "hi"
	m3.Sender.DID = alice
	m3.ClientMsgID = id
	ev.emitLogs(chat.LogEvent{Type: chat.LogCreateMessage, Rev: "03", ConvoID: "c1", Message: &m3})

	items = waitItems(t, c, "m1", "m2", "m3")
	assert.Equal(t, "hi", items[2].(MessageItem).Message.Text)
}

func TestConfirmationMatchedByServerID(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, a := readyConvo(t, agent, ev)

	id, err := a.Actions.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	// Let the send response land before the confirmation.
	require.Eventually(t, func() bool {
		var acked bool
		_ = c.call(context.Background(), func() {
			p, _ := c.rec.Pending(id)
			acked = p.serverID == "srv1"
		})
		return acked
	}, waitFor, time.Millisecond)

	m := msg("srv1", "03")
	ev.emitLogs(chat.LogEvent{Type: chat.LogCreateMessage, Rev: "03", ConvoID: "c1", Message: &m})
	waitItems(t, c, "m1", "m2", "srv1")
}

func TestSendToBlockingRecipient(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.view.Members[1].Viewer.BlockedBy = true
	c := newTestConvo(t, agent, ev)
	c.Init()
	a := mustActive(t, waitStatus(t, c, status.Ready))

	_, err := a.Actions.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, chat.ErrBlocked)
	assert.Empty(t, agent.sendInputs())

	items := waitItems(t, c, "m1", "m2", userBlockedKey)
	blocked := items[2].(ErrorItem)
	assert.Equal(t, UserBlocked, blocked.Code)
	assert.Nil(t, blocked.Retry)
}

func TestSendRejectedAsBlocked(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.sendErrs = []error{chat.ErrBlocked}
	c, a := readyConvo(t, agent, ev)

	id, err := a.Actions.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	items := waitItems(t, c, "m1", "m2", id, userBlockedKey)
	p := items[2].(PendingMessageItem)
	assert.True(t, p.Failed)
	assert.Nil(t, p.Retry)

	// The refreshed view reports no block, but the rejection stands.
	assert.Never(t, func() bool {
		return !slices.Contains(keys(ItemsOf(c.Snapshot())), userBlockedKey)
	}, 50*time.Millisecond, time.Millisecond)
	_, err = a.Actions.SendMessage(context.Background(), "again")
	assert.ErrorIs(t, err, chat.ErrBlocked)
	assert.Len(t, agent.sendInputs(), 1)

	ev.emitLogs(chat.LogEvent{Type: chat.LogInvalidateBlockState, Rev: "03", AccountDIDs: []string{bob, alice}})
	waitItems(t, c, "m1", "m2", id)
	_, err = a.Actions.SendMessage(context.Background(), "after unblock")
	assert.NoError(t, err)
}

func TestBlockStateInvalidation(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, _ := readyConvo(t, agent, ev)

	agent.set(func(f *fakeAgent) { f.view.Members[1].Viewer.BlockedBy = true })
	ev.emitLogs(chat.LogEvent{Type: chat.LogInvalidateBlockState, Rev: "03", AccountDIDs: []string{bob, alice}})
	waitItems(t, c, "m1", "m2", userBlockedKey)

	agent.set(func(f *fakeAgent) { f.view.Members[1].Viewer.BlockedBy = false })
	ev.emitLogs(chat.LogEvent{Type: chat.LogInvalidateBlockState, Rev: "04", AccountDIDs: []string{bob, alice}})
	waitItems(t, c, "m1", "m2")
}

func TestHistoryWaitsForConnected(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{holdConnected: true}
	c := newTestConvo(t, agent, ev)
	c.Init()

	a := mustActive(t, waitStatus(t, c, status.Ready))
	assert.True(t, a.IsFetchingHistory)
	assert.Empty(t, a.Items)
	assert.Zero(t, agent.historyCount())

	// An explicit fetch does not jump ahead of the log head either.
	require.NoError(t, a.Actions.FetchMessageHistory(context.Background()))
	assert.Zero(t, agent.historyCount())

	ev.emit(events.Connected{})
	waitItems(t, c, "m1", "m2")
	assert.Equal(t, 1, agent.historyCount())
	assert.False(t, mustActive(t, c.Snapshot()).IsFetchingHistory)
}

// headRaceServer commits m3 while the first log head is being read. When
// the newest page was served before that, m3 is in neither source.
type headRaceServer struct {
	*fakeAgent

	historyServed chan struct{}
	served        sync.Once

	mu        sync.Mutex
	head      string
	log       []chat.LogEvent
	earlyPage bool
}

func newHeadRaceServer() *headRaceServer {
	return &headRaceServer{fakeAgent: newFakeAgent(), historyServed: make(chan struct{})}
}

func (s *headRaceServer) GetMessages(ctx context.Context, convoID, cursor string, limit int) (*chat.MessagesPage, error) {
	s.mu.Lock()
	if s.head == "" {
		s.earlyPage = true
	}
	s.mu.Unlock()
	page, err := s.fakeAgent.GetMessages(ctx, convoID, cursor, limit)
	s.served.Do(func() { close(s.historyServed) })
	return page, err
}

func (s *headRaceServer) GetLog(ctx context.Context, cursor string) (*chat.LogPage, error) {
	if cursor == "" {
		select {
		case <-s.historyServed:
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m3 := msg("m3", "03")
		s.set(func(f *fakeAgent) {
			f.pages[""] = &chat.MessagesPage{Entries: []chat.Entry{m3, msg("m2", "02"), msg("m1", "01")}}
		})
		s.mu.Lock()
		defer s.mu.Unlock()
		s.log = append(s.log, chat.LogEvent{Type: chat.LogCreateMessage, Rev: "03", ConvoID: "c1", Message: &m3})
		s.head = "03"
		return &chat.LogPage{Cursor: s.head}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	page := &chat.LogPage{Cursor: cursor}
	for _, evt := range s.log {
		if evt.Rev > cursor {
			page.Logs = append(page.Logs, evt)
			page.Cursor = evt.Rev
		}
	}
	return page, nil
}

func (s *headRaceServer) readPageBeforeHead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earlyPage
}

func TestMessageCommittedWhileReadingLogHead(t *testing.T) {
	srv := newHeadRaceServer()
	eb := events.New(srv, events.Options{ForegroundInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))
	t.Cleanup(eb.Teardown)

	c := New("c1", srv, eb, bus.New(), Options{HistoryPageSize: 10}, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	c.Init()

	waitStatus(t, c, status.Ready)
	waitItems(t, c, "m1", "m2", "m3")
	assert.False(t, srv.readPageBeforeHead())
	assert.Equal(t, "03", eb.Cursor())
}

// blockingEvents calls handlers on the caller's goroutine, the way the
// poller does.
type blockingEvents struct {
	mu sync.Mutex
	h  events.Handler
}

func (b *blockingEvents) Subscribe(_ string, h events.Handler) events.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.h = h
	return &fakeSub{h: h}
}

func (b *blockingEvents) Reconnect() {}

func (b *blockingEvents) handler() events.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.h
}

func TestEventHandlerNeverBlocksThePoller(t *testing.T) {
	agent, eb := newFakeAgent(), &blockingEvents{}
	c := New("c1", agent, eb, bus.New(), Options{HistoryPageSize: 10, QueueSize: 1}, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	c.Init()
	waitStatus(t, c, status.Ready)
	h := eb.handler()
	require.NotNil(t, h)
	h(events.Connected{})
	waitItems(t, c, "m1", "m2")

	// Hold the loop so the queue fills up.
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = c.call(context.Background(), func() {
			close(held)
			<-release
		})
	}()
	<-held
	go func() { _ = c.call(context.Background(), func() {}) }()

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for i := 3; i < 13; i++ {
			m := msg(fmt.Sprintf("m%d", i), fmt.Sprintf("%02d", i))
			h(events.Logs{Events: []chat.LogEvent{{Type: chat.LogCreateMessage, Rev: m.Rev, ConvoID: "c1", Message: &m}}})
		}
	}()
	select {
	case <-delivered:
	case <-time.After(waitFor):
		t.Fatal("handler blocked on a busy engine")
	}

	close(release)
	require.Eventually(t, func() bool { return len(ItemsOf(c.Snapshot())) == 12 }, waitFor, time.Millisecond)
	items := keys(ItemsOf(c.Snapshot()))
	assert.Equal(t, "m1", items[0])
	assert.Equal(t, "m12", items[11])
}

func TestConcurrentHistoryFetchIssuesOneRequest(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.pages[""].Cursor = "older"
	agent.pages["older"] = &chat.MessagesPage{Entries: []chat.Entry{msg("m0", "00")}}
	c, a := readyConvo(t, agent, ev)

	gate := make(chan struct{})
	agent.set(func(f *fakeAgent) { f.historyGate = gate })
	before := agent.historyCount()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Actions.FetchMessageHistory(context.Background()))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return agent.historyCount() == before+1 }, waitFor, time.Millisecond)
	assert.True(t, mustActive(t, c.Snapshot()).IsFetchingHistory)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before+1, agent.historyCount())
	assert.True(t, mustActive(t, c.Snapshot()).IsFetchingHistory)

	close(gate)
	waitItems(t, c, "m0", "m1", "m2")
	assert.False(t, mustActive(t, c.Snapshot()).IsFetchingHistory)

	// History is exhausted now; further fetches are no-ops.
	require.NoError(t, a.Actions.FetchMessageHistory(context.Background()))
	assert.Equal(t, before+1, agent.historyCount())
}

func TestHistoryFailureAndRetry(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.pages[""].Cursor = "older"
	agent.pages["older"] = &chat.MessagesPage{Entries: []chat.Entry{msg("m0", "00")}}
	c, a := readyConvo(t, agent, ev)

	agent.set(func(f *fakeAgent) { f.historyErr = chat.ErrUnavailable })
	require.NoError(t, a.Actions.FetchMessageHistory(context.Background()))

	items := waitItems(t, c, historyFailedKey, "m1", "m2")
	failed := items[0].(ErrorItem)
	assert.Equal(t, HistoryFailed, failed.Code)
	require.NotNil(t, failed.Retry)

	agent.set(func(f *fakeAgent) { f.historyErr = nil })
	require.NoError(t, c.Retry(context.Background(), *failed.Retry))
	waitItems(t, c, "m0", "m1", "m2")
}

func TestDeleteConfirmedByStream(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, a := readyConvo(t, agent, ev)

	require.NoError(t, a.Actions.DeleteMessage(context.Background(), "m1"))
	ev.emitLogs(chat.LogEvent{
		Type:    chat.LogDeleteMessage,
		Rev:     "03",
		ConvoID: "c1",
		Deleted: &chat.DeletedMessageView{ID: "m1", Rev: "01"},
	})

	require.Eventually(t, func() bool {
		items := ItemsOf(c.Snapshot())
		_, ok := items[0].(DeletedMessageItem)
		return ok
	}, waitFor, time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, keys(ItemsOf(c.Snapshot())))
}

func TestDeleteFailure(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.deleteErr = chat.ErrUnavailable
	c, a := readyConvo(t, agent, ev)

	err := a.Actions.DeleteMessage(context.Background(), "m1")
	require.ErrorIs(t, err, chat.ErrUnavailable)

	items := ItemsOf(c.Snapshot())
	require.Equal(t, []string{"m1", "m2", "delete-m1"}, keys(items))
	failed := items[2].(ErrorItem)
	assert.Equal(t, Unknown, failed.Code)
	require.NotNil(t, failed.Retry)
	assert.Equal(t, RetryDelete, failed.Retry.Kind)

	agent.set(func(f *fakeAgent) { f.deleteErr = nil })
	require.NoError(t, c.Retry(context.Background(), *failed.Retry))
	assert.Equal(t, []string{"m1", "m2"}, keys(ItemsOf(c.Snapshot())))
}

func TestRecoverableStreamFailure(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, _ := readyConvo(t, agent, ev)

	ev.emit(events.Failure{Err: chat.ErrUnavailable, Recoverable: true})
	items := waitItems(t, c, "m1", "m2", firehoseFailedKey)
	failed := items[2].(ErrorItem)
	require.NotNil(t, failed.Retry)
	assert.Equal(t, RetryFirehose, failed.Retry.Kind)
	assert.Equal(t, status.Ready, c.Snapshot().Status())

	require.NoError(t, c.Retry(context.Background(), *failed.Retry))
	assert.Equal(t, 1, ev.reconnects)

	ev.emit(events.Connected{})
	waitItems(t, c, "m1", "m2")
}

func TestTerminalStreamFailure(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, a := readyConvo(t, agent, ev)

	ev.emit(events.Failure{Err: chat.ErrUnauthenticated})
	st := waitStatus(t, c, status.Error).(StateError)
	assert.Equal(t, FirehoseTerminated, st.Error.Code)
	assert.True(t, ev.latest().isClosed())

	// Actions from the stale snapshot are refused.
	_, err := a.Actions.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotActive)
	assert.ErrorIs(t, a.Actions.FetchMessageHistory(context.Background()), ErrNotActive)
	assert.ErrorIs(t, a.Actions.DeleteMessage(context.Background(), "m1"), ErrNotActive)
	assert.Empty(t, agent.sendInputs())
}

func TestBackgroundAndResume(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, _ := readyConvo(t, agent, ev)
	sub := ev.latest()

	c.Background()
	assert.Equal(t, status.Backgrounded, c.Snapshot().Status())
	assert.Equal(t, events.Background, sub.currentCadence())
	assert.False(t, sub.isClosed())

	c.Resume()
	assert.Equal(t, status.Ready, c.Snapshot().Status())
	assert.Equal(t, events.Foreground, sub.currentCadence())
	assert.Equal(t, 1, ev.count())
}

func TestSuspendResumeKeepsPendings(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	agent.sendErrs = []error{chat.ErrUnavailable}
	c, a := readyConvo(t, agent, ev)

	id, err := a.Actions.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		items := ItemsOf(c.Snapshot())
		p, ok := items[len(items)-1].(PendingMessageItem)
		return ok && p.Failed
	}, waitFor, time.Millisecond)

	c.Suspend()
	st := c.Snapshot()
	require.IsType(t, StateSuspended{}, st)
	assert.True(t, ev.latest().isClosed())
	assert.Equal(t, []string{"m1", "m2", id}, keys(ItemsOf(st)))

	// Live events no longer reach a suspended conversation.
	m := msg("m3", "03")
	ev.emitLogs(chat.LogEvent{Type: chat.LogCreateMessage, Rev: "03", ConvoID: "c1", Message: &m})
	assert.Equal(t, []string{"m1", "m2", id}, keys(ItemsOf(c.Snapshot())))

	agent.set(func(f *fakeAgent) {
		f.pages[""] = &chat.MessagesPage{Entries: []chat.Entry{m, msg("m2", "02"), msg("m1", "01")}}
	})
	c.Resume()
	waitStatus(t, c, status.Ready)
	waitItems(t, c, "m1", "m2", "m3", id)
	assert.Equal(t, 2, ev.count())
}

func TestRejectedTransitionLeavesStateUnchanged(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c := newTestConvo(t, agent, ev)

	c.Background()
	c.Resume()
	assert.IsType(t, StateUninitialized{}, c.Snapshot())
	assert.Zero(t, ev.count())
}

func TestCloseDiscardsLateResults(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	gate := make(chan struct{})
	agent.historyGate = gate
	c := newTestConvo(t, agent, ev)
	c.Init()
	waitStatus(t, c, status.Ready)

	c.Close()
	assert.True(t, ev.latest().isClosed())
	close(gate)

	_, err := Actions{c: c}.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestRetryForOtherConversation(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	c, _ := readyConvo(t, agent, ev)

	err := c.Retry(context.Background(), Retry{Kind: RetryHistory, ConvoID: "c2"})
	assert.ErrorIs(t, err, chat.ErrInvalidRequest)
}

func TestRegistryReferenceCounting(t *testing.T) {
	agent, ev := newFakeAgent(), &fakeEvents{}
	r := NewRegistry(agent, ev, bus.New(), Options{}, zaptest.NewLogger(t))
	t.Cleanup(r.Close)

	c1 := r.Acquire("c1")
	c2 := r.Acquire("c1")
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, r.Len())
	waitStatus(t, c1, status.Ready)

	r.Release("c1")
	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, c1, got)
	assert.False(t, ev.latest().isClosed())

	r.Release("c1")
	_, ok = r.Get("c1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
	assert.True(t, ev.latest().isClosed())

	// Releasing an unknown id is harmless.
	r.Release("c1")
}
