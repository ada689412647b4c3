package client

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/convo/internal/api"
	"github.com/matheus3301/convo/internal/bus"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/convo"
	"github.com/matheus3301/convo/internal/events"
	"github.com/matheus3301/convo/internal/rpc"
	"github.com/matheus3301/convo/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// newServer runs the chat service on an in-memory listener and returns a
// factory for clients connected to it.
func newServer(t *testing.T) func() *Client {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "convo.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	srv := grpc.NewServer(grpc.UnaryInterceptor(api.UnaryInterceptor(db, logger)))
	rpc.RegisterChatServiceServer(srv, api.NewService(db, logger))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		_ = db.Close()
	})

	return func() *Client {
		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return NewWithConn(conn)
	}
}

func login(t *testing.T, dial func() *Client, handle string) *Client {
	t.Helper()
	c := dial()
	ctx := context.Background()
	_, err := c.CreateAccount(ctx, handle, "", handle+"@example.com")
	require.NoError(t, err)
	_, err = c.Login(ctx, handle)
	require.NoError(t, err)
	return c
}

func TestActorCallsRequireLogin(t *testing.T) {
	c := newServer(t)()

	_, _, err := c.ListConvos(context.Background(), "", 10)
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestStatusCodesBecomeSentinels(t *testing.T) {
	dial := newServer(t)
	alice := login(t, dial, "alice")
	bob := login(t, dial, "bob")
	ctx := context.Background()

	_, err := alice.CreateAccount(ctx, "bob", "", "")
	assert.ErrorIs(t, err, chat.ErrInvalidRequest, "taken handle")

	_, err = alice.ResolveHandle(ctx, "nobody")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	view, err := alice.GetConvoForMembers(ctx, bob.DID())
	require.NoError(t, err)
	require.NoError(t, bob.Block(ctx, alice.DID()))
	_, err = alice.SendMessage(ctx, view.ID, chat.MessageInput{Text: "hi"})
	assert.ErrorIs(t, err, chat.ErrBlocked)
	assert.False(t, chat.Temporary(err))

	ghost := dial()
	_, err = ghost.Login(ctx, "ghost")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestUnknownActorIsUnauthenticated(t *testing.T) {
	c := newServer(t)()
	c.did = "did:convo:ghost"

	_, err := c.GetLog(context.Background(), "")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
}

func TestEmailVerification(t *testing.T) {
	dial := newServer(t)
	alice := login(t, dial, "alice")
	ctx := context.Background()

	require.NoError(t, alice.RequestEmailConfirmation(ctx))
	err := alice.ConfirmEmail(ctx, "alice@example.com", "WRONG-TOKEN")
	assert.ErrorIs(t, err, chat.ErrInvalidRequest)
}

func TestClassifyTransportError(t *testing.T) {
	err := classify("get log", errors.New("connection reset"))
	assert.ErrorIs(t, err, chat.ErrUnavailable)
	assert.True(t, chat.Temporary(err))
}

// waitItems waits for the conversation to be Ready with items matching want.
func waitItems(t *testing.T, c *convo.Convo, want func([]convo.Item) bool) convo.Active {
	t.Helper()
	var a convo.Active
	require.Eventually(t, func() bool {
		var ok bool
		a, ok = convo.ActiveOf(c.Snapshot())
		return ok && want(a.Items)
	}, 5*time.Second, 5*time.Millisecond)
	return a
}

func messageTexts(items []convo.Item) []string {
	var out []string
	for _, it := range items {
		if m, ok := it.(convo.MessageItem); ok {
			out = append(out, m.Message.Text)
		}
	}
	return out
}

// TestConversationOverTheWire drives two engines against a real server: a
// message sent by one shows up on the other through the event log.
func TestConversationOverTheWire(t *testing.T) {
	dial := newServer(t)
	alice := login(t, dial, "alice")
	bob := login(t, dial, "bob")
	ctx := context.Background()

	view, err := alice.GetConvoForMembers(ctx, bob.DID())
	require.NoError(t, err)
	_, err = bob.SendMessage(ctx, view.ID, chat.MessageInput{Text: "before", ClientMsgID: "b0"})
	require.NoError(t, err)

	engine := func(c *Client) *convo.Convo {
		eb := events.New(c, events.Options{ForegroundInterval: 5 * time.Millisecond}, zap.NewNop())
		t.Cleanup(eb.Teardown)
		cv := convo.New(view.ID, c, eb, bus.New(), convo.Options{}, zap.NewNop())
		t.Cleanup(cv.Close)
		cv.Init()
		// Events committed before the poller learns the log head are history.
		require.Eventually(t, func() bool { return eb.Cursor() != "" }, 5*time.Second, 5*time.Millisecond)
		return cv
	}
	aliceConvo := engine(alice)
	bobConvo := engine(bob)

	a := waitItems(t, aliceConvo, func(items []convo.Item) bool {
		return len(messageTexts(items)) == 1
	})
	assert.Equal(t, bob.DID(), a.Recipients[0].DID)

	_, err = a.Actions.SendMessage(ctx, "hello bob")
	require.NoError(t, err)

	// Alice's pending is confirmed by her own event log.
	waitItems(t, aliceConvo, func(items []convo.Item) bool {
		return assert.ObjectsAreEqual([]string{"before", "hello bob"}, messageTexts(items)) && len(items) == 2
	})
	// Bob gets it live.
	waitItems(t, bobConvo, func(items []convo.Item) bool {
		return assert.ObjectsAreEqual([]string{"before", "hello bob"}, messageTexts(items))
	})

	// Blocking reaches alice through invalidate-block-state.
	require.NoError(t, bob.Block(ctx, alice.DID()))
	require.Eventually(t, func() bool {
		a, ok := convo.ActiveOf(aliceConvo.Snapshot())
		return ok && a.Recipients[0].Viewer.BlockedBy
	}, 5*time.Second, 5*time.Millisecond)

	a, _ = convo.ActiveOf(aliceConvo.Snapshot())
	_, err = a.Actions.SendMessage(ctx, "are you there?")
	assert.ErrorIs(t, err, chat.ErrBlocked)
}
