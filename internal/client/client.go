// Package client is the authenticated agent a conversation engine talks
// through: ChatService over the daemon's unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrNotLoggedIn is returned by actor calls made before Login.
var ErrNotLoggedIn = errors.New("not logged in")

// Client wraps the gRPC connection to the daemon and the DID it acts as.
type Client struct {
	conn *grpc.ClientConn
	rpc  *rpc.ChatServiceClient

	mu  sync.RWMutex
	did string
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, rpc: rpc.NewChatServiceClient(conn)}, nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{rpc: rpc.NewChatServiceClient(cc)}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// DID returns the account the client acts as, or "".
func (c *Client) DID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.did
}

// Login makes the client act as the account registered under handle.
func (c *Client) Login(ctx context.Context, handle string) (*chat.Profile, error) {
	p, err := c.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.did = p.DID
	c.mu.Unlock()
	return p, nil
}

func (c *Client) actor(ctx context.Context) (context.Context, error) {
	did := c.DID()
	if did == "" {
		return nil, fmt.Errorf("%w: %w", chat.ErrUnauthenticated, ErrNotLoggedIn)
	}
	return rpc.WithActor(ctx, did), nil
}

// CreateAccount registers a new account. It does not log in.
func (c *Client) CreateAccount(ctx context.Context, handle, displayName, email string) (*chat.Profile, error) {
	resp, err := c.rpc.CreateAccount(ctx, &rpc.CreateAccountRequest{Handle: handle, DisplayName: displayName, Email: email})
	if err != nil {
		return nil, classify("create account", err)
	}
	return &resp.Profile, nil
}

func (c *Client) ResolveHandle(ctx context.Context, handle string) (*chat.Profile, error) {
	resp, err := c.rpc.ResolveHandle(ctx, &rpc.ResolveHandleRequest{Handle: handle})
	if err != nil {
		return nil, classify("resolve handle", err)
	}
	return &resp.Profile, nil
}

// GetConvoForMembers returns the conversation between the caller and members.
func (c *Client) GetConvoForMembers(ctx context.Context, members ...string) (*chat.ConvoView, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.GetConvoForMembers(ctx, &rpc.GetConvoForMembersRequest{Members: members})
	if err != nil {
		return nil, classify("get convo for members", err)
	}
	return &resp.Convo, nil
}

// ListConvos returns one page of the caller's conversations.
func (c *Client) ListConvos(ctx context.Context, cursor string, limit int) ([]chat.ConvoView, string, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.rpc.ListConvos(ctx, &rpc.ListConvosRequest{Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, "", classify("list convos", err)
	}
	return resp.Convos, resp.Cursor, nil
}

func (c *Client) GetConvo(ctx context.Context, convoID string) (*chat.ConvoView, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.GetConvo(ctx, &rpc.GetConvoRequest{ConvoID: convoID})
	if err != nil {
		return nil, classify("get convo", err)
	}
	return &resp.Convo, nil
}

func (c *Client) GetMessages(ctx context.Context, convoID, cursor string, limit int) (*chat.MessagesPage, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.GetMessages(ctx, &rpc.GetMessagesRequest{ConvoID: convoID, Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, classify("get messages", err)
	}
	return &chat.MessagesPage{Cursor: resp.Cursor, Entries: rpc.DecodeEntries(resp.Messages)}, nil
}

func (c *Client) SendMessage(ctx context.Context, convoID string, msg chat.MessageInput) (*chat.MessageView, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.SendMessage(ctx, &rpc.SendMessageRequest{ConvoID: convoID, Message: msg})
	if err != nil {
		return nil, classify("send message", err)
	}
	return &resp.Message, nil
}

func (c *Client) DeleteMessageForSelf(ctx context.Context, convoID, messageID string) (*chat.DeletedMessageView, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.DeleteMessageForSelf(ctx, &rpc.DeleteMessageForSelfRequest{ConvoID: convoID, MessageID: messageID})
	if err != nil {
		return nil, classify("delete message", err)
	}
	return &resp.Deleted, nil
}

// GetLog returns the caller's events after cursor. An empty cursor returns
// the current head and no events.
func (c *Client) GetLog(ctx context.Context, cursor string) (*chat.LogPage, error) {
	ctx, err := c.actor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.GetLog(ctx, &rpc.GetLogRequest{Cursor: cursor})
	if err != nil {
		return nil, classify("get log", err)
	}
	return &resp.LogPage, nil
}

func (c *Client) Block(ctx context.Context, did string) error {
	ctx, err := c.actor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.rpc.Block(ctx, &rpc.BlockRequest{DID: did}); err != nil {
		return classify("block", err)
	}
	return nil
}

func (c *Client) Unblock(ctx context.Context, did string) error {
	ctx, err := c.actor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.rpc.Unblock(ctx, &rpc.BlockRequest{DID: did}); err != nil {
		return classify("unblock", err)
	}
	return nil
}

// RequestEmailConfirmation asks the server to issue a confirmation token for
// the account's email.
func (c *Client) RequestEmailConfirmation(ctx context.Context) error {
	ctx, err := c.actor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.rpc.RequestEmailConfirmation(ctx, &rpc.Empty{}); err != nil {
		return classify("request email confirmation", err)
	}
	return nil
}

func (c *Client) ConfirmEmail(ctx context.Context, email, token string) error {
	ctx, err := c.actor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.rpc.ConfirmEmail(ctx, &rpc.ConfirmEmailRequest{Email: email, Token: token}); err != nil {
		return classify("confirm email", err)
	}
	return nil
}
