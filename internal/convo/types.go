package convo

import (
	"context"
	"errors"

	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/events"
	"github.com/matheus3301/convo/internal/status"
)

// ErrNotActive is returned by actions invoked on a conversation that is not
// Ready, Backgrounded or Suspended.
var ErrNotActive = errors.New("conversation not active")

// Agent is the authenticated network client a conversation talks through.
type Agent interface {
	DID() string
	GetConvo(ctx context.Context, convoID string) (*chat.ConvoView, error)
	GetMessages(ctx context.Context, convoID, cursor string, limit int) (*chat.MessagesPage, error)
	SendMessage(ctx context.Context, convoID string, msg chat.MessageInput) (*chat.MessageView, error)
	DeleteMessageForSelf(ctx context.Context, convoID, messageID string) (*chat.DeletedMessageView, error)
}

// EventBus delivers the live events of a conversation.
type EventBus interface {
	Subscribe(convoID string, h events.Handler) events.Subscription
	Reconnect()
}

// State is an immutable snapshot of a conversation. It is one of
// StateUninitialized, StateInitializing, StateReady, StateBackgrounded,
// StateSuspended or StateError.
type State interface {
	Status() status.State
	isState()
}

type StateUninitialized struct{}

type StateInitializing struct {
	Items             []Item
	IsFetchingHistory bool
}

// Active is the part of a snapshot only live conversations carry.
type Active struct {
	Convo             chat.ConvoView
	Sender            chat.Profile
	Recipients        []chat.Profile
	Items             []Item
	IsFetchingHistory bool
	Actions           Actions
}

type StateReady struct{ Active }

type StateBackgrounded struct{ Active }

type StateSuspended struct{ Active }

type StateError struct {
	Error ConvoError
}

func (StateUninitialized) Status() status.State { return status.Uninitialized }
func (StateInitializing) Status() status.State  { return status.Initializing }
func (StateReady) Status() status.State         { return status.Ready }
func (StateBackgrounded) Status() status.State  { return status.Backgrounded }
func (StateSuspended) Status() status.State     { return status.Suspended }
func (StateError) Status() status.State         { return status.Error }

func (StateUninitialized) isState() {}
func (StateInitializing) isState()  {}
func (StateReady) isState()         {}
func (StateBackgrounded) isState()  {}
func (StateSuspended) isState()     {}
func (StateError) isState()         {}

// ActiveOf returns the live part of s, if it has one.
func ActiveOf(s State) (Active, bool) {
	switch st := s.(type) {
	case StateReady:
		return st.Active, true
	case StateBackgrounded:
		return st.Active, true
	case StateSuspended:
		return st.Active, true
	}
	return Active{}, false
}

// ItemsOf returns the items of any snapshot.
func ItemsOf(s State) []Item {
	if a, ok := ActiveOf(s); ok {
		return a.Items
	}
	if st, ok := s.(StateInitializing); ok {
		return st.Items
	}
	return nil
}

// ErrorCode classifies a conversation-level failure.
type ErrorCode string

const (
	InitFailed         ErrorCode = "init-failed"
	FirehoseTerminated ErrorCode = "firehose-terminated"
)

// ConvoError is the failure held by StateError.
type ConvoError struct {
	Code  ErrorCode
	Err   error
	Retry Retry
}

func (e ConvoError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e ConvoError) Unwrap() error { return e.Err }

// ItemError classifies a row-level failure.
type ItemError string

const (
	Unknown        ItemError = "unknown"
	FirehoseFailed ItemError = "firehose-failed"
	HistoryFailed  ItemError = "history-failed"
	UserBlocked    ItemError = "user-blocked"
)

// Item is one renderable row: MessageItem, PendingMessageItem,
// DeletedMessageItem or ErrorItem.
type Item interface {
	ItemKey() string
	isItem()
}

// MessageItem is a confirmed message. Next is the next newer entry, if any.
type MessageItem struct {
	Key     string
	Message chat.MessageView
	Next    chat.Entry
}

// PendingMessageItem is a locally created message not yet confirmed.
type PendingMessageItem struct {
	Key     string
	Message chat.MessageView
	Next    chat.Entry
	Failed  bool
	Retry   *Retry
}

type DeletedMessageItem struct {
	Key     string
	Message chat.DeletedMessageView
	Next    chat.Entry
}

// ErrorItem is a row-level failure. Retry is nil when nothing can be retried.
type ErrorItem struct {
	Key   string
	Code  ItemError
	Retry *Retry
}

func (i MessageItem) ItemKey() string        { return i.Key }
func (i PendingMessageItem) ItemKey() string { return i.Key }
func (i DeletedMessageItem) ItemKey() string { return i.Key }
func (i ErrorItem) ItemKey() string          { return i.Key }

func (MessageItem) isItem()        {}
func (PendingMessageItem) isItem() {}
func (DeletedMessageItem) isItem() {}
func (ErrorItem) isItem()          {}

// Keys of the singleton error rows.
const (
	historyFailedKey  = "history-failed"
	firehoseFailedKey = "firehose-failed"
	userBlockedKey    = "user-blocked"
)

func deleteFailedKey(messageID string) string { return "delete-" + messageID }
