// Package model holds the view state of the conversation screen. It is free
// of widgets so the key handlers can be tested without a terminal.
package model

import (
	"strings"
	"sync"

	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/convo"
	"github.com/matheus3301/convo/internal/status"
)

// Conversation tracks the latest snapshot of the open conversation.
type Conversation struct {
	mu    sync.RWMutex
	self  string
	state convo.State
	Flash *Flash
}

// NewConversation creates the view state for the account self.
func NewConversation(self string) *Conversation {
	return &Conversation{
		self:  self,
		state: convo.StateUninitialized{},
		Flash: NewFlash(),
	}
}

// Self returns the DID of the signed-in account.
func (c *Conversation) Self() string { return c.self }

// Update replaces the snapshot.
func (c *Conversation) Update(st convo.State) {
	if st == nil {
		return
	}
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// State returns the latest snapshot.
func (c *Conversation) State() convo.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the status of the latest snapshot.
func (c *Conversation) Status() status.State {
	return c.State().Status()
}

// Active returns the live part of the latest snapshot.
func (c *Conversation) Active() (convo.Active, bool) {
	return convo.ActiveOf(c.State())
}

// Handles maps member DIDs to handles.
func (c *Conversation) Handles() map[string]string {
	a, ok := c.Active()
	if !ok {
		return nil
	}
	out := make(map[string]string, len(a.Convo.Members))
	for _, m := range a.Convo.Members {
		out[m.DID] = m.Handle
	}
	return out
}

// Title names the other members of the conversation.
func (c *Conversation) Title() string {
	a, ok := c.Active()
	if !ok || len(a.Recipients) == 0 {
		return "conversation"
	}
	names := make([]string, 0, len(a.Recipients))
	for _, p := range a.Recipients {
		name := "@" + p.Handle
		if p.DisplayName != "" {
			name = p.DisplayName + " (" + name + ")"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// Blocked reports whether a block in either direction stops sending.
func (c *Conversation) Blocked() bool {
	a, ok := c.Active()
	if !ok {
		return false
	}
	for _, p := range a.Recipients {
		if p.Viewer.Blocking || p.Viewer.BlockedBy {
			return true
		}
	}
	return false
}

// NewestRetry returns the retry of the newest failed item. In the Error
// state it is the retry of the conversation itself.
func (c *Conversation) NewestRetry() (convo.Retry, bool) {
	st := c.State()
	if e, ok := st.(convo.StateError); ok {
		return e.Error.Retry, true
	}
	items := convo.ItemsOf(st)
	for i := len(items) - 1; i >= 0; i-- {
		switch it := items[i].(type) {
		case convo.ErrorItem:
			if it.Retry != nil {
				return *it.Retry, true
			}
		case convo.PendingMessageItem:
			if it.Failed && it.Retry != nil {
				return *it.Retry, true
			}
		}
	}
	return convo.Retry{}, false
}

// NewestOwnMessage returns the newest confirmed message sent by self.
func (c *Conversation) NewestOwnMessage() (chat.MessageView, bool) {
	items := convo.ItemsOf(c.State())
	for i := len(items) - 1; i >= 0; i-- {
		if it, ok := items[i].(convo.MessageItem); ok && it.Message.Sender.DID == c.self {
			return it.Message, true
		}
	}
	return chat.MessageView{}, false
}
