package convo

import (
	"slices"
	"time"

	"github.com/matheus3301/convo/internal/chat"
)

// Pending is a message sent from this client that the server has not echoed
// back yet. Its ID is also the ClientMsgID of the send.
type Pending struct {
	ID       string
	Text     string
	Sender   string
	SentAt   time.Time
	Failed   bool
	Retry    *Retry
	serverID string
}

// Reconciler merges live events, history pages and pending messages into one
// ordered list. Confirmed entries are kept sorted by (rev, id), so the result
// does not depend on the order disjoint events arrive in. It is not safe for
// concurrent use.
type Reconciler struct {
	entries []chat.Entry
	byID    map[string]chat.Entry

	pendings []*Pending
	// server message id -> pending id, learned from send responses.
	sent map[string]string

	// Deletes for messages not loaded yet, keyed by message id.
	deletes map[string]chat.DeletedMessageView
	// Rev of the oldest history page merged so far.
	floor string

	errors []ErrorItem
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		byID:    make(map[string]chat.Entry),
		sent:    make(map[string]string),
		deletes: make(map[string]chat.DeletedMessageView),
	}
}

// Reset forgets everything the server told us. Pending messages survive when
// keepPending is set; their send bookkeeping does not.
func (r *Reconciler) Reset(keepPending bool) {
	r.entries = nil
	r.byID = make(map[string]chat.Entry)
	r.sent = make(map[string]string)
	r.deletes = make(map[string]chat.DeletedMessageView)
	r.floor = ""
	r.errors = nil
	if !keepPending {
		r.pendings = nil
		return
	}
	for _, p := range r.pendings {
		p.serverID = ""
	}
}

func compareEntries(a, b chat.Entry) int {
	switch {
	case chat.Less(a, b):
		return -1
	case chat.Less(b, a):
		return 1
	default:
		return 0
	}
}

func (r *Reconciler) insert(e chat.Entry) {
	i, _ := slices.BinarySearchFunc(r.entries, e, compareEntries)
	r.entries = slices.Insert(r.entries, i, e)
	r.byID[e.EntryID()] = e
}

// replace swaps the entry stored under e's id, keeping its position.
func (r *Reconciler) replace(old, e chat.Entry) {
	i, found := slices.BinarySearchFunc(r.entries, old, compareEntries)
	if !found {
		return
	}
	r.entries[i] = e
	r.byID[e.EntryID()] = e
}

// Entry returns the confirmed entry with the given id.
func (r *Reconciler) Entry(id string) (chat.Entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Len returns the number of confirmed entries.
func (r *Reconciler) Len() int { return len(r.entries) }

// AddPending appends a locally created message as the newest pending.
func (r *Reconciler) AddPending(p Pending) {
	cp := p
	r.pendings = append(r.pendings, &cp)
}

// Pending returns a copy of the pending message with the given id.
func (r *Reconciler) Pending(id string) (Pending, bool) {
	if p := r.pending(id); p != nil {
		return *p, true
	}
	return Pending{}, false
}

func (r *Reconciler) pending(id string) *Pending {
	for _, p := range r.pendings {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// MarkFailed flags a pending as failed with an optional retry.
func (r *Reconciler) MarkFailed(id string, retry *Retry) {
	if p := r.pending(id); p != nil {
		p.Failed = true
		p.Retry = retry
	}
}

// MarkSending clears the failure of a pending about to be re-sent.
func (r *Reconciler) MarkSending(id string) {
	if p := r.pending(id); p != nil {
		p.Failed = false
		p.Retry = nil
	}
}

// Acknowledge records the server id a send was committed under, so the
// confirmation is matched even without a ClientMsgID echo.
func (r *Reconciler) Acknowledge(pendingID, serverID string) {
	p := r.pending(pendingID)
	if p == nil || serverID == "" {
		return
	}
	p.serverID = serverID
	r.sent[serverID] = pendingID
	if _, ok := r.byID[serverID]; ok {
		r.dropPending(pendingID)
	}
}

func (r *Reconciler) dropPending(id string) {
	r.pendings = slices.DeleteFunc(r.pendings, func(p *Pending) bool {
		if p.ID != id {
			return false
		}
		if p.serverID != "" {
			delete(r.sent, p.serverID)
		}
		return true
	})
}

// confirm removes the pending a confirmed message stands for.
func (r *Reconciler) confirm(m chat.MessageView) {
	if m.ClientMsgID != "" && r.pending(m.ClientMsgID) != nil {
		r.dropPending(m.ClientMsgID)
	}
	if id, ok := r.sent[m.ID]; ok {
		r.dropPending(id)
	}
}

// ApplyCreate merges a confirmed message. Applying the same message twice is
// a no-op, and a message already tombstoned stays deleted.
func (r *Reconciler) ApplyCreate(m chat.MessageView) {
	r.confirm(m)
	if _, ok := r.byID[m.ID]; ok {
		return
	}
	if d, ok := r.deletes[m.ID]; ok {
		delete(r.deletes, m.ID)
		r.insert(tombstoneOf(m, d))
		return
	}
	r.insert(m)
}

// ApplyDelete turns the message into a tombstone in place. Deletes for
// messages not loaded yet are held until a history page brings them.
func (r *Reconciler) ApplyDelete(d chat.DeletedMessageView) {
	old, ok := r.byID[d.ID]
	if !ok {
		r.deletes[d.ID] = d
		return
	}
	m, isMessage := old.(chat.MessageView)
	if !isMessage {
		return
	}
	r.replace(old, tombstoneOf(m, d))
}

func tombstoneOf(m chat.MessageView, d chat.DeletedMessageView) chat.DeletedMessageView {
	t := m.Tombstone()
	if t.SentAt.IsZero() {
		t.SentAt = d.SentAt
	}
	return t
}

// ApplyPage merges one page of older history, given in any order. Ids already
// present are skipped. Held deletes the page covers are resolved: applied when
// the page brings their message, dropped otherwise. exhausted marks the
// start of the conversation, after which no held delete can resolve.
func (r *Reconciler) ApplyPage(page []chat.Entry, exhausted bool) {
	for _, e := range page {
		switch v := e.(type) {
		case chat.MessageView:
			r.ApplyCreate(v)
		case chat.DeletedMessageView:
			r.confirmDeleted(v)
		}
		if r.floor == "" || e.EntryRev() < r.floor {
			r.floor = e.EntryRev()
		}
	}
	for id, d := range r.deletes {
		if exhausted || (r.floor != "" && d.Rev >= r.floor) {
			delete(r.deletes, id)
		}
	}
}

func (r *Reconciler) confirmDeleted(d chat.DeletedMessageView) {
	delete(r.deletes, d.ID)
	old, ok := r.byID[d.ID]
	if !ok {
		r.insert(d)
		return
	}
	if m, isMessage := old.(chat.MessageView); isMessage {
		r.replace(old, tombstoneOf(m, d))
	}
}

// HeldDeletes returns how many deletes are waiting for their message.
func (r *Reconciler) HeldDeletes() int { return len(r.deletes) }

// SetError shows an error row, replacing any row with the same key.
func (r *Reconciler) SetError(item ErrorItem) {
	for i, e := range r.errors {
		if e.Key == item.Key {
			r.errors[i] = item
			return
		}
	}
	r.errors = append(r.errors, item)
}

// ClearError removes the error row with the given key.
func (r *Reconciler) ClearError(key string) {
	r.errors = slices.DeleteFunc(r.errors, func(e ErrorItem) bool { return e.Key == key })
}

// HasError reports whether an error row with the given key is shown.
func (r *Reconciler) HasError(key string) bool {
	return slices.ContainsFunc(r.errors, func(e ErrorItem) bool { return e.Key == key })
}

// Items builds the render list, oldest first: the history error, confirmed
// entries, pending messages in creation order, then the other errors.
func (r *Reconciler) Items() []Item {
	items := make([]Item, 0, len(r.entries)+len(r.pendings)+len(r.errors))
	for _, e := range r.errors {
		if e.Code == HistoryFailed {
			items = append(items, e)
		}
	}

	start := len(items)
	for _, e := range r.entries {
		switch v := e.(type) {
		case chat.MessageView:
			items = append(items, MessageItem{Key: v.ID, Message: v})
		case chat.DeletedMessageView:
			items = append(items, DeletedMessageItem{Key: v.ID, Message: v})
		}
	}
	for _, p := range r.pendings {
		items = append(items, PendingMessageItem{
			Key: p.ID,
			Message: chat.MessageView{
				ID:          p.ID,
				Text:        p.Text,
				Sender:      chat.MessageSender{DID: p.Sender},
				SentAt:      p.SentAt,
				ClientMsgID: p.ID,
			},
			Failed: p.Failed,
			Retry:  p.Retry,
		})
	}
	linkNext(items[start:])

	for _, e := range r.errors {
		if e.Code != HistoryFailed {
			items = append(items, e)
		}
	}
	return items
}

// linkNext points every entry row at the next newer entry.
func linkNext(items []Item) {
	var next chat.Entry
	for i := len(items) - 1; i >= 0; i-- {
		switch v := items[i].(type) {
		case MessageItem:
			v.Next = next
			items[i] = v
			next = v.Message
		case DeletedMessageItem:
			v.Next = next
			items[i] = v
			next = v.Message
		case PendingMessageItem:
			v.Next = next
			items[i] = v
			next = v.Message
		}
	}
}
