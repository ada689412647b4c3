package chat

import "time"

// ProfileViewer is the relationship between the requesting account and a profile.
type ProfileViewer struct {
	Blocking  bool `json:"blocking,omitempty"`
	BlockedBy bool `json:"blocked_by,omitempty"`
}

// Profile is the basic public view of an account.
type Profile struct {
	DID         string        `json:"did"`
	Handle      string        `json:"handle"`
	DisplayName string        `json:"display_name,omitempty"`
	Viewer      ProfileViewer `json:"viewer"`
}

// ConvoView is a conversation as seen by one of its members.
type ConvoView struct {
	ID          string    `json:"id"`
	Rev         string    `json:"rev"`
	Members     []Profile `json:"members"`
	UnreadCount int       `json:"unread_count"`
}

// Member returns the member with the given DID.
func (c *ConvoView) Member(did string) (Profile, bool) {
	for _, m := range c.Members {
		if m.DID == did {
			return m, true
		}
	}
	return Profile{}, false
}

// Others returns every member except did.
func (c *ConvoView) Others(did string) []Profile {
	out := make([]Profile, 0, len(c.Members))
	for _, m := range c.Members {
		if m.DID != did {
			out = append(out, m)
		}
	}
	return out
}

// MessageSender identifies the author of a message.
type MessageSender struct {
	DID string `json:"did"`
}

// MessageView is a message committed by the server.
type MessageView struct {
	ID          string        `json:"id"`
	Rev         string        `json:"rev"`
	Text        string        `json:"text"`
	Sender      MessageSender `json:"sender"`
	SentAt      time.Time     `json:"sent_at"`
	ClientMsgID string        `json:"client_msg_id,omitempty"`
}

// DeletedMessageView is the tombstone left where a message used to be.
type DeletedMessageView struct {
	ID     string        `json:"id"`
	Rev    string        `json:"rev"`
	Sender MessageSender `json:"sender"`
	SentAt time.Time     `json:"sent_at"`
}

// Entry is either a MessageView or a DeletedMessageView.
type Entry interface {
	EntryID() string
	EntryRev() string
	isEntry()
}

func (m MessageView) EntryID() string  { return m.ID }
func (m MessageView) EntryRev() string { return m.Rev }
func (MessageView) isEntry()           {}

func (d DeletedMessageView) EntryID() string  { return d.ID }
func (d DeletedMessageView) EntryRev() string { return d.Rev }
func (DeletedMessageView) isEntry()           {}

// Tombstone returns the deleted view of m.
func (m MessageView) Tombstone() DeletedMessageView {
	return DeletedMessageView{ID: m.ID, Rev: m.Rev, Sender: m.Sender, SentAt: m.SentAt}
}

// Less orders entries by rev, then id.
func Less(a, b Entry) bool {
	if a.EntryRev() != b.EntryRev() {
		return a.EntryRev() < b.EntryRev()
	}
	return a.EntryID() < b.EntryID()
}

// MessageInput is the payload of an outgoing message.
type MessageInput struct {
	Text        string `json:"text"`
	ClientMsgID string `json:"client_msg_id"`
}

// MessagesPage is one page of history, newest first as returned by the server.
type MessagesPage struct {
	Cursor  string
	Entries []Entry
}

// LogType names a firehose event.
type LogType string

const (
	LogCreateMessage        LogType = "create-message"
	LogDeleteMessage        LogType = "delete-message"
	LogBeginConvo           LogType = "begin-convo"
	LogLeaveConvo           LogType = "leave-convo"
	LogInvalidateBlockState LogType = "invalidate-block-state"
)

// LogEvent is one entry of an account's event log.
type LogEvent struct {
	Type        LogType             `json:"type"`
	Rev         string              `json:"rev"`
	ConvoID     string              `json:"convo_id,omitempty"`
	Message     *MessageView        `json:"message,omitempty"`
	Deleted     *DeletedMessageView `json:"deleted,omitempty"`
	AccountDIDs []string            `json:"account_dids,omitempty"`
}

// LogPage is a batch of log events after a cursor.
type LogPage struct {
	Cursor string     `json:"cursor"`
	Logs   []LogEvent `json:"logs"`
}
