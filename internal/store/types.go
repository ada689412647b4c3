package store

// Account is a registered user.
type Account struct {
	DID            string
	Handle         string
	DisplayName    string
	Email          string
	EmailConfirmed bool
	CreatedAt      int64
}

// Convo is a conversation between a fixed set of accounts.
type Convo struct {
	ID        string
	Rev       string
	Members   []string
	CreatedAt int64
}

// Message is a committed message as seen by one viewer: Deleted is set when
// that viewer deleted it for themselves.
type Message struct {
	ID          string
	ConvoID     string
	Rev         string
	SenderDID   string
	Text        string
	ClientMsgID string
	SentAt      int64
	Deleted     bool
}

// LogEntry is one row of an account's event log.
type LogEntry struct {
	Seq     int64
	DID     string
	ConvoID string
	Type    string
	Rev     string
	Payload []byte
}
