package convo

// RetryKind names the operation a Retry re-runs.
type RetryKind string

const (
	RetryInit     RetryKind = "init"
	RetrySend     RetryKind = "send"
	RetryDelete   RetryKind = "delete"
	RetryHistory  RetryKind = "history"
	RetryFirehose RetryKind = "firehose"
)

// Retry describes how to re-attempt a failed operation. It is a plain value,
// so snapshots holding it stay comparable and safe to keep around; run it
// with Convo.Retry.
type Retry struct {
	Kind      RetryKind
	ConvoID   string
	MessageID string
	Text      string
}

func initRetry(convoID string) Retry {
	return Retry{Kind: RetryInit, ConvoID: convoID}
}

func sendRetry(convoID, pendingID, text string) *Retry {
	return &Retry{Kind: RetrySend, ConvoID: convoID, MessageID: pendingID, Text: text}
}

func deleteRetry(convoID, messageID string) *Retry {
	return &Retry{Kind: RetryDelete, ConvoID: convoID, MessageID: messageID}
}

func historyRetry(convoID string) *Retry {
	return &Retry{Kind: RetryHistory, ConvoID: convoID}
}

func firehoseRetry(convoID string) *Retry {
	return &Retry{Kind: RetryFirehose, ConvoID: convoID}
}
