package rpc

import "github.com/matheus3301/convo/internal/chat"

type Empty struct{}

type CreateAccountRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

type ProfileResponse struct {
	Profile chat.Profile `json:"profile"`
}

type ResolveHandleRequest struct {
	Handle string `json:"handle"`
}

type GetConvoForMembersRequest struct {
	Members []string `json:"members"`
}

type GetConvoRequest struct {
	ConvoID string `json:"convo_id"`
}

type ConvoResponse struct {
	Convo chat.ConvoView `json:"convo"`
}

type ListConvosRequest struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListConvosResponse struct {
	Cursor string           `json:"cursor,omitempty"`
	Convos []chat.ConvoView `json:"convos"`
}

type GetMessagesRequest struct {
	ConvoID string `json:"convo_id"`
	Cursor  string `json:"cursor,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// WireEntry carries a chat.Entry: exactly one field is set.
type WireEntry struct {
	Message *chat.MessageView        `json:"message,omitempty"`
	Deleted *chat.DeletedMessageView `json:"deleted,omitempty"`
}

type GetMessagesResponse struct {
	Cursor   string      `json:"cursor,omitempty"`
	Messages []WireEntry `json:"messages"`
}

// EncodeEntries converts entries for the wire.
func EncodeEntries(entries []chat.Entry) []WireEntry {
	out := make([]WireEntry, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case chat.MessageView:
			out = append(out, WireEntry{Message: &v})
		case chat.DeletedMessageView:
			out = append(out, WireEntry{Deleted: &v})
		}
	}
	return out
}

// DecodeEntries converts wire entries back, skipping empty ones.
func DecodeEntries(in []WireEntry) []chat.Entry {
	out := make([]chat.Entry, 0, len(in))
	for _, w := range in {
		switch {
		case w.Message != nil:
			out = append(out, *w.Message)
		case w.Deleted != nil:
			out = append(out, *w.Deleted)
		}
	}
	return out
}

type SendMessageRequest struct {
	ConvoID string            `json:"convo_id"`
	Message chat.MessageInput `json:"message"`
}

type SendMessageResponse struct {
	Message chat.MessageView `json:"message"`
}

type DeleteMessageForSelfRequest struct {
	ConvoID   string `json:"convo_id"`
	MessageID string `json:"message_id"`
}

type DeleteMessageForSelfResponse struct {
	Deleted chat.DeletedMessageView `json:"deleted"`
}

type GetLogRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

type GetLogResponse struct {
	chat.LogPage
}

type BlockRequest struct {
	DID string `json:"did"`
}

type ConfirmEmailRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}
