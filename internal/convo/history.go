package convo

import (
	"context"
	"fmt"
	"slices"

	"github.com/matheus3301/convo/internal/chat"
)

const defaultPageSize = 50

// HistoryPage is one page of older history, oldest first.
type HistoryPage struct {
	Entries   []chat.Entry
	Cursor    string
	Exhausted bool
}

// HistoryFetcher pages backward through a conversation's history.
type HistoryFetcher struct {
	agent   Agent
	convoID string
	limit   int

	cursor    string
	exhausted bool
}

func NewHistoryFetcher(agent Agent, convoID string, limit int) *HistoryFetcher {
	if limit <= 0 {
		limit = defaultPageSize
	}
	return &HistoryFetcher{agent: agent, convoID: convoID, limit: limit}
}

// Cursor returns the cursor of the next older page.
func (h *HistoryFetcher) Cursor() string { return h.cursor }

// Exhausted reports whether the oldest page has been reached.
func (h *HistoryFetcher) Exhausted() bool { return h.exhausted }

// Fetch requests the page before cursor. It does not move the fetcher; pass
// the result to Advance once it is merged.
func (h *HistoryFetcher) Fetch(ctx context.Context, cursor string) (HistoryPage, error) {
	page, err := h.agent.GetMessages(ctx, h.convoID, cursor, h.limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("get messages: %w", err)
	}
	entries := slices.Clone(page.Entries)
	slices.SortFunc(entries, compareEntries)
	return HistoryPage{
		Entries:   entries,
		Cursor:    page.Cursor,
		Exhausted: page.Cursor == "",
	}, nil
}

// Advance moves the fetcher past p.
func (h *HistoryFetcher) Advance(p HistoryPage) {
	h.cursor = p.Cursor
	h.exhausted = p.Exhausted
}
