package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/convo"
	"github.com/matheus3301/convo/internal/tui/ui"
	"github.com/rivo/tview"
)

// Thread shows the items of one conversation, oldest first.
type Thread struct {
	*tview.TextView
	theme *ui.Theme
	last  string
}

// NewThread creates an empty thread view.
func NewThread(theme *ui.Theme) *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)
	tv.SetTitle(" Conversation ")
	return &Thread{TextView: tv, theme: theme}
}

// SetConvoTitle updates the border title.
func (t *Thread) SetConvoTitle(name string) {
	t.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitize(name))))
}

// Update redraws the thread from a snapshot. It only scrolls to the end
// when the content changed.
func (t *Thread) Update(st convo.State, handles map[string]string, self string) {
	text := Render(t.theme, st, handles, self)
	if text == t.last {
		return
	}
	t.last = text
	t.SetText(text)
	t.ScrollToEnd()
}

// Render draws every row of a snapshot as tview-tagged text.
func Render(theme *ui.Theme, st convo.State, handles map[string]string, self string) string {
	var b strings.Builder
	switch s := st.(type) {
	case convo.StateUninitialized:
		fmt.Fprintf(&b, "%sLoading...[-]\n", ui.Tag(theme.MutedColor))
	case convo.StateError:
		fmt.Fprintf(&b, "%s%s[-]\n", ui.Tag(theme.FlashErrColor), tview.Escape(describeConvoError(s.Error)))
		fmt.Fprintf(&b, "%spress r to try again[-]\n", ui.Tag(theme.MutedColor))
		return b.String()
	}
	if a, ok := convo.ActiveOf(st); ok && a.IsFetchingHistory {
		fmt.Fprintf(&b, "%sLoading older messages...[-]\n", ui.Tag(theme.MutedColor))
	}
	if s, ok := st.(convo.StateInitializing); ok && s.IsFetchingHistory && len(s.Items) == 0 {
		fmt.Fprintf(&b, "%sLoading...[-]\n", ui.Tag(theme.MutedColor))
	}
	for _, it := range convo.ItemsOf(st) {
		b.WriteString(RenderItem(theme, it, handles, self))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderItem draws one row.
func RenderItem(theme *ui.Theme, it convo.Item, handles map[string]string, self string) string {
	switch v := it.(type) {
	case convo.MessageItem:
		return header(theme, v.Message.Sender.DID, v.Message.SentAt, handles, self, "") +
			"\n" + tview.Escape(sanitize(v.Message.Text))
	case convo.PendingMessageItem:
		note := "sending"
		if v.Failed {
			note = ui.Tag(theme.FlashErrColor) + "failed, press r to retry[-]"
		}
		return header(theme, self, v.Message.SentAt, handles, self, note) +
			"\n" + ui.Tag(theme.MutedColor) + tview.Escape(sanitize(v.Message.Text)) + "[-]"
	case convo.DeletedMessageItem:
		return header(theme, v.Message.Sender.DID, v.Message.SentAt, handles, self, "") +
			"\n" + ui.Tag(theme.MutedColor) + "[::i]message deleted[::-][-]"
	case convo.ErrorItem:
		line := ui.Tag(theme.FlashErrColor) + "! " + describeItemError(v.Code) + "[-]"
		if v.Retry != nil {
			line += ui.Tag(theme.MutedColor) + " (r to retry)[-]"
		}
		return line
	}
	return ""
}

func header(theme *ui.Theme, did string, at time.Time, handles map[string]string, self, note string) string {
	color := theme.OtherColor
	name := did
	if h, ok := handles[did]; ok {
		name = "@" + h
	}
	if did == self {
		color = theme.SelfColor
		name = "You"
	}
	out := fmt.Sprintf("%s[::b]%s[::-][-] %s%s[-]", ui.Tag(color), tview.Escape(sanitize(name)), ui.Tag(theme.MutedColor), formatTimestamp(at))
	if note != "" {
		out += " " + ui.Tag(theme.MutedColor) + "(" + note + ")[-]"
	}
	return out
}

func describeItemError(code convo.ItemError) string {
	switch code {
	case convo.FirehoseFailed:
		return "lost connection to live updates"
	case convo.HistoryFailed:
		return "could not load older messages"
	case convo.UserBlocked:
		return "you cannot message this account"
	}
	return "something went wrong"
}

func describeConvoError(e convo.ConvoError) string {
	switch e.Code {
	case convo.InitFailed:
		return "could not open the conversation: " + errText(e.Err)
	case convo.FirehoseTerminated:
		return "live updates stopped: " + errText(e.Err)
	}
	return e.Error()
}

func errText(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case chat.Temporary(err):
		return "the daemon is unreachable"
	}
	return err.Error()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}
