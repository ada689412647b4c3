package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/convo/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView lists the key bindings of the conversation screen.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help (Esc to close) ")
	tv.SetTitleColor(theme.TitleColor)

	return &HelpView{TextView: tv, theme: theme}
}

// HelpEntry is one line of the help page.
type HelpEntry struct {
	Key         string
	Description string
}

// SetEntries redraws the page.
func (hv *HelpView) SetEntries(entries []HelpEntry) {
	hv.SetText(HelpText(hv.theme, entries))
}

// HelpText draws entries as aligned key/description lines.
func HelpText(theme *ui.Theme, entries []HelpEntry) string {
	width := 0
	for _, e := range entries {
		width = max(width, len(e.Key))
	}
	var b strings.Builder
	b.WriteString("\n  [::b]Conversation[::-]\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s%-*s[-]  %s\n", ui.Tag(theme.MenuKeyColor), width, tview.Escape(e.Key), tview.Escape(e.Description))
	}
	return b.String()
}
