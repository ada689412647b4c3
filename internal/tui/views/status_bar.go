package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/convo/internal/status"
	"github.com/matheus3301/convo/internal/tui/model"
	"github.com/matheus3301/convo/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows the account, the conversation status, the key hints and
// the current flash message.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	account string
	status  status.State
	hints   []string
	flash   *model.FlashMessage
	now     func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, status: status.Uninitialized, now: time.Now}
}

// SetAccount updates the account display.
func (sb *StatusBar) SetAccount(handle string) {
	sb.account = handle
	sb.render()
}

// SetStatus updates the conversation status display.
func (sb *StatusBar) SetStatus(s status.State) {
	sb.status = s
	sb.render()
}

// SetHints updates the key hints.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets the transient message, nil clears it.
func (sb *StatusBar) SetFlash(msg *model.FlashMessage) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.SetText(sb.line())
}

func (sb *StatusBar) line() string {
	line := fmt.Sprintf(" [::b]@%s[::-] | %s%s[-] | %s",
		tview.Escape(sb.account), statusColor(sb.theme, sb.status), sb.status, sb.now().Format("15:04"))
	if len(sb.hints) > 0 {
		line += " | " + tview.Escape(strings.Join(sb.hints, "  "))
	}
	if sb.flash != nil {
		line += " | " + flashColor(sb.theme, sb.flash.Level) + tview.Escape(sb.flash.Text) + "[-]"
	}
	return line
}

func statusColor(theme *ui.Theme, s status.State) string {
	switch s {
	case status.Ready:
		return ui.Tag(theme.SelfColor)
	case status.Error:
		return ui.Tag(theme.FlashErrColor)
	case status.Backgrounded, status.Suspended:
		return ui.Tag(theme.FlashWarnColor)
	}
	return ui.Tag(theme.MutedColor)
}

func flashColor(theme *ui.Theme, level model.FlashLevel) string {
	switch level {
	case model.FlashWarn:
		return ui.Tag(theme.FlashWarnColor)
	case model.FlashErr:
		return ui.Tag(theme.FlashErrColor)
	}
	return ui.Tag(theme.FlashInfoColor)
}
