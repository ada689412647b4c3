package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/convo/internal/tui/ui"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages. It is read-only while
// the conversation cannot take new messages.
type Composer struct {
	*tview.InputField
	onSend  func(text string)
	onLeave func()
	enabled bool
}

// NewComposer creates a new message composer.
func NewComposer(theme *ui.Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitleColor(theme.TitleColor)
	input.SetTitle(" Compose (i to focus) ")

	c := &Composer{InputField: input, enabled: true}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := c.GetText()
			if !c.enabled || strings.TrimSpace(text) == "" || c.onSend == nil {
				return
			}
			c.onSend(text)
			c.SetText("")
		case tcell.KeyEscape:
			if c.onLeave != nil {
				c.onLeave()
			}
		}
	})

	return c
}

// SetOnSend sets the callback when a message is submitted.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnLeave sets the callback when Escape is pressed.
func (c *Composer) SetOnLeave(fn func()) {
	c.onLeave = fn
}

// SetEnabled toggles whether Enter sends. The reason is shown as the
// placeholder while disabled.
func (c *Composer) SetEnabled(enabled bool, reason string) {
	c.enabled = enabled
	if enabled {
		c.SetPlaceholder("")
		return
	}
	c.SetPlaceholder(reason)
}

// Enabled reports whether Enter sends.
func (c *Composer) Enabled() bool { return c.enabled }
