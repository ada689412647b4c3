// Package tui is the terminal view of one conversation. It draws the
// snapshots the conversation engine publishes and maps keys onto the
// engine's actions.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/convo/internal/bus"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/convo"
	"github.com/matheus3301/convo/internal/status"
	"github.com/matheus3301/convo/internal/tui/keys"
	"github.com/matheus3301/convo/internal/tui/model"
	"github.com/matheus3301/convo/internal/tui/ui"
	"github.com/matheus3301/convo/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	threadPage = "thread"
	helpPage   = "help"
)

// actionTimeout bounds a single key-triggered engine call.
const actionTimeout = 30 * time.Second

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	cv        *convo.Convo
	vm        *model.Conversation
	account   chat.Profile
	registry  *keys.Registry
	theme     *ui.Theme
	thread    *views.Thread
	composer  *views.Composer
	statusBar *views.StatusBar
	help      *views.HelpView
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI for cv, signed in as account.
func NewApp(cv *convo.Convo, account chat.Profile, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		cv:        cv,
		vm:        model.NewConversation(account.DID),
		account:   account,
		registry:  keys.NewRegistry(),
		theme:     theme,
		thread:    views.NewThread(theme),
		composer:  views.NewComposer(theme),
		statusBar: views.NewStatusBar(theme),
		help:      views.NewHelpView(theme),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetAccount(account.Handle)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	live := func() bool { return a.vm.Status().Active() }

	a.registry.AddView(threadPage, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Enabled: func() bool { return a.composer.Enabled() },
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddView(threadPage, "history", &keys.Action{
		Rune: 'h', Key: tcell.KeyRune,
		Description: "h:older", Visible: true,
		Enabled: live,
		Handler: a.fetchHistory,
	})
	a.registry.AddView(threadPage, "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry", Visible: true,
		Enabled: func() bool { _, ok := a.vm.NewestRetry(); return ok },
		Handler: a.retry,
	})
	a.registry.AddView(threadPage, "delete", &keys.Action{
		Rune: 'x', Key: tcell.KeyRune,
		Description: "x:delete last", Visible: true,
		Enabled: func() bool { _, ok := a.vm.NewestOwnMessage(); return ok && live() },
		Handler: a.deleteNewest,
	})
	a.registry.AddView(threadPage, "background", &keys.Action{
		Rune: 'b', Key: tcell.KeyRune,
		Description: "b:background", Visible: true,
		Enabled: func() bool {
			s := a.vm.Status()
			return s == status.Ready || s == status.Backgrounded
		},
		Handler: a.toggleBackground,
	})
	a.registry.AddView(threadPage, "help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: a.showHelp,
	})
	a.registry.AddView(helpPage, "close", &keys.Action{
		Key:         tcell.KeyEscape,
		Description: "Esc:close", Visible: true,
		Handler: a.closeHelp,
	})
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
}

func (a *App) setupCallbacks() {
	a.composer.SetOnSend(func(text string) {
		act, ok := a.vm.Active()
		if !ok {
			return
		}
		a.do("send", func(ctx context.Context) error {
			_, err := act.Actions.SendMessage(ctx, text)
			return err
		})
	})
	a.composer.SetOnLeave(func() {
		a.app.SetFocus(a.thread)
	})
}

func (a *App) setupLayout() {
	main := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.composer, 3, 0, false)

	a.pages.AddPage(threadPage, main, true, true)
	a.pages.AddPage(helpPage, a.help, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Let the composer handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}
		page, _ := a.pages.GetFrontPage()
		if a.registry.HandleEvent(page, event) {
			a.refreshHints()
			return nil
		}
		return event
	})
}

// Run draws the conversation until the user quits. The engine is expected
// to be initialized already, as Registry.Acquire leaves it.
func (a *App) Run() error {
	updates, unsub := a.cv.Subscribe(64)
	defer unsub()
	defer a.cancel()

	go a.follow(updates)
	go a.tick()

	a.apply(a.cv.Snapshot())
	return a.app.Run()
}

// follow redraws on every snapshot the engine publishes.
func (a *App) follow(updates <-chan bus.Event) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case evt, ok := <-updates:
			if !ok {
				return
			}
			switch p := evt.Payload.(type) {
			case convo.State:
				a.app.QueueUpdateDraw(func() { a.apply(p) })
			case status.StatusChange:
				a.logger.Debug("status changed",
					zap.String("from", string(p.From)),
					zap.String("to", string(p.To)),
					zap.String("event", string(p.Event)))
			}
		}
	}
}

// tick expires the flash message and keeps the clock current.
func (a *App) tick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}
	}
}

func (a *App) apply(st convo.State) {
	a.vm.Update(st)
	a.thread.SetConvoTitle(a.vm.Title())
	a.thread.Update(st, a.vm.Handles(), a.account.DID)
	a.statusBar.SetStatus(st.Status())

	switch {
	case !st.Status().Active():
		a.composer.SetEnabled(false, "conversation is "+string(st.Status()))
	case a.vm.Blocked():
		a.composer.SetEnabled(false, "you cannot message this account")
	default:
		a.composer.SetEnabled(true, "")
	}
	if !a.composer.Enabled() && a.app.GetFocus() == a.composer.InputField {
		a.app.SetFocus(a.thread)
	}
	a.refreshHints()
}

func (a *App) refreshHints() {
	page, _ := a.pages.GetFrontPage()
	a.statusBar.SetHints(a.registry.Hints(page))
}

func (a *App) showHelp() {
	entries := []views.HelpEntry{
		{Key: "Enter", Description: "send (in composer)"},
		{Key: "Esc", Description: "leave composer"},
	}
	for _, act := range a.registry.Actions(threadPage) {
		key, desc, ok := strings.Cut(act.Description, ":")
		if !ok {
			continue
		}
		entries = append(entries, views.HelpEntry{Key: key, Description: desc})
	}
	a.help.SetEntries(entries)
	a.pages.SwitchToPage(helpPage)
	a.app.SetFocus(a.help)
}

func (a *App) closeHelp() {
	a.pages.SwitchToPage(threadPage)
	a.app.SetFocus(a.thread)
}

func (a *App) fetchHistory() {
	act, ok := a.vm.Active()
	if !ok {
		return
	}
	a.do("history", act.Actions.FetchMessageHistory)
}

func (a *App) retry() {
	r, ok := a.vm.NewestRetry()
	if !ok {
		return
	}
	a.vm.Flash.Info("retrying " + string(r.Kind))
	a.statusBar.SetFlash(a.vm.Flash.Get())
	a.do("retry", func(ctx context.Context) error { return a.cv.Retry(ctx, r) })
}

func (a *App) deleteNewest() {
	act, ok := a.vm.Active()
	if !ok {
		return
	}
	m, ok := a.vm.NewestOwnMessage()
	if !ok {
		return
	}
	a.do("delete", func(ctx context.Context) error { return act.Actions.DeleteMessage(ctx, m.ID) })
}

func (a *App) toggleBackground() {
	switch a.vm.Status() {
	case status.Ready:
		a.cv.Background()
		a.vm.Flash.Info("backgrounded, updates slow down")
	case status.Backgrounded:
		a.cv.Resume()
		a.vm.Flash.Info("resumed")
	}
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// do runs an engine call off the UI goroutine and flashes its failure.
func (a *App) do(name string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, actionTimeout)
		defer cancel()
		err := fn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		a.logger.Warn("action failed", zap.String("action", name), zap.Error(err))
		switch {
		case errors.Is(err, chat.ErrBlocked):
			a.vm.Flash.Warn("you cannot message this account")
		case errors.Is(err, convo.ErrNotActive):
			a.vm.Flash.Warn("conversation is not ready")
		default:
			a.vm.Flash.Err(err)
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash(a.vm.Flash.Get())
		})
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
