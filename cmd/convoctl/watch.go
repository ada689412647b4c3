package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/convo/internal/bus"
	"github.com/matheus3301/convo/internal/config"
	"github.com/matheus3301/convo/internal/convo"
	"github.com/matheus3301/convo/internal/events"
	"github.com/matheus3301/convo/internal/logging"
	"github.com/matheus3301/convo/internal/session"
	"github.com/matheus3301/convo/internal/status"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func watchCmd(opt *options) *cobra.Command {
	var sendStdin bool
	cmd := &cobra.Command{
		Use:   "watch <convo-id>",
		Short: "Run the conversation engine and print every change",
		Long: "Loads the conversation, follows its event log and prints status changes\n" +
			"and items as they appear. With --send-stdin every line read from stdin is sent.",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opt, args[0], sendStdin)
		},
	}
	cmd.Flags().BoolVar(&sendStdin, "send-stdin", false, "send each line read from stdin")
	return cmd
}

func runWatch(ctx context.Context, opt *options, convoID string, sendStdin bool) error {
	cfg := config.LoadOrDefault(session.ConfigPath())
	logger, err := logging.NewFileOnly(session.LogPath("convoctl"), "convoctl")
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	loginCtx, cancel := opt.context()
	c, me, err := opt.connect(loginCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	eb := events.New(c, events.Options{
		ForegroundInterval: cfg.Poll.ForegroundInterval(),
		BackgroundInterval: cfg.Poll.BackgroundInterval(),
		MaxRetries:         cfg.Poll.MaxRetries,
	}, logger.Named("events"))
	defer eb.Teardown()

	reg := convo.NewRegistry(c, eb, bus.New(), convo.Options{HistoryPageSize: cfg.HistoryPageSize}, logger)
	defer reg.Close()
	cv := reg.Acquire(convoID)
	defer reg.Release(convoID)

	updates, unsub := cv.Subscribe(256)
	defer unsub()

	if sendStdin {
		go sendLines(ctx, cv, os.Stdin)
	}

	printer := &itemPrinter{self: me.DID, seen: map[string]string{}}
	fmt.Printf("-- %s\n", cv.Snapshot().Status())
	printer.print(cv.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			switch p := evt.Payload.(type) {
			case status.StatusChange:
				fmt.Printf("-- %s -> %s\n", p.From, p.To)
			case convo.State:
				printer.print(p)
			}
		}
	}
}

// sendLines sends every non-empty line of in through the engine.
func sendLines(ctx context.Context, cv *convo.Convo, in *os.File) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		a, ok := convo.ActiveOf(cv.Snapshot())
		if !ok {
			fmt.Fprintln(os.Stderr, "conversation not ready, dropped:", text)
			continue
		}
		if _, err := a.Actions.SendMessage(ctx, text); err != nil {
			fmt.Fprintln(os.Stderr, "send:", err)
		}
	}
}

// itemPrinter prints items whose rendering changed since the last snapshot.
type itemPrinter struct {
	self    string
	handles map[string]string
	seen    map[string]string
}

func (p *itemPrinter) print(st convo.State) {
	if a, ok := convo.ActiveOf(st); ok {
		p.handles = handleIndex(&a.Convo)
	}
	if e, ok := st.(convo.StateError); ok {
		fmt.Printf("!! %s: %v\n", e.Error.Code, e.Error.Err)
		return
	}
	for _, it := range convo.ItemsOf(st) {
		line := p.render(it)
		if p.seen[it.ItemKey()] == line {
			continue
		}
		p.seen[it.ItemKey()] = line
		fmt.Println(line)
	}
}

func (p *itemPrinter) render(it convo.Item) string {
	switch v := it.(type) {
	case convo.MessageItem:
		return formatEntry(v.Message, p.handles, p.self)
	case convo.DeletedMessageItem:
		return formatEntry(v.Message, p.handles, p.self)
	case convo.PendingMessageItem:
		state := "sending"
		if v.Failed {
			state = "failed"
		}
		return fmt.Sprintf("%s  %-12s %s  (%s)", v.Message.SentAt.Local().Format(time.DateTime), "you", v.Message.Text, state)
	case convo.ErrorItem:
		return fmt.Sprintf("!! %s", describeError(v.Code))
	}
	return ""
}

func describeError(code convo.ItemError) string {
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
