package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/convo/internal/bus"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/client"
	"github.com/matheus3301/convo/internal/config"
	"github.com/matheus3301/convo/internal/convo"
	"github.com/matheus3301/convo/internal/events"
	"github.com/matheus3301/convo/internal/logging"
	"github.com/matheus3301/convo/internal/session"
	"github.com/matheus3301/convo/internal/tui"
	"go.uber.org/zap"
)

func main() {
	accountFlag := flag.String("account", "", "account handle (overrides config default)")
	homeFlag := flag.String("home", "", "data directory (overrides $"+session.HomeEnv+")")
	convoFlag := flag.String("convo", "", "conversation id to open")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: convotui [flags] (--convo <id> | <handle|did>...)\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *homeFlag != "" {
		_ = os.Setenv(session.HomeEnv, *homeFlag)
	}
	if *convoFlag == "" && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	handle := session.Resolve(*accountFlag)
	if err := session.ValidateHandle(handle); err != nil {
		fatal(err)
	}
	if err := session.EnsureDir(); err != nil {
		fatal(err)
	}
	cfg := config.LoadOrDefault(session.ConfigPath())
	logger, err := logging.NewFileOnly(session.LogPath("convotui"), "convotui")
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	socketPath := session.SocketPath()

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(socketPath) {
		fmt.Fprintln(os.Stderr, "daemon not running, starting...")
		if err := startDaemon(); err != nil {
			fatal(fmt.Errorf("failed to start daemon: %w", err))
		}
		if err := waitForDaemon(socketPath, 10*time.Second); err != nil {
			fatal(fmt.Errorf("daemon did not become ready: %w", err))
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fatal(fmt.Errorf("connect to daemon: %w", err))
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	me, err := c.Login(ctx, handle)
	if errors.Is(err, chat.ErrNotFound) {
		cancel()
		fatal(fmt.Errorf("no account %q; create it with: convoctl account create %s", handle, handle))
	}
	if err != nil {
		cancel()
		fatal(err)
	}
	convoID := *convoFlag
	if convoID == "" {
		convoID, err = openConvo(ctx, c, flag.Args())
	}
	cancel()
	if err != nil {
		fatal(err)
	}
	logger.Info("opening conversation", zap.String("account", me.Handle), zap.String("convo", convoID))

	eb := events.New(c, events.Options{
		ForegroundInterval: cfg.Poll.ForegroundInterval(),
		BackgroundInterval: cfg.Poll.BackgroundInterval(),
		MaxRetries:         cfg.Poll.MaxRetries,
	}, logger.Named("events"))
	defer eb.Teardown()

	reg := convo.NewRegistry(c, eb, bus.New(), convo.Options{HistoryPageSize: cfg.HistoryPageSize}, logger.Named("convo"))
	defer reg.Close()
	cv := reg.Acquire(convoID)
	defer reg.Release(convoID)

	app := tui.NewApp(cv, *me, logger.Named("tui"))
	if err := app.Run(); err != nil {
		fatal(err)
	}
}

// openConvo finds or creates the conversation with the given members.
func openConvo(ctx context.Context, c *client.Client, members []string) (string, error) {
	dids := make([]string, 0, len(members))
	for _, m := range members {
		if strings.HasPrefix(m, "did:") {
			dids = append(dids, m)
			continue
		}
		p, err := c.ResolveHandle(ctx, strings.TrimPrefix(m, "@"))
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", m, err)
		}
		dids = append(dids, p.DID)
	}
	v, err := c.GetConvoForMembers(ctx, dids...)
	if err != nil {
		return "", fmt.Errorf("open conversation: %w", err)
	}
	return v.ID, nil
}

// probeDaemon reports whether a daemon answers on the socket. Any reply,
// including not found, proves the service is up.
func probeDaemon(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.ResolveHandle(ctx, session.DefaultAccount)
	return err == nil || !errors.Is(err, chat.ErrUnavailable)
}

func startDaemon() error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	convod := filepath.Join(filepath.Dir(executable), "convod")

	if _, err := os.Stat(convod); err != nil {
		convod = "convod"
	}

	cmd := exec.Command(convod, "--home", session.BaseDir())
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real call until it answers.
func waitForDaemon(socketPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if probeDaemon(socketPath) {
			return struct{}{}, nil
		}
		return struct{}{}, errors.New("daemon not answering")
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(300*time.Millisecond)),
		backoff.WithMaxElapsedTime(timeout),
	)
	return err
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
