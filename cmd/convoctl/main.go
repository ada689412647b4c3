package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/client"
	"github.com/matheus3301/convo/internal/session"
	"github.com/spf13/cobra"
)

type options struct {
	account string
	home    string
	json    bool
	timeout time.Duration
}

func main() {
	opt := &options{timeout: 10 * time.Second}

	root := &cobra.Command{
		Use:           "convoctl",
		Short:         "Talk to the convo daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opt.home != "" {
				return os.Setenv(session.HomeEnv, opt.home)
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opt.account, "account", "", "account handle (overrides config default)")
	flags.StringVar(&opt.home, "home", "", "data directory (overrides $"+session.HomeEnv+")")
	flags.BoolVar(&opt.json, "json", false, "output in JSON format")
	flags.DurationVar(&opt.timeout, "timeout", opt.timeout, "per-command deadline")

	root.AddCommand(
		accountCmd(opt),
		convoCmd(opt),
		sendCmd(opt),
		historyCmd(opt),
		deleteCmd(opt),
		blockCmd(opt, true),
		blockCmd(opt, false),
		verifyEmailCmd(opt),
		watchCmd(opt),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the daemon without logging in.
func (o *options) dial() (*client.Client, error) {
	c, err := client.New(session.SocketPath())
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon: %w", err)
	}
	return c, nil
}

// connect dials the daemon and logs in as the resolved account.
func (o *options) connect(ctx context.Context) (*client.Client, *chat.Profile, error) {
	handle := session.Resolve(o.account)
	if err := session.ValidateHandle(handle); err != nil {
		return nil, nil, err
	}
	c, err := o.dial()
	if err != nil {
		return nil, nil, err
	}
	me, err := c.Login(ctx, handle)
	if errors.Is(err, chat.ErrNotFound) {
		_ = c.Close()
		return nil, nil, fmt.Errorf("no account %q; create it with: convoctl account create %s", handle, handle)
	}
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return c, me, nil
}

func (o *options) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.timeout)
}

// resolveDID accepts either a DID or a handle.
func resolveDID(ctx context.Context, c *client.Client, who string) (string, error) {
	if strings.HasPrefix(who, "did:") {
		return who, nil
	}
	p, err := c.ResolveHandle(ctx, who)
	if err != nil {
		return "", err
	}
	return p.DID, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
