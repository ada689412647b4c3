package main

import (
	"fmt"

	"github.com/matheus3301/convo/internal/config"
	"github.com/matheus3301/convo/internal/session"
	"github.com/spf13/cobra"
)

func accountCmd(opt *options) *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage accounts"}

	var displayName, email string
	var makeDefault bool
	create := &cobra.Command{
		Use:   "create <handle>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			handle := args[0]
			if err := session.ValidateHandle(handle); err != nil {
				return err
			}
			ctx, cancel := opt.context()
			defer cancel()
			c, err := opt.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			p, err := c.CreateAccount(ctx, handle, displayName, email)
			if err != nil {
				return err
			}
			if makeDefault {
				cfg := config.LoadOrDefault(session.ConfigPath())
				cfg.DefaultAccount = handle
				if err := config.Save(session.ConfigPath(), cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
			}
			if opt.json {
				outputJSON(p)
				return nil
			}
			fmt.Printf("Created %s (%s)\n", p.Handle, p.DID)
			return nil
		},
	}
	create.Flags().StringVar(&displayName, "display-name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email address to verify later")
	create.Flags().BoolVar(&makeDefault, "default", false, "make this the default account")

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the resolved account",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, me, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if opt.json {
				outputJSON(me)
				return nil
			}
			fmt.Printf("%s (%s)\n", me.Handle, me.DID)
			return nil
		},
	}

	cmd.AddCommand(create, whoami)
	return cmd
}

func verifyEmailCmd(opt *options) *cobra.Command {
	cmd := &cobra.Command{Use: "verify-email", Short: "Confirm the account's email address"}

	request := &cobra.Command{
		Use:   "request",
		Short: "Issue a confirmation token (written to the daemon log)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, _, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if err := c.RequestEmailConfirmation(ctx); err != nil {
				return err
			}
			fmt.Println("Token issued. Check the daemon log, then run: convoctl verify-email confirm <email> <token>")
			return nil
		},
	}

	confirm := &cobra.Command{
		Use:   "confirm <email> <token>",
		Short: "Confirm the email with a token",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, _, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if err := c.ConfirmEmail(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Email %s confirmed.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(request, confirm)
	return cmd
}
