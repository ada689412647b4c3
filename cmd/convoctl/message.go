package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/spf13/cobra"
)

func sendCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <convo-id> <text>...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, _, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			msg, err := c.SendMessage(ctx, args[0], chat.MessageInput{
				Text:        strings.Join(args[1:], " "),
				ClientMsgID: uuid.NewString(),
			})
			if err != nil {
				return err
			}
			if opt.json {
				outputJSON(msg)
				return nil
			}
			fmt.Printf("Sent %s (rev %s)\n", msg.ID, msg.Rev)
			return nil
		},
	}
}

func historyCmd(opt *options) *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "history <convo-id>",
		Short: "Print one page of messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, me, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			view, err := c.GetConvo(ctx, args[0])
			if err != nil {
				return err
			}
			page, err := c.GetMessages(ctx, args[0], cursor, limit)
			if err != nil {
				return err
			}
			if opt.json {
				outputJSON(page)
				return nil
			}
			handles := handleIndex(view)
			entries := slices.Clone(page.Entries)
			slices.Reverse(entries)
			for _, e := range entries {
				fmt.Println(formatEntry(e, handles, me.DID))
			}
			if page.Cursor != "" {
				fmt.Printf("older: --cursor %s\n", page.Cursor)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func deleteCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <convo-id> <message-id>",
		Short: "Delete a message for yourself",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, _, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			del, err := c.DeleteMessageForSelf(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if opt.json {
				outputJSON(del)
				return nil
			}
			fmt.Printf("Deleted %s\n", del.ID)
			return nil
		},
	}
}

func blockCmd(opt *options, block bool) *cobra.Command {
	use, short := "block", "Block an account"
	if !block {
		use, short = "unblock", "Unblock an account"
	}
	return &cobra.Command{
		Use:   use + " <handle|did>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, _, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			did, err := resolveDID(ctx, c, args[0])
			if err != nil {
				return err
			}
			if block {
				err = c.Block(ctx, did)
			} else {
				err = c.Unblock(ctx, did)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%sed %s\n", strings.ToUpper(use[:1])+use[1:], args[0])
			return nil
		},
	}
}

func handleIndex(v *chat.ConvoView) map[string]string {
	out := make(map[string]string, len(v.Members))
	for _, p := range v.Members {
		out[p.DID] = p.Handle
	}
	return out
}

func formatEntry(e chat.Entry, handles map[string]string, self string) string {
	switch m := e.(type) {
	case chat.MessageView:
		return fmt.Sprintf("%s  %-12s %s  [%s]", m.SentAt.Local().Format(time.DateTime), who(m.Sender.DID, handles, self), m.Text, m.ID)
	case chat.DeletedMessageView:
		return fmt.Sprintf("%s  %-12s (deleted)  [%s]", m.SentAt.Local().Format(time.DateTime), who(m.Sender.DID, handles, self), m.ID)
	}
	return ""
}

func who(did string, handles map[string]string, self string) string {
	if did == self {
		return "you"
	}
	if h, ok := handles[did]; ok {
		return "@" + h
	}
	return did
}
