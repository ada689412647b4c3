package main

import (
	"fmt"
	"strings"

	"github.com/matheus3301/convo/internal/chat"
	"github.com/spf13/cobra"
)

func convoCmd(opt *options) *cobra.Command {
	cmd := &cobra.Command{Use: "convo", Short: "Open and list conversations"}

	open := &cobra.Command{
		Use:   "open <handle|did>...",
		Short: "Get or create the conversation with these members",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, me, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			members := make([]string, 0, len(args))
			for _, who := range args {
				did, err := resolveDID(ctx, c, who)
				if err != nil {
					return err
				}
				members = append(members, did)
			}
			view, err := c.GetConvoForMembers(ctx, members...)
			if err != nil {
				return err
			}
			if opt.json {
				outputJSON(view)
				return nil
			}
			fmt.Printf("%s  %s\n", view.ID, memberList(view, me.DID))
			return nil
		},
	}

	var limit int
	var cursor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, cancel := opt.context()
			defer cancel()
			c, me, err := opt.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			convos, next, err := c.ListConvos(ctx, cursor, limit)
			if err != nil {
				return err
			}
			if opt.json {
				outputJSON(map[string]any{"convos": convos, "cursor": next})
				return nil
			}
			if len(convos) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for i := range convos {
				v := &convos[i]
				unread := ""
				if v.UnreadCount > 0 {
					unread = fmt.Sprintf(" (%d unread)", v.UnreadCount)
				}
				fmt.Printf("%s  %s%s\n", v.ID, memberList(v, me.DID), unread)
			}
			if next != "" {
				fmt.Printf("more: --cursor %s\n", next)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "page size")
	list.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")

	cmd.AddCommand(open, list)
	return cmd
}

func memberList(v *chat.ConvoView, self string) string {
	names := make([]string, 0, len(v.Members))
	for _, p := range v.Others(self) {
		name := "@" + p.Handle
		switch {
		case p.Viewer.Blocking:
			name += " [blocked]"
		case p.Viewer.BlockedBy:
			name += " [blocks you]"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
