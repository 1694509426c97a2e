package cli

import (
	"context"
	"fmt"

	"aifshop/cmd/internal/app"
	"aifshop/cmd/internal/restapi"

	"github.com/spf13/cobra"
)

func newConversationsCmd(opts *options) *cobra.Command {
	var (
		page     int
		pageSize int
		search   string
		messages int
	)

	cmd := &cobra.Command{
		Use:     "conversations [conversation-id]",
		Aliases: []string{"ls"},
		Short:   "List conversations, or show one conversation's latest messages",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				p := opts.printer(cmd, a.Session().UserID())
				if len(args) == 1 {
					return showConversation(ctx, a, p, args[0], messages)
				}

				if pageSize <= 0 {
					pageSize = a.Config().Chat.PageSize
				}
				res, err := a.API().ListConversations(ctx, restapi.ListParams{Page: page, PageSize: pageSize, Search: search})
				if err != nil {
					return err
				}
				if len(res.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
					return nil
				}
				for _, s := range res.Items {
					p.summary(s)
				}
				if res.HasMore() {
					fmt.Fprintf(cmd.OutOrStdout(), "more: --page %d\n", res.Page+1)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "conversations per page (default chat.page_size)")
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by participant name or last message")
	cmd.Flags().IntVarP(&messages, "messages", "n", 0, "messages to show for a single conversation (default chat.message_page_size)")
	return cmd
}

func showConversation(ctx context.Context, a *app.App, p *printer, id string, n int) error {
	if n <= 0 {
		n = a.Config().Chat.MessagePageSize
	}
	d, err := a.API().GetConversation(ctx, id, restapi.PageParams{Page: 1, PageSize: n})
	if err != nil {
		return err
	}
	p.summary(d.Conversation)
	for _, m := range d.Messages {
		p.message(m)
	}
	return nil
}

func newUnreadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the total unread message count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.API().UnreadCount(ctx)
				if err != nil {
					return err
				}
				opts.printer(cmd, "").unread(n)
				return nil
			})
		},
	}
}
