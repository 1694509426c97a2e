package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aifshop/cmd/internal/app"
	v1 "aifshop/contracts/hub/v1"

	"github.com/spf13/cobra"
)

func newSendCmd(opts *options) *cobra.Command {
	var (
		msgType   string
		orderID   string
		productID string
		replyTo   string
	)

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := v1.SendMessageRequest{
				ConversationID:   strings.TrimSpace(args[0]),
				Content:          strings.Join(args[1:], " "),
				Type:             v1.MessageType(strings.ToLower(strings.TrimSpace(msgType))),
				OrderID:          orderID,
				ProductID:        productID,
				ReplyToMessageID: replyTo,
			}
			if req.Type == "" {
				req.Type = v1.MessageText
			}
			if !req.Type.Valid() {
				return fmt.Errorf("unknown message type %q", msgType)
			}
			if req.Type == v1.MessageText && strings.TrimSpace(req.Content) == "" {
				return errors.New("nothing to send")
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				msg, err := a.API().SendMessage(ctx, req)
				if err != nil {
					return err
				}
				opts.printer(cmd, a.Session().UserID()).message(msg)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&msgType, "type", "t", string(v1.MessageText), "text, image, file, order or product")
	cmd.Flags().StringVar(&orderID, "order", "", "order id for --type order")
	cmd.Flags().StringVar(&productID, "product", "", "product id for --type product")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being answered")
	return cmd
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ev, err := a.API().MarkAsRead(ctx, args[0])
				if err != nil {
					return err
				}
				left := ev.UnreadCounts[a.Session().UserID()]
				fmt.Fprintf(cmd.OutOrStdout(), "marked %d message(s) read in %s, %d unread left\n", len(ev.MessageIDs), ev.ConversationID, left)
				return nil
			})
		},
	}
}

func newPrefsCmd(opts *options) *cobra.Command {
	var mute, archive, block bool

	cmd := &cobra.Command{
		Use:   "prefs <conversation-id>",
		Short: "Mute, archive or block a conversation",
		Long: strings.TrimSpace(`
Change your preferences for one conversation. Only the flags you pass are
changed, so --mute=false unmutes and leaves archive and block alone.
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u v1.PreferencesUpdate
			if cmd.Flags().Changed("mute") {
				u.IsMuted = &mute
			}
			if cmd.Flags().Changed("archive") {
				u.IsArchived = &archive
			}
			if cmd.Flags().Changed("block") {
				u.IsBlocked = &block
			}
			if u.Empty() {
				return errors.New("pass at least one of --mute, --archive or --block")
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.API().UpdatePreferences(ctx, args[0], u)
				if err != nil {
					return err
				}
				opts.printer(cmd, a.Session().UserID()).summary(s)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&mute, "mute", false, "mute notifications")
	cmd.Flags().BoolVar(&archive, "archive", false, "archive the conversation")
	cmd.Flags().BoolVar(&block, "block", false, "block the other participant")
	return cmd
}
