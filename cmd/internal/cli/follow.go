package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aifshop/cmd/internal/app"
	"aifshop/cmd/internal/chat"

	"github.com/spf13/cobra"
)

func newFollowCmd(opts *options) *cobra.Command {
	var (
		tail    int
		metrics bool
		resync  bool
	)

	cmd := &cobra.Command{
		Use:     "follow [conversation-id]",
		Aliases: []string{"fw"},
		Short:   "Follow conversations in real time",
		Long: strings.TrimSpace(`
Print new messages as they arrive. With a conversation id the conversation is
opened: its room is joined on the hub, its recent messages are printed and
polling keeps it fresh. Without one, messages from every conversation the hub
pushes to you are printed, along with unread counter changes.

The hub connection state is printed as it changes. When the hub is down, the
REST API is polled instead.
`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			cfg.Chat.Enabled = true
			if cmd.Flags().Changed("metrics") {
				cfg.Metrics.Enabled = metrics
			}
			if cmd.Flags().Changed("resync") {
				cfg.Chat.ResyncOnReconnect = resync
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(cfg, opts.logger(cfg))
			if err != nil {
				return err
			}
			if !a.Session().Authenticated() {
				return errors.New("no usable token: set AIFSHOP_TOKEN, --token or auth.token_file")
			}

			convID := ""
			if len(args) == 1 {
				convID = strings.TrimSpace(args[0])
			}
			return follow(ctx, a, opts.printer(cmd, a.Session().UserID()), convID, tail)
		},
	}

	cmd.Flags().IntVarP(&tail, "tail", "n", 10, "recent messages to print when following one conversation")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve /metrics, /healthz and /readyz (overrides metrics.enabled)")
	cmd.Flags().BoolVar(&resync, "resync", false, "reload everything after a hub reconnect (overrides chat.resync_on_reconnect)")
	return cmd
}

// follow runs a until ctx is done, printing store changes and hub status.
func follow(ctx context.Context, a *app.App, p *printer, convID string, tail int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := a.Store()
	changes := store.Subscribe(ctx)
	status := a.Hub().Subscribe(ctx)

	a.Start()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	if convID != "" {
		openCtx, cancelOpen := context.WithTimeout(ctx, 30*time.Second)
		err := store.OpenConversation(openCtx, convID)
		cancelOpen()
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("open %s: %w", convID, err), <-runErr)
		}
		msgs := store.Messages(convID)
		if tail >= 0 && len(msgs) > tail {
			msgs = msgs[len(msgs)-tail:]
		}
		for _, m := range msgs {
			p.message(m)
		}
	}

	for {
		select {
		case err := <-runErr:
			return err
		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			p.status(st)
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			switch ch.Kind {
			case chat.ChangeMessages:
				if ch.Message != nil && (convID == "" || ch.ConversationID == convID) {
					p.message(*ch.Message)
				}
			case chat.ChangeUnread:
				p.unread(ch.Unread)
			}
		}
	}
}
