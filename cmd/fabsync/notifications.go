package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rickgao/fabsync/internal/notify"
)

func newNotificationsCmd(flags *globalFlags) *cobra.Command {
	var markAll bool

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Follow the notification feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.notifications(ctx, markAll, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().BoolVar(&markAll, "mark-all", false, "mark every notification read once the feed has loaded")
	return cmd
}

func (a *app) notifications(ctx context.Context, markAll bool, out io.Writer) error {
	feed := notify.New(a.pollerConfig(), a.client, a.hub, a.logger)
	feed.OnChange(func(items []notify.Item) {
		printFeed(out, items)
	})
	a.onStop(feed.Stop)

	if a.status != nil {
		a.status.Register("notifications", func() any {
			return map[string]int{"items": len(feed.Items()), "unread": feed.Unread()}
		})
	}

	if err := feed.Start(ctx); err != nil {
		return err
	}

	if markAll && feed.Unread() > 0 {
		if err := feed.MarkAllRead(ctx); err != nil {
			// The feed rolled the items back; keep following it.
			a.logger.Warn("mark all read failed", "error", err)
		}
	}
	return nil
}

func printFeed(w io.Writer, items []notify.Item) {
	unread := 0
	for _, it := range items {
		if !it.Read {
			unread++
		}
	}
	fmt.Fprintf(w, "\n%d notifications, %d unread\n", len(items), unread)
	for _, it := range items {
		mark := " "
		if !it.Read {
			mark = "*"
		}
		state := ""
		if it.State != notify.Committed {
			state = " [" + it.State.String() + "]"
		}
		fmt.Fprintf(w, "  %s %s  %-12s %s%s\n", mark, it.CreatedAt.UTC().Format("2006-01-02 15:04"), it.Type, it.Title, state)
	}
}
