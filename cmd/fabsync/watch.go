package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/fabsync/internal/lifecycle"
	"github.com/rickgao/fabsync/internal/model"
	"github.com/rickgao/fabsync/internal/tracker"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var orderIDs []string

	cmd := &cobra.Command{
		Use:   "watch --order <id>",
		Short: "Track orders and print their timeline on every change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(orderIDs) == 0 {
				return errors.New("at least one --order is required")
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.watch(ctx, orderIDs, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringSliceVar(&orderIDs, "order", nil, "order ID to watch (repeatable)")
	return cmd
}

// watch starts one tracker per order. Initial loads run concurrently; a
// failed load is logged and left to the poller.
func (a *app) watch(ctx context.Context, orderIDs []string, out io.Writer) error {
	var (
		printMu sync.Mutex
		g       errgroup.Group
	)

	for _, id := range orderIDs {
		var opts []tracker.Option
		if a.journal != nil {
			opts = append(opts, tracker.WithRecorder(a.journal))
		}
		t := tracker.New(a.pollerConfig(), id, a.client, a.hub, a.logger, opts...)
		t.OnChange(func(o model.Order, tl lifecycle.Timeline) {
			printMu.Lock()
			defer printMu.Unlock()
			printTimeline(out, o, tl)
		})
		a.onStop(t.Stop)

		if a.status != nil {
			a.status.Register("tracker:"+id, func() any {
				return map[string]any{"order": t.Stats(), "poller": t.PollerStats()}
			})
		}

		g.Go(func() error {
			if err := t.Start(ctx); err != nil {
				a.logger.Warn("order not loaded yet; polling", "order_id", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func printTimeline(w io.Writer, o model.Order, tl lifecycle.Timeline) {
	number := o.OrderNumber
	if number == "" {
		number = o.ID
	}
	fmt.Fprintf(w, "\norder %s  status=%s  progress=%d/%d\n", number, o.Status, tl.Progress(), lifecycle.StageCount)
	for _, s := range tl {
		mark := " "
		switch {
		case s.IsCurrent:
			mark = ">"
		case s.Completed:
			mark = "x"
		}
		when := s.Date
		if s.Time != "" {
			when += " " + s.Time
		}
		if s.At.IsEstimated() && when != "" {
			when += " (est.)"
		}
		fmt.Fprintf(w, "  [%s] %d. %-20s %s\n", mark, s.Step, s.Label, when)
	}
}
