package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/fabsync/internal/router"
)

// streamTopics are printed by default.
var streamTopics = []router.Topic{
	router.TopicConnection,
	router.TopicError,
	router.TopicOrderUpdate,
	router.TopicDispatch,
	router.TopicPayment,
	router.TopicNotification,
	router.TopicPong,
	router.TopicMessage,
}

func newStreamCmd(flags *globalFlags) *cobra.Command {
	var extra []string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Print every event received on the push connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			topics := append([]router.Topic(nil), streamTopics...)
			for _, t := range extra {
				topics = append(topics, router.Topic(t))
			}
			return a.run(cmd.Context(), func(context.Context) error {
				a.stream(topics, cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&extra, "topic", nil, "additional raw message type to print (repeatable)")
	return cmd
}

func (a *app) stream(topics []router.Topic, out io.Writer) {
	var mu sync.Mutex
	c := a.hub.Attach("stream")
	for _, topic := range topics {
		c.Subscribe(topic, func(e router.Event) {
			line := formatEvent(e)
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "%s %-13s %s\n", time.Now().UTC().Format("15:04:05.000"), e.Topic(), line)
		})
	}
	a.onStop(func(context.Context) error {
		c.Detach()
		return nil
	})
}

func formatEvent(e router.Event) string {
	switch ev := e.(type) {
	case router.ErrorEvent:
		if ev.Err == nil {
			return "<nil>"
		}
		return ev.Err.Error()
	case router.PongEvent:
		return ""
	case router.RawEvent:
		return string(ev.Data)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("%+v", e)
	}
	return string(data)
}
