// fabsync keeps a local view of portal orders and notifications in sync
// over the push connection, falling back to REST polling while it is down.
//
// Usage:
//
//	fabsync watch --order <id> [--order <id> ...]
//	fabsync notifications [--mark-all]
//	fabsync stream
//	fabsync version
//
// Configuration is read from --config (YAML) with WS_URL, API_URL,
// FABSYNC_TOKEN and LOG_LEVEL overrides from the environment or .env.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
