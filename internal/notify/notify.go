// Package notify hands new high-priority items to an external notifier
// command. The command is user-configured (notify-send, terminal-notifier,
// a webhook script); the daemon only invokes it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
	"github.com/nickpending/prismis-sub000/internal/observability"
)

// commandTimeout bounds one notifier invocation.
const commandTimeout = 10 * time.Second

// Notifier invokes the configured command once per tick with the new items.
type Notifier struct {
	command  string
	highOnly bool
	logger   *slog.Logger
}

// New builds a notifier. An empty command disables notification.
func New(command string, highPriorityOnly bool, logger *slog.Logger) *Notifier {
	return &Notifier{command: command, highOnly: highPriorityOnly, logger: logger}
}

// Notify runs the command with the batch summary in its environment:
// PRISMIS_COUNT, PRISMIS_TITLES (newline separated), PRISMIS_MESSAGE.
// Failures are logged and recorded, never propagated into the tick.
func (n *Notifier) Notify(ctx context.Context, items []model.ContentItem) {
	if n.command == "" || len(items) == 0 {
		return
	}
	if n.highOnly {
		filtered := items[:0:0]
		for _, item := range items {
			if item.Priority == model.PriorityHigh {
				filtered = append(filtered, item)
			}
		}
		items = filtered
		if len(items) == 0 {
			return
		}
	}

	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	message := fmt.Sprintf("%d new priority item(s): %s", len(items), strings.Join(titles, "; "))

	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", n.command)
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("PRISMIS_COUNT=%d", len(items)),
		"PRISMIS_TITLES="+strings.Join(titles, "\n"),
		"PRISMIS_MESSAGE="+message,
	)

	if err := cmd.Run(); err != nil {
		n.logger.Warn("notifier command failed", "error", err)
		observability.Emit("notifier.error", map[string]any{"error": err.Error()})
		return
	}
	observability.Emit("notifier.sent", map[string]any{"count": len(items)})
}
