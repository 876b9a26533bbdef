package llm

import (
	"context"
	"strings"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// healthTimeout bounds the startup probe.
const healthTimeout = 60 * time.Second

// HealthCheck issues one tiny completion against the configured provider
// and model. The daemon refuses to start when this fails: a broken provider
// configuration would otherwise burn every tick.
func HealthCheck(ctx context.Context, chat ChatProvider) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	reply, err := chat.Complete(probeCtx, "", `Reply with the single word "ok".`)
	if err != nil {
		return model.Wrap(model.KindConfig, err,
			"llm health check failed for provider %s; verify llm.provider, llm.model, and credentials", chat.Name())
	}
	if strings.TrimSpace(reply) == "" {
		return model.E(model.KindConfig, "llm health check: provider %s returned an empty completion", chat.Name())
	}
	return nil
}
