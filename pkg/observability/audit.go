package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// AuditHooks logs every lifecycle event at info level.
func AuditHooks(logger *slog.Logger) domain.LifecycleHooks {
	log := func(ctx context.Context, ev *domain.Event) {
		attrs := []any{
			"instance_id", ev.InstanceID,
			"seq", ev.Seq,
		}
		if ev.NodeID != "" {
			attrs = append(attrs, "node_id", ev.NodeID)
		}
		if ev.Reason != "" {
			attrs = append(attrs, "reason", ev.Reason)
		}
		if ev.DecoratorID != "" {
			attrs = append(attrs, "decorator_id", ev.DecoratorID)
		}
		if ev.Command != nil {
			attrs = append(attrs, "command", ev.Command.Name)
		}
		logger.InfoContext(ctx, string(ev.Type), attrs...)
	}
	return domain.LifecycleHooks{
		OnInstanceStarted:   log,
		OnNodeEntered:       log,
		OnInstancePaused:    log,
		OnInstanceResumed:   log,
		OnInstanceCompleted: log,
		OnInstanceAborted:   log,
		OnInstanceEnded:     log,
		OnCommand:           log,
	}
}
