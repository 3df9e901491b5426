// Package notify defines the outbound notification contract. Delivery
// mechanics (email, push, SMS) live outside this engine; the default
// implementation records the intent in the structured log.
package notify

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityUrgent Severity = "urgent"
)

type Notifier interface {
	// NotifyActor informs a single client/provider/marketing actor.
	NotifyActor(ctx context.Context, actorID snowflake.ID, subject, message string)
	// NotifyOperators alerts platform operators; urgent severity is reserved
	// for money invariant violations and disputes.
	NotifyOperators(ctx context.Context, severity Severity, subject string, fields map[string]any)
}

type logNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notify")}
}

func (n *logNotifier) NotifyActor(ctx context.Context, actorID snowflake.ID, subject, message string) {
	_ = ctx
	n.log.Info("actor notification",
		zap.String("actor_id", actorID.String()),
		zap.String("subject", subject),
		zap.String("message", message),
	)
}

func (n *logNotifier) NotifyOperators(ctx context.Context, severity Severity, subject string, fields map[string]any) {
	_ = ctx
	zapFields := []zap.Field{
		zap.String("severity", string(severity)),
		zap.String("subject", subject),
	}
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	if severity == SeverityUrgent {
		n.log.Error("operator notification", zapFields...)
		return
	}
	n.log.Warn("operator notification", zapFields...)
}

var Module = fx.Module("notify",
	fx.Provide(NewLogNotifier),
)
