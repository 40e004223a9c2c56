package calsync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type OrchestratorOptions struct {
	// UserTimeout bounds one user's entire pass.
	// Defaults to 10 minutes.
	UserTimeout time.Duration
}

// Orchestrator runs sync passes for every registered user,
// sequentially, isolating per-user failures from the batch.
type Orchestrator struct {
	runner   Runner
	provider CredentialProvider
	opts     OrchestratorOptions
}

func NewOrchestrator(runner Runner, provider CredentialProvider, opts OrchestratorOptions) Orchestrator {
	if opts.UserTimeout <= 0 {
		opts.UserTimeout = time.Minute * 10
	}
	return Orchestrator{
		runner:   runner,
		provider: provider,
		opts:     opts,
	}
}

func (o Orchestrator) RunAll(ctx context.Context, users []string) {
	ctx, span := tracer.Start(ctx, "orchestrator:RunAll")
	defer span.End()
	span.SetAttributes(attribute.Int("users", len(users)))

	for _, user := range users {
		select {
		case <-ctx.Done():
			return
		default:
		}
		o.runUser(ctx, user)
	}
}

// runUser never lets one user's failure escape into the batch: every
// exit path except success is a log entry.
func (o Orchestrator) runUser(ctx context.Context, user string) {
	ctx, span := tracer.Start(ctx, "orchestrator:runUser")
	defer span.End()
	span.SetAttributes(attribute.String("user", user))

	ctx, cancel := context.WithTimeout(ctx, o.opts.UserTimeout)
	defer cancel()

	cred, ok, err := o.provider.Get(ctx, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load credential")
		slog.ErrorContext(ctx, "failed to load credential", "user", user, "err", err)
		return
	}
	if !ok {
		slog.WarnContext(ctx, "no credential for user, skipping", "user", user)
		return
	}

	if cred.RefreshToken != "" {
		refreshed, err := o.provider.Refresh(ctx, cred)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to refresh oauth token")
			slog.ErrorContext(ctx, "failed to refresh oauth token", "user", user, "err", err)
			return
		}
		// persist before use so a crash mid-pass cannot strand the
		// new token
		err = o.provider.Save(ctx, refreshed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save refreshed token")
			slog.ErrorContext(ctx, "failed to save refreshed token", "user", user, "err", err)
			return
		}
		cred = refreshed
	}

	if cred.PortalPassword == "" {
		slog.WarnContext(ctx, "no portal password for user, skipping", "user", user)
		return
	}

	err = o.runner.RunUser(ctx, user, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync pass failed")
		slog.ErrorContext(ctx, "sync pass failed", "user", user, "err", err)
		return
	}
	slog.InfoContext(ctx, "sync pass completed", "user", user)
}
