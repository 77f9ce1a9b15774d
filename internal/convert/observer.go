package convert

import "context"

// Observer receives job lifecycle notifications. Calls happen on the job's
// goroutine in lifecycle order and must not block for long.
type Observer interface {
	JobStarted(ctx context.Context, snap Snapshot)
	StageChanged(ctx context.Context, snap Snapshot, from Stage)
	JobFinished(ctx context.Context, snap Snapshot)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStart  func(ctx context.Context, snap Snapshot)
	OnStage  func(ctx context.Context, snap Snapshot, from Stage)
	OnFinish func(ctx context.Context, snap Snapshot)
}

func (o ObserverFuncs) JobStarted(ctx context.Context, snap Snapshot) {
	if o.OnStart != nil {
		o.OnStart(ctx, snap)
	}
}

func (o ObserverFuncs) StageChanged(ctx context.Context, snap Snapshot, from Stage) {
	if o.OnStage != nil {
		o.OnStage(ctx, snap, from)
	}
}

func (o ObserverFuncs) JobFinished(ctx context.Context, snap Snapshot) {
	if o.OnFinish != nil {
		o.OnFinish(ctx, snap)
	}
}
