package banops

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MediaBackend applies the video-access side effect of a ban.
type MediaBackend interface {
	Ban(ctx context.Context, roomID, targetAccount string, ban bool) error
}

// EventBackend applies the event-access side effect of a ban.
type EventBackend interface {
	Ban(ctx context.Context, roomID, targetAccount string, ban bool) error
}

// Worker drains the intent queue and applies both side effects. Each step
// records its own completion flag conditioned on the operation id, so a
// redelivered intent re-runs only the steps that have not completed yet.
type Worker struct {
	store  Store
	queue  *Queue
	media  MediaBackend
	events EventBackend
	logger *zap.Logger
}

// NewWorker builds a Worker.
func NewWorker(store Store, queue *Queue, media MediaBackend, events EventBackend, logger *zap.Logger) *Worker {
	return &Worker{store: store, queue: queue, media: media, events: events, logger: logger}
}

// Run processes intents until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("ban intent dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := w.ProcessIntent(ctx, job.Intent); err != nil {
			w.logger.Error("ban intent processing failed",
				zap.Error(err),
				zap.String("job_id", job.ID),
				zap.Int64("op_id", job.Intent.OpID),
			)
			if rerr := w.queue.Retry(ctx, job); rerr != nil {
				w.logger.Error("ban intent retry failed", zap.Error(rerr), zap.String("job_id", job.ID))
			}
		}
	}
}

// ProcessIntent applies both side effects of one intent. A class without
// a conference room has no media plane, so its video step completes
// immediately.
func (w *Worker) ProcessIntent(ctx context.Context, intent Intent) error {
	op, err := w.store.FindBanAccountOp(ctx, intent.TargetAccount)
	if err != nil {
		return err
	}
	if op == nil || op.LastOpID != intent.OpID {
		// A later operation superseded this intent; its steps must not run.
		w.logger.Warn("dropping superseded ban intent",
			zap.Int64("op_id", intent.OpID),
			zap.String("target_account", intent.TargetAccount),
		)
		return nil
	}
	if op.Complete() {
		return nil
	}

	cls, err := w.store.FindByID(ctx, intent.ClassID)
	if err != nil {
		return err
	}

	if !op.VideoComplete {
		if cls.ConferenceRoomID != nil {
			if err := w.media.Ban(ctx, *cls.ConferenceRoomID, intent.TargetAccount, intent.Ban); err != nil {
				return err
			}
		}
		if _, err := w.store.CompleteBanStep(ctx, intent.TargetAccount, intent.OpID, true); err != nil {
			return err
		}
	}

	if !op.EventAccessComplete {
		if cls.EventRoomID != nil {
			if err := w.events.Ban(ctx, *cls.EventRoomID, intent.TargetAccount, intent.Ban); err != nil {
				return err
			}
		}
		if _, err := w.store.CompleteBanStep(ctx, intent.TargetAccount, intent.OpID, false); err != nil {
			return err
		}
	}

	w.logger.Info("ban operation completed",
		zap.Int64("op_id", intent.OpID),
		zap.String("target_account", intent.TargetAccount),
		zap.Bool("ban", intent.Ban),
	)
	return nil
}
