// Package router dispatches inbound broker messages into the lifecycle
// service and the post-production pipeline. Each message is handled on its
// own goroutine; per-class ordering comes from the database constraints,
// never from the router.
package router

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
)

// Lifecycle is the close-transition slice of the lifecycle service.
type Lifecycle interface {
	CloseByRoom(ctx context.Context, roomID string, timedOut bool) error
}

// Pipeline is the post-production slice the router feeds.
type Pipeline interface {
	OnUpload(ctx context.Context, conferenceRoomID string, manifests []broker.RtcManifest) broker.Outcome
	OnTaskComplete(ctx context.Context, evt broker.TaskCompleteEvent) broker.Outcome
	OnAdjustResult(ctx context.Context, roomID string, success bool, raw json.RawMessage) broker.Outcome
	OnDumpEvents(ctx context.Context, roomID string, success bool, uri string) broker.Outcome
	OnEditionCommit(ctx context.Context, sourceRoomID string, success bool, raw json.RawMessage) broker.Outcome
}

// ErrorMapper converts a lifecycle error into a broker outcome.
type ErrorMapper func(error) broker.Outcome

// Router parses broker envelopes and dispatches by label.
type Router struct {
	lifecycle  Lifecycle
	pipeline   Pipeline
	mapErr     ErrorMapper
	logger     *zap.Logger
	redelivery time.Duration
	maxRetries int
}

// New builds a Router. mapErr decides whether a lifecycle error warrants
// redelivery; pass nil for the default (transient kinds -> ProcessLater).
func New(lifecycle Lifecycle, pipeline Pipeline, mapErr ErrorMapper, logger *zap.Logger) *Router {
	if mapErr == nil {
		mapErr = defaultErrorMapper
	}
	return &Router{
		lifecycle:  lifecycle,
		pipeline:   pipeline,
		mapErr:     mapErr,
		logger:     logger,
		redelivery: 5 * time.Second,
		maxRetries: 5,
	}
}

// Dispatch routes one message to its handler and reports the outcome.
// Unknown labels are logged and dropped.
func (r *Router) Dispatch(ctx context.Context, msg broker.Message) broker.Outcome {
	switch msg.Label {
	case broker.LabelRoomClose:
		var evt broker.RoomCloseEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return r.malformed(msg.Label, err)
		}
		if err := r.lifecycle.CloseByRoom(ctx, evt.RoomID, evt.TimedOut); err != nil {
			return r.mapErr(err)
		}
		return broker.Processed

	case broker.LabelRoomUpload:
		var evt broker.RoomUploadEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return r.malformed(msg.Label, err)
		}
		return r.pipeline.OnUpload(ctx, evt.RoomID, evt.Manifests)

	case broker.LabelTaskComplete:
		var evt broker.TaskCompleteEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return r.malformed(msg.Label, err)
		}
		return r.pipeline.OnTaskComplete(ctx, evt)

	case broker.LabelRoomAdjust:
		var evt broker.RoomAdjustEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return r.malformed(msg.Label, err)
		}
		return r.pipeline.OnAdjustResult(ctx, evt.RoomID, evt.Success, evt.Result)

	case broker.LabelRoomDumpEvents:
		var evt broker.RoomDumpEventsEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return r.malformed(msg.Label, err)
		}
		return r.pipeline.OnDumpEvents(ctx, evt.RoomID, evt.Success, evt.URI)

	case broker.LabelEditionCommit:
		var evt broker.EditionCommitEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return r.malformed(msg.Label, err)
		}
		return r.pipeline.OnEditionCommit(ctx, evt.SourceRoomID, evt.Success, evt.Result)

	default:
		r.logger.Warn("dropping message with unknown label", zap.String("label", string(msg.Label)))
		return broker.WontProcess
	}
}

func (r *Router) malformed(label broker.Label, err error) broker.Outcome {
	r.logger.Warn("malformed broker payload", zap.String("label", string(label)), zap.Error(err))
	return broker.WontProcess
}

// Run consumes messages from msgs until the channel closes or ctx is
// cancelled. A ProcessLater outcome schedules an in-process redelivery
// after a backoff, up to maxRetries attempts; the work then waits for the
// collaborator to re-emit the message.
func (r *Router) Run(ctx context.Context, msgs <-chan broker.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			go r.handle(ctx, msg, 0)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg broker.Message, attempt int) {
	outcome := r.Dispatch(ctx, msg)
	switch outcome {
	case broker.ProcessLater:
		if attempt >= r.maxRetries {
			r.logger.Error("giving up on message after redeliveries",
				zap.String("label", string(msg.Label)),
				zap.Int("attempts", attempt+1),
			)
			return
		}
		timer := time.NewTimer(r.redelivery * time.Duration(attempt+1))
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			r.handle(ctx, msg, attempt+1)
		}
	case broker.WontProcess:
		r.logger.Warn("message will not be processed", zap.String("label", string(msg.Label)))
	}
}

func defaultErrorMapper(err error) broker.Outcome {
	if err == nil {
		return broker.Processed
	}
	if ae := apperr.As(err); ae.Kind.Transient() {
		return broker.ProcessLater
	}
	return broker.WontProcess
}
