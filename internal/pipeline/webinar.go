package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/models"
)

// webinarEnterAdjusting requests the event-log adjust for a webinar's sole
// recording and records the freshly assigned modified room. The adjust's
// numeric result arrives later via OnAdjustResult.
func (p *Pipeline) webinarEnterAdjusting(ctx context.Context, cls *models.Class, recordings []models.Recording) broker.Outcome {
	if len(recordings) != 1 {
		p.logger.Warn("webinar class has an unexpected recording count", zap.String("class_id", cls.ID.String()), zap.Int("count", len(recordings)))
		return broker.WontProcess
	}
	rec := recordings[0]
	if cls.EventRoomID == nil || rec.StartedAt == nil {
		return broker.WontProcess
	}

	result, err := p.eventlog.AdjustRoom(ctx, *cls.EventRoomID, *rec.StartedAt, rec.Segments)
	if err != nil {
		return outcomeForErr(err)
	}
	modified := result.RoomID
	if err := p.store.SetEventRoomPointers(ctx, cls.ID, cls.EventRoomID, &modified); err != nil {
		return outcomeForErr(err)
	}
	return broker.Processed
}

// webinarApplyAdjust persists the event-log's async adjust result and
// dispatches the transcoding task.
func (p *Pipeline) webinarApplyAdjust(ctx context.Context, cls *models.Class, raw json.RawMessage) broker.Outcome {
	var result clients.AdjustResult
	if err := json.Unmarshal(raw, &result); err != nil {
		p.logger.Warn("malformed webinar adjust result", zap.Error(err))
		return broker.WontProcess
	}

	recordings, err := p.store.ListRecordingsByClass(ctx, cls.ID)
	if err != nil {
		return outcomeForErr(err)
	}
	if len(recordings) != 1 {
		return broker.WontProcess
	}
	rec := recordings[0]
	if rec.AdjustedAt != nil {
		return broker.Processed // redelivery: already applied
	}

	now := time.Now()
	err = p.store.PersistWebinarAdjust(ctx, cls.ID, rec.ID, cls.OriginalEventRoomID, cls.ModifiedEventRoomID, result.ModifiedSegments, now)
	if err != nil {
		return outcomeForErr(err)
	}

	if cls.ModifiedEventRoomID == nil {
		return outcomeForErr(apperr.New(apperr.KindTranscodingFlowFailed, errors.New("adjust result arrived before modified room id was recorded")))
	}
	err = p.taskqueue.TranscodeStreamToHls(ctx, templateKey(cls), *cls.ModifiedEventRoomID, result.ModifiedSegments)
	if err != nil {
		return outcomeForErr(err)
	}
	return broker.Processed
}
