package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/models"
	"github.com/foxford/dispatchd/internal/store"
)

// minigroupEnterAdjusting resolves the host, reads current writer config
// snapshots and requests the multi-recording adjust, recording the freshly
// assigned modified room. The per-recording result arrives later via
// OnAdjustResult.
func (p *Pipeline) minigroupEnterAdjusting(ctx context.Context, cls *models.Class, recordings []models.Recording) broker.Outcome {
	if cls.EventRoomID == nil || cls.ConferenceRoomID == nil {
		return broker.WontProcess
	}

	host, err := resolveHost(ctx, p.eventlog, *cls.EventRoomID)
	if err != nil {
		return outcomeForErr(err)
	}
	snapshots, err := p.conference.ReadRoomWriterConfigSnapshots(ctx, *cls.ConferenceRoomID)
	if err != nil {
		return outcomeForErr(err)
	}

	recs := make([]clients.AdjustRecording, 0, len(recordings))
	hasHostRecording := false
	for _, r := range recordings {
		if r.StartedAt == nil {
			return broker.WontProcess
		}
		isHost := r.CreatedBy == host
		hasHostRecording = hasHostRecording || isHost
		recs = append(recs, clients.AdjustRecording{
			ID:        r.ID,
			RtcID:     r.RtcID,
			Host:      isHost,
			Segments:  r.Segments,
			StartedAt: *r.StartedAt,
			CreatedBy: r.CreatedBy,
		})
	}
	if !hasHostRecording {
		return outcomeForErr(apperr.Newf(apperr.KindTranscodingFlowFailed, "no host recording in room %s", *cls.EventRoomID))
	}

	var prerollOffsetMs int64
	if p.preroll != nil {
		prerollOffsetMs = p.preroll(cls.Audience)
	}

	result, err := p.eventlog.AdjustRoomV2(ctx, *cls.EventRoomID, recs, snapshots, prerollOffsetMs)
	if err != nil {
		return outcomeForErr(err)
	}
	modified := result.RoomID
	if err := p.store.SetEventRoomPointers(ctx, cls.ID, cls.EventRoomID, &modified); err != nil {
		return outcomeForErr(err)
	}
	return broker.Processed
}

// minigroupApplyAdjust persists the per-recording adjust outcome, requests
// an archive dump of the modified room and dispatches transcoding.
// room.dump_events's own outcome, handled separately by OnDumpEvents, never
// blocks this path: minigroup-specific per spec.
func (p *Pipeline) minigroupApplyAdjust(ctx context.Context, cls *models.Class, raw json.RawMessage) broker.Outcome {
	var result clients.AdjustV2Result
	if err := json.Unmarshal(raw, &result); err != nil {
		p.logger.Warn("malformed minigroup adjust result", zap.Error(err))
		return broker.WontProcess
	}

	recordings, err := p.store.ListRecordingsByClass(ctx, cls.ID)
	if err != nil {
		return outcomeForErr(err)
	}
	if len(recordings) == 0 {
		return broker.WontProcess
	}
	if recordings[0].AdjustedAt != nil {
		return broker.Processed // redelivery: already applied
	}

	adjustResults := make([]store.MinigroupAdjustResult, 0, len(result.Recordings))
	for _, r := range result.Recordings {
		adjustResults = append(adjustResults, store.MinigroupAdjustResult{
			RecordingID:       r.RecordingID,
			ModifiedSegments:  r.ModifiedSegments,
			PinSegments:       r.PinSegments,
			VideoMuteSegments: r.VideoMuteSegments,
			AudioMuteSegments: r.AudioMuteSegments,
		})
	}

	now := time.Now()
	err = p.store.PersistMinigroupAdjust(ctx, cls.ID, cls.OriginalEventRoomID, cls.ModifiedEventRoomID, adjustResults, now)
	if err != nil {
		return outcomeForErr(err)
	}

	if cls.ModifiedEventRoomID == nil {
		return outcomeForErr(apperr.New(apperr.KindTranscodingFlowFailed, errors.New("adjust result arrived before modified room id was recorded")))
	}
	if err := p.eventlog.DumpRoom(ctx, *cls.ModifiedEventRoomID); err != nil {
		p.logger.Warn("failed to request room dump", zap.String("class_id", cls.ID.String()), zap.Error(err))
	}

	recordings, err = p.store.ListRecordingsByClass(ctx, cls.ID)
	if err != nil {
		return outcomeForErr(err)
	}
	streams, hostStreamID, err := p.buildMinigroupStreams(ctx, cls, recordings)
	if err != nil {
		return outcomeForErr(err)
	}
	if err := p.taskqueue.TranscodeMinigroupToHls(ctx, templateKey(cls), streams, hostStreamID); err != nil {
		return outcomeForErr(err)
	}
	return broker.Processed
}

// buildMinigroupStreams derives each recording's transcode input -
// including its offset from the earliest start time in the group and the
// host stream id - from the modified room's resolved host.
func (p *Pipeline) buildMinigroupStreams(ctx context.Context, cls *models.Class, recordings []models.Recording) ([]clients.MinigroupStream, uuid.UUID, error) {
	if cls.ModifiedEventRoomID == nil {
		return nil, uuid.Nil, apperr.New(apperr.KindTranscodingFlowFailed, errors.New("no modified room to resolve host from"))
	}
	host, err := resolveHost(ctx, p.eventlog, *cls.ModifiedEventRoomID)
	if err != nil {
		return nil, uuid.Nil, err
	}

	earliest := earliestStart(recordings)
	streams := make([]clients.MinigroupStream, 0, len(recordings))
	var hostStreamID uuid.UUID
	for _, r := range recordings {
		var offsetMs int64
		if r.StartedAt != nil && earliest != nil {
			offsetMs = r.StartedAt.Sub(*earliest).Milliseconds()
		}
		var streamURI string
		if r.StreamURI != nil {
			streamURI = *r.StreamURI
		}
		streams = append(streams, clients.MinigroupStream{
			RtcID:             r.RtcID,
			StreamURI:         streamURI,
			OffsetMs:          offsetMs,
			Segments:          r.Segments,
			ModifiedSegments:  r.ModifiedSegments,
			PinSegments:       r.PinSegments,
			VideoMuteSegments: r.VideoMuteSegments,
			AudioMuteSegments: r.AudioMuteSegments,
		})
		if r.CreatedBy == host {
			hostStreamID = r.RtcID
		}
	}
	if hostStreamID == uuid.Nil {
		return nil, uuid.Nil, apperr.New(apperr.KindTranscodingFlowFailed, errors.New("host stream not found among recordings"))
	}
	return streams, hostStreamID, nil
}

func earliestStart(recordings []models.Recording) *time.Time {
	var earliest *time.Time
	for _, r := range recordings {
		if r.StartedAt == nil {
			continue
		}
		if earliest == nil || r.StartedAt.Before(*earliest) {
			earliest = r.StartedAt
		}
	}
	return earliest
}
