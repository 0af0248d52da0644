// Package pipeline implements the post-production state machine: the
// multi-stage flow that carries a webinar or minigroup class from "live"
// through recording upload, stream conversion, event-log adjustment,
// transcoding and the terminal ready event. p2p classes never enter this
// pipeline; their close transition is handled entirely by
// internal/lifecycle.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/models"
	"github.com/foxford/dispatchd/internal/store"
)

// Store is the subset of internal/store.Store the pipeline needs.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error)
	FindByConferenceRoom(ctx context.Context, roomID string) (*models.Class, error)
	FindByScope(ctx context.Context, audience, scope string) (*models.Class, error)
	FindByModifiedEventRoom(ctx context.Context, roomID string) (*models.Class, error)
	FindByEventRoom(ctx context.Context, roomID string) (*models.Class, error)
	FindRecordingByClassAndRtc(ctx context.Context, classID, rtcID uuid.UUID) (*models.Recording, error)
	ListRecordingsByClass(ctx context.Context, classID uuid.UUID) ([]models.Recording, error)
	PersistRoomUpload(ctx context.Context, classID uuid.UUID, uploads []store.RtcUpload) ([]models.Recording, error)
	UpdateStreamUpload(ctx context.Context, id uuid.UUID, streamURI string, startedAt time.Time, segments models.Ranges) (*models.Recording, error)
	SetEventRoomPointers(ctx context.Context, id uuid.UUID, original, modified *string) error
	PersistWebinarAdjust(ctx context.Context, classID, recordingID uuid.UUID, original, modified *string, modifiedSegments models.Ranges, adjustedAt time.Time) error
	PersistMinigroupAdjust(ctx context.Context, classID uuid.UUID, original, modified *string, results []store.MinigroupAdjustResult, adjustedAt time.Time) error
	MarkTranscoded(ctx context.Context, classID uuid.UUID, at time.Time) error
	UpdateRoomEventsURIByModifiedEventRoom(ctx context.Context, roomID, uri string) error
}

// PrerollResolver returns the per-audience preroll offset (ms) applied
// during minigroup adjust.
type PrerollResolver func(audience string) int64

// Pipeline is the façade the router and HTTP restart endpoint call into.
type Pipeline struct {
	store      Store
	conference *clients.ConferenceClient
	eventlog   *clients.EventLogClient
	taskqueue  *clients.TaskQueueClient
	bus        *broker.Bus
	preroll    PrerollResolver
	logger     *zap.Logger
}

// New builds a Pipeline.
func New(st Store, conference *clients.ConferenceClient, eventlog *clients.EventLogClient, taskqueue *clients.TaskQueueClient, bus *broker.Bus, preroll PrerollResolver, logger *zap.Logger) *Pipeline {
	return &Pipeline{store: st, conference: conference, eventlog: eventlog, taskqueue: taskqueue, bus: bus, preroll: preroll, logger: logger}
}

func templateKey(cls *models.Class) string {
	return cls.Audience + "::" + cls.Scope
}

func (p *Pipeline) logTerminal(msg string, fields ...zap.Field) {
	p.logger.Error(msg, fields...)
}

func outcomeForErr(err error) broker.Outcome {
	if err == nil {
		return broker.Processed
	}
	if ae := apperr.As(err); ae.Kind.Transient() {
		return broker.ProcessLater
	}
	return broker.WontProcess
}

// inPipelineKind reports whether a class kind participates in the
// post-production pipeline at all; p2p classes never do.
func inPipelineKind(k models.Kind) bool {
	return k == models.KindWebinar || k == models.KindMinigroup
}

// OnUpload handles room.upload: persists one Recording per manifest and
// dispatches one ConvertMjrDumpsToStream task per rtc. Both the recording
// insert and the task dispatch are safe to repeat under redelivery.
func (p *Pipeline) OnUpload(ctx context.Context, conferenceRoomID string, manifests []broker.RtcManifest) broker.Outcome {
	cls, err := p.store.FindByConferenceRoom(ctx, conferenceRoomID)
	if err != nil {
		p.logger.Warn("room.upload for unknown conference room", zap.String("room_id", conferenceRoomID), zap.Error(err))
		return broker.WontProcess
	}
	if !inPipelineKind(cls.Kind) {
		p.logger.Warn("room.upload for a class kind with no post-production pipeline", zap.String("class_id", cls.ID.String()), zap.String("kind", string(cls.Kind)))
		return broker.WontProcess
	}

	uploads := make([]store.RtcUpload, 0, len(manifests))
	for _, m := range manifests {
		uploads = append(uploads, store.RtcUpload{RtcID: m.RtcID, CreatedBy: m.CreatedBy})
	}
	if _, err := p.store.PersistRoomUpload(ctx, cls.ID, uploads); err != nil {
		return outcomeForErr(err)
	}

	key := templateKey(cls)
	for _, m := range manifests {
		if err := p.taskqueue.ConvertMjrDumpsToStream(ctx, key, m.RtcID, m.MjrDumpsURIs); err != nil {
			return outcomeForErr(err)
		}
	}
	return broker.Processed
}

// OnTaskComplete handles task.complete, dispatching on the task template.
func (p *Pipeline) OnTaskComplete(ctx context.Context, evt broker.TaskCompleteEvent) broker.Outcome {
	if !evt.Success {
		p.logTerminal("task.complete reported failure, pipeline stalled; use restart-transcoding",
			zap.String("template", string(evt.Template)), zap.String("template_key", evt.TemplateKey))
		return broker.WontProcess
	}
	switch evt.Template {
	case broker.TemplateConvertMjrDumpsToStream:
		return p.onStreamComplete(ctx, evt)
	case broker.TemplateTranscodeStreamToHls:
		return p.onWebinarTranscodeComplete(ctx, evt)
	case broker.TemplateTranscodeMinigroupToHls:
		return p.onMinigroupTranscodeComplete(ctx, evt)
	default:
		p.logger.Warn("unknown task.complete template", zap.String("template", string(evt.Template)))
		return broker.WontProcess
	}
}

func splitTemplateKey(key string) (audience, scope string, ok bool) {
	parts := strings.SplitN(key, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (p *Pipeline) findByTemplateKey(ctx context.Context, key string) (*models.Class, error) {
	audience, scope, ok := splitTemplateKey(key)
	if !ok {
		return nil, apperr.Newf(apperr.KindInvalidPayload, "malformed template key %q", key)
	}
	return p.store.FindByScope(ctx, audience, scope)
}

func (p *Pipeline) onStreamComplete(ctx context.Context, evt broker.TaskCompleteEvent) broker.Outcome {
	var result broker.ConvertMjrDumpsResult
	if err := json.Unmarshal(evt.Result, &result); err != nil {
		p.logger.Warn("malformed convert-mjr-dumps-to-stream result", zap.Error(err))
		return broker.WontProcess
	}
	cls, err := p.findByTemplateKey(ctx, evt.TemplateKey)
	if err != nil {
		return outcomeForErr(err)
	}
	if !inPipelineKind(cls.Kind) {
		return broker.WontProcess
	}

	rec, err := p.store.FindRecordingByClassAndRtc(ctx, cls.ID, result.RtcID)
	if err != nil {
		return outcomeForErr(err)
	}
	if rec.Ready() {
		return broker.Processed // redelivery: already applied
	}
	if _, err := p.store.UpdateStreamUpload(ctx, rec.ID, result.StreamURI, result.StartedAt, result.Segments); err != nil {
		return outcomeForErr(err)
	}

	recordings, err := p.store.ListRecordingsByClass(ctx, cls.ID)
	if err != nil {
		return outcomeForErr(err)
	}
	if Derive(cls, recordings) != StreamsReady {
		return broker.Processed
	}
	return p.enterAdjusting(ctx, cls, recordings)
}

func (p *Pipeline) enterAdjusting(ctx context.Context, cls *models.Class, recordings []models.Recording) broker.Outcome {
	if cls.ModifiedEventRoomID != nil {
		return broker.Processed // adjust already requested for this generation
	}
	switch cls.Kind {
	case models.KindWebinar:
		return p.webinarEnterAdjusting(ctx, cls, recordings)
	case models.KindMinigroup:
		return p.minigroupEnterAdjusting(ctx, cls, recordings)
	default:
		return broker.WontProcess
	}
}

// OnAdjustResult handles room.adjust: the event-log service's async result
// for the adjust request issued by enterAdjusting. roomID is the modified
// event room's id, assigned synchronously when the request was issued.
func (p *Pipeline) OnAdjustResult(ctx context.Context, roomID string, success bool, raw json.RawMessage) broker.Outcome {
	cls, err := p.store.FindByModifiedEventRoom(ctx, roomID)
	if err != nil {
		p.logger.Warn("room.adjust for unknown modified room", zap.String("room_id", roomID), zap.Error(err))
		return broker.WontProcess
	}
	return p.applyAdjustResult(ctx, cls, success, raw)
}

// OnEditionCommit handles edition.commit: an external editing flow's
// result, fed into the same Adjusting -> Transcoding path as a synthetic
// adjust result. sourceRoomID may be either the class's original or
// current event room id.
func (p *Pipeline) OnEditionCommit(ctx context.Context, sourceRoomID string, success bool, raw json.RawMessage) broker.Outcome {
	cls, err := p.store.FindByEventRoom(ctx, sourceRoomID)
	if err != nil {
		p.logger.Warn("edition.commit for unknown room", zap.String("room_id", sourceRoomID), zap.Error(err))
		return broker.WontProcess
	}
	if cls.ModifiedEventRoomID == nil {
		p.logger.Warn("edition.commit before any adjust has run", zap.String("class_id", cls.ID.String()))
		return broker.WontProcess
	}
	return p.applyAdjustResult(ctx, cls, success, raw)
}

func (p *Pipeline) applyAdjustResult(ctx context.Context, cls *models.Class, success bool, raw json.RawMessage) broker.Outcome {
	if !success {
		p.logTerminal("adjust failed, pipeline stalled; use restart-transcoding", zap.String("class_id", cls.ID.String()))
		return broker.WontProcess
	}
	switch cls.Kind {
	case models.KindWebinar:
		return p.webinarApplyAdjust(ctx, cls, raw)
	case models.KindMinigroup:
		return p.minigroupApplyAdjust(ctx, cls, raw)
	default:
		return broker.WontProcess
	}
}

func (p *Pipeline) onWebinarTranscodeComplete(ctx context.Context, evt broker.TaskCompleteEvent) broker.Outcome {
	var result broker.TranscodeStreamResult
	if err := json.Unmarshal(evt.Result, &result); err != nil {
		p.logger.Warn("malformed transcode-stream-to-hls result", zap.Error(err))
		return broker.WontProcess
	}
	cls, err := p.findByTemplateKey(ctx, evt.TemplateKey)
	if err != nil {
		return outcomeForErr(err)
	}
	if cls.Kind != models.KindWebinar {
		return broker.WontProcess
	}
	return p.finishTranscode(ctx, cls, result.RecordingDuration, broker.LabelWebinarReady)
}

func (p *Pipeline) onMinigroupTranscodeComplete(ctx context.Context, evt broker.TaskCompleteEvent) broker.Outcome {
	var result broker.TranscodeMinigroupResult
	if err := json.Unmarshal(evt.Result, &result); err != nil {
		p.logger.Warn("malformed transcode-minigroup-to-hls result", zap.Error(err))
		return broker.WontProcess
	}
	cls, err := p.findByTemplateKey(ctx, evt.TemplateKey)
	if err != nil {
		return outcomeForErr(err)
	}
	if cls.Kind != models.KindMinigroup {
		return broker.WontProcess
	}
	return p.finishTranscode(ctx, cls, result.RecordingDuration, broker.LabelMinigroupReady)
}

func (p *Pipeline) finishTranscode(ctx context.Context, cls *models.Class, durationRaw string, label broker.Label) broker.Outcome {
	recordings, err := p.store.ListRecordingsByClass(ctx, cls.ID)
	if err != nil {
		return outcomeForErr(err)
	}
	if len(recordings) == 0 {
		return broker.WontProcess
	}
	if Derive(cls, recordings) == Ready {
		return broker.Processed // redelivery: already published
	}

	now := time.Now()
	if err := p.store.MarkTranscoded(ctx, cls.ID, now); err != nil {
		return outcomeForErr(err)
	}

	duration := parseDurationSeconds(durationRaw)
	if p.bus != nil {
		err := p.bus.Publish(ctx, cls.Audience, label, broker.ReadyEvent{
			ID: cls.ID, Scope: cls.Scope, Tags: cls.Tags, Status: "success", StreamDuration: duration,
		})
		if err != nil {
			p.logger.Error("failed to publish ready event", zap.Error(err), zap.String("class_id", cls.ID.String()))
		}
	}
	return broker.Processed
}

// parseDurationSeconds parses a fractional-seconds duration string (as
// produced by the transcoder) and rounds it to the nearest whole second.
func parseDurationSeconds(s string) uint64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return uint64(f + 0.5)
}

// OnDumpEvents handles room.dump_events: persists the archive URI on
// success; on failure it logs and continues, never blocking the pipeline.
func (p *Pipeline) OnDumpEvents(ctx context.Context, roomID string, success bool, uri string) broker.Outcome {
	if !success {
		p.logger.Warn("room.dump_events failed, continuing without archive uri", zap.String("room_id", roomID))
		return broker.Processed
	}
	if err := p.store.UpdateRoomEventsURIByModifiedEventRoom(ctx, roomID, uri); err != nil {
		p.logger.Warn("failed to persist room_events_uri", zap.String("room_id", roomID), zap.Error(err))
		return broker.Processed
	}
	return broker.Processed
}

// RestartTranscoding re-dispatches the transcoding task from the class's
// current recording snapshot, per spec §4.D/§9. It requires a prior adjust
// to have run (modified_event_room_id set).
func (p *Pipeline) RestartTranscoding(ctx context.Context, cls *models.Class, priority string) error {
	if cls.ModifiedEventRoomID == nil {
		return apperr.New(apperr.KindTranscodingFlowFailed, errors.New("cannot restart transcoding before adjust has run"))
	}
	recordings, err := p.store.ListRecordingsByClass(ctx, cls.ID)
	if err != nil {
		return err
	}
	if len(recordings) == 0 {
		return apperr.New(apperr.KindTranscodingFlowFailed, errors.New("no recordings to transcode"))
	}

	key := templateKey(cls)
	switch cls.Kind {
	case models.KindWebinar:
		rec := recordings[0]
		return p.taskqueue.RestartTranscodeStreamToHls(ctx, key, *cls.ModifiedEventRoomID, rec.ModifiedSegments, priority)
	case models.KindMinigroup:
		streams, hostStreamID, err := p.buildMinigroupStreams(ctx, cls, recordings)
		if err != nil {
			return err
		}
		return p.taskqueue.RestartTranscodeMinigroupToHls(ctx, key, streams, hostStreamID, priority)
	default:
		return apperr.New(apperr.KindTranscodingFlowFailed, fmt.Errorf("class kind %s has no transcoding flow", cls.Kind))
	}
}
