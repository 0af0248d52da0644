// Package broker implements the NATS-backed message bus: publishing
// lifecycle/ready events and subscribing to inbound room/task events.
package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/foxford/dispatchd/internal/models"
)

// Label identifies the kind of inbound or outbound message.
type Label string

const (
	LabelRoomClose      Label = "room.close"
	LabelRoomUpload     Label = "room.upload"
	LabelTaskComplete   Label = "task.complete"
	LabelRoomAdjust     Label = "room.adjust"
	LabelRoomDumpEvents Label = "room.dump_events"
	LabelEditionCommit  Label = "edition.commit"

	LabelP2PClose              Label = "p2p.close"
	LabelWebinarClose          Label = "webinar.close"
	LabelMinigroupClose        Label = "minigroup.close"
	LabelMinigroupReady        Label = "minigroup.ready"
	LabelWebinarReady          Label = "webinar.ready"
	LabelScopeFrontendRollback Label = "scope.frontend.rollback"
)

// Message is an inbound broker envelope, already demultiplexed to one
// audience's topic.
type Message struct {
	Label    Label
	Audience string
	Payload  json.RawMessage
}

// Outcome is the router's verdict on one inbound message, mapped to the
// broker's redelivery policy.
type Outcome int

const (
	Processed Outcome = iota
	ProcessLater
	WontProcess
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case ProcessLater:
		return "process_later"
	default:
		return "wont_process"
	}
}

// RoomCloseEvent is the room.close payload.
type RoomCloseEvent struct {
	RoomID   string `json:"room_id"`
	TimedOut bool   `json:"timed_out"`
}

// RtcManifest is one entry of a room.upload payload.
type RtcManifest struct {
	RtcID        uuid.UUID `json:"rtc_id"`
	CreatedBy    string    `json:"created_by"`
	MjrDumpsURIs []string  `json:"mjr_dumps_uris"`
}

// RoomUploadEvent is the room.upload payload: one or more raw MJR dump
// manifests for a class.
type RoomUploadEvent struct {
	RoomID    string        `json:"room_id"`
	Manifests []RtcManifest `json:"manifests"`
}

// TaskTemplate identifies which pipeline task a task.complete message
// reports on.
type TaskTemplate string

const (
	TemplateConvertMjrDumpsToStream TaskTemplate = "convert-mjr-dumps-to-stream"
	TemplateTranscodeStreamToHls    TaskTemplate = "transcode-stream-to-hls"
	TemplateTranscodeMinigroupToHls TaskTemplate = "transcode-minigroup-to-hls"
)

// TaskCompleteEvent is the task.complete payload; Result is re-unmarshaled
// by the pipeline once Template is known. TemplateKey echoes the
// "audience::scope" key the task was dispatched with, letting the pipeline
// locate the class without depending on which room id a given task
// happens to be scoped to.
type TaskCompleteEvent struct {
	Template    TaskTemplate    `json:"template"`
	TemplateKey string          `json:"template_key"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result"`
}

// ConvertMjrDumpsResult is the Result shape for a successful
// convert-mjr-dumps-to-stream completion.
type ConvertMjrDumpsResult struct {
	RtcID     uuid.UUID     `json:"rtc_id"`
	StreamURI string        `json:"stream_uri"`
	StartedAt time.Time     `json:"started_at"`
	Segments  models.Ranges `json:"segments"`
}

// TranscodeStreamResult is the Result shape for transcode-stream-to-hls.
type TranscodeStreamResult struct {
	RecordingDuration string `json:"recording_duration"`
}

// TranscodeMinigroupResult is the Result shape for transcode-minigroup-to-hls.
type TranscodeMinigroupResult struct {
	RecordingDuration string `json:"recording_duration"`
}

// RoomAdjustEvent is the room.adjust payload.
type RoomAdjustEvent struct {
	RoomID  string          `json:"room_id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// RoomDumpEventsEvent is the room.dump_events payload.
type RoomDumpEventsEvent struct {
	RoomID  string `json:"room_id"`
	Success bool   `json:"success"`
	URI     string `json:"uri"`
}

// EditionCommitEvent is the edition.commit payload.
type EditionCommitEvent struct {
	SourceRoomID string          `json:"source_room_id"`
	Success      bool            `json:"success"`
	Result       json.RawMessage `json:"result"`
}

// ReadyEvent is the shared shape of webinar.ready / minigroup.ready.
type ReadyEvent struct {
	ID             uuid.UUID   `json:"id"`
	Scope          string      `json:"scope"`
	Tags           interface{} `json:"tags,omitempty"`
	Status         string      `json:"status"`
	StreamDuration uint64      `json:"stream_duration"`
}

// CloseEvent is the shared shape of {p2p,webinar,minigroup}.close.
type CloseEvent struct {
	ID    uuid.UUID `json:"id"`
	Scope string    `json:"scope"`
}
