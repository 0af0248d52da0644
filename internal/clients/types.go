package clients

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/foxford/dispatchd/internal/models"
)

// WriterConfigSnapshot is one entry of the conference service's per-rtc
// writer config at adjust time, used by the minigroup strategy to derive
// muted segments downstream.
type WriterConfigSnapshot struct {
	RtcID     uuid.UUID `json:"rtc_id"`
	SendVideo bool      `json:"send_video"`
	SendAudio bool      `json:"send_audio"`
}

// AdjustRecording is one entry passed to EventLogClient.AdjustRoomV2.
type AdjustRecording struct {
	ID        uuid.UUID     `json:"id"`
	RtcID     uuid.UUID     `json:"rtc_id"`
	Host      bool          `json:"host"`
	Segments  models.Ranges `json:"segments"`
	StartedAt time.Time     `json:"started_at"`
	CreatedBy string        `json:"created_by"`
}

// AdjustResult is the webinar adjust outcome. The synchronous response to
// the initial adjust request carries only RoomID, the freshly assigned
// modified event room; ModifiedSegments is populated later, when the
// event-log service's async result is unmarshaled from a room.adjust
// broker message into this same type.
type AdjustResult struct {
	RoomID           string        `json:"room_id"`
	ModifiedSegments models.Ranges `json:"modified_segments"`
}

// MinigroupRecordingAdjustResult is one recording's outcome from
// adjust_room_v2.
type MinigroupRecordingAdjustResult struct {
	RecordingID       uuid.UUID     `json:"id"`
	ModifiedSegments  models.Ranges `json:"modified_segments"`
	PinSegments       models.Ranges `json:"pin_segments"`
	VideoMuteSegments models.Ranges `json:"video_mute_segments"`
	AudioMuteSegments models.Ranges `json:"audio_mute_segments"`
}

// AdjustV2Result is the minigroup adjust outcome. Like AdjustResult, RoomID
// is populated synchronously at request time and Recordings arrives later
// via the async room.adjust result.
type AdjustV2Result struct {
	RoomID     string                           `json:"room_id"`
	Recordings []MinigroupRecordingAdjustResult `json:"recordings"`
}

// Event is one entry from the event-log's list-events API.
type Event struct {
	ID       uuid.UUID       `json:"id"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data"`
	Occurred time.Time       `json:"occurred_at"`
}

// HostEventData is the payload of a "host"-typed event.
type HostEventData struct {
	AgentID string `json:"agent_id"`
}

// MinigroupStream is one entry in a TranscodeMinigroupToHls task.
type MinigroupStream struct {
	RtcID             uuid.UUID     `json:"rtc_id"`
	StreamURI         string        `json:"stream_uri"`
	OffsetMs          int64         `json:"offset_ms"`
	Segments          models.Ranges `json:"segments"`
	ModifiedSegments  models.Ranges `json:"modified_segments"`
	PinSegments       models.Ranges `json:"pin_segments"`
	VideoMuteSegments models.Ranges `json:"video_mute_segments"`
	AudioMuteSegments models.Ranges `json:"audio_mute_segments"`
}

// Room is the event-log room shape returned by ReadRoom.
type Room struct {
	ID   string          `json:"id"`
	Time models.Interval `json:"time"`
}
