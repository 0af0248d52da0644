// Package pipeline implements the per-class post-production state machine:
// recording upload, stream conversion, event-log adjustment, transcoding and
// the terminal ready/failed outcome. State is never stored as a column; it
// is recomputed from the class and its recordings on every observation.
package pipeline

import "github.com/foxford/dispatchd/internal/models"

// State is a point-in-time snapshot derived from persisted data, never
// itself persisted.
type State string

const (
	Live              State = "live"
	AwaitingDumps     State = "awaiting_dumps"
	ConvertingStreams State = "converting_streams"
	StreamsReady      State = "streams_ready"
	Adjusting         State = "adjusting"
	Transcoding       State = "transcoding"
	Ready             State = "ready"
	Failed            State = "failed"
)

// Derive recomputes a class's pipeline state from its current recordings.
// A class never observed to close stays Live; once closed it progresses
// strictly forward through the remaining states as recordings accumulate
// evidence of each step. A class with a recorded modified event room is
// reported as Transcoding whether or not its adjust result has arrived;
// Derive never returns Adjusting. Derive never returns Failed: failure is the
// absence of further progression, not a state this function can observe,
// so callers needing to notice a stalled class do so by other means
// (operator inspection, restart_transcoding).
func Derive(cls *models.Class, recordings []models.Recording) State {
	if cls.Time.End == nil {
		return Live
	}
	if len(recordings) == 0 {
		return AwaitingDumps
	}

	allTranscoded := true
	allStreamed := true
	for _, r := range recordings {
		if r.TranscodedAt == nil {
			allTranscoded = false
		}
		if !r.Ready() {
			allStreamed = false
		}
	}
	if allTranscoded {
		return Ready
	}
	if cls.ModifiedEventRoomID != nil {
		return Transcoding
	}
	if allStreamed {
		return StreamsReady
	}
	return ConvertingStreams
}
