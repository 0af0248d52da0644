package clients

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/models"
)

// TaskQueueClient dispatches transcoding pipeline tasks. Every method takes
// a templateKey (the class's audience::scope) for task-queue-side dedup
// per spec §4.D "Idempotency and replay".
type TaskQueueClient struct {
	base
}

// NewTaskQueueClient builds a task-queue client bound to baseURL.
func NewTaskQueueClient(baseURL string, timeout time.Duration, logger *zap.Logger) *TaskQueueClient {
	return &TaskQueueClient{base: newBase("taskqueue", baseURL, timeout, logger)}
}

// ConvertMjrDumpsToStream dispatches one conversion task for a single RTC's
// raw MJR dump manifest.
func (c *TaskQueueClient) ConvertMjrDumpsToStream(ctx context.Context, templateKey string, rtcID uuid.UUID, dumps []string) error {
	return c.doJSON(ctx, "POST", "/tasks", map[string]interface{}{
		"template":      "convert-mjr-dumps-to-stream",
		"template_key":  templateKey,
		"rtc_id":        rtcID,
		"mjr_dumps_uri": dumps,
	}, nil)
}

// TranscodeStreamToHls dispatches the webinar transcoding task.
func (c *TaskQueueClient) TranscodeStreamToHls(ctx context.Context, templateKey, eventRoomID string, segments models.Ranges) error {
	return c.transcodeStreamToHls(ctx, templateKey, eventRoomID, segments, "")
}

// RestartTranscodeStreamToHls re-dispatches the webinar transcoding task at
// restart_transcoding's request, carrying an explicit priority.
func (c *TaskQueueClient) RestartTranscodeStreamToHls(ctx context.Context, templateKey, eventRoomID string, segments models.Ranges, priority string) error {
	return c.transcodeStreamToHls(ctx, templateKey, eventRoomID, segments, priority)
}

func (c *TaskQueueClient) transcodeStreamToHls(ctx context.Context, templateKey, eventRoomID string, segments models.Ranges, priority string) error {
	body := map[string]interface{}{
		"template":      "transcode-stream-to-hls",
		"template_key":  templateKey,
		"event_room_id": eventRoomID,
		"segments":      segments,
	}
	if priority != "" {
		body["priority"] = priority
	}
	return c.doJSON(ctx, "POST", "/tasks", body, nil)
}

// TranscodeMinigroupToHls dispatches the minigroup transcoding task.
func (c *TaskQueueClient) TranscodeMinigroupToHls(ctx context.Context, templateKey string, streams []MinigroupStream, hostStreamID uuid.UUID) error {
	return c.transcodeMinigroupToHls(ctx, templateKey, streams, hostStreamID, "")
}

// RestartTranscodeMinigroupToHls re-dispatches the minigroup transcoding
// task at restart_transcoding's request, carrying an explicit priority.
func (c *TaskQueueClient) RestartTranscodeMinigroupToHls(ctx context.Context, templateKey string, streams []MinigroupStream, hostStreamID uuid.UUID, priority string) error {
	return c.transcodeMinigroupToHls(ctx, templateKey, streams, hostStreamID, priority)
}

func (c *TaskQueueClient) transcodeMinigroupToHls(ctx context.Context, templateKey string, streams []MinigroupStream, hostStreamID uuid.UUID, priority string) error {
	body := map[string]interface{}{
		"template":       "transcode-minigroup-to-hls",
		"template_key":   templateKey,
		"streams":        streams,
		"host_stream_id": hostStreamID,
	}
	if priority != "" {
		body["priority"] = priority
	}
	return c.doJSON(ctx, "POST", "/tasks", body, nil)
}
