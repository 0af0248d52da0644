package clients

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

// EventLogClient talks to the event-log service: room lifecycle, chat/
// whiteboard provisioning, event proxying, adjust and host resolution.
type EventLogClient struct {
	base
}

// NewEventLogClient builds an event-log client bound to baseURL.
func NewEventLogClient(baseURL string, timeout time.Duration, logger *zap.Logger) *EventLogClient {
	return &EventLogClient{base: newBase("eventlog", baseURL, timeout, logger)}
}

// CreateRoom creates an event room bound to classID.
func (c *EventLogClient) CreateRoom(ctx context.Context, classID uuid.UUID) (string, error) {
	var resp roomResponse
	err := c.doJSON(ctx, "POST", "/rooms", map[string]interface{}{"class_id": classID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateRoomTime updates an event room's time interval.
func (c *EventLogClient) UpdateRoomTime(ctx context.Context, roomID string, iv models.Interval) error {
	return c.doJSON(ctx, "PATCH", "/rooms/"+roomID, map[string]interface{}{"time": iv}, nil)
}

// ReadRoom fetches an event room's current state.
func (c *EventLogClient) ReadRoom(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	if err := c.doJSON(ctx, "GET", "/rooms/"+roomID, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// LockChat locks the chat document of an event room.
func (c *EventLogClient) LockChat(ctx context.Context, roomID string) error {
	return c.doJSON(ctx, "POST", "/rooms/"+roomID+"/chat/lock", nil, nil)
}

// CreateWhiteboard provisions a whiteboard document for an event room.
func (c *EventLogClient) CreateWhiteboard(ctx context.Context, roomID string) error {
	err := c.doJSON(ctx, "POST", "/rooms/"+roomID+"/whiteboard", nil, nil)
	if err != nil {
		return apperr.New(apperr.KindCreationWhiteboardFailed, err)
	}
	return nil
}

// CreateEvent proxy-creates an event in roomID on behalf of agent.
func (c *EventLogClient) CreateEvent(ctx context.Context, roomID, kind string, data json.RawMessage, agent string) error {
	return c.doJSON(ctx, "POST", "/rooms/"+roomID+"/events", map[string]interface{}{
		"type": kind, "data": data, "created_by": agent,
	}, nil)
}

// AdjustRoom requests the webinar adjust path for a single recording.
func (c *EventLogClient) AdjustRoom(ctx context.Context, roomID string, started time.Time, segments models.Ranges) (AdjustResult, error) {
	var resp AdjustResult
	err := c.doJSON(ctx, "POST", "/rooms/"+roomID+"/adjust", map[string]interface{}{
		"started_at": started, "segments": segments,
	}, &resp)
	return resp, err
}

// AdjustRoomV2 requests the minigroup adjust path for multiple recordings.
func (c *EventLogClient) AdjustRoomV2(ctx context.Context, roomID string, recordings []AdjustRecording, snapshots []WriterConfigSnapshot, prerollOffsetMs int64) (AdjustV2Result, error) {
	var resp AdjustV2Result
	err := c.doJSON(ctx, "POST", "/rooms/"+roomID+"/adjust", map[string]interface{}{
		"recordings":    recordings,
		"writer_config": snapshots,
		"offset":        prerollOffsetMs,
	}, &resp)
	return resp, err
}

// DumpRoom requests an async archive dump of roomID; the result arrives
// later as a room.dump_events broker message.
func (c *EventLogClient) DumpRoom(ctx context.Context, roomID string) error {
	return c.doJSON(ctx, "POST", "/rooms/"+roomID+"/dump_events", nil, nil)
}

// ListEvents lists events of kind in roomID, one page at a time.
func (c *EventLogClient) ListEvents(ctx context.Context, roomID, kind string, page, perPage int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	path := "/rooms/" + roomID + "/events?type=" + kind +
		"&page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(perPage)
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// CommitEdition asks the event-log service to commit an edition of a
// room's timeline; the result arrives later as an edition.commit broker
// message.
func (c *EventLogClient) CommitEdition(ctx context.Context, editionID string) error {
	return c.doJSON(ctx, "POST", "/editions/"+editionID+"/commit", nil, nil)
}

// Ban applies or lifts a ban for targetAccount's event-log access, scoped
// to roomID. Invoked asynchronously from internal/banops's worker.
func (c *EventLogClient) Ban(ctx context.Context, roomID, targetAccount string, ban bool) error {
	return c.doJSON(ctx, "POST", "/rooms/"+roomID+"/ban", map[string]interface{}{
		"account_id": targetAccount,
		"value":      ban,
	}, nil)
}
