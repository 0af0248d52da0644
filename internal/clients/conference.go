package clients

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/models"
)

// ConferenceClient talks to the conference/media service: room lifecycle,
// writer config reads and account bans on the media plane.
type ConferenceClient struct {
	base
}

// NewConferenceClient builds a conference client bound to baseURL.
func NewConferenceClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ConferenceClient {
	return &ConferenceClient{base: newBase("conference", baseURL, timeout, logger)}
}

type createRoomRequest struct {
	ClassID uuid.UUID            `json:"class_id"`
	Policy  models.SharingPolicy `json:"rtc_sharing_policy"`
	Time    models.Interval      `json:"time"`
	Reserve *int                 `json:"reserve,omitempty"`
}

type roomResponse struct {
	ID string `json:"id"`
}

// CreateRoom creates a conference room bound to classID with the given
// sharing policy; p2p classes never call this (Kind.HasConferenceRoom).
func (c *ConferenceClient) CreateRoom(ctx context.Context, classID uuid.UUID, policy models.SharingPolicy, iv models.Interval, reserve *int) (string, error) {
	var resp roomResponse
	err := c.doJSON(ctx, "POST", "/rooms", createRoomRequest{ClassID: classID, Policy: policy, Time: iv, Reserve: reserve}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type updateRoomRequest struct {
	Time    models.Interval `json:"time"`
	Reserve *int            `json:"reserve,omitempty"`
}

// UpdateRoom updates a conference room's time interval and reserve slot count.
func (c *ConferenceClient) UpdateRoom(ctx context.Context, roomID string, iv models.Interval, reserve *int) error {
	return c.doJSON(ctx, "PATCH", "/rooms/"+roomID, updateRoomRequest{Time: iv, Reserve: reserve}, nil)
}

// ReadRoomWriterConfigSnapshots fetches the per-rtc writer config in effect
// for a room, used as minigroup adjust input.
func (c *ConferenceClient) ReadRoomWriterConfigSnapshots(ctx context.Context, roomID string) ([]WriterConfigSnapshot, error) {
	var resp struct {
		Snapshots []WriterConfigSnapshot `json:"snapshots"`
	}
	if err := c.doJSON(ctx, "GET", "/rooms/"+roomID+"/writer_config_snapshots", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// Ban applies or lifts a ban for targetAccount on the media plane, scoped
// to roomID. Invoked asynchronously from internal/banops's worker.
func (c *ConferenceClient) Ban(ctx context.Context, roomID, targetAccount string, ban bool) error {
	return c.doJSON(ctx, "POST", "/rooms/"+roomID+"/ban", map[string]interface{}{
		"account_id": targetAccount,
		"value":      ban,
	}, nil)
}
