package pipeline

import (
	"context"
	"encoding/json"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/clients"
)

const (
	hostEventKind = "host"
	hostPageSize  = 100
	hostMaxPages  = 10
)

// resolveHost paginates the modified event room's event list looking for
// the first host-typed event, up to hostMaxPages pages of hostPageSize.
// The agent identified by that event is the minigroup's host.
func resolveHost(ctx context.Context, eventlog *clients.EventLogClient, roomID string) (string, error) {
	for page := 1; page <= hostMaxPages; page++ {
		events, err := eventlog.ListEvents(ctx, roomID, hostEventKind, page, hostPageSize)
		if err != nil {
			return "", err
		}
		for _, ev := range events {
			var data clients.HostEventData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			if data.AgentID != "" {
				return data.AgentID, nil
			}
		}
		if len(events) < hostPageSize {
			break
		}
	}
	return "", apperr.Newf(apperr.KindTranscodingFlowFailed, "no host in room %s", roomID)
}
