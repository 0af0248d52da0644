package httpapi

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/foxford/dispatchd/internal/models"
)

// TimeBounds is the JSON shape of a half-open class interval; a null bound
// is unbounded in that direction.
type TimeBounds struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

func (t *TimeBounds) interval() models.Interval {
	if t == nil {
		return models.Unbounded()
	}
	return models.Interval{Start: t.Start, End: t.End}
}

func boundsOf(iv models.Interval) TimeBounds {
	return TimeBounds{Start: iv.Start, End: iv.End}
}

// createClassRequest is the body for POST /api/v1/{webinars,p2p,minigroups}.
type createClassRequest struct {
	Scope      string                 `json:"scope" binding:"required"`
	Audience   string                 `json:"audience" binding:"required"`
	Time       *TimeBounds            `json:"time"`
	Tags       map[string]interface{} `json:"tags"`
	Properties map[string]interface{} `json:"properties"`
	Reserve    *int                   `json:"reserve"`
	LockedChat bool                   `json:"locked_chat"`
	Whiteboard bool                   `json:"whiteboard"`
}

// updateClassRequest is the body for PUT /api/v1/{kind}/:id.
type updateClassRequest struct {
	Time    *TimeBounds `json:"time"`
	Reserve *int        `json:"reserve"`
	Host    *string     `json:"host"`
}

// recreateClassRequest is the body for POST /api/v1/{kind}/:id/recreate.
type recreateClassRequest struct {
	Time            *TimeBounds `json:"time"`
	LockedChat      bool        `json:"locked_chat"`
	LockedQuestions bool        `json:"locked_questions"`
}

// createEventRequest is the body for POST /api/v1/{kind}/:id/events.
type createEventRequest struct {
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data"`
}

// restartTranscodingRequest is the body for POST .../restart-transcoding.
type restartTranscodingRequest struct {
	Priority string `json:"priority"`
}

// banRequest is the body for POST /api/v1/accounts/:account_id/ban.
type banRequest struct {
	ClassID      uuid.UUID `json:"class_id" binding:"required"`
	Ban          bool      `json:"ban"`
	LastSeenOpID int64     `json:"last_seen_op_id"`
}

// classView is the class JSON returned by every read/write endpoint.
type classView struct {
	ID                  uuid.UUID              `json:"id"`
	Kind                models.Kind            `json:"kind"`
	Audience            string                 `json:"audience"`
	Scope               string                 `json:"scope"`
	Time                TimeBounds             `json:"time"`
	Tags                map[string]interface{} `json:"tags,omitempty"`
	Properties          map[string]interface{} `json:"properties"`
	ConferenceRoomID    *string                `json:"conference_room_id,omitempty"`
	EventRoomID         *string                `json:"event_room_id,omitempty"`
	OriginalEventRoomID *string                `json:"original_event_room_id,omitempty"`
	ModifiedEventRoomID *string                `json:"modified_event_room_id,omitempty"`
	RoomEventsURI       *string                `json:"room_events_uri,omitempty"`
	Reserve             *int                   `json:"reserve,omitempty"`
	Host                *string                `json:"host,omitempty"`
	TimedOut            bool                   `json:"timed_out"`
	Established         bool                   `json:"established"`
	OriginalClassID     *uuid.UUID             `json:"original_class_id,omitempty"`
	ContentID           string                 `json:"content_id"`
	CreatedAt           time.Time              `json:"created_at"`
}

func viewOf(cls *models.Class) classView {
	props := cls.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	return classView{
		ID:                  cls.ID,
		Kind:                cls.Kind,
		Audience:            cls.Audience,
		Scope:               cls.Scope,
		Time:                boundsOf(cls.Time),
		Tags:                cls.Tags,
		Properties:          props,
		ConferenceRoomID:    cls.ConferenceRoomID,
		EventRoomID:         cls.EventRoomID,
		OriginalEventRoomID: cls.OriginalEventRoomID,
		ModifiedEventRoomID: cls.ModifiedEventRoomID,
		RoomEventsURI:       cls.RoomEventsURI,
		Reserve:             cls.Reserve,
		Host:                cls.Host,
		TimedOut:            cls.TimedOut,
		Established:         cls.Established,
		OriginalClassID:     cls.OriginalClassID,
		ContentID:           cls.ContentID,
		CreatedAt:           cls.CreatedAt,
	}
}
