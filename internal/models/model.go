// Package models holds the persistence-level entities shared across the
// dispatcher: classes, recordings, ban bookkeeping and frontend redirects.
// Nothing in this package depends on storage, transport or business logic
// so it can be imported from every other internal package without cycles.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the class type. It determines the conference sharing policy and
// whether a conference room is created at all.
type Kind string

const (
	KindWebinar   Kind = "webinar"
	KindP2P       Kind = "p2p"
	KindMinigroup Kind = "minigroup"
)

// SharingPolicy is the media sharing policy exposed to the conference
// service when a room is created for a class.
type SharingPolicy string

const (
	SharingShared SharingPolicy = "shared"
	SharingOwned  SharingPolicy = "owned"
	SharingNone   SharingPolicy = "none"
)

// SharingPolicy maps a class kind to its conference sharing policy:
// webinar -> shared, minigroup -> owned, p2p -> none.
func (k Kind) SharingPolicy() SharingPolicy {
	switch k {
	case KindWebinar:
		return SharingShared
	case KindMinigroup:
		return SharingOwned
	default:
		return SharingNone
	}
}

// HasConferenceRoom reports whether a class of this kind gets a conference
// room at all. p2p classes don't: the conference service has nothing to
// own for them.
func (k Kind) HasConferenceRoom() bool {
	return k == KindWebinar || k == KindMinigroup
}

// Interval is a half-open time range [Start, End). Either bound may be nil,
// meaning unbounded in that direction.
type Interval struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Unbounded returns (Unbounded, Unbounded).
func Unbounded() Interval {
	return Interval{}
}

// ClampEnd returns a copy of the interval with End set to the earlier of its
// current End (if bounded) and at. A nil (unbounded) End is always clamped
// to at; a bounded End is never moved later.
func (iv Interval) ClampEnd(at time.Time) Interval {
	if iv.End == nil || iv.End.After(at) {
		iv.End = &at
	}
	return iv
}

// Range is a half-open millisecond interval, used for recording segments.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Ranges is an ordered list of segments.
type Ranges []Range

// DurationMs returns the sum of span lengths covered by the ranges.
func (r Ranges) DurationMs() int64 {
	var total int64
	for _, seg := range r {
		if seg.End > seg.Start {
			total += seg.End - seg.Start
		}
	}
	return total
}

// Class is the central entity: a scheduled interactive session.
type Class struct {
	ID                  uuid.UUID
	Kind                Kind
	Audience            string
	Scope               string
	Time                Interval
	Tags                map[string]interface{}
	Properties          map[string]interface{}
	ConferenceRoomID    *string
	EventRoomID         *string
	OriginalEventRoomID *string
	ModifiedEventRoomID *string
	RoomEventsURI       *string
	PreserveHistory     bool
	Reserve             *int
	Host                *string
	TimedOut            bool
	Established         bool
	OriginalClassID     *uuid.UUID
	ContentID           string
	CreatedAt           time.Time
}

// Recording is one RTC capture belonging to a class.
type Recording struct {
	ID                uuid.UUID
	ClassID           uuid.UUID
	RtcID             uuid.UUID
	StreamURI         *string
	Segments          Ranges
	ModifiedSegments  Ranges
	PinSegments       Ranges
	VideoMuteSegments Ranges
	AudioMuteSegments Ranges
	StartedAt         *time.Time
	CreatedBy         string
	AdjustedAt        *time.Time
	TranscodedAt      *time.Time
	DeletedAt         *time.Time
	CreatedAt         time.Time
}

// Ready reports whether the recording has completed stream conversion.
func (r Recording) Ready() bool {
	return r.StreamURI != nil && r.StartedAt != nil
}

// BanAccountOp is the per-account operation cursor serializing bans.
type BanAccountOp struct {
	UserAccount         string
	LastOpID            int64
	VideoComplete       bool
	EventAccessComplete bool
}

// Complete reports whether both side effects of the current op finished.
func (b BanAccountOp) Complete() bool {
	return b.VideoComplete && b.EventAccessComplete
}

// BanHistory is an append-only audit record of ban/unban operations.
type BanHistory struct {
	ID                  uuid.UUID
	ClassID             uuid.UUID
	TargetAccount       string
	Ban                 bool
	BannedAt            time.Time
	BannedOperationID   int64
	UnbannedAt          *time.Time
	UnbannedOperationID *int64
}

// Frontend maps a (scope, app) pair to a redirect URL.
type Frontend struct {
	Scope       string
	App         string
	RedirectURL string
}
