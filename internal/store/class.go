package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

const classColumns = `
	id, kind, audience, scope, time_start, time_end, tags, properties,
	conference_room_id, event_room_id, original_event_room_id, modified_event_room_id,
	room_events_uri, preserve_history, reserve, host, timed_out, established,
	original_class_id, content_id, created_at`

// ErrAlreadyEstablished is returned by UpsertDummy when the (audience, scope)
// pair already names an established class.
var ErrAlreadyEstablished = errors.New("class already established")

// UpsertDummy inserts a dummy class row (established=false), or, if an
// unestablished row already exists for (audience, scope), overwrites it.
// If an established row already exists the insert is a no-op and the
// existing established row is returned alongside ErrAlreadyEstablished.
func (s *Store) UpsertDummy(ctx context.Context, c *models.Class) (*models.Class, error) {
	tagsBytes, err := marshalJSON(c.Tags)
	if err != nil {
		return nil, apperr.New(apperr.KindSerializationFailed, err)
	}
	propsBytes, err := marshalJSON(c.Properties)
	if err != nil {
		return nil, apperr.New(apperr.KindSerializationFailed, err)
	}
	if propsBytes == nil {
		propsBytes = []byte("{}")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO class (
			id, kind, audience, scope, time_start, time_end, tags, properties,
			preserve_history, reserve, original_class_id, content_id, established
		) VALUES (
			COALESCE($1, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false
		)
		ON CONFLICT (audience, scope) DO UPDATE SET
			kind = EXCLUDED.kind,
			time_start = EXCLUDED.time_start,
			time_end = EXCLUDED.time_end,
			tags = EXCLUDED.tags,
			properties = EXCLUDED.properties,
			preserve_history = EXCLUDED.preserve_history,
			reserve = EXCLUDED.reserve,
			original_class_id = EXCLUDED.original_class_id,
			content_id = EXCLUDED.content_id
		WHERE class.established = false
		RETURNING `+classColumns,
		uuidPtrOrNil(c.ID), c.Kind, c.Audience, c.Scope, c.Time.Start, c.Time.End,
		tagsBytes, propsBytes, c.PreserveHistory, c.Reserve, c.OriginalClassID, c.ContentID,
	)

	out, err := scanClass(row)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, ferr := s.FindByScope(ctx, c.Audience, c.Scope)
		if ferr != nil {
			return nil, ferr
		}
		return existing, ErrAlreadyEstablished
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// Establish sets room ids and established=true on a dummy row.
func (s *Store) Establish(ctx context.Context, id uuid.UUID, conferenceRoomID, eventRoomID *string) (*models.Class, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE class SET
			conference_room_id = $2,
			event_room_id = $3,
			established = true
		WHERE id = $1
		RETURNING `+classColumns,
		id, conferenceRoomID, eventRoomID,
	)
	out, err := scanClass(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindClassNotFound, fmt.Errorf("class %s not found", id))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// Delete removes a class row outright (used to unwind a failed Create).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM class WHERE id = $1`, id)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// FindByID looks up a class by its primary key.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class WHERE id = $1`, id)
}

// FindByScope looks up a class by (audience, scope).
func (s *Store) FindByScope(ctx context.Context, audience, scope string) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class WHERE audience = $1 AND scope = $2`, audience, scope)
}

// FindByConferenceRoom looks up a class by its conference room id.
func (s *Store) FindByConferenceRoom(ctx context.Context, roomID string) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class WHERE conference_room_id = $1`, roomID)
}

// FindByEventRoom looks up a class by event_room_id, original_event_room_id
// or modified_event_room_id, in that order.
func (s *Store) FindByEventRoom(ctx context.Context, roomID string) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class
		WHERE event_room_id = $1 OR original_event_room_id = $1 OR modified_event_room_id = $1
		ORDER BY CASE WHEN event_room_id = $1 THEN 0 WHEN original_event_room_id = $1 THEN 1 ELSE 2 END
		LIMIT 1`, roomID)
}

// FindByOriginalEventRoom looks up a class by its original_event_room_id.
func (s *Store) FindByOriginalEventRoom(ctx context.Context, roomID string) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class WHERE original_event_room_id = $1`, roomID)
}

// FindByModifiedEventRoom looks up a class by its modified_event_room_id.
func (s *Store) FindByModifiedEventRoom(ctx context.Context, roomID string) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class WHERE modified_event_room_id = $1`, roomID)
}

// FindByAnyRoom looks up a class by any known room identifier: conference,
// event, original event or modified event room id. Used by the authz proxy.
func (s *Store) FindByAnyRoom(ctx context.Context, roomID string) (*models.Class, error) {
	return s.findOneClass(ctx, `SELECT `+classColumns+` FROM class
		WHERE conference_room_id = $1 OR event_room_id = $1
		   OR original_event_room_id = $1 OR modified_event_room_id = $1
		LIMIT 1`, roomID)
}

func (s *Store) findOneClass(ctx context.Context, query string, args ...interface{}) (*models.Class, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	out, err := scanClass(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindClassNotFound, errors.New("class not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// UpdateTime updates the time interval, used by Update and CloseByRoom.
func (s *Store) UpdateTime(ctx context.Context, id uuid.UUID, iv models.Interval, timedOut bool) (*models.Class, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE class SET time_start = $2, time_end = $3, timed_out = $4
		WHERE id = $1
		RETURNING `+classColumns,
		id, iv.Start, iv.End, timedOut,
	)
	out, err := scanClass(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindClassNotFound, errors.New("class not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// ClassUpdate is a partial update of time/reserve/host/properties.
// A nil pointer/map leaves the corresponding column unchanged.
type ClassUpdate struct {
	Time       *models.Interval
	Reserve    *int
	Host       *string
	Properties map[string]interface{} // merged shallowly, not replaced
}

// Update applies a partial update and, if Properties is non-nil, merges it
// shallowly into the existing properties document.
func (s *Store) Update(ctx context.Context, id uuid.UUID, upd ClassUpdate) (*models.Class, error) {
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	timeStart, timeEnd := current.Time.Start, current.Time.End
	if upd.Time != nil {
		timeStart, timeEnd = upd.Time.Start, upd.Time.End
	}
	reserve := current.Reserve
	if upd.Reserve != nil {
		reserve = upd.Reserve
	}
	host := current.Host
	if upd.Host != nil {
		host = upd.Host
	}
	props := current.Properties
	if upd.Properties != nil {
		if props == nil {
			props = map[string]interface{}{}
		}
		for k, v := range upd.Properties {
			props[k] = v
		}
	}
	propsBytes, err := marshalJSON(props)
	if err != nil {
		return nil, apperr.New(apperr.KindSerializationFailed, err)
	}
	if propsBytes == nil {
		propsBytes = []byte("{}")
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE class SET time_start = $2, time_end = $3, reserve = $4, host = $5, properties = $6
		WHERE id = $1
		RETURNING `+classColumns,
		id, timeStart, timeEnd, reserve, host, propsBytes,
	)
	out, err := scanClass(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindClassNotFound, errors.New("class not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// UpdateRoomEventsURIByModifiedEventRoom persists the archive URI produced by room.dump_events,
// identified by modified_event_room_id.
func (s *Store) UpdateRoomEventsURIByModifiedEventRoom(ctx context.Context, roomID, uri string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE class SET room_events_uri = $2 WHERE modified_event_room_id = $1`, roomID, uri)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindClassNotFound, fmt.Errorf("no class with modified_event_room_id %s", roomID))
	}
	return nil
}

// SetEventRoomPointers persists original/modified event room ids, used when
// entering Adjusting and when completing adjust.
func (s *Store) SetEventRoomPointers(ctx context.Context, id uuid.UUID, original, modified *string) error {
	_, err := s.pool.Exec(ctx, `UPDATE class SET original_event_room_id = $2, modified_event_room_id = $3 WHERE id = $1`, id, original, modified)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// RecreateRooms clears adjust pointers and room ids after a Recreate,
// pointing the class at freshly created rooms in a single statement; the
// caller is expected to run this inside a transaction alongside recording
// deletion (see Store.Recreate in composite.go).
func (s *Store) RecreateRooms(ctx context.Context, tx pgx.Tx, id uuid.UUID, conferenceRoomID, eventRoomID *string, iv models.Interval) (*models.Class, error) {
	row := tx.QueryRow(ctx, `
		UPDATE class SET
			conference_room_id = $2,
			event_room_id = $3,
			original_event_room_id = NULL,
			modified_event_room_id = NULL,
			room_events_uri = NULL,
			time_start = $4,
			time_end = $5
		WHERE id = $1
		RETURNING `+classColumns,
		id, conferenceRoomID, eventRoomID, iv.Start, iv.End,
	)
	out, err := scanClass(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindClassNotFound, errors.New("class not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// BeginTx starts a transaction for multi-row writes (recreate, adjust persistence).
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.New(apperr.KindDBConnAcquisitionFailed, err)
	}
	return tx, nil
}

func scanClass(row pgx.Row) (*models.Class, error) {
	var c models.Class
	var tagsBytes, propsBytes []byte
	var timeStart, timeEnd *time.Time

	err := row.Scan(
		&c.ID, &c.Kind, &c.Audience, &c.Scope, &timeStart, &timeEnd, &tagsBytes, &propsBytes,
		&c.ConferenceRoomID, &c.EventRoomID, &c.OriginalEventRoomID, &c.ModifiedEventRoomID,
		&c.RoomEventsURI, &c.PreserveHistory, &c.Reserve, &c.Host, &c.TimedOut, &c.Established,
		&c.OriginalClassID, &c.ContentID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Time = models.Interval{Start: timeStart, End: timeEnd}
	if len(tagsBytes) > 0 {
		if uerr := json.Unmarshal(tagsBytes, &c.Tags); uerr != nil {
			return nil, uerr
		}
	}
	if len(propsBytes) > 0 {
		if uerr := json.Unmarshal(propsBytes, &c.Properties); uerr != nil {
			return nil, uerr
		}
	}
	return &c, nil
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func uuidPtrOrNil(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
