package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

// Recreate clears adjust pointers, points the class at freshly created
// rooms and deletes its recordings, all in one local transaction.
func (s *Store) Recreate(ctx context.Context, id uuid.UUID, conferenceRoomID, eventRoomID *string, iv models.Interval) (*models.Class, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := s.RecreateRooms(ctx, tx, id, conferenceRoomID, eventRoomID, iv)
	if err != nil {
		return nil, err
	}
	if err := s.DeleteRecordingsByClassTx(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// RtcUpload names one incoming MJR dump manifest's capture identity.
type RtcUpload struct {
	RtcID     uuid.UUID
	CreatedBy string
}

// PersistRoomUpload inserts one Recording row per RTC in a single
// transaction, upserting by (class_id, rtc_id) so redelivery of the same
// room.upload message is a no-op.
func (s *Store) PersistRoomUpload(ctx context.Context, classID uuid.UUID, uploads []RtcUpload) ([]models.Recording, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]models.Recording, 0, len(uploads))
	for _, u := range uploads {
		r, err := s.InsertRecordingTx(ctx, tx, classID, u.RtcID, u.CreatedBy)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// MinigroupAdjustResult is the per-recording outcome of one adjust_room_v2
// call, keyed by recording id.
type MinigroupAdjustResult struct {
	RecordingID       uuid.UUID
	ModifiedSegments  models.Ranges
	PinSegments       models.Ranges
	VideoMuteSegments models.Ranges
	AudioMuteSegments models.Ranges
}

// PersistMinigroupAdjust updates the class's event room pointers and every
// recording's adjust outcome in a single transaction.
func (s *Store) PersistMinigroupAdjust(ctx context.Context, classID uuid.UUID, original, modified *string, results []MinigroupAdjustResult, adjustedAt time.Time) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE class SET original_event_room_id = $2, modified_event_room_id = $3 WHERE id = $1`, classID, original, modified); err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	for _, r := range results {
		if err := s.AdjustMinigroupTx(ctx, tx, r.RecordingID, r.ModifiedSegments, r.PinSegments, r.VideoMuteSegments, r.AudioMuteSegments, adjustedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// PersistWebinarAdjust updates the class's event room pointers and the
// webinar's single recording in one transaction.
func (s *Store) PersistWebinarAdjust(ctx context.Context, classID, recordingID uuid.UUID, original, modified *string, modifiedSegments models.Ranges, adjustedAt time.Time) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE class SET original_event_room_id = $2, modified_event_room_id = $3 WHERE id = $1`, classID, original, modified); err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	if err := s.AdjustWebinarTx(ctx, tx, recordingID, modifiedSegments, adjustedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}
