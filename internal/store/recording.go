package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

const recordingColumns = `
	id, class_id, rtc_id, stream_uri, segments, modified_segments,
	pin_segments, video_mute_segments, audio_mute_segments,
	started_at, created_by, adjusted_at, transcoded_at, deleted_at, created_at`

// InsertRecording inserts a recording keyed on (class_id, rtc_id). A repeat
// insert for the same pair is a no-op that returns the existing row.
func (s *Store) InsertRecording(ctx context.Context, classID, rtcID uuid.UUID, createdBy string) (*models.Recording, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO recording (class_id, rtc_id, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_id, rtc_id) DO NOTHING
		RETURNING `+recordingColumns,
		classID, rtcID, createdBy,
	)
	out, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.FindRecordingByClassAndRtc(ctx, classID, rtcID)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// InsertRecordingTx is InsertRecording run inside an existing transaction,
// used when room.upload persists N recordings atomically.
func (s *Store) InsertRecordingTx(ctx context.Context, tx pgx.Tx, classID, rtcID uuid.UUID, createdBy string) (*models.Recording, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO recording (class_id, rtc_id, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_id, rtc_id) DO NOTHING
		RETURNING `+recordingColumns,
		classID, rtcID, createdBy,
	)
	out, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		row = tx.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recording WHERE class_id = $1 AND rtc_id = $2`, classID, rtcID)
		return scanRecording(row)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// FindRecordingByClassAndRtc looks up a recording by its natural key.
func (s *Store) FindRecordingByClassAndRtc(ctx context.Context, classID, rtcID uuid.UUID) (*models.Recording, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recording WHERE class_id = $1 AND rtc_id = $2`, classID, rtcID)
	out, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindRecordingNotFound, errors.New("recording not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// FindRecordingByRtc looks up a recording by its rtc id alone, without
// knowing its class in advance. Used by the authz proxy's identity
// substitution when a storage object key names only an rtc id.
func (s *Store) FindRecordingByRtc(ctx context.Context, rtcID uuid.UUID) (*models.Recording, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recording WHERE rtc_id = $1 LIMIT 1`, rtcID)
	out, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindRecordingNotFound, errors.New("recording not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// ListRecordingsByClass lists all non-deleted recordings of a class, oldest first.
func (s *Store) ListRecordingsByClass(ctx context.Context, classID uuid.UUID) ([]models.Recording, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordingColumns+` FROM recording WHERE class_id = $1 AND deleted_at IS NULL ORDER BY created_at`, classID)
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	defer rows.Close()

	var out []models.Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, apperr.New(apperr.KindDBQueryFailed, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// DeleteRecordingsByClassTx removes all recordings of a class, used by Recreate.
func (s *Store) DeleteRecordingsByClassTx(ctx context.Context, tx pgx.Tx, classID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM recording WHERE class_id = $1`, classID)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// UpdateStreamUpload persists the result of ConvertMjrDumpsToStream: stream
// uri, started_at and segments. Safe to repeat (last-write-wins).
func (s *Store) UpdateStreamUpload(ctx context.Context, id uuid.UUID, streamURI string, startedAt time.Time, segments models.Ranges) (*models.Recording, error) {
	segBytes, err := marshalJSON(segments)
	if err != nil {
		return nil, apperr.New(apperr.KindSerializationFailed, err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE recording SET stream_uri = $2, started_at = $3, segments = $4
		WHERE id = $1
		RETURNING `+recordingColumns,
		id, streamURI, startedAt, segBytes,
	)
	out, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindRecordingNotFound, errors.New("recording not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// AdjustWebinarTx persists modified_segments and adjusted_at on a webinar's
// single recording.
func (s *Store) AdjustWebinarTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, modifiedSegments models.Ranges, adjustedAt time.Time) error {
	segBytes, err := marshalJSON(modifiedSegments)
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	_, err = tx.Exec(ctx, `UPDATE recording SET modified_segments = $2, adjusted_at = $3 WHERE id = $1`, id, segBytes, adjustedAt)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// AdjustMinigroupTx persists the per-recording adjust outcome for a
// minigroup: modified segments plus the derived pin/mute segments, and
// marks adjusted_at for every recording regardless of host status.
func (s *Store) AdjustMinigroupTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, modified, pin, videoMute, audioMute models.Ranges, adjustedAt time.Time) error {
	modBytes, err := marshalJSON(modified)
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	pinBytes, err := marshalJSON(pin)
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	vmBytes, err := marshalJSON(videoMute)
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	amBytes, err := marshalJSON(audioMute)
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE recording SET
			modified_segments = $2, pin_segments = $3,
			video_mute_segments = $4, audio_mute_segments = $5,
			adjusted_at = $6
		WHERE id = $1`,
		id, modBytes, pinBytes, vmBytes, amBytes, adjustedAt,
	)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// MarkTranscoded sets transcoded_at on every recording of a class. Safe to
// repeat; a recording already transcoded is left unchanged, since the
// update only touches rows whose transcoded_at is still NULL.
func (s *Store) MarkTranscoded(ctx context.Context, classID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE recording SET transcoded_at = $2 WHERE class_id = $1 AND transcoded_at IS NULL`, classID, at)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var r models.Recording
	var segBytes, modSegBytes, pinBytes, vmBytes, amBytes []byte

	err := row.Scan(
		&r.ID, &r.ClassID, &r.RtcID, &r.StreamURI, &segBytes, &modSegBytes,
		&pinBytes, &vmBytes, &amBytes,
		&r.StartedAt, &r.CreatedBy, &r.AdjustedAt, &r.TranscodedAt, &r.DeletedAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(segBytes) > 0 {
		if uerr := json.Unmarshal(segBytes, &r.Segments); uerr != nil {
			return nil, uerr
		}
	}
	if len(modSegBytes) > 0 {
		if uerr := json.Unmarshal(modSegBytes, &r.ModifiedSegments); uerr != nil {
			return nil, uerr
		}
	}
	if len(pinBytes) > 0 {
		if uerr := json.Unmarshal(pinBytes, &r.PinSegments); uerr != nil {
			return nil, uerr
		}
	}
	if len(vmBytes) > 0 {
		if uerr := json.Unmarshal(vmBytes, &r.VideoMuteSegments); uerr != nil {
			return nil, uerr
		}
	}
	if len(amBytes) > 0 {
		if uerr := json.Unmarshal(amBytes, &r.AudioMuteSegments); uerr != nil {
			return nil, uerr
		}
	}
	return &r, nil
}
