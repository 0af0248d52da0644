package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

// NextBanOpID draws the next value from the ban operation id sequence.
func (s *Store) NextBanOpID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('ban_op_id_seq')`).Scan(&id)
	if err != nil {
		return 0, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return id, nil
}

// FindBanAccountOp reads the current ban cursor for an account, if any.
func (s *Store) FindBanAccountOp(ctx context.Context, userAccount string) (*models.BanAccountOp, error) {
	var op models.BanAccountOp
	err := s.pool.QueryRow(ctx, `
		SELECT user_account, last_op_id, video_complete, event_access_complete
		FROM ban_account_op WHERE user_account = $1`, userAccount,
	).Scan(&op.UserAccount, &op.LastOpID, &op.VideoComplete, &op.EventAccessComplete)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return &op, nil
}

// UpsertBanAccountOp is the conditional upsert serializing bans per
// account: it advances last_op_id to newOpID only if either the stored
// last_op_id already equals newOpID (redelivery of the same op) or the
// stored row still carries the caller-asserted previous op id and is
// fully completed. The row-level condition, not the caller's earlier
// read, is what closes the race between concurrent bans: of two callers
// holding the same asserted id at most one sees its WHERE clause match.
// Returns false when the conditional update affected zero rows, i.e. the
// caller must treat this as "operation in progress".
func (s *Store) UpsertBanAccountOp(ctx context.Context, userAccount string, assertedLastOpID, newOpID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ban_account_op (user_account, last_op_id, video_complete, event_access_complete)
		VALUES ($1, $3, false, false)
		ON CONFLICT (user_account) DO UPDATE SET
			last_op_id = EXCLUDED.last_op_id,
			video_complete = false,
			event_access_complete = false
		WHERE
			ban_account_op.last_op_id = EXCLUDED.last_op_id
			OR (ban_account_op.last_op_id = $2
				AND ban_account_op.video_complete = true
				AND ban_account_op.event_access_complete = true)`,
		userAccount, assertedLastOpID, newOpID,
	)
	if err != nil {
		return false, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteBanStep sets exactly one completion flag, conditioned on the
// row's last_op_id still matching opID (a narrow, idempotent upsert).
func (s *Store) CompleteBanStep(ctx context.Context, userAccount string, opID int64, videoStep bool) (bool, error) {
	var query string
	if videoStep {
		query = `UPDATE ban_account_op SET video_complete = true WHERE user_account = $1 AND last_op_id = $2`
	} else {
		query = `UPDATE ban_account_op SET event_access_complete = true WHERE user_account = $1 AND last_op_id = $2`
	}
	tag, err := s.pool.Exec(ctx, query, userAccount, opID)
	if err != nil {
		return false, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertBanHistory appends an audit row keyed by banned_operation_id. A
// repeat insert for the same operation id is a no-op returning the
// existing row.
func (s *Store) InsertBanHistory(ctx context.Context, classID uuid.UUID, targetAccount string, ban bool, opID int64) (*models.BanHistory, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ban_history (class_id, target_account, ban, banned_operation_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (banned_operation_id) DO NOTHING
		RETURNING id, class_id, target_account, ban, banned_at, banned_operation_id, unbanned_at, unbanned_operation_id`,
		classID, targetAccount, ban, opID,
	)
	out, err := scanBanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		row = s.pool.QueryRow(ctx, `
			SELECT id, class_id, target_account, ban, banned_at, banned_operation_id, unbanned_at, unbanned_operation_id
			FROM ban_history WHERE banned_operation_id = $1`, opID)
		return scanBanHistory(row)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

func scanBanHistory(row pgx.Row) (*models.BanHistory, error) {
	var h models.BanHistory
	err := row.Scan(&h.ID, &h.ClassID, &h.TargetAccount, &h.Ban, &h.BannedAt, &h.BannedOperationID, &h.UnbannedAt, &h.UnbannedOperationID)
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return &h, nil
}
