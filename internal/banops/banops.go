// Package banops implements the ban operation sequencer: at most one
// in-flight ban per user, idempotent multi-step side effects, and a
// durable audit trail. The sequencer itself only allocates the operation,
// records the intent and publishes it; the video-access and event-access
// side effects run asynchronously in Worker.
package banops

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

// Store is the slice of the persistence model the sequencer and worker use.
type Store interface {
	FindBanAccountOp(ctx context.Context, userAccount string) (*models.BanAccountOp, error)
	NextBanOpID(ctx context.Context) (int64, error)
	UpsertBanAccountOp(ctx context.Context, userAccount string, assertedLastOpID, newOpID int64) (bool, error)
	InsertBanHistory(ctx context.Context, classID uuid.UUID, targetAccount string, ban bool, opID int64) (*models.BanHistory, error)
	CompleteBanStep(ctx context.Context, userAccount string, opID int64, videoStep bool) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error)
}

// IntentBus publishes ban intents onto the internal event bus the worker
// drains.
type IntentBus interface {
	EnqueueBanIntent(ctx context.Context, intent Intent) error
}

// Intent is one allocated ban operation awaiting its side effects.
type Intent struct {
	ClassID       uuid.UUID `json:"class_id"`
	TargetAccount string    `json:"target_account"`
	Ban           bool      `json:"ban"`
	OpID          int64     `json:"op_id"`
}

// Sequencer serializes ban operations per user account.
type Sequencer struct {
	store  Store
	bus    IntentBus
	logger *zap.Logger
}

// NewSequencer builds a Sequencer.
func NewSequencer(store Store, bus IntentBus, logger *zap.Logger) *Sequencer {
	return &Sequencer{store: store, bus: bus, logger: logger}
}

// Ban starts a new ban operation for targetAccount. assertedLastOpID is
// the caller's view of the previously completed operation id (0 when the
// caller has never seen one); a stale value fails fast with
// operation_id_obsolete, an incomplete current operation with
// operation_in_progress. On success the allocated operation id is returned
// and an intent has been published for the side-effect worker.
func (s *Sequencer) Ban(ctx context.Context, classID uuid.UUID, targetAccount string, ban bool, assertedLastOpID int64) (int64, error) {
	current, err := s.store.FindBanAccountOp(ctx, targetAccount)
	if err != nil {
		return 0, err
	}
	if current != nil {
		if current.LastOpID != assertedLastOpID {
			return 0, apperr.Newf(apperr.KindOperationIDObsolete, "operation id %d is obsolete, last is %d", assertedLastOpID, current.LastOpID)
		}
		if !current.Complete() {
			return 0, apperr.Newf(apperr.KindOperationInProgress, "operation %d is still in progress", current.LastOpID)
		}
	}

	opID, err := s.store.NextBanOpID(ctx)
	if err != nil {
		return 0, err
	}

	// The conditional upsert is the serialization point: the row-level
	// condition on the asserted id means of two concurrent callers that
	// both passed the checks above, only one advances last_op_id.
	ok, err := s.store.UpsertBanAccountOp(ctx, targetAccount, assertedLastOpID, opID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperr.Newf(apperr.KindOperationInProgress, "another ban operation won the race for %s", targetAccount)
	}

	if _, err := s.store.InsertBanHistory(ctx, classID, targetAccount, ban, opID); err != nil {
		return 0, err
	}

	intent := Intent{ClassID: classID, TargetAccount: targetAccount, Ban: ban, OpID: opID}
	if err := s.bus.EnqueueBanIntent(ctx, intent); err != nil {
		return 0, err
	}

	s.logger.Info("ban intent published",
		zap.String("target_account", targetAccount),
		zap.Int64("op_id", opID),
		zap.Bool("ban", ban),
	)
	return opID, nil
}

// LastOperation reads the current operation cursor for an account; a nil
// row means no ban has ever been started for it.
func (s *Sequencer) LastOperation(ctx context.Context, targetAccount string) (*models.BanAccountOp, error) {
	return s.store.FindBanAccountOp(ctx, targetAccount)
}
