// Package lifecycle implements the class lifecycle service: create,
// recreate, update, close-by-room and replicate, maintaining the
// dummy-row/established two-phase guard and propagating time/host updates
// to the conference and event-log collaborators under consistency
// constraints.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/models"
	"github.com/foxford/dispatchd/internal/store"
)

// Store is the subset of internal/store.Store that the lifecycle service
// needs, kept narrow so tests can supply an in-memory fake.
type Store interface {
	UpsertDummy(ctx context.Context, c *models.Class) (*models.Class, error)
	Establish(ctx context.Context, id uuid.UUID, conferenceRoomID, eventRoomID *string) (*models.Class, error)
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error)
	FindByScope(ctx context.Context, audience, scope string) (*models.Class, error)
	FindByConferenceRoom(ctx context.Context, roomID string) (*models.Class, error)
	FindByEventRoom(ctx context.Context, roomID string) (*models.Class, error)
	UpdateTime(ctx context.Context, id uuid.UUID, iv models.Interval, timedOut bool) (*models.Class, error)
	Update(ctx context.Context, id uuid.UUID, upd store.ClassUpdate) (*models.Class, error)
	Recreate(ctx context.Context, id uuid.UUID, conferenceRoomID, eventRoomID *string, iv models.Interval) (*models.Class, error)
}

// Service implements the class lifecycle operations.
type Service struct {
	store      Store
	conference *clients.ConferenceClient
	eventlog   *clients.EventLogClient
	bus        *broker.Bus
	retryDelay time.Duration
	logger     *zap.Logger
}

// New builds a lifecycle Service.
func New(st Store, conference *clients.ConferenceClient, eventlog *clients.EventLogClient, bus *broker.Bus, retryDelay time.Duration, logger *zap.Logger) *Service {
	return &Service{store: st, conference: conference, eventlog: eventlog, bus: bus, retryDelay: retryDelay, logger: logger}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	Kind            models.Kind
	Audience        string
	Scope           string
	Time            models.Interval
	Tags            map[string]interface{}
	Properties      map[string]interface{}
	Reserve         *int
	LockedChat      bool
	Whiteboard      bool
	PreserveHistory bool
}

// Create runs the five-step class creation sequence from spec §4.C. If any
// of steps 2-4 fail, the dummy row is deleted; failure in step 5 is logged
// but non-fatal.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Class, error) {
	contentID := p.Scope

	dummy := &models.Class{
		Kind:            p.Kind,
		Audience:        p.Audience,
		Scope:           p.Scope,
		Time:            p.Time,
		Tags:            p.Tags,
		Properties:      p.Properties,
		Reserve:         p.Reserve,
		PreserveHistory: p.PreserveHistory,
		ContentID:       contentID,
	}

	row, err := s.store.UpsertDummy(ctx, dummy)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyEstablished) {
			return nil, apperr.New(apperr.KindInvalidParameter, errors.New("class already established for this (audience, scope)"))
		}
		return nil, err
	}

	eventRoomID, err := s.eventlog.CreateRoom(ctx, row.ID)
	if err != nil {
		s.deleteDummy(ctx, row.ID)
		return nil, err
	}

	var conferenceRoomID *string
	if p.Kind.HasConferenceRoom() {
		id, err := s.conference.CreateRoom(ctx, row.ID, p.Kind.SharingPolicy(), p.Time, p.Reserve)
		if err != nil {
			s.deleteDummy(ctx, row.ID)
			return nil, err
		}
		conferenceRoomID = &id
	}

	established, err := s.store.Establish(ctx, row.ID, conferenceRoomID, &eventRoomID)
	if err != nil {
		s.deleteDummy(ctx, row.ID)
		return nil, err
	}

	if p.LockedChat {
		if err := s.eventlog.LockChat(ctx, eventRoomID); err != nil {
			s.logger.Warn("lock chat failed, non-fatal", zap.Error(err), zap.String("class_id", row.ID.String()))
		}
	}
	if p.Whiteboard {
		if err := s.eventlog.CreateWhiteboard(ctx, eventRoomID); err != nil {
			s.logger.Warn("whiteboard creation failed, non-fatal", zap.Error(err), zap.String("class_id", row.ID.String()))
		}
	}

	return established, nil
}

func (s *Service) deleteDummy(ctx context.Context, id uuid.UUID) {
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Error("failed to unwind dummy class row", zap.Error(err), zap.String("class_id", id.String()))
	}
}

// RecreateParams are the inputs to Recreate.
type RecreateParams struct {
	ClassID         uuid.UUID
	Time            models.Interval
	LockedChat      bool
	LockedQuestions bool
}

// Recreate creates fresh external rooms, repoints the class row at them
// and deletes its recordings, all local writes in one transaction.
// LockedChat is applied to the new event room after commit;
// LockedQuestions is accepted but not applied.
func (s *Service) Recreate(ctx context.Context, p RecreateParams) (*models.Class, error) {
	current, err := s.store.FindByID(ctx, p.ClassID)
	if err != nil {
		return nil, err
	}

	eventRoomID, err := s.eventlog.CreateRoom(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	var conferenceRoomID *string
	if current.Kind.HasConferenceRoom() {
		id, err := s.conference.CreateRoom(ctx, current.ID, current.Kind.SharingPolicy(), p.Time, current.Reserve)
		if err != nil {
			return nil, err
		}
		conferenceRoomID = &id
	}

	updated, err := s.store.Recreate(ctx, p.ClassID, conferenceRoomID, &eventRoomID, p.Time)
	if err != nil {
		return nil, err
	}

	if p.LockedChat {
		if err := s.eventlog.LockChat(ctx, eventRoomID); err != nil {
			s.logger.Warn("post-recreate lock chat failed, non-fatal", zap.Error(err), zap.String("class_id", p.ClassID.String()))
		}
	}

	return updated, nil
}

// UpdateParams are the inputs to Update; nil fields leave the corresponding
// value unchanged.
type UpdateParams struct {
	ClassID    uuid.UUID
	Time       *models.Interval
	Reserve    *int
	Host       *string
	Properties map[string]interface{}
}

// Update computes minimal remote update payloads, awaits both in parallel
// (skipping either call whose payload is empty), then writes the local row.
// Both remote updates must succeed before the local write is attempted.
func (s *Service) Update(ctx context.Context, p UpdateParams) (*models.Class, error) {
	current, err := s.store.FindByID(ctx, p.ClassID)
	if err != nil {
		return nil, err
	}

	type rpcResult struct{ err error }
	var conferenceDone, eventDone chan rpcResult

	if p.Time != nil || p.Reserve != nil {
		conferenceDone = make(chan rpcResult, 1)
		go func() {
			if !current.Kind.HasConferenceRoom() || current.ConferenceRoomID == nil {
				conferenceDone <- rpcResult{}
				return
			}
			iv := conferenceUpdateInterval(p.Time)
			err := s.conference.UpdateRoom(ctx, *current.ConferenceRoomID, iv, coalesceInt(p.Reserve, current.Reserve))
			conferenceDone <- rpcResult{err: err}
		}()
	}
	if p.Time != nil {
		eventDone = make(chan rpcResult, 1)
		go func() {
			if current.EventRoomID == nil {
				eventDone <- rpcResult{}
				return
			}
			err := s.eventlog.UpdateRoomTime(ctx, *current.EventRoomID, eventUpdateInterval())
			eventDone <- rpcResult{err: err}
		}()
	}

	if conferenceDone != nil {
		if r := <-conferenceDone; r.err != nil {
			return nil, r.err
		}
	}
	if eventDone != nil {
		if r := <-eventDone; r.err != nil {
			return nil, r.err
		}
	}

	return s.store.Update(ctx, p.ClassID, store.ClassUpdate{
		Time:       p.Time,
		Reserve:    p.Reserve,
		Host:       p.Host,
		Properties: p.Properties,
	})
}

// conferenceUpdateInterval implements spec §4.C's conference-time update
// rule: bounded start -> [start, Unbounded); unbounded -> (Unbounded, Unbounded).
func conferenceUpdateInterval(iv *models.Interval) models.Interval {
	if iv == nil || iv.Start == nil {
		return models.Unbounded()
	}
	return models.Interval{Start: iv.Start}
}

// eventUpdateInterval implements spec §4.C's event-time update rule: any
// time change forces event-room time to [now, Unbounded).
func eventUpdateInterval() models.Interval {
	now := time.Now()
	return models.Interval{Start: &now}
}

func coalesceInt(v, fallback *int) *int {
	if v != nil {
		return v
	}
	return fallback
}

// CloseByRoom finds the class by room id, clamps its time upper bound and
// marks timed_out, then publishes the kind-specific close event.
func (s *Service) CloseByRoom(ctx context.Context, roomID string, timedOut bool) error {
	cls, err := s.store.FindByEventRoom(ctx, roomID)
	if err != nil {
		cls, err = s.store.FindByConferenceRoom(ctx, roomID)
		if err != nil {
			return apperr.New(apperr.KindClassNotFound, errors.New("no class for closed room"))
		}
	}

	now := time.Now()
	clamped := cls.Time.ClampEnd(now)
	updated, err := s.store.UpdateTime(ctx, cls.ID, clamped, timedOut)
	if err != nil {
		return apperr.New(apperr.KindClassClosingFailed, err)
	}

	label := closeLabel(updated.Kind)
	if s.bus != nil {
		if err := s.bus.Publish(ctx, updated.Audience, label, broker.CloseEvent{ID: updated.ID, Scope: updated.Scope}); err != nil {
			s.logger.Error("failed to publish close event", zap.Error(err), zap.String("class_id", updated.ID.String()))
		}
	}
	return nil
}

func closeLabel(k models.Kind) broker.Label {
	switch k {
	case models.KindWebinar:
		return broker.LabelWebinarClose
	case models.KindMinigroup:
		return broker.LabelMinigroupClose
	default:
		return broker.LabelP2PClose
	}
}

// Replicate creates a webinar replica sharing the original's event room;
// only a new conference room is created.
func (s *Service) Replicate(ctx context.Context, originalClassID uuid.UUID, scope, audience string) (*models.Class, error) {
	original, err := s.store.FindByID(ctx, originalClassID)
	if err != nil {
		return nil, err
	}
	if original.Kind != models.KindWebinar {
		return nil, apperr.New(apperr.KindInvalidParameter, errors.New("replicate is webinar-only"))
	}

	dummy := &models.Class{
		Kind:            models.KindWebinar,
		Audience:        audience,
		Scope:           scope,
		Time:            original.Time,
		PreserveHistory: original.PreserveHistory,
		OriginalClassID: &originalClassID,
		ContentID:       scope,
	}
	row, err := s.store.UpsertDummy(ctx, dummy)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyEstablished) {
			return nil, apperr.New(apperr.KindInvalidParameter, errors.New("replica scope already established"))
		}
		return nil, err
	}

	conferenceRoomID, err := s.conference.CreateRoom(ctx, row.ID, models.KindWebinar.SharingPolicy(), original.Time, original.Reserve)
	if err != nil {
		s.deleteDummy(ctx, row.ID)
		return nil, err
	}

	return s.store.Establish(ctx, row.ID, &conferenceRoomID, original.EventRoomID)
}
