package banops

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

// fakeStore mirrors the SQL semantics of the real ban queries: the
// conditional upsert only advances from an equal or fully completed row,
// completion flags only stick while the operation id still matches.
type fakeStore struct {
	ops     map[string]*models.BanAccountOp
	history map[int64]*models.BanHistory
	classes map[uuid.UUID]*models.Class
	nextOp  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ops:     map[string]*models.BanAccountOp{},
		history: map[int64]*models.BanHistory{},
		classes: map[uuid.UUID]*models.Class{},
	}
}

func (f *fakeStore) FindBanAccountOp(_ context.Context, userAccount string) (*models.BanAccountOp, error) {
	op, ok := f.ops[userAccount]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}

func (f *fakeStore) NextBanOpID(_ context.Context) (int64, error) {
	f.nextOp++
	return f.nextOp, nil
}

func (f *fakeStore) UpsertBanAccountOp(_ context.Context, userAccount string, assertedLastOpID, newOpID int64) (bool, error) {
	op, ok := f.ops[userAccount]
	if !ok {
		f.ops[userAccount] = &models.BanAccountOp{UserAccount: userAccount, LastOpID: newOpID}
		return true, nil
	}
	if op.LastOpID == newOpID || (op.LastOpID == assertedLastOpID && op.Complete()) {
		f.ops[userAccount] = &models.BanAccountOp{UserAccount: userAccount, LastOpID: newOpID}
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) InsertBanHistory(_ context.Context, classID uuid.UUID, targetAccount string, ban bool, opID int64) (*models.BanHistory, error) {
	if existing, ok := f.history[opID]; ok {
		return existing, nil
	}
	row := &models.BanHistory{ID: uuid.New(), ClassID: classID, TargetAccount: targetAccount, Ban: ban, BannedOperationID: opID}
	f.history[opID] = row
	return row, nil
}

func (f *fakeStore) CompleteBanStep(_ context.Context, userAccount string, opID int64, videoStep bool) (bool, error) {
	op, ok := f.ops[userAccount]
	if !ok || op.LastOpID != opID {
		return false, nil
	}
	if videoStep {
		op.VideoComplete = true
	} else {
		op.EventAccessComplete = true
	}
	return true, nil
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*models.Class, error) {
	cls, ok := f.classes[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindClassNotFound, "class %s not found", id)
	}
	return cls, nil
}

type fakeBus struct {
	intents []Intent
}

func (b *fakeBus) EnqueueBanIntent(_ context.Context, intent Intent) error {
	b.intents = append(b.intents, intent)
	return nil
}

type fakeBackend struct {
	calls []string
	fail  bool
}

func (b *fakeBackend) Ban(_ context.Context, roomID, targetAccount string, ban bool) error {
	b.calls = append(b.calls, roomID+"/"+targetAccount)
	if b.fail {
		return apperr.Newf(apperr.KindMqttRequestFailed, "backend down")
	}
	return nil
}

func TestBanSequencing(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	bus := &fakeBus{}
	seq := NewSequencer(st, bus, zap.NewNop())
	classID := uuid.New()

	// First ban allocates an operation and records the intent.
	opID, err := seq.Ban(ctx, classID, "account-x", true, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), opID)
	require.Len(t, bus.intents, 1)
	assert.Equal(t, Intent{ClassID: classID, TargetAccount: "account-x", Ban: true, OpID: 1}, bus.intents[0])

	row := st.ops["account-x"]
	assert.Equal(t, int64(1), row.LastOpID)
	assert.False(t, row.VideoComplete)
	assert.False(t, row.EventAccessComplete)

	// A later ban that still asserts the stale id 0 fails fast: the row
	// already holds op 1, so the asserted id is obsolete.
	_, err = seq.Ban(ctx, classID, "account-x", true, 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindOperationIDObsolete, apperr.As(err).Kind)

	// Video side effect completes; the operation is still in progress.
	ok, err := st.CompleteBanStep(ctx, "account-x", 1, true)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = seq.Ban(ctx, classID, "account-x", false, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindOperationInProgress, apperr.As(err).Kind)

	// Event side effect completes; the next ban may advance.
	_, err = st.CompleteBanStep(ctx, "account-x", 1, false)
	require.NoError(t, err)

	// A stale asserted id fails fast even once completed.
	_, err = seq.Ban(ctx, classID, "account-x", false, 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindOperationIDObsolete, apperr.As(err).Kind)

	opID, err = seq.Ban(ctx, classID, "account-x", false, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), opID)
	assert.Equal(t, int64(2), st.ops["account-x"].LastOpID)
}

func TestBanUpsertGuardsAgainstStaleAssertion(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	bus := &fakeBus{}
	seq := NewSequencer(st, bus, zap.NewNop())
	classID := uuid.New()

	_, err := seq.Ban(ctx, classID, "account-x", true, 0)
	require.NoError(t, err)
	_, err = st.CompleteBanStep(ctx, "account-x", 1, true)
	require.NoError(t, err)
	_, err = st.CompleteBanStep(ctx, "account-x", 1, false)
	require.NoError(t, err)

	// A caller whose asserted id went stale between its read and the
	// upsert must lose at the row-level condition: the stored row moved
	// from 1 to 2 underneath it.
	_, err = seq.Ban(ctx, classID, "account-x", false, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.ops["account-x"].LastOpID)

	ok, err := st.UpsertBanAccountOp(ctx, "account-x", 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), st.ops["account-x"].LastOpID)
}

func TestBanHistoryInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	classID := uuid.New()

	first, err := st.InsertBanHistory(ctx, classID, "account-x", true, 7)
	require.NoError(t, err)
	second, err := st.InsertBanHistory(ctx, classID, "account-x", true, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestWorkerAppliesBothSideEffects(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	classID := uuid.New()
	confRoom := "conf-room"
	eventRoom := "event-room"
	st.classes[classID] = &models.Class{ID: classID, ConferenceRoomID: &confRoom, EventRoomID: &eventRoom}
	st.ops["account-x"] = &models.BanAccountOp{UserAccount: "account-x", LastOpID: 5}

	media := &fakeBackend{}
	events := &fakeBackend{}
	w := NewWorker(st, nil, media, events, zap.NewNop())

	intent := Intent{ClassID: classID, TargetAccount: "account-x", Ban: true, OpID: 5}
	require.NoError(t, w.ProcessIntent(ctx, intent))

	assert.Equal(t, []string{"conf-room/account-x"}, media.calls)
	assert.Equal(t, []string{"event-room/account-x"}, events.calls)
	assert.True(t, st.ops["account-x"].Complete())

	// Redelivery of the same intent is a no-op once completed.
	require.NoError(t, w.ProcessIntent(ctx, intent))
	assert.Len(t, media.calls, 1)
	assert.Len(t, events.calls, 1)
}

func TestWorkerRetriesOnlyIncompleteSteps(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	classID := uuid.New()
	confRoom := "conf-room"
	eventRoom := "event-room"
	st.classes[classID] = &models.Class{ID: classID, ConferenceRoomID: &confRoom, EventRoomID: &eventRoom}
	st.ops["account-x"] = &models.BanAccountOp{UserAccount: "account-x", LastOpID: 5}

	media := &fakeBackend{}
	events := &fakeBackend{fail: true}
	w := NewWorker(st, nil, media, events, zap.NewNop())

	intent := Intent{ClassID: classID, TargetAccount: "account-x", Ban: true, OpID: 5}
	require.Error(t, w.ProcessIntent(ctx, intent))
	assert.True(t, st.ops["account-x"].VideoComplete)
	assert.False(t, st.ops["account-x"].EventAccessComplete)

	// On retry the video step is skipped, only the event step re-runs.
	events.fail = false
	require.NoError(t, w.ProcessIntent(ctx, intent))
	assert.Len(t, media.calls, 1)
	assert.Len(t, events.calls, 2)
	assert.True(t, st.ops["account-x"].Complete())
}

func TestWorkerDropsSupersededIntent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	classID := uuid.New()
	st.classes[classID] = &models.Class{ID: classID}
	st.ops["account-x"] = &models.BanAccountOp{UserAccount: "account-x", LastOpID: 9}

	media := &fakeBackend{}
	events := &fakeBackend{}
	w := NewWorker(st, nil, media, events, zap.NewNop())

	require.NoError(t, w.ProcessIntent(ctx, Intent{ClassID: classID, TargetAccount: "account-x", OpID: 5}))
	assert.Empty(t, media.calls)
	assert.Empty(t, events.calls)
}
