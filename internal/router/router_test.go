package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
)

type fakeLifecycle struct {
	closed   []string
	timedOut []bool
	err      error
}

func (f *fakeLifecycle) CloseByRoom(_ context.Context, roomID string, timedOut bool) error {
	f.closed = append(f.closed, roomID)
	f.timedOut = append(f.timedOut, timedOut)
	return f.err
}

type fakePipeline struct {
	uploads  []string
	tasks    []broker.TaskCompleteEvent
	adjusts  []string
	dumps    []string
	editions []string
	outcome  broker.Outcome
}

func (f *fakePipeline) OnUpload(_ context.Context, roomID string, _ []broker.RtcManifest) broker.Outcome {
	f.uploads = append(f.uploads, roomID)
	return f.outcome
}

func (f *fakePipeline) OnTaskComplete(_ context.Context, evt broker.TaskCompleteEvent) broker.Outcome {
	f.tasks = append(f.tasks, evt)
	return f.outcome
}

func (f *fakePipeline) OnAdjustResult(_ context.Context, roomID string, _ bool, _ json.RawMessage) broker.Outcome {
	f.adjusts = append(f.adjusts, roomID)
	return f.outcome
}

func (f *fakePipeline) OnDumpEvents(_ context.Context, roomID string, _ bool, _ string) broker.Outcome {
	f.dumps = append(f.dumps, roomID)
	return f.outcome
}

func (f *fakePipeline) OnEditionCommit(_ context.Context, roomID string, _ bool, _ json.RawMessage) broker.Outcome {
	f.editions = append(f.editions, roomID)
	return f.outcome
}

func dispatch(t *testing.T, r *Router, label broker.Label, payload interface{}) broker.Outcome {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return r.Dispatch(context.Background(), broker.Message{Label: label, Audience: "u.example", Payload: raw})
}

func TestDispatchByLabel(t *testing.T) {
	lc := &fakeLifecycle{}
	pl := &fakePipeline{outcome: broker.Processed}
	r := New(lc, pl, nil, zap.NewNop())

	out := dispatch(t, r, broker.LabelRoomClose, broker.RoomCloseEvent{RoomID: "r1", TimedOut: true})
	assert.Equal(t, broker.Processed, out)
	assert.Equal(t, []string{"r1"}, lc.closed)
	assert.Equal(t, []bool{true}, lc.timedOut)

	out = dispatch(t, r, broker.LabelRoomUpload, broker.RoomUploadEvent{RoomID: "r2"})
	assert.Equal(t, broker.Processed, out)
	assert.Equal(t, []string{"r2"}, pl.uploads)

	out = dispatch(t, r, broker.LabelTaskComplete, broker.TaskCompleteEvent{Template: broker.TemplateTranscodeStreamToHls})
	assert.Equal(t, broker.Processed, out)
	assert.Len(t, pl.tasks, 1)

	out = dispatch(t, r, broker.LabelRoomAdjust, broker.RoomAdjustEvent{RoomID: "r3", Success: true})
	assert.Equal(t, broker.Processed, out)
	assert.Equal(t, []string{"r3"}, pl.adjusts)

	out = dispatch(t, r, broker.LabelRoomDumpEvents, broker.RoomDumpEventsEvent{RoomID: "r4", Success: true, URI: "s3://x"})
	assert.Equal(t, broker.Processed, out)
	assert.Equal(t, []string{"r4"}, pl.dumps)

	out = dispatch(t, r, broker.LabelEditionCommit, broker.EditionCommitEvent{SourceRoomID: "r5", Success: true})
	assert.Equal(t, broker.Processed, out)
	assert.Equal(t, []string{"r5"}, pl.editions)
}

func TestUnknownLabelIsDropped(t *testing.T) {
	r := New(&fakeLifecycle{}, &fakePipeline{}, nil, zap.NewNop())
	out := r.Dispatch(context.Background(), broker.Message{Label: "room.frobnicate", Payload: []byte(`{}`)})
	assert.Equal(t, broker.WontProcess, out)
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	lc := &fakeLifecycle{}
	r := New(lc, &fakePipeline{}, nil, zap.NewNop())
	out := r.Dispatch(context.Background(), broker.Message{Label: broker.LabelRoomClose, Payload: []byte(`{"room_id":`)})
	assert.Equal(t, broker.WontProcess, out)
	assert.Empty(t, lc.closed)
}

func TestLifecycleErrorMapping(t *testing.T) {
	lc := &fakeLifecycle{err: apperr.Newf(apperr.KindMqttRequestFailed, "collaborator down")}
	r := New(lc, &fakePipeline{}, nil, zap.NewNop())
	out := dispatch(t, r, broker.LabelRoomClose, broker.RoomCloseEvent{RoomID: "r1"})
	assert.Equal(t, broker.ProcessLater, out)

	lc.err = apperr.Newf(apperr.KindClassNotFound, "no such class")
	out = dispatch(t, r, broker.LabelRoomClose, broker.RoomCloseEvent{RoomID: "r1"})
	assert.Equal(t, broker.WontProcess, out)
}
