package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/models"
	"github.com/foxford/dispatchd/internal/store"
)

// fakeStore is an in-memory stand-in for the pgx-backed store, mirroring
// the upsert/no-op semantics of the real queries.
type fakeStore struct {
	mu         sync.Mutex
	classes    []*models.Class
	recordings []*models.Recording

	markTranscodedCalls int
	roomEventsURIs      map[string]string
}

func newFakeStore(classes ...*models.Class) *fakeStore {
	return &fakeStore{classes: classes, roomEventsURIs: map[string]string{}}
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "class %s not found", id)
}

func (f *fakeStore) FindByConferenceRoom(_ context.Context, roomID string) (*models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.ConferenceRoomID != nil && *c.ConferenceRoomID == roomID {
			return c, nil
		}
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class for conference room %s", roomID)
}

func (f *fakeStore) FindByScope(_ context.Context, audience, scope string) (*models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.Audience == audience && c.Scope == scope {
			return c, nil
		}
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class %s/%s", audience, scope)
}

func (f *fakeStore) FindByModifiedEventRoom(_ context.Context, roomID string) (*models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.ModifiedEventRoomID != nil && *c.ModifiedEventRoomID == roomID {
			return c, nil
		}
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class for modified room %s", roomID)
}

func (f *fakeStore) FindByEventRoom(_ context.Context, roomID string) (*models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if (c.EventRoomID != nil && *c.EventRoomID == roomID) ||
			(c.OriginalEventRoomID != nil && *c.OriginalEventRoomID == roomID) ||
			(c.ModifiedEventRoomID != nil && *c.ModifiedEventRoomID == roomID) {
			return c, nil
		}
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class for event room %s", roomID)
}

func (f *fakeStore) FindRecordingByClassAndRtc(_ context.Context, classID, rtcID uuid.UUID) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recordings {
		if r.ClassID == classID && r.RtcID == rtcID {
			return r, nil
		}
	}
	return nil, apperr.Newf(apperr.KindRecordingNotFound, "no recording %s/%s", classID, rtcID)
}

func (f *fakeStore) ListRecordingsByClass(_ context.Context, classID uuid.UUID) ([]models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Recording
	for _, r := range f.recordings {
		if r.ClassID == classID && r.DeletedAt == nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) PersistRoomUpload(_ context.Context, classID uuid.UUID, uploads []store.RtcUpload) ([]models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Recording
	for _, u := range uploads {
		var existing *models.Recording
		for _, r := range f.recordings {
			if r.ClassID == classID && r.RtcID == u.RtcID {
				existing = r
				break
			}
		}
		if existing == nil {
			existing = &models.Recording{
				ID:        uuid.New(),
				ClassID:   classID,
				RtcID:     u.RtcID,
				CreatedBy: u.CreatedBy,
				CreatedAt: time.Now().Add(time.Duration(len(f.recordings)) * time.Millisecond),
			}
			f.recordings = append(f.recordings, existing)
		}
		out = append(out, *existing)
	}
	return out, nil
}

func (f *fakeStore) UpdateStreamUpload(_ context.Context, id uuid.UUID, streamURI string, startedAt time.Time, segments models.Ranges) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recordings {
		if r.ID == id {
			r.StreamURI = &streamURI
			r.StartedAt = &startedAt
			r.Segments = segments
			return r, nil
		}
	}
	return nil, apperr.Newf(apperr.KindRecordingNotFound, "recording %s not found", id)
}

func (f *fakeStore) SetEventRoomPointers(_ context.Context, id uuid.UUID, original, modified *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.ID == id {
			c.OriginalEventRoomID = original
			c.ModifiedEventRoomID = modified
			return nil
		}
	}
	return apperr.Newf(apperr.KindClassNotFound, "class %s not found", id)
}

func (f *fakeStore) PersistWebinarAdjust(_ context.Context, classID, recordingID uuid.UUID, original, modified *string, modifiedSegments models.Ranges, adjustedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.ID == classID {
			c.OriginalEventRoomID = original
			c.ModifiedEventRoomID = modified
		}
	}
	for _, r := range f.recordings {
		if r.ID == recordingID {
			r.ModifiedSegments = modifiedSegments
			at := adjustedAt
			r.AdjustedAt = &at
		}
	}
	return nil
}

func (f *fakeStore) PersistMinigroupAdjust(_ context.Context, classID uuid.UUID, original, modified *string, results []store.MinigroupAdjustResult, adjustedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.classes {
		if c.ID == classID {
			c.OriginalEventRoomID = original
			c.ModifiedEventRoomID = modified
		}
	}
	byID := map[uuid.UUID]store.MinigroupAdjustResult{}
	for _, res := range results {
		byID[res.RecordingID] = res
	}
	for _, r := range f.recordings {
		if r.ClassID != classID {
			continue
		}
		if res, ok := byID[r.ID]; ok {
			r.ModifiedSegments = res.ModifiedSegments
			r.PinSegments = res.PinSegments
			r.VideoMuteSegments = res.VideoMuteSegments
			r.AudioMuteSegments = res.AudioMuteSegments
		}
		at := adjustedAt
		r.AdjustedAt = &at
	}
	return nil
}

func (f *fakeStore) MarkTranscoded(_ context.Context, classID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markTranscodedCalls++
	for _, r := range f.recordings {
		if r.ClassID == classID && r.TranscodedAt == nil {
			t := at
			r.TranscodedAt = &t
		}
	}
	return nil
}

func (f *fakeStore) UpdateRoomEventsURIByModifiedEventRoom(_ context.Context, roomID, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomEventsURIs[roomID] = uri
	for _, c := range f.classes {
		if c.ModifiedEventRoomID != nil && *c.ModifiedEventRoomID == roomID {
			u := uri
			c.RoomEventsURI = &u
			return nil
		}
	}
	return apperr.Newf(apperr.KindClassNotFound, "no class for modified room %s", roomID)
}

// collabHarness fakes the three collaborators over httptest.
type collabHarness struct {
	mu          sync.Mutex
	hostAgent   string
	adjustCalls int
	dumpCalls   int
	adjustBody  map[string]interface{}
	tasks       []map[string]interface{}

	eventlog   *httptest.Server
	conference *httptest.Server
	taskqueue  *httptest.Server
}

func newCollabHarness(t *testing.T, hostAgent string) *collabHarness {
	t.Helper()
	h := &collabHarness{hostAgent: hostAgent}

	h.eventlog = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/adjust"):
			h.mu.Lock()
			h.adjustCalls++
			_ = json.NewDecoder(r.Body).Decode(&h.adjustBody)
			h.mu.Unlock()
			fmt.Fprint(w, `{"room_id":"mod-room-1"}`)
		case strings.HasSuffix(r.URL.Path, "/dump_events"):
			h.mu.Lock()
			h.dumpCalls++
			h.mu.Unlock()
			fmt.Fprint(w, `{}`)
		case strings.HasSuffix(r.URL.Path, "/events"):
			if h.hostAgent == "" || r.URL.Query().Get("page") != "1" {
				fmt.Fprint(w, `{"events":[]}`)
				return
			}
			fmt.Fprintf(w, `{"events":[{"id":"%s","kind":"host","data":{"agent_id":"%s"}}]}`, uuid.New(), h.hostAgent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(h.eventlog.Close)

	h.conference = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/writer_config_snapshots") {
			fmt.Fprint(w, `{"snapshots":[]}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(h.conference.Close)

	h.taskqueue = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.mu.Lock()
		h.tasks = append(h.tasks, body)
		h.mu.Unlock()
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(h.taskqueue.Close)

	return h
}

func (h *collabHarness) tasksOf(template string) []map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]interface{}
	for _, task := range h.tasks {
		if task["template"] == template {
			out = append(out, task)
		}
	}
	return out
}

func newTestPipeline(st Store, h *collabHarness, prerollMs int64) *Pipeline {
	logger := zap.NewNop()
	conference := clients.NewConferenceClient(h.conference.URL, time.Second, logger)
	eventlog := clients.NewEventLogClient(h.eventlog.URL, time.Second, logger)
	taskqueue := clients.NewTaskQueueClient(h.taskqueue.URL, time.Second, logger)
	preroll := func(string) int64 { return prerollMs }
	return New(st, conference, eventlog, taskqueue, nil, preroll, logger)
}

func closedClass(kind models.Kind, scope string) *models.Class {
	start := time.Now().Add(-2 * time.Hour)
	end := time.Now().Add(-time.Minute)
	conf := "conf-" + scope
	event := "event-" + scope
	return &models.Class{
		ID:               uuid.New(),
		Kind:             kind,
		Audience:         "u.example",
		Scope:            scope,
		Time:             models.Interval{Start: &start, End: &end},
		ConferenceRoomID: &conf,
		EventRoomID:      &event,
		Established:      true,
		ContentID:        scope,
	}
}

func convertComplete(t *testing.T, cls *models.Class, rtcID uuid.UUID, startedAt time.Time, segments models.Ranges) broker.TaskCompleteEvent {
	t.Helper()
	result, err := json.Marshal(broker.ConvertMjrDumpsResult{
		RtcID:     rtcID,
		StreamURI: "s3://streams/" + rtcID.String() + ".webm",
		StartedAt: startedAt,
		Segments:  segments,
	})
	require.NoError(t, err)
	return broker.TaskCompleteEvent{
		Template:    broker.TemplateConvertMjrDumpsToStream,
		TemplateKey: cls.Audience + "::" + cls.Scope,
		Success:     true,
		Result:      result,
	}
}

func TestMinigroupHappyPath(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindMinigroup, "mg1")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "agent-a")
	p := newTestPipeline(st, h, 4018)

	rtcA, rtcB := uuid.New(), uuid.New()
	startedA := time.Date(2023, 4, 18, 10, 0, 0, 0, time.UTC)
	startedB := startedA.Add(600000 * time.Millisecond)

	// room.upload: two manifests, two recordings, two conversion tasks.
	out := p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtcA, CreatedBy: "agent-a", MjrDumpsURIs: []string{"s3://dumps/a-0.mjr"}},
		{RtcID: rtcB, CreatedBy: "agent-b", MjrDumpsURIs: []string{"s3://dumps/b-0.mjr"}},
	})
	require.Equal(t, broker.Processed, out)
	require.Len(t, h.tasksOf("convert-mjr-dumps-to-stream"), 2)

	// First stream converts; the class stays in ConvertingStreams.
	out = p.OnTaskComplete(ctx, convertComplete(t, cls, rtcA, startedA, models.Ranges{{Start: 0, End: 1500000}, {Start: 1800000, End: 3000000}}))
	require.Equal(t, broker.Processed, out)
	assert.Equal(t, 0, h.adjustCalls)

	// Second stream converts; adjust_room_v2 fires with both recordings.
	out = p.OnTaskComplete(ctx, convertComplete(t, cls, rtcB, startedB, models.Ranges{{Start: 0, End: 2700000}}))
	require.Equal(t, broker.Processed, out)
	require.Equal(t, 1, h.adjustCalls)

	recs, ok := h.adjustBody["recordings"].([]interface{})
	require.True(t, ok)
	require.Len(t, recs, 2)
	hostFlags := map[string]bool{}
	for _, raw := range recs {
		entry := raw.(map[string]interface{})
		hostFlags[entry["created_by"].(string)] = entry["host"].(bool)
	}
	assert.True(t, hostFlags["agent-a"])
	assert.False(t, hostFlags["agent-b"])
	assert.Equal(t, float64(4018), h.adjustBody["offset"])
	snapshots, ok := h.adjustBody["writer_config"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, snapshots)

	require.NotNil(t, cls.ModifiedEventRoomID)
	assert.Equal(t, "mod-room-1", *cls.ModifiedEventRoomID)

	// room.adjust result: per-recording segments; transcoding dispatched.
	recordings, err := st.ListRecordingsByClass(ctx, cls.ID)
	require.NoError(t, err)
	require.Len(t, recordings, 2)
	adjustResult := clients.AdjustV2Result{RoomID: "mod-room-1"}
	for _, r := range recordings {
		adjustResult.Recordings = append(adjustResult.Recordings, clients.MinigroupRecordingAdjustResult{
			RecordingID:      r.ID,
			ModifiedSegments: r.Segments,
		})
	}
	raw, err := json.Marshal(adjustResult)
	require.NoError(t, err)

	out = p.OnAdjustResult(ctx, "mod-room-1", true, raw)
	require.Equal(t, broker.Processed, out)
	assert.Equal(t, 1, h.dumpCalls)

	transcodes := h.tasksOf("transcode-minigroup-to-hls")
	require.Len(t, transcodes, 1)
	task := transcodes[0]

	var hostRtc uuid.UUID
	for _, r := range recordings {
		if r.CreatedBy == "agent-a" {
			hostRtc = r.RtcID
		}
	}
	assert.Equal(t, hostRtc.String(), task["host_stream_id"])

	streams := task["streams"].([]interface{})
	require.Len(t, streams, 2)
	offsets := map[string]float64{}
	for _, raw := range streams {
		entry := raw.(map[string]interface{})
		offsets[entry["rtc_id"].(string)] = entry["offset_ms"].(float64)
	}
	assert.Equal(t, float64(0), offsets[rtcA.String()])
	assert.Equal(t, float64(600000), offsets[rtcB.String()])

	// task.complete for the transcode: recordings marked, class Ready.
	out = p.OnTaskComplete(ctx, broker.TaskCompleteEvent{
		Template:    broker.TemplateTranscodeMinigroupToHls,
		TemplateKey: "u.example::mg1",
		Success:     true,
		Result:      json.RawMessage(`{"recording_duration":"3000.0"}`),
	})
	require.Equal(t, broker.Processed, out)
	assert.Equal(t, 1, st.markTranscodedCalls)

	recordings, err = st.ListRecordingsByClass(ctx, cls.ID)
	require.NoError(t, err)
	for _, r := range recordings {
		assert.NotNil(t, r.TranscodedAt)
	}
	assert.Equal(t, Ready, Derive(cls, recordings))
}

func TestWebinarHappyPath(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindWebinar, "w1")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "")
	p := newTestPipeline(st, h, 0)

	rtc := uuid.New()
	started := time.Date(2023, 4, 18, 10, 0, 0, 0, time.UTC)

	out := p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtc, CreatedBy: "presenter", MjrDumpsURIs: []string{"s3://dumps/w-0.mjr"}},
	})
	require.Equal(t, broker.Processed, out)

	out = p.OnTaskComplete(ctx, convertComplete(t, cls, rtc, started, models.Ranges{{Start: 0, End: 3600000}}))
	require.Equal(t, broker.Processed, out)
	require.Equal(t, 1, h.adjustCalls)
	require.NotNil(t, cls.ModifiedEventRoomID)

	raw := json.RawMessage(`{"room_id":"mod-room-1","modified_segments":[{"start":0,"end":3540000}]}`)
	out = p.OnAdjustResult(ctx, "mod-room-1", true, raw)
	require.Equal(t, broker.Processed, out)

	transcodes := h.tasksOf("transcode-stream-to-hls")
	require.Len(t, transcodes, 1)
	assert.Equal(t, "mod-room-1", transcodes[0]["event_room_id"])

	out = p.OnTaskComplete(ctx, broker.TaskCompleteEvent{
		Template:    broker.TemplateTranscodeStreamToHls,
		TemplateKey: "u.example::w1",
		Success:     true,
		Result:      json.RawMessage(`{"recording_duration":"3540.2"}`),
	})
	require.Equal(t, broker.Processed, out)

	recordings, err := st.ListRecordingsByClass(ctx, cls.ID)
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	assert.NotNil(t, recordings[0].TranscodedAt)
	assert.NotNil(t, recordings[0].AdjustedAt)
}

func TestUploadRedeliveryDoesNotDuplicateRecordings(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindMinigroup, "mg2")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "agent-a")
	p := newTestPipeline(st, h, 0)

	manifests := []broker.RtcManifest{
		{RtcID: uuid.New(), CreatedBy: "agent-a", MjrDumpsURIs: []string{"s3://dumps/a.mjr"}},
	}
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, manifests))
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, manifests))

	recordings, err := st.ListRecordingsByClass(ctx, cls.ID)
	require.NoError(t, err)
	assert.Len(t, recordings, 1)
}

func TestConvertRedeliveryDoesNotReadjust(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindWebinar, "w2")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "")
	p := newTestPipeline(st, h, 0)

	rtc := uuid.New()
	started := time.Now().Add(-time.Hour)
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtc, CreatedBy: "presenter"},
	}))

	evt := convertComplete(t, cls, rtc, started, models.Ranges{{Start: 0, End: 60000}})
	require.Equal(t, broker.Processed, p.OnTaskComplete(ctx, evt))
	require.Equal(t, broker.Processed, p.OnTaskComplete(ctx, evt))
	assert.Equal(t, 1, h.adjustCalls)
}

func TestTranscodeRedeliveryDoesNotRemark(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindWebinar, "w3")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "")
	p := newTestPipeline(st, h, 0)

	rtc := uuid.New()
	started := time.Now().Add(-time.Hour)
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtc, CreatedBy: "presenter"},
	}))
	require.Equal(t, broker.Processed, p.OnTaskComplete(ctx, convertComplete(t, cls, rtc, started, models.Ranges{{Start: 0, End: 60000}})))
	require.Equal(t, broker.Processed, p.OnAdjustResult(ctx, "mod-room-1", true, json.RawMessage(`{"modified_segments":[{"start":0,"end":50000}]}`)))

	evt := broker.TaskCompleteEvent{
		Template:    broker.TemplateTranscodeStreamToHls,
		TemplateKey: "u.example::w3",
		Success:     true,
		Result:      json.RawMessage(`{"recording_duration":"50.0"}`),
	}
	require.Equal(t, broker.Processed, p.OnTaskComplete(ctx, evt))
	require.Equal(t, broker.Processed, p.OnTaskComplete(ctx, evt))
	assert.Equal(t, 1, st.markTranscodedCalls)
}

func TestMinigroupWithoutHostFails(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindMinigroup, "mg3")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "") // no host event in the room
	p := newTestPipeline(st, h, 0)

	rtc := uuid.New()
	started := time.Now().Add(-time.Hour)
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtc, CreatedBy: "agent-a"},
	}))

	out := p.OnTaskComplete(ctx, convertComplete(t, cls, rtc, started, models.Ranges{{Start: 0, End: 60000}}))
	assert.Equal(t, broker.WontProcess, out)
	assert.Equal(t, 0, h.adjustCalls)
}

func TestMinigroupHostWithoutRecordingFails(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindMinigroup, "mg5")
	st := newFakeStore(cls)
	// The host event names an agent that never uploaded a recording.
	h := newCollabHarness(t, "agent-absent")
	p := newTestPipeline(st, h, 0)

	rtc := uuid.New()
	started := time.Now().Add(-time.Hour)
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtc, CreatedBy: "agent-a"},
	}))

	out := p.OnTaskComplete(ctx, convertComplete(t, cls, rtc, started, models.Ranges{{Start: 0, End: 60000}}))
	assert.Equal(t, broker.WontProcess, out)
	assert.Equal(t, 0, h.adjustCalls)
}

func TestDumpEventsPersistsURI(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindMinigroup, "mg4")
	mod := "mod-room-1"
	cls.ModifiedEventRoomID = &mod
	st := newFakeStore(cls)
	h := newCollabHarness(t, "agent-a")
	p := newTestPipeline(st, h, 0)

	out := p.OnDumpEvents(ctx, "mod-room-1", true, "s3://dumps/events.json")
	require.Equal(t, broker.Processed, out)
	require.NotNil(t, cls.RoomEventsURI)
	assert.Equal(t, "s3://dumps/events.json", *cls.RoomEventsURI)

	// Failure never blocks the pipeline.
	out = p.OnDumpEvents(ctx, "mod-room-1", false, "")
	assert.Equal(t, broker.Processed, out)
}

func TestRestartTranscodingRequiresAdjust(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindWebinar, "w4")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "")
	p := newTestPipeline(st, h, 0)

	err := p.RestartTranscoding(ctx, cls, "high")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTranscodingFlowFailed, apperr.As(err).Kind)
}

func TestRestartTranscodingRedispatches(t *testing.T) {
	ctx := context.Background()
	cls := closedClass(models.KindWebinar, "w5")
	st := newFakeStore(cls)
	h := newCollabHarness(t, "")
	p := newTestPipeline(st, h, 0)

	rtc := uuid.New()
	started := time.Now().Add(-time.Hour)
	require.Equal(t, broker.Processed, p.OnUpload(ctx, *cls.ConferenceRoomID, []broker.RtcManifest{
		{RtcID: rtc, CreatedBy: "presenter"},
	}))
	require.Equal(t, broker.Processed, p.OnTaskComplete(ctx, convertComplete(t, cls, rtc, started, models.Ranges{{Start: 0, End: 60000}})))
	require.Equal(t, broker.Processed, p.OnAdjustResult(ctx, "mod-room-1", true, json.RawMessage(`{"modified_segments":[{"start":0,"end":50000}]}`)))

	before := len(h.tasksOf("transcode-stream-to-hls"))
	require.NoError(t, p.RestartTranscoding(ctx, cls, "high"))
	after := h.tasksOf("transcode-stream-to-hls")
	require.Len(t, after, before+1)
	assert.Equal(t, "high", after[len(after)-1]["priority"])
}

func TestParseDurationSeconds(t *testing.T) {
	assert.Equal(t, uint64(3000), parseDurationSeconds("3000.0"))
	assert.Equal(t, uint64(3000), parseDurationSeconds("2999.6"))
	assert.Equal(t, uint64(0), parseDurationSeconds("not-a-number"))
	assert.Equal(t, uint64(0), parseDurationSeconds("-5"))
}
