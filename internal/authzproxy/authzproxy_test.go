package authzproxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

const (
	trustedAudience = "svc.example.org"
	dispatcherID    = "dispatcher.svc.example.org"
)

type fakeFinder struct {
	byRoom      map[string]*models.Class
	byEventRoom map[string]*models.Class
	byScope     map[string]*models.Class
	byRtc       map[uuid.UUID]*models.Recording
}

func (f *fakeFinder) FindByAnyRoom(_ context.Context, roomID string) (*models.Class, error) {
	if c, ok := f.byRoom[roomID]; ok {
		return c, nil
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class for room %s", roomID)
}

func (f *fakeFinder) FindByEventRoom(_ context.Context, roomID string) (*models.Class, error) {
	if c, ok := f.byEventRoom[roomID]; ok {
		return c, nil
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class for event room %s", roomID)
}

func (f *fakeFinder) FindByScope(_ context.Context, audience, scope string) (*models.Class, error) {
	if c, ok := f.byScope[audience+"/"+scope]; ok {
		return c, nil
	}
	return nil, apperr.Newf(apperr.KindClassNotFound, "no class for %s/%s", audience, scope)
}

func (f *fakeFinder) FindRecordingByRtc(_ context.Context, rtcID uuid.UUID) (*models.Recording, error) {
	if r, ok := f.byRtc[rtcID]; ok {
		return r, nil
	}
	return nil, apperr.Newf(apperr.KindRecordingNotFound, "no recording for rtc %s", rtcID)
}

type fakeDecider struct {
	forwarded []Request
	permitted []string
	err       error
}

func (d *fakeDecider) Authorize(_ context.Context, _ string, req Request) ([]string, error) {
	d.forwarded = append(d.forwarded, req)
	if d.err != nil {
		return nil, d.err
	}
	return d.permitted, nil
}

func newProxy(finder *fakeFinder, decider *fakeDecider) *Proxy {
	return New(finder, decider, trustedAudience, dispatcherID, time.Millisecond, zap.NewNop())
}

func TestEventSubscribeRewritesToClassroomRead(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	finder := &fakeFinder{byRoom: map[string]*models.Class{"room-1": cls}}
	decider := &fakeDecider{permitted: []string{"read"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "event", Audience: trustedAudience}
	req := Request{
		Object: Object{Namespace: "event.svc.example.org", Value: []string{"rooms", "room-1", "events"}},
		Action: "subscribe",
	}
	permitted, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	require.Len(t, decider.forwarded, 1)
	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"classrooms", cls.ID.String()}, fwd.Object.Value)
	assert.Equal(t, dispatcherID, fwd.Object.Namespace)
	assert.Equal(t, "read", fwd.Action)

	// The caller observes its own vocabulary, not the canonical action.
	assert.Equal(t, []string{"subscribe"}, permitted)
}

func TestConferenceRtcReadRewrite(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	finder := &fakeFinder{byRoom: map[string]*models.Class{"room-2": cls}}
	decider := &fakeDecider{permitted: []string{"read"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "conference", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"rooms", "room-2", "rtcs", uuid.New().String()}},
		Action: "read",
	}
	permitted, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"classrooms", cls.ID.String()}, fwd.Object.Value)
	assert.Equal(t, "read", fwd.Action)
	assert.Equal(t, []string{"read"}, permitted)
}

func TestStorageOriginSetRewritesToUpload(t *testing.T) {
	rtcID := uuid.New()
	rec := &models.Recording{ID: uuid.New(), ClassID: uuid.New(), RtcID: rtcID}
	finder := &fakeFinder{byRtc: map[uuid.UUID]*models.Recording{rtcID: rec}}
	decider := &fakeDecider{permitted: []string{"upload"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "storage", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"sets", "origin.webinar.u.example::" + rtcID.String()}},
		Action: "create",
	}
	permitted, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"classrooms", rec.ClassID.String()}, fwd.Object.Value)
	assert.Equal(t, "upload", fwd.Action)
	assert.Equal(t, []string{"create"}, permitted)
}

func TestStorageContentScopeLookup(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	finder := &fakeFinder{byScope: map[string]*models.Class{"u.example/scope1": cls}}
	decider := &fakeDecider{permitted: []string{"read"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "storage", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"sets", "content.webinar.u.example::scope1", "doc.pdf"}},
		Action: "read",
	}
	_, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"classrooms", cls.ID.String()}, fwd.Object.Value)
	assert.Equal(t, "read", fwd.Action)
}

func TestStorageContentUpdateKeepsContentSuffix(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	finder := &fakeFinder{byScope: map[string]*models.Class{"u.example/scope1": cls}}
	decider := &fakeDecider{permitted: []string{"update"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "storage", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"sets", "content.webinar.u.example::scope1"}},
		Action: "delete",
	}
	permitted, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"classrooms", cls.ID.String(), "content"}, fwd.Object.Value)
	assert.Equal(t, "update", fwd.Action)
	assert.Equal(t, []string{"delete"}, permitted)
}

func TestStorageMinigroupSetUsesScopeLookup(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	finder := &fakeFinder{byScope: map[string]*models.Class{"u.example/mg1": cls}}
	decider := &fakeDecider{permitted: []string{"download"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "storage", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"sets", "ms.minigroup.u.example::mg1"}},
		Action: "read",
	}
	_, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"classrooms", cls.ID.String()}, fwd.Object.Value)
	assert.Equal(t, "download", fwd.Action)
}

func TestEventsdumpSetLookup(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	roomID := uuid.New().String()
	finder := &fakeFinder{byEventRoom: map[string]*models.Class{roomID: cls}}
	decider := &fakeDecider{permitted: []string{"download"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "storage", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"sets", "eventsdump.webinar.u.example::" + roomID}},
		Action: "read",
	}
	_, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)
	assert.Equal(t, []string{"classrooms", cls.ID.String()}, decider.forwarded[0].Object.Value)
}

func TestUnknownRoomIsForwardedUnsubstituted(t *testing.T) {
	finder := &fakeFinder{}
	decider := &fakeDecider{permitted: []string{"read"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "event", Audience: trustedAudience}
	req := Request{
		Object: Object{Namespace: "event.svc.example.org", Value: []string{"rooms", "ghost", "events"}},
		Action: "list",
	}
	_, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)

	fwd := decider.forwarded[0]
	assert.Equal(t, []string{"rooms", "ghost"}, fwd.Object.Value)
	assert.Equal(t, "event.svc.example.org", fwd.Object.Namespace)
	assert.Equal(t, "read", fwd.Action)
}

func TestDeniedActionYieldsEmptyList(t *testing.T) {
	cls := &models.Class{ID: uuid.New()}
	finder := &fakeFinder{byRoom: map[string]*models.Class{"room-3": cls}}
	decider := &fakeDecider{permitted: []string{"update"}}
	p := newProxy(finder, decider)

	caller := Caller{Label: "event", Audience: trustedAudience}
	req := Request{
		Object: Object{Value: []string{"rooms", "room-3", "events"}},
		Action: "subscribe",
	}
	permitted, err := p.Authorize(context.Background(), caller, "u.example", req)
	require.NoError(t, err)
	assert.Empty(t, permitted)
}

func TestUntrustedCallerIsRejected(t *testing.T) {
	p := newProxy(&fakeFinder{}, &fakeDecider{})

	for _, caller := range []Caller{
		{Label: "event", Audience: "other.example.org"},
		{Label: "billing", Audience: trustedAudience},
	} {
		_, err := p.Authorize(context.Background(), caller, "u.example", Request{Action: "read"})
		require.Error(t, err)
		assert.Equal(t, apperr.KindAccessDenied, apperr.As(err).Kind)
	}
}

func TestBackendFailureMapsToAuthorizationFailed(t *testing.T) {
	finder := &fakeFinder{}
	decider := &fakeDecider{err: errors.New("boom")}
	p := newProxy(finder, decider)

	caller := Caller{Label: "event", Audience: trustedAudience}
	_, err := p.Authorize(context.Background(), caller, "u.example", Request{
		Object: Object{Value: []string{"rooms", "ghost"}},
		Action: "read",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorizationFailed, apperr.As(err).Kind)
}

func TestExtractAudienceAndScope(t *testing.T) {
	audience, scope, ok := extractAudienceAndScope("content.webinar.testing01.example.org::p2p_48wmpa")
	require.True(t, ok)
	assert.Equal(t, "testing01.example.org", audience)
	assert.Equal(t, "p2p_48wmpa", scope)

	_, _, ok = extractAudienceAndScope("content.nodelimiter")
	assert.False(t, ok)
}
