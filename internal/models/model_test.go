package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSharingPolicy(t *testing.T) {
	assert.Equal(t, SharingShared, KindWebinar.SharingPolicy())
	assert.Equal(t, SharingOwned, KindMinigroup.SharingPolicy())
	assert.Equal(t, SharingNone, KindP2P.SharingPolicy())

	assert.True(t, KindWebinar.HasConferenceRoom())
	assert.True(t, KindMinigroup.HasConferenceRoom())
	assert.False(t, KindP2P.HasConferenceRoom())
}

func TestIntervalClampEnd(t *testing.T) {
	now := time.Now()

	// Unbounded end is always clamped.
	iv := Interval{}.ClampEnd(now)
	require.NotNil(t, iv.End)
	assert.Equal(t, now, *iv.End)

	// A later bound moves down to now.
	later := now.Add(time.Hour)
	iv = Interval{End: &later}.ClampEnd(now)
	assert.Equal(t, now, *iv.End)

	// An earlier bound never moves later.
	earlier := now.Add(-time.Hour)
	iv = Interval{End: &earlier}.ClampEnd(now)
	assert.Equal(t, earlier, *iv.End)
}

func TestRangesDurationMs(t *testing.T) {
	r := Ranges{{Start: 0, End: 1500000}, {Start: 1800000, End: 3000000}}
	assert.Equal(t, int64(2700000), r.DurationMs())
	assert.Equal(t, int64(0), Ranges{}.DurationMs())
	assert.Equal(t, int64(0), Ranges{{Start: 10, End: 5}}.DurationMs())
}

func TestRecordingReady(t *testing.T) {
	var r Recording
	assert.False(t, r.Ready())
	uri := "s3://streams/x.webm"
	at := time.Now()
	r.StreamURI = &uri
	assert.False(t, r.Ready())
	r.StartedAt = &at
	assert.True(t, r.Ready())
}

func TestBanAccountOpComplete(t *testing.T) {
	op := BanAccountOp{}
	assert.False(t, op.Complete())
	op.VideoComplete = true
	assert.False(t, op.Complete())
	op.EventAccessComplete = true
	assert.True(t, op.Complete())
}
