package urb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbipd-go/usbipd/urb"
)

func TestTrackerInsertGetRemove(t *testing.T) {
	tr := urb.NewTracker()

	u := &urb.Urb{Seqnum: 1, Status: urb.StatusPending}
	require.NoError(t, tr.Insert(u))

	got, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.Seqnum)

	removed, ok := tr.Remove(1)
	require.True(t, ok)
	assert.Equal(t, u, removed)

	_, ok = tr.Get(1)
	assert.False(t, ok)
}

func TestTrackerDuplicateSeqnum(t *testing.T) {
	tr := urb.NewTracker()
	require.NoError(t, tr.Insert(&urb.Urb{Seqnum: 5}))

	err := tr.Insert(&urb.Urb{Seqnum: 5})
	assert.ErrorIs(t, err, urb.ErrDuplicateRequest)
}

func TestTrackerConcurrentLimit(t *testing.T) {
	tr := urb.NewTracker()
	for i := uint32(0); i < urb.MaxInFlight; i++ {
		require.NoError(t, tr.Insert(&urb.Urb{Seqnum: i}))
	}
	assert.Equal(t, urb.MaxInFlight, tr.Len())

	err := tr.Insert(&urb.Urb{Seqnum: urb.MaxInFlight})
	assert.ErrorIs(t, err, urb.ErrConcurrentRequestLimit)
}

func TestTrackerSetStatus(t *testing.T) {
	tr := urb.NewTracker()
	require.NoError(t, tr.Insert(&urb.Urb{Seqnum: 1, Status: urb.StatusPending}))

	ok := tr.SetStatus(1, urb.StatusInProgress)
	require.True(t, ok)

	got, _ := tr.Get(1)
	assert.Equal(t, urb.StatusInProgress, got.Status)

	ok = tr.SetStatus(99, urb.StatusCompleted)
	assert.False(t, ok)
}

func TestTrackerDrain(t *testing.T) {
	tr := urb.NewTracker()
	require.NoError(t, tr.Insert(&urb.Urb{Seqnum: 1}))
	require.NoError(t, tr.Insert(&urb.Urb{Seqnum: 2}))

	drained := tr.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, tr.Len())
}
