package unlock

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	records map[[2]int]bool
}

func (f *fakeRecords) Exists(_ context.Context, viewerID, targetID int) (bool, error) {
	return f.records[[2]int{viewerID, targetID}], nil
}

func (f *fakeRecords) add(viewerID, targetID int) {
	f.records[[2]int{viewerID, targetID}] = true
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[[2]int]bool)}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCanSendRequiresBothDirections(t *testing.T) {
	cases := []struct {
		name     string
		aToB     bool
		bToA     bool
		unlocked bool
	}{
		{"neither", false, false, false},
		{"viewer only", true, false, false},
		{"peer only", false, true, false},
		{"both", true, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := newFakeRecords()
			if tc.aToB {
				src.add(1, 2)
			}
			if tc.bToA {
				src.add(2, 1)
			}
			gate := NewGate(src, discard())

			ok, err := gate.CanSend(context.Background(), 1, 2)
			require.NoError(t, err)
			assert.Equal(t, tc.unlocked, ok)

			// The gate is symmetric over the unordered pair.
			ok, err = gate.CanSend(context.Background(), 2, 1)
			require.NoError(t, err)
			assert.Equal(t, tc.unlocked, ok)
		})
	}
}

func TestCanSendUnlocksOnReciprocation(t *testing.T) {
	src := newFakeRecords()
	gate := NewGate(src, discard())
	ctx := context.Background()

	// Peer has analyzed the viewer; the viewer has not reciprocated.
	src.add(2, 1)
	ok, err := gate.CanSend(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// The viewer runs their own analysis. No message-store change involved;
	// the gate recomputes on the next query.
	src.add(1, 2)
	ok, err = gate.CanSend(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOperatorBypass(t *testing.T) {
	src := newFakeRecords()
	gate := NewGate(src, discard(), WithOperatorBypass(99))
	ctx := context.Background()

	ok, err := gate.CanSend(ctx, 99, 2)
	require.NoError(t, err)
	assert.True(t, ok, "operator sends past the gate when the switch is on")

	// The bypass is one identity, one direction.
	ok, err = gate.CanSend(ctx, 2, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	// Default construction has no bypass at all.
	ok, err = NewGate(src, discard()).CanSend(ctx, 99, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
