package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/streamfmt"
)

func stereoS16() streamfmt.Format {
	return streamfmt.Format{Sample: streamfmt.FormatS16LE, Channels: 2, SampleRateHz: 48000}
}

func TestNewAlignsToCacheLine(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Size(), 100)
	assert.Equal(t, 0, b.Size()%64, "aligned size should be a multiple of a plausible cache line")
}

func TestProduceConsumeRoundTrip(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	n, err := b.Produce(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, len(payload), b.Avail())

	out := make([]byte, len(payload))
	n, err = b.Consume(out)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
	assert.Equal(t, 0, b.Avail())
}

func TestAvailPlusFreeInvariant(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	_, _ = b.Produce(make([]byte, 20))
	assert.Equal(t, b.Size(), b.Avail()+b.Free())

	_, _ = b.Consume(make([]byte, 5))
	assert.Equal(t, b.Size(), b.Avail()+b.Free())
}

func TestProduceOverrunClampsAndReportsCategory(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64) // aligns up to 64
	require.NoError(t, err)

	n, err := b.Produce(make([]byte, b.Size()+16))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryOverrun))
	assert.Equal(t, b.Size(), n)
	assert.Equal(t, b.Size(), b.Avail())
}

func TestConsumeUnderrunClampsAndReportsCategory(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	_, _ = b.Produce(make([]byte, 8))

	out := make([]byte, 32)
	n, err := b.Consume(out)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryUnderrun))
	assert.Equal(t, 8, n)
}

func TestWrapAroundSplitsIntoTwoSegments(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)
	size := b.Size()

	// Move w_ptr near the end, then produce enough to wrap.
	_, err = b.Produce(make([]byte, size-4))
	require.NoError(t, err)
	_, err = b.Consume(make([]byte, size-4))
	require.NoError(t, err)

	payload := make([]byte, 8)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	n, err := b.Produce(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	n, err = b.Consume(out)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out, "data spanning the wrap must read back byte-exact")
}

func TestConnectAlreadyConnected(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	h1 := arena.Handle(1)
	h2 := arena.Handle(2)

	require.NoError(t, b.Connect(CompToBuffer, h1))
	err = b.Connect(CompToBuffer, h2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidState))
}

func TestDisconnectRestoresPreConnectState(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	_, occupied := b.Producer()
	assert.False(t, occupied)

	require.NoError(t, b.Connect(CompToBuffer, arena.Handle(1)))
	b.Disconnect(CompToBuffer)

	_, occupied = b.Producer()
	assert.False(t, occupied, "disconnect must leave the slot exactly as Connect found it")
}

func TestInterCoreWritebackInvalidateCounters(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 256)
	require.NoError(t, err)
	b.SetCores(0, 1)
	assert.True(t, b.InterCore())

	_, err = b.Produce(make([]byte, 16))
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.WritebackCount())

	_, err = b.Consume(make([]byte, 16))
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.InvalidateCount())
}

func TestAvailFrames(t *testing.T) {
	t.Parallel()

	src, err := New(stereoS16(), 64)
	require.NoError(t, err)
	sink, err := New(stereoS16(), 64)
	require.NoError(t, err)

	_, _ = src.Produce(make([]byte, 20)) // 5 frames at 4 bytes/frame
	frames := AvailFrames(src, sink)
	assert.Equal(t, 5, frames)

	_, _ = sink.Produce(make([]byte, sink.Size()-8)) // leaves 8 bytes free = 2 frames
	frames = AvailFrames(src, sink)
	assert.Equal(t, 2, frames)
}

func TestWalkingFlagBreaksCycles(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	assert.True(t, b.TryEnterWalk())
	assert.False(t, b.TryEnterWalk(), "second entry before ExitWalk must fail")
	b.ExitWalk()
	assert.True(t, b.TryEnterWalk(), "entry after ExitWalk must succeed again")
}

func TestSetZeroDoesNotAdvanceCursors(t *testing.T) {
	t.Parallel()

	b, err := New(stereoS16(), 64)
	require.NoError(t, err)

	require.NoError(t, b.SetZero(16))
	assert.Equal(t, 0, b.Avail())
}
