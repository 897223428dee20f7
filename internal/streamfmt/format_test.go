package streamfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBytes(t *testing.T) {
	t.Parallel()

	f := Format{Sample: FormatS16LE, Channels: 2, SampleRateHz: 48000}
	assert.Equal(t, 4, f.FrameBytes())

	f32 := Format{Sample: FormatFloat32LE, Channels: 1, SampleRateHz: 48000}
	assert.Equal(t, 4, f32.FrameBytes())
}

func TestValidateRejectsBadShape(t *testing.T) {
	t.Parallel()

	cases := []Format{
		{Sample: FormatS16LE, Channels: 0, SampleRateHz: 48000},
		{Sample: FormatS16LE, Channels: 2, SampleRateHz: 0},
		{Sample: SampleFormat(99), Channels: 2, SampleRateHz: 48000},
	}
	for _, c := range cases {
		require.Error(t, c.Validate())
	}
}

func TestCompatibleIgnoresDirection(t *testing.T) {
	t.Parallel()

	a := Format{Sample: FormatS16LE, Channels: 2, SampleRateHz: 48000, Direction: Capture}
	b := Format{Sample: FormatS16LE, Channels: 2, SampleRateHz: 48000, Direction: Playback}
	assert.True(t, Compatible(a, b))

	c := Format{Sample: FormatS16LE, Channels: 1, SampleRateHz: 48000, Direction: Playback}
	assert.False(t, Compatible(a, c))
}

func TestFramesBytesRoundTrip(t *testing.T) {
	t.Parallel()

	f := Format{Sample: FormatS16LE, Channels: 2, SampleRateHz: 48000}
	assert.Equal(t, 48, f.FramesFromBytes(192))
	assert.Equal(t, 192, f.BytesFromFrames(48))
	assert.Equal(t, 48, f.FramesFromBytes(195), "partial trailing frame truncated")
}
