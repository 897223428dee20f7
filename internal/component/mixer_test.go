package component

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/arena"
	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/streamfmt"
)

type testBufferGetter struct {
	arena *arena.Arena[*buffer.Buffer]
}

func (g testBufferGetter) Get(h arena.Handle) (*buffer.Buffer, error) {
	return g.arena.Get(h)
}

// TestMixerDefaultCopySumsSourcesWithSaturation demonstrates the priority-
// then-mix data flow §8 scenario 3 requires with Mixer's own default
// arithmetic: two already-filled source buffers, one mixer with no
// MixFunc, and a sink carrying the sample-wise saturating sum.
func TestMixerDefaultCopySumsSourcesWithSaturation(t *testing.T) {
	t.Parallel()

	stream := streamfmt.Format{Sample: streamfmt.FormatS16LE, Channels: 1, SampleRateHz: 48000}
	bufs := arena.New[*buffer.Buffer]("buffer")

	const frames = 4
	frameBytes := stream.FrameBytes()

	srcA, err := buffer.New(stream, frameBytes*frames*2)
	require.NoError(t, err)
	srcB, err := buffer.New(stream, frameBytes*frames*2)
	require.NoError(t, err)
	sink, err := buffer.New(stream, frameBytes*frames*2)
	require.NoError(t, err)

	srcAH := bufs.Alloc(srcA)
	srcBH := bufs.Alloc(srcB)
	sinkH := bufs.Alloc(sink)

	_, err = srcA.Produce(encodeS16([]int16{30000, -30000, 100, 0}))
	require.NoError(t, err)
	_, err = srcB.Produce(encodeS16([]int16{30000, -30000, 50, 1}))
	require.NoError(t, err)

	mixer := &Mixer{}
	c := New(1, 1, 0, VariantMixer, mixer)
	require.NoError(t, c.AddSource(srcAH))
	require.NoError(t, c.AddSource(srcBH))
	require.NoError(t, c.AddSink(sinkH))
	mixer.BindBuffers(c, testBufferGetter{arena: bufs})

	n, err := mixer.Copy(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, frames, n)

	out := make([]byte, frameBytes*frames)
	got, err := sink.Consume(out)
	require.NoError(t, err)
	assert.Equal(t, len(out), got)

	outSamples := decodeS16(out)
	assert.Equal(t, int16(32767), outSamples[0], "30000+30000 saturates at int16 max")
	assert.Equal(t, int16(-32768), outSamples[1], "-30000-30000 saturates at int16 min")
	assert.Equal(t, int16(150), outSamples[2], "100+50 stays within range")
	assert.Equal(t, int16(1), outSamples[3], "0+1 stays within range")
}

// TestMixerMixFuncOverridesDefault confirms an injected MixFunc still
// takes priority over the built-in saturating sum, the same escape hatch
// PassThrough/Volume/EQ/SRC/KeywordDetector use for tests.
func TestMixerMixFuncOverridesDefault(t *testing.T) {
	t.Parallel()

	called := false
	mixer := &Mixer{MixFunc: func(ctx context.Context, frames int) (int, error) {
		called = true
		return frames, nil
	}}
	n, err := mixer.Copy(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.True(t, called)
}

func encodeS16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func decodeS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
