package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
	"github.com/audiograph/corefw/internal/pipeline"
	"github.com/audiograph/corefw/internal/streamfmt"
)

func stereoS16() streamfmt.Format {
	return streamfmt.Format{Sample: streamfmt.FormatS16LE, Channels: 2, SampleRateHz: 48000, Direction: streamfmt.Playback}
}

// buildPlaybackPipeline wires host(playback) -> DAI(playback), the §8
// scenario 1 shape, and brings every member to READY so PREPARE is legal.
func buildPlaybackPipeline(t *testing.T, framesPerSched int) (*pipeline.Graph, *pipeline.Pipeline, *buffer.Buffer) {
	t.Helper()

	g := pipeline.NewGraph()
	stream := stereoS16()

	host := component.New(20, 0, 0, component.VariantHostEndpoint, &component.HostEndpoint{})
	host.Direction = streamfmt.Playback
	dai := component.New(21, 0, 0, component.VariantDAIEndpoint, &component.DAIEndpoint{})
	dai.Direction = streamfmt.Playback

	hostH := g.Components.Alloc(host)
	daiH := g.Components.Alloc(dai)

	buf, err := buffer.New(stream, framesPerSched*stream.FrameBytes()*4)
	require.NoError(t, err)
	bufH := g.Buffers.Alloc(buf)

	p, err := pipeline.New(g, 1, 5, hostH, 1000, framesPerSched, 0, pipeline.TimerDomain)
	require.NoError(t, err)
	require.NoError(t, p.Connect(hostH, bufH, buffer.CompToBuffer))
	require.NoError(t, p.Connect(daiH, bufH, buffer.BufferToComp))
	require.NoError(t, p.Complete(hostH, daiH))

	return g, p, buf
}

func TestTriggerPrepareStartAdvancesAllMembers(t *testing.T) {
	t.Parallel()

	g, p, _ := buildPlaybackPipeline(t, 192)
	e := NewEngine(g)

	require.NoError(t, e.Trigger(context.Background(), p, component.CmdPrepare, nil))
	require.NoError(t, e.Trigger(context.Background(), p, component.CmdStart, nil))

	for _, h := range p.Members() {
		c, err := g.Components.Get(h)
		require.NoError(t, err)
		assert.Equal(t, component.StateActive, c.State())
	}
}

func TestStartPrefillsIngressBufferWithoutAdvancingCursors(t *testing.T) {
	t.Parallel()

	g, p, buf := buildPlaybackPipeline(t, 192)
	e := NewEngine(g)

	require.NoError(t, e.prefillIfPlayback(p))

	// set_zero (§4.1) writes silence ahead of w_ptr without advancing
	// avail; the prefill call is a no-op from avail's point of view until
	// the scheduled copy actually commits frames.
	assert.Equal(t, 0, buf.Avail())
	assert.Equal(t, buf.Size(), buf.Free())
}

func TestTriggerStopReturnsComponentsToPrepare(t *testing.T) {
	t.Parallel()

	g, p, _ := buildPlaybackPipeline(t, 192)
	e := NewEngine(g)

	require.NoError(t, e.Trigger(context.Background(), p, component.CmdPrepare, nil))
	require.NoError(t, e.Trigger(context.Background(), p, component.CmdStart, nil))
	require.NoError(t, e.Trigger(context.Background(), p, component.CmdStop, nil))

	for _, h := range p.Members() {
		c, err := g.Components.Get(h)
		require.NoError(t, err)
		assert.Equal(t, component.StatePrepare, c.State())
	}
}

func TestLinkedPipelinesTriggeredTogether(t *testing.T) {
	t.Parallel()

	g, p1, _ := buildPlaybackPipeline(t, 192)
	p2, err := pipeline.New(g, 2, 6, p1.SchedulingComponent(), 1000, 192, 0, pipeline.TimerDomain)
	require.NoError(t, err)
	require.NoError(t, p2.Complete(p1.SchedulingComponent(), p1.SchedulingComponent()))

	e := NewEngine(g)
	require.NoError(t, e.Trigger(context.Background(), p1, component.CmdPrepare, []*pipeline.Pipeline{p2}))
	require.NoError(t, e.Trigger(context.Background(), p1, component.CmdStart, []*pipeline.Pipeline{p2}))

	sched, err := g.Components.Get(p1.SchedulingComponent())
	require.NoError(t, err)
	assert.Equal(t, component.StateActive, sched.State())
}
