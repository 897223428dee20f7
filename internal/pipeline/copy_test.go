package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
)

// buildPassthrough wires a host scheduling endpoint -> pass-through ->
// host sink endpoint, the §8 round-trip loopback shape, with the
// pass-through's Copy forwarding bytes from its source buffer to its sink
// buffer so CopyOnce has real data movement to exercise.
func buildPassthrough(t *testing.T, frames int) (p *Pipeline, srcBuf, sinkBuf *buffer.Buffer) {
	t.Helper()

	g := NewGraph()
	stream := monoS16()
	frameBytes := stream.FrameBytes()

	srcBuf, err := buffer.New(stream, frames*frameBytes*4)
	require.NoError(t, err)
	srcBufH := g.Buffers.Alloc(srcBuf)

	sinkBuf, err = buffer.New(stream, frames*frameBytes*4)
	require.NoError(t, err)
	sinkBufH := g.Buffers.Alloc(sinkBuf)

	passImpl := &component.PassThrough{}
	passImpl.CopyFunc = func(ctx context.Context, n int) (int, error) {
		buf := make([]byte, n*frameBytes)
		read, err := srcBuf.Consume(buf)
		if err != nil {
			return read / frameBytes, err
		}
		written, err := sinkBuf.Produce(buf[:read])
		if err != nil {
			return written / frameBytes, err
		}
		return written / frameBytes, nil
	}

	host := component.New(1, 0, 0, component.VariantHostEndpoint, &component.HostEndpoint{})
	pass := component.New(2, 0, 0, component.VariantCopier, passImpl)
	sink := component.New(3, 0, 0, component.VariantDAIEndpoint, &component.DAIEndpoint{})

	hostH := g.Components.Alloc(host)
	passH := g.Components.Alloc(pass)
	sinkH := g.Components.Alloc(sink)

	p, err = New(g, 1, 5, hostH, 1000, frames, 0, TimerDomain)
	require.NoError(t, err)
	require.NoError(t, p.Connect(hostH, srcBufH, buffer.CompToBuffer))
	require.NoError(t, p.Connect(passH, srcBufH, buffer.BufferToComp))
	require.NoError(t, p.Connect(passH, sinkBufH, buffer.CompToBuffer))
	require.NoError(t, p.Connect(sinkH, sinkBufH, buffer.BufferToComp))
	require.NoError(t, p.Complete(hostH, sinkH))

	return p, srcBuf, sinkBuf
}

func TestCopyOnceMovesFramesByteExact(t *testing.T) {
	t.Parallel()

	const frames = 16
	p, srcBuf, sinkBuf := buildPassthrough(t, frames)
	frameBytes := monoS16().FrameBytes()

	payload := make([]byte, frames*frameBytes)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	_, err := srcBuf.Produce(payload)
	require.NoError(t, err)

	outcome, err := p.CopyOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outcomeOK, outcome)

	out := make([]byte, frames*frameBytes)
	n, err := sinkBuf.Consume(out)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out, "every frame consumed downstream must equal a frame previously produced upstream")
}

func TestCopyOncePartialPeriodIsNotAnXrun(t *testing.T) {
	t.Parallel()

	const frames = 16
	p, srcBuf, _ := buildPassthrough(t, frames)
	frameBytes := monoS16().FrameBytes()

	// Only half a period of data is available; the pass-through computes
	// its frame budget from min_avail and moves a partial period, which is
	// not itself an xrun at the Buffer level (Consume only clamps when the
	// request exceeds what's avail). Raise xrun_limit_us so recovery never
	// triggers and confirm the period completes with outcomeOK.
	p.XrunLimitUS = 1_000_000
	_, err := srcBuf.Produce(make([]byte, (frames/2)*frameBytes))
	require.NoError(t, err)

	outcome, err := p.CopyOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outcomeOK, outcome, "a partial period within avail is not an xrun by itself")
}

func TestRecoverDrivesStopPrepareStartOnAllMembers(t *testing.T) {
	t.Parallel()

	const frames = 16
	p, _, _ := buildPassthrough(t, frames)

	for _, h := range p.Members() {
		c, err := p.graph.Components.Get(h)
		require.NoError(t, err)
		require.NoError(t, c.Trigger(component.CmdPrepare))
		require.NoError(t, c.Trigger(component.CmdStart))
	}

	require.NoError(t, p.recover(context.Background()))

	for _, h := range p.Members() {
		c, err := p.graph.Components.Get(h)
		require.NoError(t, err)
		assert.Equal(t, component.StateActive, c.State(), "recover ends each member back at ACTIVE after STOP->PREPARE->START")
	}
}
