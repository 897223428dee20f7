package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
	"github.com/audiograph/corefw/internal/errors"
	"github.com/audiograph/corefw/internal/streamfmt"
)

func monoS16() streamfmt.Format {
	return streamfmt.Format{Sample: streamfmt.FormatS16LE, Channels: 1, SampleRateHz: 48000}
}

func TestNewRejectsBadPriority(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	src := component.New(1, 0, 0, component.VariantHostEndpoint, &component.HostEndpoint{})
	srcH := g.Components.Alloc(src)

	_, err := New(g, 1, 11, srcH, 1000, 48, 0, TimerDomain)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidArgument))
}

func TestConnectAddsMembershipAndBufferLinks(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	src := component.New(1, 0, 0, component.VariantHostEndpoint, &component.HostEndpoint{})
	sink := component.New(2, 0, 0, component.VariantDAIEndpoint, &component.DAIEndpoint{})
	srcH := g.Components.Alloc(src)
	sinkH := g.Components.Alloc(sink)

	buf, err := buffer.New(monoS16(), 256)
	require.NoError(t, err)
	bufH := g.Buffers.Alloc(buf)

	p, err := New(g, 1, 5, srcH, 1000, 48, 0, TimerDomain)
	require.NoError(t, err)

	require.NoError(t, p.Connect(srcH, bufH, buffer.CompToBuffer))
	require.NoError(t, p.Connect(sinkH, bufH, buffer.BufferToComp))

	assert.ElementsMatch(t, []uint32{1, 2}, memberIDs(t, g, p))

	srcComp, err := g.Components.Get(srcH)
	require.NoError(t, err)
	assert.Len(t, srcComp.SinkHandles(), 1)

	sinkComp, err := g.Components.Get(sinkH)
	require.NoError(t, err)
	assert.Len(t, sinkComp.SourceHandles(), 1)
}

func memberIDs(t *testing.T, g *Graph, p *Pipeline) []uint32 {
	t.Helper()
	ids := make([]uint32, 0)
	for _, h := range p.Members() {
		c, err := g.Components.Get(h)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	return ids
}

func TestCompleteInitialisesUninitialisedMembersAndStampsPipelineID(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	src := component.New(1, 0, 0, component.VariantHostEndpoint, &component.HostEndpoint{})
	pass := component.New(2, 0, 0, component.VariantCopier, &component.PassThrough{})
	sink := component.New(3, 0, 0, component.VariantDAIEndpoint, &component.DAIEndpoint{})
	srcH := g.Components.Alloc(src)
	passH := g.Components.Alloc(pass)
	sinkH := g.Components.Alloc(sink)

	buf1, err := buffer.New(monoS16(), 256)
	require.NoError(t, err)
	buf1H := g.Buffers.Alloc(buf1)
	buf2, err := buffer.New(monoS16(), 256)
	require.NoError(t, err)
	buf2H := g.Buffers.Alloc(buf2)

	p, err := New(g, 7, 5, srcH, 1000, 48, 0, TimerDomain)
	require.NoError(t, err)
	require.NoError(t, p.Connect(srcH, buf1H, buffer.CompToBuffer))
	require.NoError(t, p.Connect(passH, buf1H, buffer.BufferToComp))
	require.NoError(t, p.Connect(passH, buf2H, buffer.CompToBuffer))
	require.NoError(t, p.Connect(sinkH, buf2H, buffer.BufferToComp))

	require.NoError(t, p.Complete(srcH, sinkH))

	assert.Equal(t, StatusReady, p.Status)
	assert.Equal(t, srcH, p.Source())
	assert.Equal(t, sinkH, p.Sink())

	for _, h := range p.Members() {
		c, err := g.Components.Get(h)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), c.PipelineID)
		assert.NotEqual(t, component.StateInit, c.State())
	}
}

func TestLinkedWith(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	sched := component.New(1, 0, 0, component.VariantHostEndpoint, &component.HostEndpoint{})
	schedH := g.Components.Alloc(sched)

	p1, err := New(g, 1, 5, schedH, 1000, 48, 0, TimerDomain)
	require.NoError(t, err)
	p2, err := New(g, 2, 6, schedH, 1000, 48, 0, TimerDomain)
	require.NoError(t, err)

	assert.True(t, p1.LinkedWith(p2))
}
