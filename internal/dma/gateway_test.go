package dma

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/errors"
)

func TestSetConfigRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()

	c := NewChannel(NewMemoryBackend())
	err := c.SetConfig(0, true)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidArgument))
}

func TestStartStopTransitionsStatus(t *testing.T) {
	t.Parallel()

	c := NewChannel(NewMemoryBackend())
	require.NoError(t, c.SetConfig(192, true))
	require.NoError(t, c.Start())
	assert.Equal(t, StatusRunning, c.StatusValue())

	require.NoError(t, c.Stop())
	assert.Equal(t, StatusStopped, c.StatusValue())
}

func TestCopyForwardsToBackend(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	c := NewChannel(backend)
	require.NoError(t, c.Start())

	n, err := c.Copy(make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.Len(t, backend.Written(), 1)
}

func TestStopTimesOutAndResetsWhenDrainSticks(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	backend.StickDrain()
	c := NewChannel(backend)
	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.StopContext(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Equal(t, StatusIdle, c.StatusValue())
}

func TestIRQMaskUnmaskRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewChannel(NewMemoryBackend())
	assert.True(t, c.IRQ(IRQStatusGet))

	assert.True(t, c.IRQ(IRQMask))
	assert.False(t, c.IRQ(IRQStatusGet))

	assert.True(t, c.IRQ(IRQUnmask))
	assert.True(t, c.IRQ(IRQStatusGet))
}
