package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corefwerrors "github.com/audiograph/corefw/internal/errors"
)

func TestArenaAllocGetFree(t *testing.T) {
	t.Parallel()

	a := New[int]("test")

	h := a.Alloc(42)
	require.NotEqual(t, Invalid, h)

	v, err := a.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.NoError(t, a.Free(h))

	_, err = a.Get(h)
	require.Error(t, err)
	assert.True(t, corefwerrors.IsCategory(err, corefwerrors.CategoryInvalidResource))
}

func TestArenaDoubleFreeIsFatal(t *testing.T) {
	t.Parallel()

	a := New[string]("test")
	h := a.Alloc("x")
	require.NoError(t, a.Free(h))

	err := a.Free(h)
	require.Error(t, err)
	assert.True(t, corefwerrors.IsFatal(err))
}

func TestArenaSlotReuseBumpsGeneration(t *testing.T) {
	t.Parallel()

	a := New[int]("test")
	h1 := a.Alloc(1)
	require.NoError(t, a.Free(h1))

	h2 := a.Alloc(2)
	assert.NotEqual(t, h1, h2, "reused slot must mint a distinct handle via generation bump")

	_, err := a.Get(h1)
	require.Error(t, err, "stale handle into a reused slot must not resolve")

	v, err := a.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestArenaEachVisitsLiveOnly(t *testing.T) {
	t.Parallel()

	a := New[int]("test")
	h1 := a.Alloc(1)
	h2 := a.Alloc(2)
	require.NoError(t, a.Free(h1))

	seen := map[Handle]int{}
	a.Each(func(h Handle, v int) { seen[h] = v })

	assert.Len(t, seen, 1)
	assert.Equal(t, 2, seen[h2])
	assert.Equal(t, 1, a.Len())
}

func TestArenaGetInvalidHandle(t *testing.T) {
	t.Parallel()

	a := New[int]("test")
	_, err := a.Get(Invalid)
	require.Error(t, err)
}
