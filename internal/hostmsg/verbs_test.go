package hostmsg

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiograph/corefw/internal/errors"
)

func TestDispatcherRoundTripsPipelineNew(t *testing.T) {
	t.Parallel()

	var seen PipelineNewArgs
	d := NewDispatcher(8, func(ctx context.Context, verb Verb, args any) ([]byte, error) {
		seen = args.(PipelineNewArgs)
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	reply := d.Send(context.Background(), VerbPipelineNew, PipelineNewArgs{ID: 7, Priority: 5})
	assert.Equal(t, StatusOK, reply.Status)
	assert.Equal(t, uint32(7), seen.ID)
}

func TestDispatcherMapsErrorCategoryToStatus(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(8, func(ctx context.Context, verb Verb, args any) ([]byte, error) {
		return nil, errors.New(fmt.Errorf("no such component")).Category(errors.CategoryInvalidResource).Component("hostmsg").Build()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	reply := d.Send(context.Background(), VerbCompConnect, CompConnectArgs{SrcID: 1, SinkID: 2})
	assert.Equal(t, StatusInvalidResource, reply.Status)
	require.Error(t, reply.Err)
}

func TestDispatcherGetDataReturnsPayload(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(8, func(ctx context.Context, verb Verb, args any) ([]byte, error) {
		if verb == VerbGetData {
			return []byte{0xAA, 0xBB}, nil
		}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	reply := d.Send(context.Background(), VerbGetData, DataArgs{CompID: 3, ParamID: 1})
	assert.Equal(t, StatusOK, reply.Status)
	assert.Equal(t, []byte{0xAA, 0xBB}, reply.Payload)
}

func TestSendTimesOutWhenRunNotStarted(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(8, func(ctx context.Context, verb Verb, args any) ([]byte, error) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	reply := d.Send(ctx, VerbTrigger, TriggerArgs{PipelineID: 1})
	assert.Equal(t, StatusTimeout, reply.Status)
}
