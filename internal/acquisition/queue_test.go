package acquisition

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameAt(v float64) sensor.Frame {
	return sensor.Frame{
		Channels:   map[int][]float64{0: {v}},
		Timestamps: []time.Time{time.Unix(int64(v), 0)},
	}
}

func TestFrameQueueDropsOldest(t *testing.T) {
	q := newFrameQueue(2)
	q.offer(frameAt(1))
	q.offer(frameAt(2))
	q.offer(frameAt(3))

	assert.Equal(t, uint64(1), q.dropped.Load())

	f, ok := q.poll()
	require.True(t, ok)
	assert.Equal(t, 2.0, f.Channels[0][0])
	f, ok = q.poll()
	require.True(t, ok)
	assert.Equal(t, 3.0, f.Channels[0][0])
	_, ok = q.poll()
	assert.False(t, ok)
}

func TestWorkerStopTimeout(t *testing.T) {
	release := make(chan struct{})
	w := startWorker(func(context.Context) error {
		<-release
		return nil
	})

	err := w.stop(20 * time.Millisecond)
	assert.True(t, errors.HasCode(err, ErrStopTimeout))

	close(release)
	require.NoError(t, w.stop(time.Second))
}

func TestPollQueuedReportsFailureAfterDrain(t *testing.T) {
	q := newFrameQueue(4)
	q.offer(frameAt(1))
	w := startWorker(func(context.Context) error {
		return errors.New().WithMessage(ErrConnection, "link lost")
	})
	<-w.done

	_, ok, err := pollQueued(q, w)
	assert.True(t, ok)
	require.NoError(t, err)

	_, ok, err = pollQueued(q, w)
	assert.False(t, ok)
	assert.True(t, errors.HasCode(err, ErrConnection))
}

func TestWorkerCancelIsNotFailure(t *testing.T) {
	w := startWorker(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, w.stop(time.Second))
	assert.NoError(t, w.failure())
}
