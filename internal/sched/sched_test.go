package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInvokesPollOnEachTick(t *testing.T) {
	var polls int32
	s := New(Cadences{Poll: 5 * time.Millisecond, BatchSubmit: time.Hour}, Hooks{
		PollTick:   func(ctx context.Context) error { atomic.AddInt32(&polls, 1); return nil },
		SubmitTick: func(ctx context.Context) error { return nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&polls)), 2)
}

func TestRunInvokesSubmitOnceBatchWindowElapses(t *testing.T) {
	var submits int32
	s := New(Cadences{Poll: 5 * time.Millisecond, BatchSubmit: 10 * time.Millisecond}, Hooks{
		PollTick:   func(ctx context.Context) error { return nil },
		SubmitTick: func(ctx context.Context) error { atomic.AddInt32(&submits, 1); return nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&submits)), 1)
}

func TestRunPerformsFinalSubmitOnCancellation(t *testing.T) {
	var submits int32
	s := New(Cadences{Poll: 5 * time.Millisecond, BatchSubmit: time.Hour}, Hooks{
		PollTick:   func(ctx context.Context) error { return nil },
		SubmitTick: func(ctx context.Context) error { atomic.AddInt32(&submits, 1); return nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits))
}

func TestRunPropagatesPollError(t *testing.T) {
	boom := assert.AnError
	s := New(Cadences{Poll: 5 * time.Millisecond, BatchSubmit: time.Hour}, Hooks{
		PollTick:   func(ctx context.Context) error { return boom },
		SubmitTick: func(ctx context.Context) error { return nil },
	})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunPropagatesSubmitError(t *testing.T) {
	boom := assert.AnError
	s := New(Cadences{Poll: 5 * time.Millisecond, BatchSubmit: 5 * time.Millisecond}, Hooks{
		PollTick:   func(ctx context.Context) error { return nil },
		SubmitTick: func(ctx context.Context) error { return boom },
	})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
