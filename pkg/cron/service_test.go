package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, s *Service) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewService(t *testing.T) {
	t.Run("job required", func(t *testing.T) {
		_, err := NewService(Schedule{Kind: ScheduleKindEvery, Every: time.Second}, nil)
		assert.Error(t, err)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		_, err := NewService(Schedule{Kind: ScheduleKindCron, Expr: "nope"}, func(context.Context) error { return nil })
		assert.Error(t, err)
	})

	t.Run("negative max runs", func(t *testing.T) {
		_, err := NewService(Schedule{Kind: ScheduleKindEvery, Every: time.Second}, func(context.Context) error { return nil }, WithMaxRuns(-1))
		assert.Error(t, err)
	})
}

func TestServiceRuns(t *testing.T) {
	t.Run("stops after max runs", func(t *testing.T) {
		var calls atomic.Int32
		s, err := NewService(
			Schedule{Kind: ScheduleKindEvery, Every: 10 * time.Millisecond},
			func(context.Context) error {
				calls.Add(1)
				return nil
			},
			WithMaxRuns(3),
		)
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))

		waitDone(t, s)

		assert.Equal(t, int32(3), calls.Load())
		state := s.State()
		assert.Equal(t, 3, state.Runs)
		assert.Equal(t, "ok", state.LastStatus)
		assert.Zero(t, state.ConsecutiveErrors)
	})

	t.Run("records consecutive errors", func(t *testing.T) {
		s, err := NewService(
			Schedule{Kind: ScheduleKindEvery, Every: 5 * time.Millisecond},
			func(context.Context) error { return errors.New("run failed") },
			WithMaxRuns(2),
		)
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))

		waitDone(t, s)

		state := s.State()
		assert.Equal(t, "error", state.LastStatus)
		assert.Equal(t, "run failed", state.LastError)
		assert.Equal(t, 2, state.ConsecutiveErrors)
	})

	t.Run("at schedule in the past fires once", func(t *testing.T) {
		var calls atomic.Int32
		at := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
		s, err := NewService(Schedule{Kind: ScheduleKindAt, At: at}, func(context.Context) error {
			calls.Add(1)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))

		waitDone(t, s)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("context cancellation stops the service", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s, err := NewService(Schedule{Kind: ScheduleKindEvery, Every: time.Hour}, func(context.Context) error { return nil })
		require.NoError(t, err)
		require.NoError(t, s.Start(ctx))
		assert.False(t, s.State().NextRunAt.IsZero())

		cancel()
		waitDone(t, s)
		assert.Zero(t, s.State().Runs)
	})

	t.Run("start twice", func(t *testing.T) {
		s, err := NewService(Schedule{Kind: ScheduleKindEvery, Every: time.Hour}, func(context.Context) error { return nil })
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()
		assert.Error(t, s.Start(context.Background()))
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		s, err := NewService(Schedule{Kind: ScheduleKindEvery, Every: time.Hour}, func(context.Context) error { return nil })
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		s.Stop()
		s.Stop()
		waitDone(t, s)
	})
}
