package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(arbor.NewNoOpLogger(), Config{
		Concurrency:      2,
		QueueConcurrency: map[string]int{models.QueueRender: 1},
		MaxAttempts:      1,
		Backoff:          Constant{Interval: time.Millisecond},
	}, models.AllQueueNames()...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_QueuesCreated(t *testing.T) {
	m := newTestManager(t)

	assert.ElementsMatch(t, models.AllQueueNames(), m.QueueNames())

	_, err := m.GetQueue("printing")
	assert.ErrorIs(t, err, models.ErrQueueNotFound)
	_, err = m.Enqueue(context.Background(), "printing", models.JobTypeRender2D, nil, models.JobOptions{})
	assert.ErrorIs(t, err, models.ErrQueueNotFound)
	assert.ErrorIs(t, m.PauseQueue("printing"), models.ErrQueueNotFound)
}

func TestManager_PauseResumeAndStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PauseQueue(models.QueueRender))
	_, err := m.Enqueue(ctx, models.QueueRender, models.JobTypeRender2D, "x", models.JobOptions{})
	require.NoError(t, err)

	status, err := m.GetQueueStatus(models.QueueRender)
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Equal(t, 1, status.Counts[models.JobStateWaiting])
	assert.Equal(t, 1, status.Counts[models.JobStatePaused])
	assert.Equal(t, 1, status.Total())

	require.NoError(t, m.ResumeQueue(models.QueueRender))
	status, err = m.GetQueueStatus(models.QueueRender)
	require.NoError(t, err)
	assert.False(t, status.Paused)

	m.PauseAll()
	for _, s := range m.GetAllQueueStatuses() {
		assert.True(t, s.Paused, s.Name)
	}
	m.ResumeAll()
	for _, s := range m.GetAllQueueStatuses() {
		assert.False(t, s.Paused, s.Name)
	}
}

func TestManager_RetryFailedAndCleanStale(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	require.NoError(t, m.Process(models.QueueProduction, func(ctx context.Context, job *models.Job) error {
		if fail.Load() {
			return errors.New("provider down")
		}
		return nil
	}))

	for i := 0; i < 3; i++ {
		_, err := m.Enqueue(ctx, models.QueueProduction, models.JobTypeProductionSubmit, i, models.JobOptions{})
		require.NoError(t, err)
	}

	failedCount := func() int {
		status, err := m.GetQueueStatus(models.QueueProduction)
		require.NoError(t, err)
		return status.Counts[models.JobStateFailed]
	}
	require.Eventually(t, func() bool { return failedCount() == 3 }, eventually, tick)

	failed, err := m.GetFailedJobs(models.QueueProduction, 0, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 3)

	require.NoError(t, m.PauseQueue(models.QueueProduction))
	fail.Store(false)
	retried, err := m.RetryFailed(ctx, models.QueueProduction, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, retried)
	assert.Equal(t, 1, failedCount())

	removed, err := m.CleanStale(0, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, failedCount())

	require.NoError(t, m.ResumeQueue(models.QueueProduction))
	require.Eventually(t, func() bool {
		status, err := m.GetQueueStatus(models.QueueProduction)
		require.NoError(t, err)
		return status.Counts[models.JobStateCompleted] == 2
	}, eventually, tick)
}
