package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTask finishes after exactly `total` consumed steps.
type countingTask struct {
	total, done int
}

func (c *countingTask) Step(e *Engine, ts int64, budget int) (consumed int, finished bool) {
	remaining := c.total - c.done
	if budget > remaining {
		budget = remaining
	}
	c.done += budget
	return budget, c.done >= c.total
}

func (c *countingTask) Name() string { return "counting" }

func (c *countingTask) Status() Status { return StatusOK }

func TestTaskManagerSubmitInlineFastPath(t *testing.T) {
	m := newTaskManager(nil, 10)
	task := &countingTask{total: 3}
	id, done := m.Submit(0, task, 10, nil)
	assert.True(t, done)
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, 0, m.Pending(), "a task finished inline never enters the queue")
}

func TestTaskManagerSubmitQueuesWhenNotFinishedInline(t *testing.T) {
	m := newTaskManager(nil, 10)
	task := &countingTask{total: 100}
	_, done := m.Submit(0, task, 5, nil)
	assert.False(t, done)
	assert.Equal(t, 1, m.Pending())
}

func TestTaskManagerTickAdvancesAndRetiresJobs(t *testing.T) {
	m := newTaskManager(nil, 10)
	_, done := m.Submit(0, &countingTask{total: 100}, 0, nil)
	require.False(t, done)
	require.Equal(t, 1, m.Pending())

	for i := 0; i < 20 && m.Pending() > 0; i++ {
		m.Tick(0)
	}
	assert.Equal(t, 0, m.Pending(), "task must eventually finish across ticks")
}

func TestTaskManagerTickSharesBudgetAcrossJobs(t *testing.T) {
	m := newTaskManager(nil, 4)
	a := &countingTask{total: 100}
	b := &countingTask{total: 100}
	m.Submit(0, a, 0, nil)
	m.Submit(0, b, 0, nil)

	m.Tick(0)
	assert.Equal(t, 2, a.done, "budget is split evenly across ready jobs")
	assert.Equal(t, 2, b.done)
}

func TestTaskManagerCancelRemovesQueuedJob(t *testing.T) {
	m := newTaskManager(nil, 10)
	id, _ := m.Submit(0, &countingTask{total: 100}, 0, nil)
	require.Equal(t, 1, m.Pending())

	assert.True(t, m.Cancel(id))
	assert.Equal(t, 0, m.Pending())
	assert.False(t, m.Cancel(id), "cancelling twice reports not found")
}

func TestTaskManagerSubmitInlineCallbackFiresWithFinalStatus(t *testing.T) {
	m := newTaskManager(nil, 10)
	var got []Status
	_, done := m.Submit(0, &countingTask{total: 3}, 10, func(st Status) { got = append(got, st) })
	assert.True(t, done)
	require.Len(t, got, 1)
	assert.Equal(t, StatusOK, got[0])
}

func TestTaskManagerTickCallbackFiresOnceOnRetire(t *testing.T) {
	m := newTaskManager(nil, 10)
	var got []Status
	_, done := m.Submit(0, &countingTask{total: 100}, 0, func(st Status) { got = append(got, st) })
	require.False(t, done)
	assert.Empty(t, got, "callback must not fire before the job actually retires")

	for i := 0; i < 20 && m.Pending() > 0; i++ {
		m.Tick(0)
	}
	require.Len(t, got, 1, "callback must fire exactly once")
	assert.Equal(t, StatusOK, got[0])
}
