/*
 * JuiceFS, Copyright 2020 Juicedata, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package meta

// Task is one long-running, interruptible unit of work that the task
// manager steps forward a bounded number of times per tick, grounded on
// task_manager.h's Task/Job abstraction (spec §4.11).
type Task interface {
	// Step performs up to budget units of work and returns the number
	// actually consumed. Returning done=true retires the task.
	Step(e *Engine, ts int64, budget int) (consumed int, done bool)
	// Name identifies the task for logging/listing (e.g. "setgoal").
	Name() string
	// Status reports the task's terminal status; only meaningful once
	// Step has returned done=true. StatusOK unless the task gave up
	// early (e.g. its root inode vanished), mirroring Job::finalize's
	// status argument in task_manager.cc.
	Status() Status
}

// TaskCallback is invoked exactly once, with the task's final Status,
// when a submitted job retires — either inline during Submit or from a
// later Tick (spec §4.11 "Completion callbacks fire with the final
// status", grounded on task_manager.h's finish_callback_).
type TaskCallback func(Status)

// job is one submitted task plus its id and completion callback, tracked
// by id so a queued job can be cancelled (spec §4.11 "Job").
type job struct {
	id       uint32
	task     Task
	onDone   TaskCallback
}

// taskManager round-robins ready jobs, giving each one a slice of the
// per-tick budget, with an initial_batch_size inline fast-path so small
// jobs finish synchronously at submission time without ever entering the
// queue (spec §4.11).
type taskManager struct {
	e           *Engine
	batchSize   int
	nextID      uint32
	queue       []*job
	byID        map[uint32]*job
}

func newTaskManager(e *Engine, batchSize int) *taskManager {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &taskManager{e: e, batchSize: batchSize, nextID: 1, byID: make(map[uint32]*job)}
}

// Submit enqueues t, running up to initialBatchSize steps of it inline
// before returning; small tasks (e.g. setgoal on a single file) complete
// entirely within Submit and are never visible in the queue (spec §4.11
// "initial_batch_size lets small jobs finish without round-tripping
// through the scheduler"). onDone, if non-nil, fires exactly once with
// the task's final status, whether that happens inline here or later
// from Tick.
func (m *taskManager) Submit(ts int64, t Task, initialBatchSize int, onDone TaskCallback) (id uint32, done bool) {
	id = m.nextID
	m.nextID++
	j := &job{id: id, task: t, onDone: onDone}

	if initialBatchSize > 0 {
		_, done = t.Step(m.e, ts, initialBatchSize)
		if done {
			if onDone != nil {
				onDone(t.Status())
			}
			return id, true
		}
	}
	m.queue = append(m.queue, j)
	m.byID[id] = j
	return id, false
}

// Tick advances every queued job by its fair share of batchSize, removing
// any that finish (spec §4.11 "round-robin, bounded per-tick step
// budget") and firing their completion callback with the final status.
func (m *taskManager) Tick(ts int64) {
	if len(m.queue) == 0 {
		return
	}
	share := m.batchSize / len(m.queue)
	if share < 1 {
		share = 1
	}
	var remaining []*job
	for _, j := range m.queue {
		_, done := j.task.Step(m.e, ts, share)
		if done {
			delete(m.byID, j.id)
			if j.onDone != nil {
				j.onDone(j.task.Status())
			}
			continue
		}
		remaining = append(remaining, j)
	}
	m.queue = remaining
}

// Cancel removes a queued job without letting it finish.
func (m *taskManager) Cancel(id uint32) bool {
	j, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	for i, q := range m.queue {
		if q == j {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	return true
}

// Pending reports how many jobs remain queued.
func (m *taskManager) Pending() int { return len(m.queue) }

// TickTasks advances the task manager one step; called from the engine's
// owning event loop (cmd/master's scheduler) alongside checksum/trash
// ticks.
func (e *Engine) TickTasks(ts int64) { e.tasks.Tick(ts) }

// SubmitTask is the public entrypoint operations use to start a
// long-running job (setgoal/settrashtime/snapshot); see tasks.go. onDone
// may be nil when the caller has no use for the completion notification.
func (e *Engine) SubmitTask(ts int64, t Task, onDone TaskCallback) (id uint32, done bool) {
	return e.tasks.Submit(ts, t, e.config.TaskBatchSize, onDone)
}
