package resilience

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// TaskFunc is an operation postponed for deferred execution.
type TaskFunc func() (interface{}, error)

// QueuedTask is a task postponed because quota was exhausted. Lower
// priority values are more urgent; equal priorities drain FIFO.
type QueuedTask struct {
	ID          string
	Priority    int
	EnqueueTime time.Time
	Task        TaskFunc
	Attempts    int

	seq int64
}

// taskHeap implements heap.Interface ordered by (priority, seq). The
// monotonic seq preserves FIFO order among equal priorities even when
// enqueue timestamps collide.
type taskHeap []*QueuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*QueuedTask))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// TaskQueue is a min-priority queue of postponed operations.
//
// TaskQueue is not safe for concurrent use; the owning manager
// serializes access.
type TaskQueue struct {
	heap    taskHeap
	nextSeq int64
}

// NewTaskQueue creates an empty task queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Enqueue adds a task at the given priority and returns it.
func (q *TaskQueue) Enqueue(task TaskFunc, priority int) *QueuedTask {
	qt := &QueuedTask{
		ID:          uuid.New().String(),
		Priority:    priority,
		EnqueueTime: time.Now(),
		Task:        task,
	}
	q.push(qt)
	return qt
}

// push re-inserts an existing task, preserving its ID, attempt count
// and enqueue time but assigning a fresh FIFO sequence.
func (q *TaskQueue) push(qt *QueuedTask) {
	qt.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, qt)
}

// Dequeue removes and returns the most urgent task, or nil when empty.
func (q *TaskQueue) Dequeue() *QueuedTask {
	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*QueuedTask)
}

// Peek returns the most urgent task without removing it, or nil when empty.
func (q *TaskQueue) Peek() *QueuedTask {
	if q.heap.Len() == 0 {
		return nil
	}
	return q.heap[0]
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	return q.heap.Len()
}
