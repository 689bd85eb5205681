package pipeline

import (
	"sync"
	"time"

	"github.com/skypro1111/room-transcription-service/internal/metrics"
)

// DefaultCapacity is the queue bound used when none is configured.
// A live caption system has ever-declining value for stale audio, so the
// queue stays small and favors recency.
const DefaultCapacity = 3

// Job is one audio segment awaiting transcription
type Job struct {
	ID         string
	PeerID     string
	RoomID     string
	UserID     string
	Samples    []int16
	SampleRate int
	Channels   int
	EnqueuedAt time.Time
	Seq        uint64
}

// Duration returns the audio duration of the job's segment
func (j Job) Duration() time.Duration {
	if j.SampleRate <= 0 || j.Channels <= 0 {
		return 0
	}
	seconds := float64(len(j.Samples)) / float64(j.SampleRate*j.Channels)
	return time.Duration(seconds * float64(time.Second))
}

// Queue is a bounded FIFO of transcription jobs with drop-oldest overflow.
// Its length never exceeds the capacity; enqueuing into a full queue evicts
// the oldest entry and preserves the relative order of the rest.
type Queue struct {
	items    []Job
	capacity int
	notify   chan struct{}
	nextSeq  uint64
	metrics  *metrics.Metrics

	// Statistics
	enqueued uint64
	evicted  uint64

	mu sync.Mutex
}

// QueueStats represents queue statistics for monitoring
type QueueStats struct {
	Length   int    `json:"length"`
	Capacity int    `json:"capacity"`
	Enqueued uint64 `json:"enqueued_total"`
	Evicted  uint64 `json:"evicted_total"`
}

// NewQueue creates a bounded queue with the given capacity
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Queue{
		items:    make([]Job, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// SetMetrics attaches the metrics sink; evictions are reported when set
func (q *Queue) SetMetrics(m *metrics.Metrics) {
	q.mu.Lock()
	q.metrics = m
	q.mu.Unlock()
}

// Enqueue admits a job, evicting the oldest entry first when the queue is
// full. Enqueue never blocks; overflow is not an error.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()

	if len(q.items) == q.capacity {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.evicted++
		if q.metrics != nil {
			q.metrics.RecordQueueEviction()
		}
	}

	q.nextSeq++
	job.Seq = q.nextSeq
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	q.items = append(q.items, job)
	q.enqueued++

	q.mu.Unlock()

	// Wake the worker without blocking; a pending signal is enough
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest job.
// The boolean is false when the queue is empty.
func (q *Queue) Dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Job{}, false
	}

	job := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]

	return job, true
}

// Notify returns the channel signalled on enqueue; the worker selects on it
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the current number of queued jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the queue bound
func (q *Queue) Capacity() int {
	return q.capacity
}

// GetStats returns current queue statistics
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Length:   len(q.items),
		Capacity: q.capacity,
		Enqueued: q.enqueued,
		Evicted:  q.evicted,
	}
}
