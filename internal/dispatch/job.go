package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/talkincode/wagate/internal/session"
)

// JobStatus is the lifecycle of one bulk-send run.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCancelled JobStatus = "cancelled"
	JobCompleted JobStatus = "completed"
)

// RecipientTask is one recipient's unit of work: one or more message
// bodies destined to one or more protocol addresses, in input order.
type RecipientTask struct {
	RecipientID string
	Name        string
	// Bodies, when set, replace the job-level bodies for this
	// recipient.
	Bodies    []string
	Addresses []string
	// NotFound marks an id the backing customer data could not
	// resolve; it is counted as failed without a send attempt.
	NotFound bool
}

// SendResult is the explicit per-item outcome; the iteration contract
// (an item's failure never aborts the job) rides on it.
type SendResult struct {
	RecipientID string
	Address     string
	Err         error
}

func (r SendResult) Failed() bool { return r.Err != nil }

// Job tracks one dispatch run. Counters move only while the job is
// running and only from the job's own goroutine; reads take snapshots.
type Job struct {
	ID        string
	Tenant    string
	Key       session.Key
	Pace      time.Duration
	StartedAt time.Time

	cancelled atomic.Bool

	mu        sync.Mutex
	status    JobStatus
	completed int
	failed    int
	total     int
	endedAt   time.Time
}

// JobView is a point-in-time snapshot served to status pollers.
type JobView struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Session   string    `json:"session"`
	Status    JobStatus `json:"status"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

func (j *Job) Snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobView{
		ID:        j.ID,
		Tenant:    j.Tenant,
		Session:   j.Key.Session,
		Status:    j.status,
		Completed: j.completed,
		Failed:    j.failed,
		Total:     j.total,
		StartedAt: j.StartedAt,
		EndedAt:   j.endedAt,
	}
}

// Cancel flags the job; the walk observes the flag once per recipient.
// In-flight sends are allowed to finish.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

func (j *Job) IsCancelled() bool {
	return j.cancelled.Load()
}

func (j *Job) record(res SendResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobRunning {
		return
	}
	if res.Failed() {
		j.failed++
	} else {
		j.completed++
	}
}

func (j *Job) finish(st JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobRunning {
		return
	}
	j.status = st
	j.endedAt = time.Now()
}

func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status != JobRunning
}

func (j *Job) endedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status != JobRunning && !j.endedAt.IsZero() && j.endedAt.Before(t)
}
