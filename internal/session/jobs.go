package session

import (
	"sync"
	"time"

	"github.com/dgallion1/pagemerge/internal/export"
)

// JobStatus is the state of an export job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job tracks one queued export of a session.
type Job struct {
	mu sync.Mutex

	ID        string
	SessionID string

	Status   JobStatus
	Phase    string
	Progress Progress
	Filename string
	Error    string

	CreatedAt time.Time
	UpdatedAt time.Time

	session *Session
	result  *export.Result
}

// Progress counts exported pages.
type Progress struct {
	PagesTotal int   `json:"pages_total"`
	PagesDone  int   `json:"pages_done"`
	Rasterized []int `json:"rasterized"`
}

func newJob(s *Session) *Job {
	now := time.Now()
	return &Job{
		ID:        newID(),
		SessionID: s.ID,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		session:   s,
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// SetProgress records pages written so far.
func (j *Job) SetProgress(done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.PagesDone = done
	j.Progress.PagesTotal = total
	j.UpdatedAt = time.Now()
}

func (j *Job) complete(res *export.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.Status = StatusCompleted
	j.Phase = "done"
	j.Filename = res.Filename
	j.Progress.PagesDone = res.Pages
	j.Progress.PagesTotal = res.Pages
	j.Progress.Rasterized = res.Rasterized
	j.UpdatedAt = time.Now()
}

func (j *Job) fail(phase string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusFailed
	j.Phase = phase
	j.Error = err.Error()
	j.UpdatedAt = time.Now()
}

// Result returns the exported document once the job has completed.
func (j *Job) Result() (*export.Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.result != nil
}

func (j *Job) finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	rasterized := j.Progress.Rasterized
	if rasterized == nil {
		rasterized = []int{}
	}
	return JobSnapshot{
		ID:        j.ID,
		SessionID: j.SessionID,
		Status:    j.Status,
		Phase:     j.Phase,
		Filename:  j.Filename,
		Error:     j.Error,
		Progress: Progress{
			PagesTotal: j.Progress.PagesTotal,
			PagesDone:  j.Progress.PagesDone,
			Rasterized: rasterized,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs idle for longer than the TTL. Queued and
// running jobs are kept.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if job.finished() && now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
