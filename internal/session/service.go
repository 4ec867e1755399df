package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/pagemerge/internal/config"
	"github.com/dgallion1/pagemerge/internal/render"
)

// ErrServiceStopped is returned for exports submitted after Stop.
var ErrServiceStopped = errors.New("service is shutting down")

// Service owns the live sessions and the export worker pool.
type Service struct {
	sessions *Store
	jobs     *JobStore
	queue    chan *Job
	deps     Deps
	opts     Options
	log      *slog.Logger
	cfg      config.Config

	renderLatency *render.Latency
	exportLatency *render.Latency

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards stopped and sends on queue.
	mu      sync.RWMutex
	stopped bool
}

// OptionsFromConfig maps service configuration onto per-session options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ImagePageWidth:  cfg.ImagePageWidth,
		ImagePageHeight: cfg.ImagePageHeight,
		LookaheadMargin: cfg.LookaheadMargin,
		Render: render.Options{
			PreviewScale:   cfg.PreviewScale,
			ThumbnailWidth: cfg.ThumbnailWidth,
			MaxConcurrent:  cfg.MaxRenderWorkers,
		},
	}
}

func NewService(cfg config.Config, deps Deps, log *slog.Logger) *Service {
	sv := &Service{
		sessions:      NewStore(cfg.SessionTTL, cfg.MaxSessions),
		jobs:          NewJobStore(cfg.SessionTTL),
		queue:         make(chan *Job, cfg.ExportQueueSize),
		deps:          deps,
		opts:          OptionsFromConfig(cfg),
		log:           log,
		cfg:           cfg,
		renderLatency: render.NewLatency(time.Hour),
		exportLatency: render.NewLatency(time.Hour),
	}
	sv.opts.Render.Latency = sv.renderLatency
	return sv
}

// Start launches the export workers and the idle-session sweeper.
func (sv *Service) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	sv.cancel = cancel

	for range sv.cfg.ExportWorkers {
		sv.wg.Add(1)
		go func() {
			defer sv.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-sv.queue:
					if !ok {
						return
					}
					sv.process(workerCtx, job)
				}
			}
		}()
	}

	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		ticker := time.NewTicker(sweepInterval(sv.cfg.SessionTTL))
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				sv.Sweep()
			}
		}
	}()
}

func sweepInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), 5*time.Minute)
}

// Stop shuts down the workers and closes every session.
func (sv *Service) Stop() {
	sv.mu.Lock()
	if sv.stopped {
		sv.mu.Unlock()
		return
	}
	sv.stopped = true
	close(sv.queue)
	sv.mu.Unlock()

	if sv.cancel != nil {
		sv.cancel()
	}
	sv.wg.Wait()
	for _, s := range sv.sessions.Drain() {
		s.Close()
	}
}

// Sweep evicts idle sessions and expired export jobs.
func (sv *Service) Sweep() {
	for _, s := range sv.sessions.Cleanup() {
		sv.log.Info("session expired", "session_id", s.ID)
		s.Close()
	}
	sv.jobs.Cleanup()
}

// NewSession opens an empty session.
func (sv *Service) NewSession() (*Session, error) {
	s := New(newID(), sv.deps, sv.opts, sv.log)
	if err := sv.sessions.Put(s); err != nil {
		s.Close()
		return nil, err
	}
	sv.log.Info("session opened", "session_id", s.ID)
	return s, nil
}

// Session returns a live session or nil.
func (sv *Service) Session(id string) *Session {
	return sv.sessions.Get(id)
}

// SessionCount is the number of live sessions.
func (sv *Service) SessionCount() int {
	return sv.sessions.Len()
}

// SubmitExport queues an export of s. It fails straight away when the
// session has nothing to export or no encoder.
func (sv *Service) SubmitExport(s *Session) (*Job, error) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	if sv.stopped {
		return nil, ErrServiceStopped
	}
	if _, err := s.exportable(); err != nil {
		return nil, err
	}
	job := newJob(s)
	sv.jobs.Put(job)
	select {
	case sv.queue <- job:
		return job, nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return nil, fmt.Errorf("export queue is full (%d)", sv.cfg.ExportQueueSize)
	}
}

// Job returns an export job by ID.
func (sv *Service) Job(id string) *Job {
	return sv.jobs.Get(id)
}

// Stats is a point-in-time view of service load.
type Stats struct {
	Sessions      int                    `json:"sessions"`
	MaxSessions   int                    `json:"max_sessions"`
	ExportQueue   int                    `json:"export_queue"`
	RenderLatency render.LatencySnapshot `json:"render_latency"`
	ExportLatency render.LatencySnapshot `json:"export_latency"`
}

func (sv *Service) Stats() Stats {
	return Stats{
		Sessions:      sv.sessions.Len(),
		MaxSessions:   sv.cfg.MaxSessions,
		ExportQueue:   sv.QueueDepth(),
		RenderLatency: sv.renderLatency.Snapshot(),
		ExportLatency: sv.exportLatency.Snapshot(),
	}
}

// QueueDepth is the number of exports waiting for a worker.
func (sv *Service) QueueDepth() int {
	return len(sv.queue)
}

func (sv *Service) process(ctx context.Context, job *Job) {
	log := sv.log.With("job_id", job.ID, "session_id", job.SessionID)
	job.SetStatus(StatusRunning, "exporting")
	start := time.Now()

	res, err := job.session.export(ctx, job.ID, job.SetProgress)
	if err != nil {
		log.Error("export failed", "error", err)
		job.fail("exporting", err)
		return
	}
	job.complete(res)
	sv.exportLatency.Record(time.Since(start))
	log.Info("export job done", "pages", res.Pages, "duration_ms", time.Since(start).Milliseconds())
}
