package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"multistack/internal/logging"
	"multistack/internal/storage"
)

// ErrQueueFull is returned by Submit when the job queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// JobType enumerates the operations the worker accepts.
type JobType string

const (
	JobRun   JobType = "run"
	JobCheck JobType = "check"
	JobClean JobType = "clean"
)

// Job is a single request against a workspace.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Workspace string         `json:"workspace"`
	Options   map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// MarshalJSON renders Error as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Job   Job            `json:"job"`
		Error string         `json:"error,omitempty"`
		Meta  map[string]any `json:"meta,omitempty"`
	}{r.Job, errString(r.Error), r.Meta})
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline serializes jobs onto a single worker. Runs share the engine's
// working directory and the calibrated pool, so they never overlap.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Update
	nextSubID int
}

// New starts a Pipeline whose worker hands jobs to the Orchestrator built by
// factory. queue bounds the number of pending jobs.
func New(ctx context.Context, queue int, logger *slog.Logger, store *storage.Store, factory OrchestratorFactory) *Pipeline {
	if queue < 1 {
		queue = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		log:    logger,
		jobs:   make(chan Job, queue),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Update),
	}
	p.processor = newRouter(logger, factory, p.publish)

	p.wg.Add(1)
	go p.worker(ctx)
	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		_ = p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      storage.StatusQueued,
			Workspace:   job.Workspace,
			OptionsJSON: string(optsJSON),
		})
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the running job, waits for the worker and closes all
// subscriptions.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			logging.LogJobStart(p.log, string(job.Type), job.ID, job.Workspace, job.Options)
			_ = p.store.RecordJobStart(job.ID)

			res := p.processor.Process(ctx, job)
			duration := time.Since(start)

			status := storage.StatusCompleted
			if res.Error != nil {
				status = storage.StatusFailed
				logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error)
			} else {
				logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
			}
			_ = p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error))

			p.broadcast(Update{Type: "result", Result: &res})
		}
	}
}

// Subscribe returns a channel of progress events and job results, and an
// unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Update, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Update, 64)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) publish(ev Event) {
	p.broadcast(Update{Type: "event", Event: &ev})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// broadcast never blocks; slow subscribers drop updates.
func (p *Pipeline) broadcast(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- u:
		default:
			p.log.Warn("update channel full", "subscriber", id, "type", u.Type)
		}
	}
}
