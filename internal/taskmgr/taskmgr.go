package taskmgr

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/king-of-kingdom/tubegrab/internal/model"
	"github.com/king-of-kingdom/tubegrab/internal/store"
)

var (
	ErrQueueFull    = errors.New("server busy, try again later")
	ErrShuttingDown = errors.New("server is shutting down")
)

// Runner drives one job to a terminal state. It must not return before the
// job's record is terminal (or gone).
type Runner interface {
	Run(ctx context.Context, req model.Request)
}

type RunnerFunc func(ctx context.Context, req model.Request)

func (f RunnerFunc) Run(ctx context.Context, req model.Request) { f(ctx, req) }

// TaskManager admits jobs in submission order while keeping at most
// maxConcurrent of them running.
type TaskManager struct {
	mu            sync.Mutex
	pending       []model.Request
	running       int
	maxConcurrent int
	maxPending    int
	closed        bool

	store  store.Store
	runner Runner
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTaskManager(st store.Store, runner Runner, maxConcurrent, maxPending int, logger *log.Logger) *TaskManager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxPending < 0 {
		maxPending = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskManager{
		maxConcurrent: maxConcurrent,
		maxPending:    maxPending,
		store:         st,
		runner:        runner,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit creates the queued record for req and enqueues it. The record is
// only created when the job is admitted.
func (tm *TaskManager) Submit(req model.Request) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return "", ErrShuttingDown
	}
	if tm.running >= tm.maxConcurrent && len(tm.pending) >= tm.maxPending {
		return "", ErrQueueFull
	}

	req.JobID = uuid.New().String()
	err := tm.store.Create(model.Job{
		ID:        req.JobID,
		Status:    model.StatusQueued,
		Message:   "Waiting in queue...",
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}

	tm.pending = append(tm.pending, req)
	tm.dispatchLocked()
	return req.JobID, nil
}

func (tm *TaskManager) dispatchLocked() {
	for !tm.closed && tm.running < tm.maxConcurrent && len(tm.pending) > 0 {
		req := tm.pending[0]
		tm.pending[0] = model.Request{}
		tm.pending = tm.pending[1:]
		tm.running++
		tm.wg.Add(1)
		go tm.execute(req)
	}
}

func (tm *TaskManager) execute(req model.Request) {
	defer func() {
		if r := recover(); r != nil {
			tm.logger.Printf("job %s panicked: %v", req.JobID, r)
			_ = store.SetProgress(tm.store, req.JobID, model.StatusError, 0, "Conversion failed")
		}
		tm.mu.Lock()
		tm.running--
		tm.dispatchLocked()
		tm.mu.Unlock()
		tm.wg.Done()
	}()
	tm.runner.Run(tm.ctx, req)
}

// QueueLength is the number of admitted jobs waiting for a slot.
func (tm *TaskManager) QueueLength() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.pending)
}

// ActiveCount is the number of jobs currently running.
func (tm *TaskManager) ActiveCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.running
}

// Shutdown stops admission, fails every job still waiting and cancels the
// running ones, then waits for them until ctx expires.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	dropped := tm.pending
	tm.pending = nil
	tm.mu.Unlock()

	for _, req := range dropped {
		_ = store.SetProgress(tm.store, req.JobID, model.StatusError, 0, ErrShuttingDown.Error())
	}
	tm.cancel()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
