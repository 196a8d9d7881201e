// Package worker - ограниченный пул фоновых задач (merge портфеля после live-чтения).
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"cryptofolio/internal/metrics"
	"cryptofolio/pkg/utils"
)

// Ошибки пула
var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrNilTask    = errors.New("task must not be nil")
)

// Значения по умолчанию
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Task - единица работы. Контекст задачи передаётся вызывающим.
type Task func(ctx context.Context) error

type job struct {
	id   string
	ctx  context.Context
	task Task
}

// Pool - фиксированное число воркеров над ограниченной очередью.
// Submit не блокируется: при полной очереди задача отклоняется.
type Pool struct {
	name   string
	logger *utils.Logger
	jobs   chan job

	workers conc.WaitGroup
	closed  atomic.Bool
	once    sync.Once
	mu      sync.RWMutex // защищает отправку в jobs от close

	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// NewPool создаёт пул и сразу запускает воркеров
func NewPool(name string, workers, queueSize int, logger *utils.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize < 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	p := &Pool{
		name:   name,
		logger: logger.WithComponent("worker_pool").With(utils.String("pool", name)),
		jobs:   make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.workers.Go(p.loop)
	}
	return p
}

// Submit ставит задачу в очередь без ожидания.
// id используется только для логов.
func (p *Pool) Submit(ctx context.Context, id string, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job{id: id, ctx: ctx, task: task}:
		metrics.SetQueueSize(p.name, len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) loop() {
	for j := range p.jobs {
		metrics.SetQueueSize(p.name, len(p.jobs))
		p.run(j)
	}
}

// run выполняет задачу; паника перехватывается и логируется, воркер продолжает работу
func (p *Pool) run(j job) {
	var catcher panics.Catcher
	var err error

	catcher.Try(func() {
		err = j.task(j.ctx)
	})

	if recovered := catcher.Recovered(); recovered != nil {
		p.panicked.Add(1)
		p.logger.Error("task panicked",
			utils.JobID(j.id),
			utils.Err(recovered.AsError()),
			utils.String("stack", string(recovered.Stack)),
		)
		return
	}

	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("task failed", utils.JobID(j.id), utils.Err(err))
		return
	}
	p.completed.Add(1)
}

// Shutdown прекращает приём задач и ждёт завершения уже поставленных
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped",
			utils.Int64("completed", p.completed.Load()),
			utils.Int64("failed", p.failed.Load()),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown %s pool: %w", p.name, ctx.Err())
	}
}

// Stats - счётчики пула
type Stats struct {
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}

// Stats возвращает текущие счётчики
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.jobs),
		Capacity:  cap(p.jobs),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}
