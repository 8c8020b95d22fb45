package optimization

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"advisor/internal/domain"
)

// job is one queued solve request.
type job struct {
	ctx     context.Context
	problem *Problem
	reply   chan jobResult
}

type jobResult struct {
	result *domain.OptimizationResult
	err    error
}

// Pool runs optimizations across a fixed set of workers so concurrent
// requests cannot oversubscribe the CPU with simultaneous solves.
type Pool struct {
	optimizer *Optimizer
	jobs      chan job
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// NewPool creates and starts a solve pool with the given worker count.
func NewPool(optimizer *Optimizer, workers int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		optimizer: optimizer,
		jobs:      make(chan job),
		logger:    logger.With().Str("component", "solve_pool").Logger(),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.reply <- jobResult{err: err}
			continue
		}
		result, err := p.optimizer.Optimize(j.ctx, j.problem)
		j.reply <- jobResult{result: result, err: err}
	}
	p.logger.Debug().Int("worker", id).Msg("solve worker stopped")
}

// Solve queues a problem and waits for its result or context cancellation.
func (p *Pool) Solve(ctx context.Context, problem *Problem) (*domain.OptimizationResult, error) {
	reply := make(chan jobResult, 1)
	select {
	case p.jobs <- job{ctx: ctx, problem: problem, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers after in-flight jobs finish.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
