package optimize

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/strategy"
)

// DefaultMaxWorkers bounds the parallel strategy pool.
const DefaultMaxWorkers = 3

// ParallelOutcome is an orchestrator outcome gathered by the worker pool.
type ParallelOutcome struct {
	*strategy.Outcome
	Successful int
	Workers    int
}

// Parallel runs the planned strategies on a bounded worker pool.
type Parallel struct {
	orch    *strategy.Orchestrator
	workers int
	log     zerolog.Logger
}

// NewParallel returns a runner with at most maxWorkers concurrent strategies.
func NewParallel(orch *strategy.Orchestrator, maxWorkers int) *Parallel {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Parallel{orch: orch, workers: maxWorkers, log: logger.WithComponent("parallel")}
}

type taskResult struct {
	cands []strategy.Candidate
	err   error
}

// Run executes up to MaxStrategies planned strategies concurrently and selects
// the winner by voting. Results are gathered in attempt order, so ties still
// go to the earlier attempt.
func (p *Parallel) Run(ctx context.Context, in *strategy.Input) (*ParallelOutcome, error) {
	tasks := p.orch.Plan(in)
	if limit := p.orch.Settings().MaxStrategies; len(tasks) > limit {
		tasks = tasks[:limit]
	}
	workers := min(p.workers, len(tasks))

	jobs := make(chan int, len(tasks))
	results := make([]taskResult, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					results[i] = taskResult{err: err}
					continue
				}
				p.log.Debug().Int("worker", workerID).Str("strategy", tasks[i].Name).Msg("Worker running strategy")
				cands, err := tasks[i].Run(ctx)
				results[i] = taskResult{cands: cands, err: err}
			}
		}(w)
	}
	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &ParallelOutcome{Outcome: &strategy.Outcome{}, Workers: workers}
	var failures []error
	for i, r := range results {
		if errors.Is(r.err, strategy.ErrSkipped) {
			continue
		}
		out.StrategiesTried++
		if r.err != nil {
			failures = append(failures, r.err)
			out.Records = append(out.Records, strategy.FailedRecord(tasks[i].Name, tasks[i].Index, r.err))
			continue
		}
		ok := false
		for _, c := range r.cands {
			if err := strategy.CandidateError(c); err != nil {
				failures = append(failures, err)
				out.Records = append(out.Records, strategy.FailedRecord(c.Strategy, c.Index, err))
				continue
			}
			ok = true
			out.Candidates = append(out.Candidates, c)
			out.Records = append(out.Records, strategy.Record(c))
		}
		if ok {
			out.Successful++
		}
	}

	selected, err := p.orch.Select(out.Outcome, failures)
	out.Outcome = selected
	p.log.Info().Int("workers", workers).Int("strategies_tried", out.StrategiesTried).
		Int("successful", out.Successful).Msg("Parallel strategies finished")
	return out, err
}
