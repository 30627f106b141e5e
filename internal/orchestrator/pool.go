package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codecrow/branchanalyzer/internal/progress"
)

// Pool dispatches Process calls onto a bounded set of worker goroutines
// (spec.md §5: "parallel worker threads"; SPEC_FULL.md §8), modeled on the
// teacher's semaphore + active-map dispatcher generalized from "one build
// per issue" to "one analysis per (projectId, branchName)".
type Pool struct {
	orchestrator *Orchestrator
	sem          chan struct{}
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

// NewPool builds a Pool bounded at maxWorkers concurrent Process calls.
func NewPool(o *Orchestrator, maxWorkers int, logger *slog.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		orchestrator: o,
		sem:          make(chan struct{}, maxWorkers),
		logger:       logger,
		active:       make(map[string]bool),
	}
}

func poolKey(req Request) string {
	return req.ProjectID + "\x00" + req.TargetBranchName
}

// Dispatch starts a Process call on a pool goroutine for (projectID,
// branchName), rejecting the request if that pair already has a call in
// flight or no worker slot is free. onDone receives the call's outcome.
func (p *Pool) Dispatch(ctx context.Context, req Request, sink progress.Sink, onDone func(Result, error)) error {
	key := poolKey(req)

	p.mu.Lock()
	if p.active[key] {
		p.mu.Unlock()
		return fmt.Errorf("analysis for project %s branch %s is already running", req.ProjectID, req.TargetBranchName)
	}

	select {
	case p.sem <- struct{}{}:
	default:
		p.mu.Unlock()
		return fmt.Errorf("no worker slot available")
	}

	p.active[key] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, key, req, sink, onDone)
	return nil
}

func (p *Pool) run(ctx context.Context, key string, req Request, sink progress.Sink, onDone func(Result, error)) {
	defer p.wg.Done()
	defer func() {
		<-p.sem
		p.mu.Lock()
		delete(p.active, key)
		p.mu.Unlock()
	}()

	result, err := p.orchestrator.Process(ctx, req, sink)
	if err != nil {
		p.logger.Error("analysis failed", "project", req.ProjectID, "branch", req.TargetBranchName, "error", err)
	}
	if onDone != nil {
		onDone(result, err)
	}
}

// IsRunning reports whether (projectID, branchName) currently has an
// analysis in flight on this pool.
func (p *Pool) IsRunning(projectID, branchName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[poolKey(Request{ProjectID: projectID, TargetBranchName: branchName})]
}

// Wait blocks until every dispatched call has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
