package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// OrchestratorFactory builds a fresh Orchestrator for one job.
type OrchestratorFactory func() *Orchestrator

// router implements Processor and routes jobs to the orchestrator.
type router struct {
	log     *slog.Logger
	factory OrchestratorFactory
	emit    func(Event)
}

func newRouter(logger *slog.Logger, factory OrchestratorFactory, emit func(Event)) Processor {
	return &router{log: logger, factory: factory, emit: emit}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	if r.factory == nil {
		return Result{Job: job, Error: fmt.Errorf("no orchestrator configured")}
	}
	o := r.factory()
	o.OnEvent(r.emit)

	switch job.Type {
	case JobRun:
		return r.handleRun(ctx, o, job)
	case JobCheck:
		return r.handleCheck(ctx, o, job)
	case JobClean:
		return r.handleClean(ctx, o, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleRun(ctx context.Context, o *Orchestrator, job Job) Result {
	opts := RunOptions{
		Resume: getBoolOption(job.Options, "resume"),
		Bits:   getIntOption(job.Options, "bits"),
	}
	report, err := o.Run(ctx, job.Workspace, opts)
	meta := map[string]any{
		"runID":              report.RunID,
		"mode":               report.Mode,
		"sessions":           report.Sessions,
		"registered":         report.Registered,
		"integrationSeconds": report.IntegrationSeconds,
		"result":             report.Result,
		"resumed":            report.Resumed,
	}
	if report.Preview != "" {
		meta["preview"] = report.Preview
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleCheck(ctx context.Context, o *Orchestrator, job Job) Result {
	plan, err := o.Check(ctx, job.Workspace)
	meta := map[string]any{
		"mode":     plan.Mode,
		"sessions": plan.Sessions,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleClean(ctx context.Context, o *Orchestrator, job Job) Result {
	n, err := o.Clean(ctx, job.Workspace, getBoolOption(job.Options, "pool"))
	return Result{Job: job, Error: err, Meta: map[string]any{"purged": n}}
}

func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

// getIntOption accepts int and the float64 produced by JSON decoding.
func getIntOption(options map[string]any, key string) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
