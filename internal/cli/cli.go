package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"multistack/internal/config"
	"multistack/internal/pipeline"
	"multistack/internal/server"
	"multistack/internal/siril"
	"multistack/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Update, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	p, _ := pipe.(*pipeline.Pipeline)
	return server.NewServer(addr, store, p, log).Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline  pipelineClient
	cfg       *config.Config
	log       *slog.Logger
	store     *storage.Store
	out       io.Writer
	serveFn   serverFunc
	toolCheck func(sirilPath string) []siril.ToolStatus
}

// NewRoot constructs the CLI root. pl may be nil for commands that never
// submit jobs.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	r := &Root{
		cfg:       cfg,
		log:       logger,
		store:     store,
		out:       os.Stdout,
		serveFn:   defaultServe,
		toolCheck: siril.Tools,
	}
	if pl != nil {
		r.pipeline = pl
	}
	return r
}

var (
	okMark   = color.New(color.Bold, color.FgGreen).Sprint("✔")
	failMark = color.New(color.Bold, color.FgRed).Sprint("✘")
	warnMark = color.New(color.Bold, color.FgYellow).Sprint("!")
)

func bold(format string, a ...any) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func (r *Root) printf(format string, a ...any) {
	fmt.Fprintf(r.out, format, a...)
}

// enqueueAndWait submits job and blocks until its result arrives, printing
// stage progress on the way.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	if r.pipeline == nil {
		return pipeline.Result{}, errors.New("pipeline unavailable")
	}
	updates, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if u.Event != nil {
				r.printEvent(u.Event)
				continue
			}
			if u.Result != nil && u.Result.Job.ID == job.ID {
				return *u.Result, u.Result.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.pipeline.Submit(job); err != nil {
		return err
	}
	r.log.Debug("job queued", "type", job.Type, "id", job.ID, "workspace", job.Workspace)
	return nil
}

func (r *Root) printEvent(ev *pipeline.Event) {
	where := ev.Session
	if where == "" {
		where = "all"
	}
	switch ev.Status {
	case pipeline.EventCompleted:
		r.printf("%s %-10s %s\n", okMark, where, ev.Stage)
	case pipeline.EventFailed:
		r.printf("%s %-10s %s: %s\n", failMark, where, ev.Stage, ev.Message)
	case pipeline.EventWarning:
		r.printf("%s %-10s %s\n", warnMark, where, color.YellowString("%s", ev.Message))
	case pipeline.EventSkipped:
		r.printf("- %-10s %s (%s)\n", where, ev.Stage, ev.Message)
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
