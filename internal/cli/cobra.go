package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"multistack/internal/config"
	"multistack/internal/logging"
	"multistack/internal/pipeline"
	"multistack/internal/session"
	"multistack/internal/storage"
)

// defaultServeAddr keeps the job API on the loopback interface.
const defaultServeAddr = "127.0.0.1:8080"

// Version is reported by the version command; main overrides it.
var Version = "dev"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return NewRoot(pipe, cfg, log, store).Command()
}

// Command builds the command tree around r.
func (r *Root) Command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "multistack",
		Short: "Calibrate, register and stack multi-session astrophotography with Siril",
		Long: `multistack processes a workspace of session_N directories. Each session holds
lights/ plus optional darks/, flats/ and biases/. Masters are built per session,
lights are calibrated with the recipe matching the available frames, and every
session is pooled into calibrated/ for one registration and final stack.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(r.newInitCmd())
	rootCmd.AddCommand(r.newCheckCmd())
	rootCmd.AddCommand(r.newRunCmd())
	rootCmd.AddCommand(r.newCleanCmd())
	rootCmd.AddCommand(r.newToolsCmd())
	rootCmd.AddCommand(r.newHistoryCmd())
	rootCmd.AddCommand(r.newServeCmd())
	rootCmd.AddCommand(r.newConfigCmd())
	rootCmd.AddCommand(r.newVersionCmd())
	return rootCmd
}

func (r *Root) workspaceArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return r.cfg.Paths.DefaultWorkdir
}

func (r *Root) newInitCmd() *cobra.Command {
	var opts session.ScaffoldOptions

	cmd := &cobra.Command{
		Use:   "init [workspace]",
		Short: "Create the session directory layout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := session.Scaffold(r.workspaceArg(args), opts)
			for _, dir := range created {
				r.printf("%s %s\n", okMark, dir)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&opts.Sessions, "sessions", "n", 1, "number of sessions to create")
	cmd.Flags().BoolVar(&opts.Darks, "darks", false, "create darks/ in each session")
	cmd.Flags().BoolVar(&opts.Flats, "flats", false, "create flats/ in each session")
	cmd.Flags().BoolVar(&opts.Biases, "biases", false, "create biases/ in each session")
	return cmd
}

func (r *Root) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [workspace]",
		Short: "Validate a workspace and show the calibration recipe per session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{ID: newID("check"), Type: pipeline.JobCheck, Workspace: r.workspaceArg(args)}
			res, err := r.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			r.printf("color mode: %s\n", bold("%v", res.Meta["mode"]))
			plans, _ := res.Meta["sessions"].([]pipeline.SessionPlan)
			for _, p := range plans {
				r.printf("%s %s  lights=%d  %s  %s\n", okMark, bold("%s", p.Name), p.Lights, p.Availability, p.Recipe)
				if p.Command != "" {
					r.printf("    %s\n", p.Command)
				}
				if p.Warning != "" {
					r.printf("    %s %s\n", warnMark, p.Warning)
				}
			}
			return nil
		},
	}
}

func (r *Root) newRunCmd() *cobra.Command {
	var (
		resume     bool
		bits       int
		statusAddr string
	)

	cmd := &cobra.Command{
		Use:   "run [workspace]",
		Short: "Process every session and stack the result",
		Long: `Run builds masters, calibrates and promotes each session, then registers and
stacks the calibrated pool into result_<seconds>s.<ext> in the workspace.

Examples:
  multistack run /data/m31
  multistack run /data/m31 --resume
  multistack run /data/m31 --status-addr 127.0.0.1:8080`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if statusAddr != "" {
				srvCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := r.serveFn(srvCtx, statusAddr, r.store, r.pipeline, r.log); err != nil {
						r.log.Warn("status server stopped", "error", err)
					}
				}()
			}

			job := pipeline.Job{
				ID:        newID("run"),
				Type:      pipeline.JobRun,
				Workspace: r.workspaceArg(args),
				Options:   map[string]any{"resume": resume, "bits": bits, "source": "cli"},
			}
			start := time.Now()
			res, err := r.enqueueAndWait(ctx, job)
			if err != nil {
				r.printf("%s run failed after %s\n", failMark, time.Since(start).Round(time.Second))
				return err
			}
			r.printf("\n%s %s (%vs integration) in %s\n", okMark, bold("%v", res.Meta["result"]),
				res.Meta["integrationSeconds"], time.Since(start).Round(time.Second))
			if p, ok := res.Meta["preview"].(string); ok {
				r.printf("  preview: %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "skip sessions already promoted by the last unfinished run")
	cmd.Flags().IntVar(&bits, "bits", 0, "output bit depth (16|32), config default if 0")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve run progress over HTTP on this address while running")
	return cmd
}

func (r *Root) newCleanCmd() *cobra.Command {
	var pool bool
	cmd := &cobra.Command{
		Use:   "clean [workspace]",
		Short: "Remove intermediate files from every session's process directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("clean"),
				Type:      pipeline.JobClean,
				Workspace: r.workspaceArg(args),
				Options:   map[string]any{"pool": pool},
			}
			res, err := r.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			r.printf("%s cleaned (%v pool files removed)\n", okMark, res.Meta["purged"])
			return nil
		},
	}
	cmd.Flags().BoolVar(&pool, "pool", false, "also empty the calibrated pool")
	return cmd
}

func (r *Root) newToolsCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show availability of siril-cli and ImageMagick",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := r.toolCheck(r.cfg.Engine.SirilPath)
			missingEngine := false
			for i, st := range statuses {
				logging.LogToolStatus(r.log, st.Name, st.Available, st.Version, st.Path, st.Error)
				if !st.Available {
					if i == 0 {
						missingEngine = true
					}
					r.printf("%s %s", failMark, st.Name)
					if verbose && st.Error != nil {
						r.printf(" - %v", st.Error)
					}
					r.printf("\n")
					continue
				}
				r.printf("%s %s", okMark, st.Name)
				if verbose {
					r.printf(" (%s) [%s]", st.Version, st.Path)
				}
				r.printf("\n")
			}
			if missingEngine {
				return fmt.Errorf("engine %q not found; install Siril or set engine.siril_path", r.cfg.Engine.SirilPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show versions and paths")
	return cmd
}

func (r *Root) newHistoryCmd() *cobra.Command {
	var (
		limit    int
		runID    string
		commands bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs or show one run's engine commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID != "" {
				return r.showRun(runID, commands)
			}
			runs, err := r.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				mark := okMark
				switch run.Status {
				case storage.StatusFailed:
					mark = failMark
				case storage.StatusRunning:
					mark = warnMark
				}
				started := ""
				if run.StartedAt != nil {
					started = run.StartedAt.Local().Format("2006-01-02 15:04")
				}
				r.printf("%s %s  %s  %-9s %s  %s\n", mark, run.ID, started, run.Status, filepath.Base(run.Workspace), run.ResultPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show a single run")
	cmd.Flags().BoolVar(&commands, "commands", false, "with --run, list the engine commands issued")
	return cmd
}

func (r *Root) showRun(id string, commands bool) error {
	run, err := r.store.Run(id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	r.printf("%s  %s\n", bold("%s", run.ID), run.Status)
	r.printf("  workspace: %s\n  mode: %s  sessions: %d\n", run.Workspace, run.ColorMode, run.Sessions)
	if run.ResultPath != "" {
		r.printf("  result: %s (%ds)\n", run.ResultPath, run.IntegrationSeconds)
	}
	if run.Error != "" {
		r.printf("  error: %s\n", color.RedString("%s", run.Error))
	}
	states, err := r.store.SessionStates(id)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.printf("  %-12s %s\n", name, states[name])
	}
	if !commands {
		return nil
	}
	cmds, err := r.store.RunCommands(id)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		mark := okMark
		if c.Error != "" {
			mark = failMark
		}
		r.printf("  %s %6dms  %s\n", mark, c.DurationMS, strings.ReplaceAll(c.Command, "\n", "; "))
	}
	return nil
}

func (r *Root) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and live progress over HTTP",
		Long: `Start an HTTP server exposing run history, engine command logs and a websocket
stream of pipeline progress. Jobs can be submitted with POST /api/jobs.

Examples:
  multistack serve
  multistack serve --addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r.log.Info("starting server", "addr", addr)
			return r.serveFn(cmd.Context(), addr, r.store, r.pipeline, r.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address; the API is unauthenticated, bind other interfaces deliberately")
	return cmd
}

func (r *Root) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r.printf("multistack %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
