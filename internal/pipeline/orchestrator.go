package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"multistack/internal/calibration"
	"multistack/internal/classify"
	"multistack/internal/config"
	"multistack/internal/fits"
	"multistack/internal/frames"
	"multistack/internal/fsutil"
	"multistack/internal/logging"
	"multistack/internal/preview"
	"multistack/internal/session"
	"multistack/internal/siril"
	"multistack/internal/storage"
	"multistack/internal/watch"
)

// ErrMissingMasterFrame is returned when a recipe references a master that
// was not built.
var ErrMissingMasterFrame = errors.New("missing master frame")

// Master stacks always use sigma 3/3 rejection.
const masterSigma = 3

// Classifier determines the color mode across sessions.
type Classifier interface {
	Sessions(sessions []*session.Session) (classify.Classification, error)
}

// Settings are the orchestrator's fixed parameters.
type Settings struct {
	Bits            int
	Ext             string
	SigmaLow        float64
	SigmaHigh       float64
	MinStars        int
	MaxStars        int
	CleanupSessions bool
	Watch           bool
	FinalSweep      bool
	WatchBuffer     uint
	CheckFreeSpace  bool
}

// SettingsFromConfig maps configuration onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	buf := cfg.Watch.Buffer
	if buf < 0 {
		buf = 0
	}
	return Settings{
		Bits:            cfg.Engine.BitDepth,
		Ext:             strings.TrimPrefix(cfg.Engine.Extension, "."),
		SigmaLow:        cfg.Processing.SigmaLow,
		SigmaHigh:       cfg.Processing.SigmaHigh,
		MinStars:        cfg.Processing.MinStars,
		MaxStars:        cfg.Processing.MaxStars,
		CleanupSessions: cfg.Processing.CleanupSessions,
		Watch:           cfg.Watch.Enabled,
		FinalSweep:      cfg.Watch.FinalSweep,
		WatchBuffer:     uint(buf),
		CheckFreeSpace:  cfg.Processing.CheckFreeSpace,
	}
}

// RunOptions are per-run overrides.
type RunOptions struct {
	Resume bool
	Bits   int // 0 keeps Settings.Bits
}

// SessionReport summarizes one session of a run.
type SessionReport struct {
	Name     string `json:"name"`
	Recipe   string `json:"recipe"`
	Promoted int    `json:"promoted"`
	Skipped  bool   `json:"skipped"`
	Warning  string `json:"warning,omitempty"`
}

// RunReport summarizes a completed run.
type RunReport struct {
	RunID              string          `json:"run_id"`
	Workspace          string          `json:"workspace"`
	Mode               string          `json:"mode"`
	Sessions           []SessionReport `json:"sessions"`
	Registered         int             `json:"registered"`
	IntegrationSeconds int             `json:"integration_seconds"`
	Result             string          `json:"result"`
	Preview            string          `json:"preview,omitempty"`
	Resumed            bool            `json:"resumed"`
}

// Orchestrator sequences engine calls over a workspace of sessions.
type Orchestrator struct {
	engine     siril.Engine
	store      *storage.Store
	log        *slog.Logger
	classifier Classifier
	settings   Settings
	preview    preview.Renderer
	emit       func(Event)

	runID string
}

// NewOrchestrator wires an orchestrator. store, renderer and emit may be nil.
func NewOrchestrator(engine siril.Engine, classifier Classifier, store *storage.Store, settings Settings, renderer preview.Renderer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if settings.Ext == "" {
		settings.Ext = "fit"
	}
	if settings.Bits == 0 {
		settings.Bits = 32
	}
	if settings.SigmaLow == 0 {
		settings.SigmaLow = masterSigma
	}
	if settings.SigmaHigh == 0 {
		settings.SigmaHigh = masterSigma
	}
	return &Orchestrator{
		engine:     engine,
		store:      store,
		log:        logger,
		classifier: classifier,
		settings:   settings,
		preview:    renderer,
		emit:       func(Event) {},
	}
}

// OnEvent registers the progress callback.
func (o *Orchestrator) OnEvent(fn func(Event)) {
	if fn == nil {
		fn = func(Event) {}
	}
	o.emit = fn
}

func (o *Orchestrator) event(session, stage, status, msg string, meta map[string]any) {
	o.emit(Event{RunID: o.runID, Session: session, Stage: stage, Status: status, Message: msg, Meta: meta, Time: time.Now()})
}

// prepare opens, validates and classifies the workspace. Nothing is sent to
// the engine before it succeeds.
func (o *Orchestrator) prepare(dir string) (*session.Workspace, []*session.Session, classify.Classification, error) {
	var cl classify.Classification
	ws, err := session.OpenWorkspace(dir)
	if err != nil {
		return nil, nil, cl, err
	}
	sessions, err := ws.Sessions(o.log)
	if err != nil {
		return nil, nil, cl, err
	}
	if err := session.Validate(sessions); err != nil {
		return nil, nil, cl, err
	}
	cl, err = o.classifier.Sessions(sessions)
	if err != nil {
		return nil, nil, cl, err
	}
	return ws, sessions, cl, nil
}

// Run processes every session of the workspace at dir and stacks the result.
// Any error aborts the remaining run.
func (o *Orchestrator) Run(ctx context.Context, dir string, opts RunOptions) (report RunReport, err error) {
	ws, sessions, cl, err := o.prepare(dir)
	if err != nil {
		return report, err
	}
	mode := cl.Mode()

	if o.settings.CheckFreeSpace {
		var lights []string
		for _, s := range sessions {
			for _, l := range s.Lights {
				lights = append(lights, l.Path)
			}
		}
		if err := fsutil.CheckFreeSpace(ws.Root, lights, o.log); err != nil {
			return report, err
		}
	}

	done := map[string]string{}
	o.runID = uuid.NewString()
	if opts.Resume && o.store == nil {
		o.log.Warn("resume requested without a run ledger, starting fresh")
	}
	if opts.Resume && o.store != nil {
		prev, err := o.store.LatestUnfinishedRun(ws.Root)
		if err != nil {
			return report, fmt.Errorf("resume: %w", err)
		}
		if prev != nil {
			o.runID = prev.ID
			report.Resumed = true
			if done, err = o.store.SessionStates(prev.ID); err != nil {
				return report, fmt.Errorf("resume: %w", err)
			}
		}
	}

	report.RunID = o.runID
	report.Workspace = ws.Root
	report.Mode = mode.String()

	if err := o.store.RecordRunStart(storage.RunRecord{ID: o.runID, Workspace: ws.Root, ColorMode: mode.String(), Sessions: len(sessions)}); err != nil {
		o.log.Warn("failed to record run start", "run", o.runID, "error", err)
	}
	o.log.Info("run started", "run", o.runID, "workspace", ws.Root, "sessions", len(sessions), "mode", mode.String(), "resumed", report.Resumed)

	defer func() {
		status, msg := storage.StatusCompleted, ""
		if err != nil {
			status, msg = storage.StatusFailed, err.Error()
		}
		if rerr := o.store.RecordRunResult(o.runID, status, report.Result, report.IntegrationSeconds, msg); rerr != nil {
			o.log.Warn("failed to record run result", "run", o.runID, "error", rerr)
		}
	}()

	if err := os.MkdirAll(ws.PoolPath(), 0o755); err != nil {
		return report, err
	}

	bits := o.settings.Bits
	if opts.Bits != 0 {
		bits = opts.Bits
	}
	if err := o.exec(ctx, "", siril.SetBits{Bits: bits}); err != nil {
		return report, err
	}
	if err := o.exec(ctx, "", siril.SetExt{Ext: o.settings.Ext}); err != nil {
		return report, err
	}

	for _, s := range sessions {
		if done[s.Name()] == StatePromoted {
			o.log.Info("session already promoted, skipping", "run", o.runID, "session", s.Name())
			o.event(s.Name(), StatePromoted, EventSkipped, "already promoted", nil)
			report.Sessions = append(report.Sessions, SessionReport{Name: s.Name(), Skipped: true})
			continue
		}
		sr, err := o.processSession(ctx, ws, s, mode)
		report.Sessions = append(report.Sessions, sr)
		if err != nil {
			return report, fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	o.state(globalSession, StateAllSessions, nil)

	if err := o.finish(ctx, ws, &report, done[globalSession]); err != nil {
		return report, err
	}

	if o.settings.CleanupSessions {
		for _, s := range sessions {
			if err := s.Cleanup(); err != nil {
				o.log.Warn("session cleanup failed", "session", s.Name(), "error", err)
			}
		}
	}

	o.log.Info("run completed", "run", o.runID, "result", report.Result, "integration_s", report.IntegrationSeconds)
	return report, nil
}

// stage runs fn as a named stage with logging, events and ledger updates.
func (o *Orchestrator) stage(session, name string, fn func() (map[string]any, error)) error {
	start := time.Now()
	label := session
	if label == globalSession {
		label = ""
	}
	logging.LogStageStart(o.log, o.runID, label, name)
	o.event(label, name, EventStarted, "", nil)

	details, err := fn()
	if err != nil {
		logging.LogStageError(o.log, o.runID, label, name, time.Since(start), err)
		o.event(label, name, EventFailed, err.Error(), details)
		return err
	}
	logging.LogStageComplete(o.log, o.runID, label, name, time.Since(start), details)
	o.state(session, name, details)
	return nil
}

func (o *Orchestrator) state(session, name string, details map[string]any) {
	if err := o.store.RecordSessionState(o.runID, session, name); err != nil {
		o.log.Warn("failed to record state", "session", session, "state", name, "error", err)
	}
	label := session
	if label == globalSession {
		label = ""
	}
	o.event(label, name, EventCompleted, "", details)
}

func (o *Orchestrator) processSession(ctx context.Context, ws *session.Workspace, s *session.Session, mode calibration.ColorMode) (SessionReport, error) {
	rep := SessionReport{Name: s.Name()}
	name := s.Name()

	err := o.stage(name, StateInit, func() (map[string]any, error) {
		s.Library.Clear()
		if err := os.MkdirAll(s.ProcessPath(), 0o755); err != nil {
			return nil, err
		}
		for _, l := range s.Lights {
			o.recordFrame(s, l.Path, frames.Light, nil, mode)
		}
		return map[string]any{"lights": len(s.Lights)}, nil
	})
	if err != nil {
		return rep, err
	}

	var flatName string
	err = o.stage(name, StateMastersBuilt, func() (map[string]any, error) {
		var err error
		flatName, err = o.buildMasters(ctx, s, mode)
		masters := map[string]any{}
		for _, t := range frames.CalibrationTypes {
			if m := s.Library.Set(t).MasterFrame(); m != "" {
				masters[string(t)] = filepath.Base(m)
			}
		}
		return masters, err
	})
	if err != nil {
		return rep, err
	}

	err = o.stage(name, StateLightsConverted, func() (map[string]any, error) {
		if err := o.exec(ctx, name, siril.Cd{Path: s.LightsPath()}); err != nil {
			return nil, err
		}
		if err := o.exec(ctx, name, siril.Convert{Prefix: string(frames.Light), Out: s.ProcessPath()}); err != nil {
			return nil, err
		}
		return nil, o.exec(ctx, name, siril.Cd{Path: s.ProcessPath()})
	})
	if err != nil {
		return rep, err
	}

	recipe, ok := calibration.Select(s.Availability(), mode)
	if !ok {
		return rep, fmt.Errorf("no calibration recipe for %s/%s", s.Availability(), mode)
	}
	recipe = recipe.WithFlat(flatName)
	rep.Recipe = recipe.Kind.String()
	if recipe.Warning != "" {
		rep.Warning = recipe.Warning
		o.log.Warn(recipe.Warning, "session", name, "availability", s.Availability().String())
		o.event(name, StateCalibrated, EventWarning, recipe.Warning, nil)
	}

	err = o.stage(name, StateCalibrated, func() (map[string]any, error) {
		return o.calibrate(ctx, s, recipe)
	})
	if err != nil {
		return rep, err
	}

	err = o.stage(name, StatePromoted, func() (map[string]any, error) {
		prefix := "pp_" + string(frames.Light) + "_"
		if recipe.Kind == calibration.KindBypass {
			prefix = string(frames.Light) + "_"
		}
		n, err := o.promote(s.ProcessPath(), ws.PoolPath(), prefix)
		rep.Promoted = n
		return map[string]any{"promoted": n}, err
	})
	return rep, err
}

// calibrate verifies the recipe's masters and runs the calibrate command
// under a pp_ watch scope. Bypass recipes never reach the engine.
func (o *Orchestrator) calibrate(ctx context.Context, s *session.Session, recipe calibration.Recipe) (map[string]any, error) {
	details := map[string]any{"recipe": recipe.Kind.String()}
	if recipe.Kind == calibration.KindBypass {
		o.log.Info("no calibration frames for monochrome lights, bypassing calibration", "session", s.Name())
		return details, nil
	}

	for _, m := range recipe.Masters() {
		p := filepath.Join(s.ProcessPath(), m+"."+o.settings.Ext)
		if !fsutil.FileExists(p) {
			return details, fmt.Errorf("%w: %s", ErrMissingMasterFrame, p)
		}
	}

	cmd := calibrateCommand(recipe)
	rep, err := o.watched(ctx, s.ProcessPath(), "pp", func(ctx context.Context) error {
		return o.exec(ctx, s.Name(), cmd)
	})
	details["reclaimed"] = len(rep.Deleted)
	return details, err
}

func calibrateCommand(recipe calibration.Recipe) siril.Calibrate {
	return siril.Calibrate{
		Prefix:      string(frames.Light),
		Bias:        recipe.Bias,
		Dark:        recipe.Dark,
		Flat:        recipe.Flat,
		CC:          recipe.CC,
		CFA:         recipe.CFA,
		EqualizeCFA: recipe.EqualizeCFA,
		Debayer:     recipe.Debayer,
	}
}

// reached reports whether the global state prev is at or past target.
func reached(prev, target string) bool {
	order := []string{StateAllSessions, StateRegistered, StateStacked, StateCleaned}
	pi, ti := -1, -1
	for i, s := range order {
		if s == prev {
			pi = i
		}
		if s == target {
			ti = i
		}
	}
	return pi >= 0 && pi >= ti
}

// finish registers, stacks and purges the pool. prevGlobal is the global
// state a resumed run had reached; registration is skipped when the pool
// already holds only registered frames.
func (o *Orchestrator) finish(ctx context.Context, ws *session.Workspace, report *RunReport, prevGlobal string) error {
	pool := ws.PoolPath()
	seq := "pp_" + string(frames.Light)

	err := o.stage(globalSession, StateRegistered, func() (map[string]any, error) {
		if err := o.exec(ctx, "", siril.Cd{Path: pool}); err != nil {
			return nil, err
		}
		files, err := fsutil.Glob(pool, seq+"_", o.settings.Ext)
		if err != nil {
			return nil, err
		}
		if report.Resumed {
			registered, err := fsutil.Glob(pool, "r_"+seq+"_", o.settings.Ext)
			if err != nil {
				return nil, err
			}
			switch {
			case len(files) > 0 && len(registered) > 0:
				return nil, fmt.Errorf("%w: %s holds both calibrated and registered lights from an interrupted registration; run clean --pool and start over", session.ErrValidation, pool)
			case len(registered) > 0:
				o.log.Info("pool already registered, skipping registration", "run", o.runID, "frames", len(registered))
				report.Registered = len(registered)
				return map[string]any{"frames": len(registered), "resumed": true}, nil
			case reached(prevGlobal, StateRegistered):
				return nil, fmt.Errorf("%w: run reached %s but %s holds no registered lights", session.ErrValidation, prevGlobal, pool)
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: no calibrated lights in %s", session.ErrValidation, pool)
		}
		_, err = o.watched(ctx, pool, "r", func(ctx context.Context) error {
			return o.exec(ctx, "", siril.Register{Prefix: seq, MinStars: o.settings.MinStars, MaxStars: o.settings.MaxStars})
		})
		report.Registered = len(files)
		return map[string]any{"frames": len(files)}, err
	})
	if err != nil {
		return err
	}

	err = o.stage(globalSession, StateStacked, func() (map[string]any, error) {
		registered, err := fsutil.Glob(pool, "r_"+seq+"_", "fit", "fits", "fts")
		if err != nil {
			return nil, err
		}
		total, skipped := fits.SumExposure(registered)
		for _, p := range skipped {
			o.log.Warn("no exposure time in registered frame", "path", p)
		}
		report.IntegrationSeconds = fits.IntegrationSeconds(total)
		out := fmt.Sprintf("result_%ds", report.IntegrationSeconds)

		err = o.exec(ctx, "", siril.Stack{
			Prefix:     "r_" + seq,
			Type:       "rej",
			SigmaLow:   o.settings.SigmaLow,
			SigmaHigh:  o.settings.SigmaHigh,
			Norm:       "addscale",
			OutputNorm: true,
			RGBEqual:   true,
			Out:        "../" + out,
		})
		if err != nil {
			return nil, err
		}
		report.Result = filepath.Join(ws.Root, out+"."+o.settings.Ext)
		if !fsutil.FileExists(report.Result) {
			o.log.Warn("stack reported success but result file is missing", "path", report.Result)
		}
		if o.preview != nil {
			if p, err := o.preview(report.Result); err == nil {
				report.Preview = p
			}
		}
		return map[string]any{"result": report.Result, "integration_s": report.IntegrationSeconds, "frames": len(registered)}, nil
	})
	if err != nil {
		return err
	}

	return o.stage(globalSession, StateCleaned, func() (map[string]any, error) {
		n, err := purge(pool)
		return map[string]any{"purged": n}, err
	})
}

// watched runs fn inside a watch scope when watching is enabled.
func (o *Orchestrator) watched(ctx context.Context, dir, prefix string, fn func(context.Context) error) (watch.Report, error) {
	if !o.settings.Watch {
		return watch.Report{}, fn(ctx)
	}
	c := watch.New(dir, prefix, o.log)
	c.FinalSweep = o.settings.FinalSweep
	c.Buffer = o.settings.WatchBuffer
	return c.Do(ctx, fn)
}

// exec runs cmd on the engine and records it in the ledger.
func (o *Orchestrator) exec(ctx context.Context, session string, cmd siril.Command) error {
	line, _ := cmd.Script()
	start := time.Now()
	err := o.engine.Exec(ctx, cmd)
	dur := time.Since(start)

	rec := storage.CommandRecord{
		RunID:      o.runID,
		Session:    session,
		Dir:        o.engine.Dir(),
		Command:    line,
		DurationMS: dur.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if rerr := o.store.RecordEngineCommand(rec); rerr != nil {
		o.log.Debug("failed to record engine command", "error", rerr)
	}
	o.event(session, "", EventCommand, line, nil)
	return err
}

func (o *Orchestrator) recordFrame(s *session.Session, path string, t frames.Type, f *frames.CalibrationFrame, mode calibration.ColorMode) {
	rec := storage.FrameRecord{Path: path, RunID: o.runID, Session: s.Name(), FrameType: string(t)}
	if f != nil {
		rec.Exposure, rec.Temperature, rec.Gain = f.Exposure, f.Temperature, f.Gain
	}
	if t == frames.Light {
		rec.ColorMode = mode.String()
	}
	if err := o.store.RecordFrameMetadata(rec); err != nil {
		o.log.Debug("failed to record frame metadata", "path", path, "error", err)
	}
}

// purge deletes every regular file in dir.
func purge(dir string) (int, error) {
	files, err := fsutil.ListFiles(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}
