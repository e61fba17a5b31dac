package pipeline

import (
	"context"
	"fmt"

	"multistack/internal/calibration"
)

// SessionPlan is the decision the orchestrator would take for one session.
type SessionPlan struct {
	Name         string `json:"name"`
	Lights       int    `json:"lights"`
	Availability string `json:"availability"`
	Recipe       string `json:"recipe"`
	Command      string `json:"command,omitempty"`
	Warning      string `json:"warning,omitempty"`
}

// Plan is a dry run over a workspace.
type Plan struct {
	Workspace string        `json:"workspace"`
	Mode      string        `json:"mode"`
	Sessions  []SessionPlan `json:"sessions"`
}

// Check validates and classifies the workspace at dir and reports the
// recipe each session would use. It never calls the engine.
func (o *Orchestrator) Check(ctx context.Context, dir string) (Plan, error) {
	var plan Plan
	ws, sessions, cl, err := o.prepare(dir)
	if err != nil {
		return plan, err
	}
	mode := cl.Mode()
	plan.Workspace = ws.Root
	plan.Mode = mode.String()

	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return plan, err
		}
		avail := s.Availability()
		sp := SessionPlan{Name: s.Name(), Lights: len(s.Lights), Availability: avail.String()}
		recipe, ok := calibration.Select(avail, mode)
		if !ok {
			return plan, fmt.Errorf("%s: no calibration recipe for %s/%s", s.Name(), avail, mode)
		}
		sp.Recipe = recipe.Kind.String()
		sp.Warning = recipe.Warning
		if recipe.Kind == calibration.KindCalibrate {
			sp.Command, _ = calibrateCommand(recipe).Script()
		}
		plan.Sessions = append(plan.Sessions, sp)
	}
	return plan, nil
}

// Clean empties every session's process directory and, when pool is set,
// the calibrated pool.
func (o *Orchestrator) Clean(ctx context.Context, dir string, pool bool) (int, error) {
	ws, sessions, _, err := o.prepare(dir)
	if err != nil {
		return 0, err
	}
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.Cleanup(); err != nil {
			return 0, err
		}
		o.log.Info("session cleaned", "session", s.Name())
	}
	if !pool {
		return 0, nil
	}
	n, err := purge(ws.PoolPath())
	if err == nil {
		o.log.Info("calibrated pool purged", "path", ws.PoolPath(), "files", n)
	}
	return n, err
}
