package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"multistack/internal/calibration"
	"multistack/internal/fits"
	"multistack/internal/frames"
	"multistack/internal/fsutil"
	"multistack/internal/session"
	"multistack/internal/siril"
)

// buildMasters stacks a master for every calibration type that has raw
// frames, bias first so flats can be pre-calibrated against it. It returns
// the master-flat name the calibration step must reference. The library is
// cleared at session init, so every master is rebuilt from its frames.
func (o *Orchestrator) buildMasters(ctx context.Context, s *session.Session, mode calibration.ColorMode) (string, error) {
	flatName := calibration.MasterFlat
	for _, t := range frames.CalibrationTypes {
		raw, err := fsutil.ListFrames(s.TypePath(t))
		if errors.Is(err, os.ErrNotExist) || len(raw) == 0 {
			continue
		}
		if err != nil {
			return flatName, err
		}

		if _, err := s.LoadCalibrationFrames(t, o.log); err != nil {
			return flatName, err
		}
		set := s.Library.Set(t)
		if !s.Library.HasCalibrationFrames(t) {
			o.log.Warn("no valid calibration frames, stacking the directory as is", "session", s.Name(), "type", t, "files", len(raw))
		}
		for _, f := range set.Frames() {
			o.recordFrame(s, f.Path, t, f, mode)
		}
		if t == frames.Dark {
			o.checkDarkExposure(s)
		}

		name, err := o.buildMaster(ctx, s, t)
		if err != nil {
			return flatName, err
		}
		if t == frames.Flat {
			flatName = name
		}
	}
	return flatName, nil
}

// checkDarkExposure warns when no dark shares the exposure of the session's
// first light.
func (o *Orchestrator) checkDarkExposure(s *session.Session) {
	if len(s.Lights) == 0 || !fsutil.IsFITSFile(s.Lights[0].Path) {
		return
	}
	h, err := fits.ReadHeader(s.Lights[0].Path)
	if err != nil || h.Exposure == nil {
		return
	}
	darks := s.Library.Set(frames.Dark)
	if darks.Len() > 0 && len(darks.MatchingFrames(h.Exposure, nil, nil)) == 0 {
		o.log.Warn("no dark matches the light exposure", "session", s.Name(), "exposure_s", h.ExposureSeconds())
	}
}

// buildMaster converts the raw frames of t into the process directory and
// stacks them. A stack that yields no file is logged and left unset. Flats
// are pre-calibrated whenever the session has biases; a bias master that was
// not produced aborts the build.
func (o *Orchestrator) buildMaster(ctx context.Context, s *session.Session, t frames.Type) (string, error) {
	name := s.Name()
	prefix := string(t)
	process := s.ProcessPath()

	if t == frames.Flat && s.Availability().Biases && !s.Library.HasMasterFrame(frames.Bias) {
		bias := filepath.Join(process, calibration.MasterBias+"."+o.settings.Ext)
		return "", fmt.Errorf("%w: %s is required to pre-calibrate flats", ErrMissingMasterFrame, bias)
	}

	if err := o.exec(ctx, name, siril.Cd{Path: s.TypePath(t)}); err != nil {
		return "", err
	}
	if err := o.exec(ctx, name, siril.Convert{Prefix: prefix, Out: process}); err != nil {
		return "", err
	}
	if err := o.exec(ctx, name, siril.Cd{Path: process}); err != nil {
		return "", err
	}

	norm := "no"
	if t == frames.Flat {
		norm = "mul"
	}
	seq := prefix
	if t == frames.Flat && s.Availability().Biases {
		err := o.exec(ctx, name, siril.Calibrate{Prefix: prefix, Bias: calibration.MasterBias})
		if err != nil {
			return "", err
		}
		seq = "pp_" + prefix
	}

	err := o.exec(ctx, name, siril.Stack{
		Prefix:    seq,
		Type:      "rej",
		SigmaLow:  masterSigma,
		SigmaHigh: masterSigma,
		Norm:      norm,
	})
	if err != nil {
		return "", err
	}

	master := seq + "_stacked"
	path := filepath.Join(process, master+"."+o.settings.Ext)
	if err := s.Library.Set(t).SetMasterFrame(path); err != nil {
		o.log.Warn("master stack produced no output", "session", name, "type", t, "path", path)
		o.event(name, StateMastersBuilt, EventWarning, "no master "+string(t)+" produced", nil)
	}

	o.cleanIntermediates(process, prefix)
	if seq != prefix {
		o.cleanIntermediates(process, seq)
	}
	return master, nil
}

// cleanIntermediates removes the converted frames and sequence files of a
// master build, keeping the stacked output.
func (o *Orchestrator) cleanIntermediates(dir, prefix string) {
	files, err := fsutil.Glob(dir, prefix+"_")
	if err != nil {
		o.log.Debug("intermediate listing failed", "dir", dir, "error", err)
		return
	}
	for _, f := range files {
		img := frames.Image{Path: f}
		if img.IsMasterFrame() {
			continue
		}
		base := img.Name()
		keep := !fsutil.IsFITSFile(f) && base != prefix+"_.seq" && base != prefix+"_conversion.txt"
		if keep {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.log.Warn("failed to remove intermediate", "path", f, "error", err)
		}
	}
}
