// Package watch deletes engine inputs as soon as the engine writes their
// prefixed outputs, keeping peak disk usage low during long batches.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// SequenceExt marks engine sequence descriptors, which are never deleted.
const SequenceExt = ".seq"

// Report lists what a coordinator scope did, by file name.
type Report struct {
	Deleted   []string
	Preserved []string
	Missing   []string
}

// Coordinator watches Dir for files named <Prefix>_<name> and deletes <name>.
type Coordinator struct {
	Dir        string
	Prefix     string
	FinalSweep bool
	Buffer     uint
	Logger     *slog.Logger

	mu     sync.Mutex
	report Report
	seen   map[string]bool
}

// New returns a coordinator with the final sweep enabled.
func New(dir, prefix string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{Dir: dir, Prefix: prefix, FinalSweep: true, Logger: logger}
}

// Do runs fn with the watcher active. The watcher is stopped and its queued
// events drained on every exit path, including a panic in fn. When
// FinalSweep is set, prefixed files created during the scope whose originals
// survived (events lost or coalesced) are handled afterwards.
func (c *Coordinator) Do(ctx context.Context, fn func(context.Context) error) (rep Report, err error) {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.report = Report{}
	c.seen = make(map[string]bool)

	before, err := c.prefixed()
	if err != nil {
		return rep, err
	}

	var w *fsnotify.Watcher
	if c.Buffer > 0 {
		w, err = fsnotify.NewBufferedWatcher(c.Buffer)
	} else {
		w, err = fsnotify.NewWatcher()
	}
	if err != nil {
		return rep, err
	}
	if err := w.Add(c.Dir); err != nil {
		w.Close()
		return rep, err
	}

	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.consume(gctx, w, stop)
		return nil
	})

	defer func() {
		close(stop)
		_ = g.Wait()
		if cerr := w.Close(); cerr != nil {
			c.Logger.Debug("watcher close failed", "dir", c.Dir, "error", cerr)
		}
		if c.FinalSweep {
			c.sweep(before)
		}
		c.mu.Lock()
		rep = c.report
		c.mu.Unlock()
		c.Logger.Info("watch scope finished",
			"dir", c.Dir,
			"prefix", c.Prefix,
			"deleted", len(rep.Deleted),
			"preserved", len(rep.Preserved),
			"missing", len(rep.Missing),
		)
	}()

	return rep, fn(ctx)
}

func (c *Coordinator) consume(ctx context.Context, w *fsnotify.Watcher, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			c.event(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.Logger.Warn("watcher error", "dir", c.Dir, "error", err)
		case <-stop:
			c.drain(w)
			return
		case <-ctx.Done():
			c.drain(w)
			return
		}
	}
}

// drain handles events already queued when the scope ends.
func (c *Coordinator) drain(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			c.event(ev)
		default:
			return
		}
	}
}

func (c *Coordinator) event(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) {
		return
	}
	c.handle(filepath.Base(ev.Name))
}

// Original strips prefix_ once from name. ok is false when name lacks it.
func Original(name, prefix string) (string, bool) {
	p := prefix + "_"
	if !strings.HasPrefix(name, p) {
		return "", false
	}
	return strings.TrimPrefix(name, p), true
}

func (c *Coordinator) handle(name string) {
	orig, ok := Original(name, c.Prefix)
	if !ok || orig == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[name] {
		return
	}
	c.seen[name] = true

	if strings.HasSuffix(orig, SequenceExt) {
		c.report.Preserved = append(c.report.Preserved, orig)
		return
	}

	err := os.Remove(filepath.Join(c.Dir, orig))
	switch {
	case err == nil:
		c.report.Deleted = append(c.report.Deleted, orig)
	case errors.Is(err, os.ErrNotExist):
		c.report.Missing = append(c.report.Missing, orig)
		c.Logger.Debug("original already gone", "dir", c.Dir, "name", orig)
	default:
		c.Logger.Warn("failed to delete original", "dir", c.Dir, "name", orig, "error", err)
	}
}

// prefixed lists the prefixed names currently in Dir.
func (c *Coordinator) prefixed() (map[string]bool, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, e := range entries {
		if _, ok := Original(e.Name(), c.Prefix); ok && e.Type().IsRegular() {
			out[e.Name()] = true
		}
	}
	return out, nil
}

// sweep applies the deletion rule to prefixed files created during the scope
// that no event reported.
func (c *Coordinator) sweep(before map[string]bool) {
	now, err := c.prefixed()
	if err != nil {
		c.Logger.Warn("final sweep failed", "dir", c.Dir, "error", err)
		return
	}
	for name := range now {
		if before[name] {
			continue
		}
		c.mu.Lock()
		seen := c.seen[name]
		c.mu.Unlock()
		if seen {
			continue
		}
		orig, _ := Original(name, c.Prefix)
		if strings.HasSuffix(orig, SequenceExt) {
			c.handle(name)
			continue
		}
		if _, err := os.Stat(filepath.Join(c.Dir, orig)); err != nil {
			continue
		}
		c.handle(name)
	}
}
