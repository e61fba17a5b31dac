package siril

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"multistack/internal/logging"
)

// ErrEngineInvocation wraps every failed engine run.
var ErrEngineInvocation = errors.New("engine invocation failed")

// Engine executes commands against a stateful engine session.
type Engine interface {
	Exec(ctx context.Context, cmd Command) error
	Dir() string
}

// Options configures a Siril engine.
type Options struct {
	Path      string // siril-cli binary
	Requires  string // minimum version written as the first script line
	Timeout   time.Duration
	Extension string
	Bits      int
}

// Siril runs each command as a fresh `siril-cli -s -` process. State set by
// Cd, SetExt and SetBits is kept here and replayed at the top of every script,
// so the process-per-command model behaves like one interactive session.
type Siril struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	cwd  string
	ext  string
	bits int
}

// New returns a Siril engine. Empty options fall back to siril-cli, fit and 32 bits.
func New(opts Options, logger *slog.Logger) *Siril {
	if opts.Path == "" {
		opts.Path = "siril-cli"
	}
	if opts.Extension == "" {
		opts.Extension = "fit"
	}
	if opts.Bits == 0 {
		opts.Bits = 32
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Siril{
		opts:   opts,
		logger: logger,
		ext:    strings.TrimPrefix(opts.Extension, "."),
		bits:   opts.Bits,
	}
}

// Dir returns the current working directory of the session.
func (s *Siril) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Exec validates and runs cmd. Only one command runs at a time.
func (s *Siril) Exec(ctx context.Context, cmd Command) error {
	line, err := cmd.Script()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch c := cmd.(type) {
	case Cd:
		info, err := os.Stat(c.Path)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: cd %s: not a directory", ErrEngineInvocation, c.Path)
		}
		s.cwd = c.Path
		return nil
	case SetExt:
		s.ext = strings.TrimPrefix(c.Ext, ".")
		return nil
	case SetBits:
		s.bits = c.Bits
		return nil
	}

	if s.cwd == "" {
		return fmt.Errorf("%w: %s: no working directory set", ErrEngineInvocation, line)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	script := s.preamble() + line + "\n"
	start := time.Now()

	proc := exec.CommandContext(ctx, s.opts.Path, "-d", s.cwd, "-s", "-")
	proc.Dir = s.cwd
	proc.Stdin = strings.NewReader(script)
	output, runErr := proc.CombinedOutput()

	if runErr != nil {
		err = fmt.Errorf("%w: %s: %v\n%s", ErrEngineInvocation, line, runErr, tail(output, 40))
	}
	logging.LogEngineCommand(s.logger, s.cwd, line, time.Since(start), err)
	return err
}

func (s *Siril) preamble() string {
	var b strings.Builder
	if s.opts.Requires != "" {
		fmt.Fprintf(&b, "requires %s\n", s.opts.Requires)
	}
	fmt.Fprintf(&b, "cd %s\n", quote(s.cwd))
	fmt.Fprintf(&b, "setext %s\n", s.ext)
	if s.bits == 16 {
		b.WriteString("set16bits\n")
	} else {
		b.WriteString("set32bits\n")
	}
	return b.String()
}

// tail keeps the last n lines of engine output for error messages.
func tail(out []byte, n int) string {
	lines := bytes.Split(bytes.TrimRight(out, "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
