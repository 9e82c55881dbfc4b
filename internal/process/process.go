package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/edgerelay/internal/logging"
)

// ExitKilled is the exit code reported when the process had to be killed.
const ExitKilled = 128 + int(syscall.SIGKILL)

// ErrCommand is returned for command lines that cannot be run.
var ErrCommand = errors.New("invalid command")

// LogParser picks the level of an output line and returns the message to log.
type LogParser func(line string) (slog.Level, string)

// Option configures a Process.
type Option func(*Process)

// WithStdout sends stdout to w as raw bytes instead of logging it.
func WithStdout(w io.Writer) Option {
	return func(p *Process) { p.stdout = w }
}

// WithLogParser logs output lines through logger at the level parser picks.
func WithLogParser(logger logging.Logger, parser LogParser) Option {
	return func(p *Process) {
		p.outputLogger = logger
		p.parse = parser
	}
}

// WithTimeouts sets how long to wait after SIGINT before killing, and after
// the kill before giving up.
func WithTimeouts(grace, kill time.Duration) Option {
	return func(p *Process) {
		p.grace = grace
		p.killWait = kill
	}
}

// Process runs one command line once.
type Process struct {
	id           string
	command      string
	logger       logging.Logger
	outputLogger logging.Logger
	parse        LogParser
	stdout       io.Writer
	grace        time.Duration
	killWait     time.Duration
}

// NewProcess creates a process for command. Arguments are split on spaces;
// quotes and backslash escapes group them.
func NewProcess(id, command string, logger logging.Logger, opts ...Option) *Process {
	p := &Process{
		id:       id,
		command:  command,
		logger:   logger,
		grace:    5 * time.Second,
		killWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.outputLogger == nil {
		p.outputLogger = logger
	}
	return p
}

// Command returns the command line.
func (p *Process) Command() string {
	return p.command
}

// Run starts the command and waits for it to exit. Cancelling ctx sends
// SIGINT, then kills the process group once the grace period passes, in
// which case the exit code is ExitKilled. A ctx that is already done runs
// nothing and reports 0. The error is non-nil only when the command could
// not be started.
func (p *Process) Run(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}

	args, err := splitCommand(p.command)
	if err != nil {
		return -1, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", args[0], err)
	}
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.command)

	var output sync.WaitGroup
	output.Add(2)
	go func() {
		defer output.Done()
		if p.stdout != nil {
			p.forward(stdout)
		} else {
			p.logLines(stdout, "stdout")
		}
	}()
	go func() {
		defer output.Done()
		p.logLines(stderr, "stderr")
	}()

	exited := make(chan error, 1)
	go func() {
		// Wait closes the pipes, so every read must finish first.
		output.Wait()
		exited <- cmd.Wait()
	}()

	select {
	case err := <-exited:
		code := exitCode(err)
		p.logger.Info("Process exited", "id", p.id, "exit_code", code)
		return code, nil
	case <-ctx.Done():
		return p.stop(cmd, exited), nil
	}
}

func (p *Process) stop(cmd *exec.Cmd, exited <-chan error) int {
	p.logger.Info("Stopping process", "id", p.id, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to interrupt process", "id", p.id, "error", err)
	}

	select {
	case err := <-exited:
		return exitCode(err)
	case <-time.After(p.grace):
	}

	p.logger.Warn("Process ignored interrupt, killing", "id", p.id, "grace", p.grace)
	// The whole group, so children holding the pipes die too.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-exited:
	case <-time.After(p.killWait):
		p.logger.Error("Process still running after kill", "id", p.id)
	}
	return ExitKilled
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// forward copies raw stdout. After a sink error the rest is drained so the
// child never blocks on a full pipe.
func (p *Process) forward(r io.Reader) {
	if _, err := io.Copy(p.stdout, r); err != nil {
		p.logger.Warn("Stdout sink failed", "id", p.id, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *Process) logLines(r io.Reader, source string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		level, msg := slog.LevelInfo, scanner.Text()
		if p.parse != nil {
			level, msg = p.parse(msg)
		}
		switch {
		case level >= slog.LevelError:
			p.outputLogger.Error(msg)
		case level >= slog.LevelWarn:
			p.outputLogger.Warn(msg)
		case level >= slog.LevelInfo:
			p.outputLogger.Info(msg)
		default:
			p.outputLogger.Debug(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Output read failed", "id", p.id, "source", source, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// splitCommand splits a command line into arguments. Single or double quotes
// group words, a backslash takes the next rune literally.
func splitCommand(command string) ([]string, error) {
	var (
		args  []string
		word  strings.Builder
		quote rune
		open  bool // word has started, possibly as ""
	)
	escaped := false
	for _, r := range strings.TrimSpace(command) {
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, open = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, open = r, true
		case r == ' ' || r == '\t':
			if open {
				args = append(args, word.String())
				word.Reset()
				open = false
			}
		default:
			word.WriteRune(r)
			open = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unclosed quote", ErrCommand)
	}
	if open {
		args = append(args, word.String())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrCommand)
	}
	return args, nil
}
