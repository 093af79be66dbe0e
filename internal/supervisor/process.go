package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"mcphub/internal/packages"
)

// Process is a spawned peer. Done is closed once the process has been reaped.
type Process interface {
	PID() int
	Stdin() io.Writer
	Stdout() io.Reader
	Kill() error
	// Exited checks without blocking.
	Exited() (bool, error)
	Done() <-chan struct{}
	// Close releases the pipes. Call it after Done.
	Close() error
}

// Spawner starts a process for a resolved command.
type Spawner func(ctx context.Context, cmd packages.Command) (Process, error)

// ExecSpawner starts real child processes with piped stdin and stdout. The
// child's stderr goes to stderr, or os.Stderr when nil.
func ExecSpawner(stderr io.Writer) Spawner {
	if stderr == nil {
		stderr = os.Stderr
	}
	return func(ctx context.Context, c packages.Command) (Process, error) {
		p, err := startExec(ctx, c, stderr)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	done   chan struct{}
}

func startExec(ctx context.Context, c packages.Command, stderr io.Writer) (*execProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Not CommandContext: the process outlives the start call and is
	// only ever ended by Stop.
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Environ()...)
	}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// cmd.StdoutPipe is closed by Wait, which races with the session still
	// draining output, so the read end is owned here instead.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, err
	}
	_ = stdoutW.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		done:   make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.Writer  { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, nil
	default:
	}
	if err := signalAlive(p.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (p *execProcess) Close() error {
	return errors.Join(p.stdin.Close(), p.stdout.Close())
}
