package supervisor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"mcphub/internal/examplepeer"
	"mcphub/internal/logger"
	"mcphub/internal/packages"
)

var nextFakePID atomic.Int32

// fakeProcess stands in for a child. When serve is set, an in-process
// example peer answers on its pipes.
type fakeProcess struct {
	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu         sync.Mutex
	killed     int
	closed     bool
	killErr    error
	aliveErr   error
	ignoreKill bool

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeProcess(serve bool) *fakeProcess {
	p := &fakeProcess{
		pid:  int(nextFakePID.Add(1)) + 1000,
		done: make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	if serve {
		go func() {
			_ = examplepeer.Serve(context.Background(), p.stdinR, p.stdoutW, examplepeer.WithLogger(logger.Discard()))
		}()
	}
	return p
}

func (p *fakeProcess) PID() int          { return p.pid }
func (p *fakeProcess) Stdin() io.Writer  { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

// exit simulates the process dying on its own.
func (p *fakeProcess) exit() {
	p.doneOnce.Do(func() {
		_ = p.stdinR.Close()
		_ = p.stdoutW.Close()
		close(p.done)
	})
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	err, ignore := p.killErr, p.ignoreKill
	p.mu.Unlock()
	if !ignore {
		p.exit()
	}
	return err
}

func (p *fakeProcess) Exited() (bool, error) {
	p.mu.Lock()
	aliveErr := p.aliveErr
	p.mu.Unlock()
	if aliveErr != nil {
		return false, aliveErr
	}
	select {
	case <-p.done:
		return true, nil
	default:
		return false, nil
	}
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return errors.Join(p.stdinW.Close(), p.stdoutR.Close())
}

func (p *fakeProcess) state() (killed int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed, p.closed
}

// fakeSpawner hands out prepared processes by package path.
type fakeSpawner struct {
	mu      sync.Mutex
	procs   map[string]*fakeProcess
	spawned []string
	err     error
	serve   bool
}

func (f *fakeSpawner) spawn(_ context.Context, cmd packages.Command) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.spawned = append(f.spawned, cmd.Path)
	if p, ok := f.procs[cmd.Path]; ok {
		if exited, _ := p.Exited(); !exited {
			return p, nil
		}
	}
	p := newFakeProcess(f.serve)
	if f.procs == nil {
		f.procs = map[string]*fakeProcess{}
	}
	f.procs[cmd.Path] = p
	return p, nil
}

func (f *fakeSpawner) process(path string) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[path]
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

var fakeTable = packages.Table{
	"alpha": {DisplayName: "Alpha", Path: "alpha"},
	"beta":  {DisplayName: "Beta", Path: "beta"},
	"gamma": {DisplayName: "Gamma", Path: "gamma"},
}
