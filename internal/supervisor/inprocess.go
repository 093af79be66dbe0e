package supervisor

import (
	"context"
	"errors"
	"io"
	"os"

	"mcphub/internal/packages"
)

// ServeFunc answers a peer's protocol on r and w until ctx ends or r closes.
type ServeFunc func(ctx context.Context, cmd packages.Command, r io.Reader, w io.Writer) error

// FuncSpawner runs serve in a goroutine behind a pair of pipes instead of
// starting a child. The reported PID is the hub's own.
func FuncSpawner(serve ServeFunc) Spawner {
	return func(ctx context.Context, c packages.Command) (Process, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inR, inW := io.Pipe()
		outR, outW := io.Pipe()
		runCtx, cancel := context.WithCancel(context.Background())
		p := &funcProcess{stdin: inW, stdout: outR, cancel: cancel, done: make(chan struct{})}
		go func() {
			defer close(p.done)
			err := serve(runCtx, c, inR, outW)
			_ = inR.CloseWithError(err)
			_ = outW.CloseWithError(err)
		}()
		return p, nil
	}
}

type funcProcess struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *funcProcess) PID() int              { return os.Getpid() }
func (p *funcProcess) Stdin() io.Writer      { return p.stdin }
func (p *funcProcess) Stdout() io.Reader     { return p.stdout }
func (p *funcProcess) Done() <-chan struct{} { return p.done }

func (p *funcProcess) Kill() error {
	p.cancel()
	// Unblock a serve loop parked on a read.
	_ = p.stdin.Close()
	return nil
}

func (p *funcProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, nil
	default:
		return false, nil
	}
}

func (p *funcProcess) Close() error {
	return errors.Join(p.stdin.Close(), p.stdout.Close())
}
