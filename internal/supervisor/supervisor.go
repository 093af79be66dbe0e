// Package supervisor owns the registry of running peer processes and the
// session attached to each.
package supervisor

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mcphub/internal/logger"
	"mcphub/internal/packages"
	"mcphub/internal/session"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotFound       = errors.New("no running server")
	ErrReapTimeout    = errors.New("process did not exit after kill")
)

const (
	DefaultReapTimeout = 5 * time.Second

	exitedUnexpectedly = "process exited unexpectedly"
)

type Option func(*Supervisor)

func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) { s.spawn = sp }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithReapTimeout bounds the wait for a killed process to exit.
func WithReapTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.reapTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithSessionOptions are applied to every session the supervisor creates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Supervisor) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

type tracked struct {
	id         string
	name       string
	mode       Mode
	startedAt  time.Time
	instanceID string
	proc       Process
	session    *session.Session
}

func (t *tracked) snapshot(status Status) ServerStatus {
	return ServerStatus{
		ID:         t.id,
		Name:       t.name,
		Mode:       t.mode,
		Status:     status,
		StartedAt:  t.startedAt,
		InstanceID: t.instanceID,
	}
}

// Supervisor tracks at most one process per logical name. One lock guards
// the registry; it is never held while waiting on a process or a session.
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*tracked

	resolver    packages.Resolver
	spawn       Spawner
	log         *slog.Logger
	reapTimeout time.Duration
	now         func() time.Time
	sessionOpts []session.Option
}

func New(resolver packages.Resolver, opts ...Option) *Supervisor {
	s := &Supervisor{
		entries:     map[string]*tracked{},
		resolver:    resolver,
		reapTimeout: DefaultReapTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.spawn == nil {
		s.spawn = ExecSpawner(nil)
	}
	if s.log == nil {
		s.log = logger.WithComponent("supervisor")
	}
	return s
}

// Start spawns the package registered under name. The process keeps running
// until Stop or StopAll; ctx only bounds the spawn itself.
func (s *Supervisor) Start(ctx context.Context, name string, mode Mode) (ServerStatus, error) {
	if !mode.Valid() {
		_, err := ParseMode(string(mode))
		return ServerStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return ServerStatus{}, fmt.Errorf("server '%s' is %w", name, ErrAlreadyRunning)
	}

	cmd, err := s.resolver.Resolve(name)
	if err != nil {
		return ServerStatus{}, err
	}

	proc, err := s.spawn(ctx, cmd)
	if err != nil {
		return ServerStatus{}, fmt.Errorf("failed to start %s: %w", cmd.DisplayName, err)
	}

	t := &tracked{
		id:         name,
		name:       cmd.DisplayName,
		mode:       mode,
		startedAt:  s.now(),
		instanceID: uuid.NewString(),
		proc:       proc,
	}
	opts := append([]session.Option{
		session.WithLogger(s.log.With("server", name, "instance", t.instanceID)),
	}, s.sessionOpts...)
	t.session = session.New(proc.Stdout(), proc.Stdin(), opts...)
	s.entries[name] = t

	s.log.Info("server started", "id", name, "command", cmd.String(), "pid", proc.PID(), "mode", mode)
	st := t.snapshot(StatusRunning)
	st.PID = proc.PID()
	return st, nil
}

// Stop kills and reaps the named process. The entry is removed even when
// the kill fails.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	t, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w with id '%s'", ErrNotFound, name)
	}
	return s.terminate(t)
}

// StopAll tears down every tracked process. Failures are logged and never
// stop the loop; the registry is always empty afterwards.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	all := make([]*tracked, 0, len(s.entries))
	for _, t := range s.entries {
		all = append(all, t)
	}
	clear(s.entries)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range all {
		wg.Add(1)
		go func(t *tracked) {
			defer wg.Done()
			if err := s.terminate(t); err != nil {
				s.log.Error("failed to stop server", "id", t.id, "error", err)
			}
		}(t)
	}
	wg.Wait()
}

// terminate kills t and waits for the reap, bounded by the reap timeout.
func (s *Supervisor) terminate(t *tracked) error {
	killErr := t.proc.Kill()
	if killErr != nil {
		killErr = fmt.Errorf("failed to kill %s: %w", t.id, killErr)
	}

	select {
	case <-t.proc.Done():
	case <-time.After(s.reapTimeout):
		return errors.Join(killErr, fmt.Errorf("%s (pid %d): %w", t.id, t.proc.PID(), ErrReapTimeout))
	}

	if err := t.proc.Close(); err != nil {
		s.log.Debug("closing pipes", "id", t.id, "error", err)
	}
	s.log.Info("server stopped", "id", t.id, "pid", t.proc.PID())
	return killErr
}

// GetServers checks every entry without blocking. An exited process is
// reported once as stopped and then dropped from the registry.
func (s *Supervisor) GetServers() []ServerStatus {
	s.mu.Lock()
	out := make([]ServerStatus, 0, len(s.entries))
	var dead []*tracked
	for id, t := range s.entries {
		exited, err := t.proc.Exited()
		switch {
		case err != nil:
			st := t.snapshot(StatusError)
			st.Error = fmt.Sprintf("status check failed: %v", err)
			out = append(out, st)
		case exited:
			st := t.snapshot(StatusStopped)
			st.Error = exitedUnexpectedly
			out = append(out, st)
			dead = append(dead, t)
			delete(s.entries, id)
		default:
			st := t.snapshot(StatusRunning)
			st.PID = t.proc.PID()
			out = append(out, st)
		}
	}
	s.mu.Unlock()

	for _, t := range dead {
		s.log.Warn("server exited unexpectedly", "id", t.id, "pid", t.proc.PID())
		go s.release(t)
	}

	slices.SortFunc(out, func(a, b ServerStatus) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// release closes the pipes of an exited process once it has been reaped.
func (s *Supervisor) release(t *tracked) {
	select {
	case <-t.proc.Done():
		_ = t.proc.Close()
	case <-time.After(s.reapTimeout):
		s.log.Warn("exited process was not reaped", "id", t.id)
	}
}

// Summary counts a fresh GetServers snapshot.
func (s *Supervisor) Summary() Summary {
	return Summarize(s.GetServers())
}

// Restart stops name if tracked and starts it again in mode.
func (s *Supervisor) Restart(ctx context.Context, name string, mode Mode) (ServerStatus, error) {
	if err := s.Stop(name); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("restart: stop failed", "id", name, "error", err)
	}
	return s.Start(ctx, name, mode)
}

func (s *Supervisor) lookup(name string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w with id '%s'", ErrNotFound, name)
	}
	return t.session, nil
}

// Initialize runs the handshake with the named server.
func (s *Supervisor) Initialize(ctx context.Context, name string) (json.RawMessage, error) {
	sess, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return sess.Initialize(ctx)
}

func (s *Supervisor) ListTools(ctx context.Context, name string) (json.RawMessage, error) {
	sess, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return sess.ListTools(ctx)
}

func (s *Supervisor) CallTool(ctx context.Context, name, tool string, arguments any) (json.RawMessage, error) {
	sess, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return sess.CallTool(ctx, tool, arguments)
}
