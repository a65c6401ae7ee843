package process

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// DefaultOutputLimit caps captured stdout and stderr per stream.
const DefaultOutputLimit = 1 << 20

// Spec describes a process to start.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
}

func (s Spec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Command
}

// Supervisor starts and tracks child processes for extensions.
//
// Process ids come from the supervisor's own counter and are never reused
// within its lifetime. Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[uint64]*Process
	nextID    atomic.Uint64

	// monitors tracks the per-process exit goroutines.
	monitors sync.WaitGroup

	shutdown chan struct{}
	closed   atomic.Bool

	maxProcesses  int
	outputLimit   int
	logger        *zap.Logger
	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses limits concurrently tracked processes. 0 means unlimited.
func WithMaxProcesses(n int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = n
	}
}

// WithOutputLimit caps captured output per stream for Run.
func WithOutputLimit(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.outputLimit = n
		}
	}
}

// WithLogger sets the supervisor logger. Background process output is
// written to it at debug level.
func WithLogger(logger *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProcessExitCallback sets a callback for when any process exits.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes:   make(map[uint64]*Process),
		shutdown:    make(chan struct{}),
		outputLimit: DefaultOutputLimit,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches a background process. Its output goes to the logger and is
// not captured.
func (s *Supervisor) Start(spec Spec) (*Process, error) {
	return s.launch(spec, false, nil)
}

// Run launches a process and captures its output. done is called from the
// monitor goroutine once the process has exited.
func (s *Supervisor) Run(spec Spec, done func(*Process)) (*Process, error) {
	return s.launch(spec, true, done)
}

func (s *Supervisor) launch(spec Spec, capture bool, done func(*Process)) (*Process, error) {
	if spec.Command == "" {
		return nil, ErrEmptyCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir

	proc := newProcess(s.nextID.Add(1), spec.name(), cmd)
	var writers []*zapio.Writer
	if capture {
		proc.stdout = newCappedBuffer(s.outputLimit)
		proc.stderr = newCappedBuffer(s.outputLimit)
		cmd.Stdout = proc.stdout
		cmd.Stderr = proc.stderr
	} else {
		log := s.logger.With(zap.Uint64("process_id", proc.ID), zap.String("process", proc.Name))
		stdout := &zapio.Writer{Log: log.With(zap.String("stream", "stdout")), Level: zapcore.DebugLevel}
		stderr := &zapio.Writer{Log: log.With(zap.String("stream", "stderr")), Level: zapcore.DebugLevel}
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		writers = append(writers, stdout, stderr)
	}

	if err := proc.start(); err != nil {
		return nil, err
	}
	s.processes[proc.ID] = proc

	s.logger.Debug("process started",
		zap.Uint64("process_id", proc.ID),
		zap.String("process", proc.Name),
		zap.Int("pid", proc.PID()))

	s.monitors.Add(1)
	go s.monitorProcess(proc, writers, done)

	return proc, nil
}

// monitorProcess waits for exit, runs callbacks and stops tracking proc.
func (s *Supervisor) monitorProcess(proc *Process, writers []*zapio.Writer, done func(*Process)) {
	defer s.monitors.Done()
	<-proc.Done()

	for _, w := range writers {
		_ = w.Close()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()

	s.logger.Debug("process exited",
		zap.Uint64("process_id", proc.ID),
		zap.String("process", proc.Name),
		zap.Int("exit_code", proc.ExitCode()),
		zap.Stringer("state", proc.State()))

	s.callback(proc, done)
	s.callback(proc, s.onProcessExit)
}

func (s *Supervisor) callback(proc *Process, fn func(*Process)) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("process exit callback panicked",
				zap.Uint64("process_id", proc.ID), zap.Any("panic", r))
		}
	}()
	fn(proc)
}

// Get returns a tracked process, or nil once it has exited.
func (s *Supervisor) Get(id uint64) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns the tracked processes ordered by id.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// LastID returns the most recently assigned process id.
func (s *Supervisor) LastID() uint64 {
	return s.nextID.Load()
}

// IsRunning reports whether id names a running process.
func (s *Supervisor) IsRunning(id uint64) bool {
	proc := s.Get(id)
	return proc != nil && proc.IsRunning()
}

// Kill sends SIGKILL to a process. It reports whether a running process
// received the signal.
func (s *Supervisor) Kill(id uint64) (bool, error) {
	proc := s.Get(id)
	if proc == nil {
		return false, ErrProcessNotFound
	}
	if !proc.IsRunning() {
		return false, nil
	}
	if err := proc.Kill(); err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown terminates all processes. It sends SIGTERM, waits up to timeout,
// then kills what is left. It returns after every exit callback has run.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return
	}
	close(s.shutdown)
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	exited := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				_ = p.Kill()
			}
		}
		<-exited
	}

	s.monitors.Wait()
}

// IsShuttingDown returns true once Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// ShutdownChan returns a channel that is closed when shutdown begins.
func (s *Supervisor) ShutdownChan() <-chan struct{} {
	return s.shutdown
}
