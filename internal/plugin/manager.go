package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	glua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/config"
	"github.com/dshills/extbridge/internal/plugin/api"
	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/correlate"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/lua"
	"github.com/dshills/extbridge/internal/plugin/process"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
	"github.com/dshills/extbridge/internal/plugin/wire"
)

var (
	platformOnce    sync.Once
	platformSurface *event.Surface
	platformErr     error
)

// initPlatform prepares process-wide resources once. A failure is sticky.
func initPlatform() (*event.Surface, error) {
	platformOnce.Do(func() {
		if err := lua.InitPlatform(); err != nil {
			platformErr = fmt.Errorf("%w: %w", ErrPlatformInit, err)
			return
		}
		if err := api.ValidateCatalog(); err != nil {
			platformErr = fmt.Errorf("%w: %w", ErrPlatformInit, err)
			return
		}
		platformSurface, platformErr = event.DefaultSurface()
		if platformErr != nil {
			platformErr = fmt.Errorf("%w: %w", ErrPlatformInit, platformErr)
		}
	})
	return platformSurface, platformErr
}

// buildRuntimeHook constructs the engine on the plugin goroutine. Tests
// replace it to force start failures.
var buildRuntimeHook = newRuntime

// Manager owns the plugin goroutine and is the host's only way in.
//
// Every method is safe to call from any host goroutine. None of them waits
// for script code except Start, which waits for the engine to be built,
// and Shutdown.
type Manager struct {
	cfg     config.PluginsConfig
	logger  *zap.Logger
	session string

	surface   *event.Surface
	snapshots *snapshot.Store
	commands  *command.Channel
	requests  *correlate.Table
	processes *process.Supervisor

	// Set by the plugin goroutine before Start returns.
	rt   *Runtime
	exec *lua.Executor

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	loads   []*lua.Call
	results []LoadResult

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	events     atomic.Uint64
	actions    atomic.Uint64
	responses  atomic.Uint64
	mismatches atomic.Uint64
}

// Option configures Start.
type Option func(*options)

type options struct {
	cfg       config.PluginsConfig
	logger    *zap.Logger
	snapshots *snapshot.Store
}

// WithConfig sets the plugin configuration. Defaults to config.Default().
func WithConfig(cfg config.PluginsConfig) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSnapshotStore shares a snapshot store with the host. By default the
// manager creates its own, reachable through Snapshots.
func WithSnapshotStore(store *snapshot.Store) Option {
	return func(o *options) {
		if store != nil {
			o.snapshots = store
		}
	}
}

// Start creates the plugin goroutine, builds the engine on it and queues
// one load call per module path, in order. It returns once the engine is
// ready; use WaitLoaded to observe the loads.
func Start(ctx context.Context, modules []string, opts ...Option) (*Manager, error) {
	o := options{
		cfg:    config.Default().Plugins,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.cfg.Enabled {
		return nil, ErrDisabled
	}
	o.cfg = o.cfg.WithDefaults()
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	surface, err := initPlatform()
	if err != nil {
		return nil, err
	}

	session := uuid.NewString()
	logger := o.logger.With(zap.String("session", session))
	if o.snapshots == nil {
		o.snapshots = snapshot.NewStore()
	}

	m := &Manager{
		cfg:       o.cfg,
		logger:    logger,
		session:   session,
		surface:   surface,
		snapshots: o.snapshots,
		commands:  command.NewChannel(),
		requests:  correlate.NewTable(),
		processes: process.NewSupervisor(
			process.WithMaxProcesses(o.cfg.MaxProcesses),
			process.WithOutputLimit(o.cfg.ProcessOutputLimit),
			process.WithLogger(logger.Named("process")),
		),
		stopped: make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	ready := make(chan error, 1)
	go m.loop(ready)

	timer := time.NewTimer(o.cfg.StartTimeout.Duration)
	defer timer.Stop()

	var startErr error
	select {
	case startErr = <-ready:
	case <-ctx.Done():
		startErr = ctx.Err()
	case <-timer.C:
		startErr = fmt.Errorf("%w: not ready after %s", ErrEngineInit, o.cfg.StartTimeout)
	}
	if startErr != nil {
		// A late engine exits its loop on the cancelled context.
		m.cancel()
		m.processes.Shutdown(0)
		logger.Error("script engine failed to start", zap.Error(startErr))
		return nil, startErr
	}

	m.results = make([]LoadResult, len(modules))
	m.loads = make([]*lua.Call, 0, len(modules))
	for i, path := range modules {
		i, path := i, path
		m.results[i] = LoadResult{Name: lua.ModuleName(path), Path: path, State: StatePending}
		call, err := m.exec.Submit("load "+path, func(*glua.LState) error {
			m.results[i] = m.rt.loadModule(path)
			return m.results[i].Err
		})
		if err != nil {
			m.results[i].Err = ErrShutdown
			continue
		}
		m.loads = append(m.loads, call)
	}

	logger.Info("script engine started", zap.Int("modules", len(modules)))
	return m, nil
}

// loop is the plugin goroutine.
func (m *Manager) loop(ready chan<- error) {
	defer close(m.stopped)

	rt, err := m.buildRuntime()
	if err != nil {
		ready <- err
		return
	}
	m.rt = rt
	m.exec = rt.exec
	ready <- nil

	rt.exec.Run(m.ctx)
	rt.close(m.cfg.ProcessShutdownTimeout.Duration)
}

func (m *Manager) buildRuntime() (rt *Runtime, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt = nil
			err = fmt.Errorf("%w: panic: %v", ErrEngineInit, r)
		}
	}()

	rt, err = buildRuntimeHook(runtimeDeps{
		cfg:       m.cfg,
		surface:   m.surface,
		snapshots: m.snapshots,
		commands:  m.commands,
		requests:  m.requests,
		processes: m.processes,
		logger:    m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	return rt, nil
}

// WaitLoaded waits for every load call queued by Start and returns the
// results in module order.
func (m *Manager) WaitLoaded(ctx context.Context) ([]LoadResult, error) {
	for _, call := range m.loads {
		select {
		case <-call.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]LoadResult, len(m.results))
	copy(out, m.results)
	for i := range out {
		if out[i].State == StatePending && out[i].Err == nil {
			out[i].Err = ErrShutdown
		}
	}
	return out, nil
}

// SubmitEvent queues an event for the handlers registered for it. The
// payload is validated against the event surface and frozen before this
// returns, so the caller may reuse it.
func (m *Manager) SubmitEvent(name string, payload map[string]any) (*Dispatch, error) {
	if m.closed.Load() {
		return nil, ErrShutdown
	}
	if err := m.surface.Validate(name, payload); err != nil {
		return nil, err
	}
	frozen, err := wire.Freeze(payload)
	if err != nil {
		return nil, err
	}

	d := &Dispatch{name: name}
	call, err := m.exec.Submit("event "+name, func(*glua.LState) error {
		p, err := wire.ThawMap(frozen)
		if err != nil {
			return err
		}
		d.outcome = m.rt.dispatch(m.ctx, name, p)
		return nil
	})
	if err != nil {
		return nil, ErrShutdown
	}
	d.call = call
	m.events.Add(1)
	return d, nil
}

// ExecuteAction queues a call of the global function name, the action of a
// registered palette command.
func (m *Manager) ExecuteAction(name string) (*Dispatch, error) {
	if m.closed.Load() {
		return nil, ErrShutdown
	}

	d := &Dispatch{name: name}
	call, err := m.exec.Submit("action "+name, func(*glua.LState) error {
		return m.rt.runAction(name)
	})
	if err != nil {
		return nil, ErrShutdown
	}
	d.call = call
	m.actions.Add(1)
	return d, nil
}

// DeliverResponse completes the request with the given id. value is frozen
// before the waiting task sees it; a non-nil err fails the request instead.
// An unknown or already completed id is logged and returned as
// *correlate.MismatchError.
func (m *Manager) DeliverResponse(requestID uint64, value any, err error) error {
	res := correlate.Result{Err: err}
	if err == nil {
		payload, ferr := wire.Freeze(value)
		if ferr != nil {
			res.Err = ferr
		} else {
			res.Payload = payload
		}
	}

	if rerr := m.requests.Resolve(requestID, res); rerr != nil {
		var mismatch *correlate.MismatchError
		if errors.As(rerr, &mismatch) {
			m.mismatches.Add(1)
			m.logger.Warn("response for unknown request",
				zap.Uint64("request_id", requestID))
		}
		return rerr
	}
	m.responses.Add(1)
	return nil
}

// Commands returns the channel the host drains once per loop iteration.
func (m *Manager) Commands() *command.Channel {
	return m.commands
}

// Snapshots returns the store the host publishes snapshots to.
func (m *Manager) Snapshots() *snapshot.Store {
	return m.snapshots
}

// Surface returns the event surface.
func (m *Manager) Surface() *event.Surface {
	return m.surface
}

// SessionID identifies this manager's session in logs.
func (m *Manager) SessionID() string {
	return m.session
}

// Stats is a point-in-time view of manager counters.
type Stats struct {
	Events     uint64
	Actions    uint64
	Responses  uint64
	Mismatches uint64

	// PendingRequests counts requests waiting for a response.
	PendingRequests int

	// LastRequestID is the most recently minted request id.
	LastRequestID uint64

	CommandsSent uint64
	Processes    int

	Dispatch event.Stats
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Events:          m.events.Load(),
		Actions:         m.actions.Load(),
		Responses:       m.responses.Load(),
		Mismatches:      m.mismatches.Load(),
		PendingRequests: m.requests.Pending(),
		LastRequestID:   m.requests.LastID(),
		CommandsSent:    m.commands.Sent(),
		Processes:       m.processes.Count(),
	}
	if m.rt != nil {
		s.Dispatch = m.rt.dispatcher.Stats()
	}
	return s
}

// Shutdown stops the session. It fails every pending request with
// command.ErrChannelClosed, lets the resumed tasks finish, stops background
// processes and closes the engine. If script code keeps the plugin
// goroutine busy past ctx, Shutdown returns ctx.Err() without waiting
// further. Later calls return the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.closed.Store(true)
	m.commands.Close()
	failed := m.requests.Close(command.ErrChannelClosed)
	m.logger.Debug("shutting down", zap.Int("failed_requests", failed))

	call, err := m.exec.Submit("shutdown", func(*glua.LState) error {
		err := m.rt.drain()
		m.processes.Shutdown(m.cfg.ProcessShutdownTimeout.Duration)
		return err
	})
	if err == nil {
		select {
		case <-call.Done():
			if err := call.Err(); err != nil {
				m.logger.Warn("shutdown drain", zap.Error(err))
			}
		case <-ctx.Done():
			m.abort()
			return ctx.Err()
		}
	}

	m.exec.Close()
	select {
	case <-m.stopped:
	case <-ctx.Done():
		m.abort()
		return ctx.Err()
	}
	m.cancel()
	m.logger.Info("script engine stopped")
	return nil
}

// abort abandons a plugin goroutine that did not stop in time. It exits
// once the running script yields or returns.
func (m *Manager) abort() {
	m.cancel()
	m.exec.Close()
	m.logger.Warn("script engine did not stop in time")
}

// Dispatch tracks one submitted event or action.
type Dispatch struct {
	name    string
	call    *lua.Call
	outcome event.Outcome
}

// Name returns the event or action name.
func (d *Dispatch) Name() string {
	return d.name
}

// Done is closed once every handler has finished.
func (d *Dispatch) Done() <-chan struct{} {
	return d.call.Done()
}

// Outcome returns the dispatch result. Valid after Done is closed.
func (d *Dispatch) Outcome() event.Outcome {
	return d.outcome
}

// Err returns the error of an action, or ErrShutdown when the call was
// dropped by Shutdown. Valid after Done is closed.
func (d *Dispatch) Err() error {
	return mapCallErr(d.call.Err())
}

// Wait blocks until the dispatch is done or ctx is done.
func (d *Dispatch) Wait(ctx context.Context) error {
	return mapCallErr(d.call.Wait(ctx))
}

func mapCallErr(err error) error {
	if errors.Is(err, lua.ErrExecutorClosed) {
		return ErrShutdown
	}
	return err
}
