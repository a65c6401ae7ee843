package host

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/palette"
	"github.com/dshills/extbridge/internal/plugin"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
)

// DefaultContext is the input context palette commands are filtered with.
const DefaultContext = "normal"

// Buffer is one open buffer.
type Buffer struct {
	ID       int
	Path     string
	Name     string
	Text     []byte
	Modified bool
	Virtual  bool
	ReadOnly bool
}

// Overlay is a decoration added by an extension.
type Overlay struct {
	Namespace string
	Start     int
	End       int
	Style     string
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithWorkspace sets the directory relative paths are resolved against.
func WithWorkspace(dir string) Option {
	return func(e *Editor) {
		e.workspace = dir
	}
}

// WithConfigJSON sets the host configuration scripts read with get_config.
func WithConfigJSON(cfg []byte) Option {
	return func(e *Editor) {
		if len(cfg) > 0 {
			e.config = bytes.Clone(cfg)
		}
	}
}

// WithViewport sets the visible area reported in snapshots.
func WithViewport(width, height int) Option {
	return func(e *Editor) {
		e.viewport.Width = width
		e.viewport.Height = height
	}
}

type pendingOp struct {
	d    *plugin.Dispatch
	done func(event.Outcome, error)
}

// Editor is the reference host.
type Editor struct {
	logger    *zap.Logger
	workspace string
	store     *snapshot.Store
	palette   *palette.Registry
	mgr       *plugin.Manager

	buffers  map[int]*Buffer
	cursors  map[int]int
	overlays map[int][]Overlay
	nextID   int
	active   int

	viewport  snapshot.Viewport
	clipboard string
	config    []byte
	context   string

	status    string
	statusLog []string

	pending []pendingOp
}

// New creates an editor with no open buffers.
func New(opts ...Option) *Editor {
	e := &Editor{
		logger:   zap.NewNop(),
		store:    snapshot.NewStore(),
		buffers:  make(map[int]*Buffer),
		cursors:  make(map[int]int),
		overlays: make(map[int][]Overlay),
		nextID:   1,
		active:   snapshot.NoBuffer,
		viewport: snapshot.Viewport{Width: 80, Height: 24},
		config:   []byte("{}"),
		context:  DefaultContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			e.workspace = wd
		}
	}

	e.palette = palette.NewRegistry(
		&palette.Command{
			Name:        "Save File",
			Description: "Write the active buffer to disk",
			Handler:     func() error { return e.RequestSave(e.active) },
		},
		&palette.Command{
			Name:        "Close Buffer",
			Description: "Close the active buffer",
			Handler:     func() error { return e.CloseBuffer(e.active) },
		},
	)
	e.Publish()
	return e
}

// Snapshots returns the store the editor publishes to. Pass it to
// plugin.WithSnapshotStore.
func (e *Editor) Snapshots() *snapshot.Store {
	return e.store
}

// Attach connects a running manager. Events are only raised once a manager
// is attached.
func (e *Editor) Attach(mgr *plugin.Manager) {
	e.mgr = mgr
}

// Publish builds a snapshot of the current state and publishes it.
func (e *Editor) Publish() uint64 {
	snap := &snapshot.Snapshot{
		ActiveBufferID: e.active,
		Viewport:       e.viewport,
		Buffers:        make(map[int]snapshot.BufferInfo, len(e.buffers)),
		Clipboard:      e.clipboard,
		WorkingDir:     e.workspace,
		Config:         bytes.Clone(e.config),
	}
	for id, b := range e.buffers {
		snap.Buffers[id] = snapshot.BufferInfo{
			ID:        id,
			Path:      b.Path,
			Modified:  b.Modified,
			Length:    len(b.Text),
			LineCount: bytes.Count(b.Text, []byte{'\n'}) + 1,
			Virtual:   b.Virtual,
			ReadOnly:  b.ReadOnly,
		}
	}
	if _, ok := e.buffers[e.active]; ok {
		snap.PrimaryCursor = snapshot.Cursor{Position: e.cursors[e.active]}
		snap.Cursors = []snapshot.Cursor{snap.PrimaryCursor}
	}
	return e.store.Publish(snap)
}

// TickStats reports the work done by one Tick.
type TickStats struct {
	Applied   int
	Rejected  int
	Responses int
	Completed int
}

type response struct {
	id    uint64
	value any
	err   error
}

// Tick runs one host iteration: apply queued commands in order, publish a
// snapshot, answer requests, then collect finished dispatches. A rejected
// fire and forget command is logged and shown in the status line. Responses
// go out after the publish so a resumed task observes its own effects.
func (e *Editor) Tick() TickStats {
	var stats TickStats
	if e.mgr == nil {
		return stats
	}

	var responses []response
	for _, env := range e.mgr.Commands().Drain() {
		value, err := e.apply(env.Command)
		stats.Applied++
		if env.Correlated() {
			responses = append(responses, response{id: env.RequestID, value: value, err: err})
			continue
		}
		if err != nil {
			stats.Rejected++
			e.logger.Warn("command rejected",
				zap.String("kind", string(env.Command.Kind())),
				zap.Uint64("seq", env.Seq),
				zap.Error(err),
			)
			e.setStatus(fmt.Sprintf("%s rejected: %v", env.Command.Kind(), err))
		}
	}

	e.Publish()

	for _, r := range responses {
		if err := e.mgr.DeliverResponse(r.id, r.value, r.err); err != nil {
			e.logger.Debug("response not delivered", zap.Uint64("request_id", r.id), zap.Error(err))
			continue
		}
		stats.Responses++
	}

	stats.Completed = e.poll()
	return stats
}

// poll finishes dispatches whose handlers have all returned.
func (e *Editor) poll() int {
	completed := 0
	for i := 0; i < len(e.pending); {
		op := e.pending[i]
		select {
		case <-op.d.Done():
		default:
			i++
			continue
		}
		e.pending = append(e.pending[:i], e.pending[i+1:]...)
		completed++
		op.done(op.d.Outcome(), op.d.Err())
	}
	return completed
}

// Idle reports whether no host or script work is outstanding.
func (e *Editor) Idle() bool {
	if len(e.pending) > 0 {
		return false
	}
	if e.mgr == nil {
		return true
	}
	return e.mgr.Commands().Len() == 0 && e.mgr.Stats().PendingRequests == 0
}

// RunUntilIdle ticks until Idle reports true, ctx is done or maxIterations
// ticks have run without reaching idle.
func (e *Editor) RunUntilIdle(ctx context.Context, maxIterations int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var ready <-chan struct{}
	if e.mgr != nil {
		ready = e.mgr.Commands().Ready()
	}

	for i := 0; i < maxIterations; i++ {
		e.Tick()
		if e.Idle() {
			return nil
		}
		select {
		case <-ready:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d iterations", ErrNotIdle, maxIterations)
}

// emit raises an event. done runs from Tick once every handler has
// returned. Without a manager done runs immediately with an empty outcome.
func (e *Editor) emit(name string, payload map[string]any, done func(event.Outcome, error)) {
	if done == nil {
		done = func(event.Outcome, error) {}
	}
	if e.mgr == nil {
		done(event.Outcome{Event: name}, nil)
		return
	}
	d, err := e.mgr.SubmitEvent(name, payload)
	if err != nil {
		e.logger.Warn("event not submitted", zap.String("event", name), zap.Error(err))
		done(event.Outcome{Event: name}, err)
		return
	}
	e.pending = append(e.pending, pendingOp{d: d, done: done})
}

// EmitEvent raises an arbitrary event with no follow-up.
func (e *Editor) EmitEvent(name string, payload map[string]any) error {
	if e.mgr == nil {
		return nil
	}
	if err := e.mgr.Surface().Validate(name, payload); err != nil {
		return err
	}
	e.emit(name, payload, nil)
	return nil
}

// resolve makes a path absolute against the workspace.
func (e *Editor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workspace, path)
}

func (e *Editor) buffer(id int) (*Buffer, error) {
	b, ok := e.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchBuffer, id)
	}
	return b, nil
}

func (e *Editor) bufferByPath(path string) (*Buffer, bool) {
	for _, b := range e.buffers {
		if !b.Virtual && b.Path == path {
			return b, true
		}
	}
	return nil, false
}

func (e *Editor) addBuffer(b *Buffer) *Buffer {
	b.ID = e.nextID
	e.nextID++
	e.buffers[b.ID] = b
	e.cursors[b.ID] = 0
	return b
}

func (e *Editor) setStatus(msg string) {
	e.status = msg
	e.statusLog = append(e.statusLog, msg)
}

// SetStatus shows a message in the status line.
func (e *Editor) SetStatus(msg string) {
	e.setStatus(msg)
}

// Status returns the current status line.
func (e *Editor) Status() string {
	return e.status
}

// StatusLog returns every status message in order.
func (e *Editor) StatusLog() []string {
	out := make([]string, len(e.statusLog))
	copy(out, e.statusLog)
	return out
}

// ActiveBuffer returns the active buffer id or snapshot.NoBuffer.
func (e *Editor) ActiveBuffer() int {
	return e.active
}

// Buffers returns the open buffer ids in ascending order.
func (e *Editor) Buffers() []int {
	ids := make([]int, 0, len(e.buffers))
	for id := range e.buffers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BufferText returns the contents of a buffer.
func (e *Editor) BufferText(id int) (string, error) {
	b, err := e.buffer(id)
	if err != nil {
		return "", err
	}
	return string(b.Text), nil
}

// Buffer returns a copy of a buffer.
func (e *Editor) Buffer(id int) (Buffer, bool) {
	b, ok := e.buffers[id]
	if !ok {
		return Buffer{}, false
	}
	cp := *b
	cp.Text = bytes.Clone(b.Text)
	return cp, true
}

// Cursor returns the primary cursor position of a buffer.
func (e *Editor) Cursor(id int) int {
	return e.cursors[id]
}

// Clipboard returns the clipboard contents.
func (e *Editor) Clipboard() string {
	return e.clipboard
}

// Overlays returns the overlays of a buffer ordered by start offset.
func (e *Editor) Overlays(id int) []Overlay {
	out := make([]Overlay, len(e.overlays[id]))
	copy(out, e.overlays[id])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Palette returns the command palette.
func (e *Editor) Palette() *palette.Registry {
	return e.palette
}

// SetContext changes the input context used for palette availability.
func (e *Editor) SetContext(ctx string) {
	e.context = ctx
}

// Context returns the input context.
func (e *Editor) Context() string {
	return e.context
}

// Pending returns the number of dispatches that have not finished.
func (e *Editor) Pending() int {
	return len(e.pending)
}
