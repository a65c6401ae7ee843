package lua

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// TaskState is the lifecycle state of a Task.
type TaskState int

// Task states.
const (
	TaskRunning TaskState = iota
	TaskSuspended
	TaskDone
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Task is one coroutine driven by the Scheduler.
type Task struct {
	ID   uint64
	Name string

	co        *lua.LState
	fn        *lua.LFunction
	state     TaskState
	results   []lua.LValue
	errValue  lua.LValue
	err       *ScriptError
	waiters   []func(*Task)
	protected int
	detached  bool
}

// State returns the task state.
func (t *Task) State() TaskState {
	return t.state
}

// Finished reports whether the task completed or failed.
func (t *Task) Finished() bool {
	return t.state == TaskDone || t.state == TaskFailed
}

// Err returns the uncaught error of a failed task.
func (t *Task) Err() error {
	if t.err == nil {
		return nil
	}
	return t.err
}

// Results returns the values returned by the task function.
func (t *Task) Results() []lua.LValue {
	return t.results
}

// Result returns the first return value, or LNil.
func (t *Task) Result() lua.LValue {
	if len(t.results) == 0 {
		return lua.LNil
	}
	return t.results[0]
}

// ErrorValue returns the raw error value of a failed task.
func (t *Task) ErrorValue() lua.LValue {
	if t.errValue == nil {
		return lua.LNil
	}
	return t.errValue
}

// OnFinish registers fn to run when the task finishes. If the task has
// already finished, fn runs immediately.
func (t *Task) OnFinish(fn func(*Task)) {
	if t.Finished() {
		fn(t)
		return
	}
	t.waiters = append(t.waiters, fn)
}

// Outcome produces the values a suspended task resumes with. It runs on the
// goroutine that owns the Lua state.
type Outcome func(L *lua.LState) (ok bool, value lua.LValue)

// SchedulerStats is a point-in-time view of scheduler counters.
type SchedulerStats struct {
	Live    int
	Spawned uint64
	Failed  uint64
}

// Scheduler runs Lua functions as coroutine tasks so that Go code can
// suspend them while a request is outstanding.
//
// All methods except the wake function handed out by Suspend must be called
// from the goroutine that owns the Lua state.
type Scheduler struct {
	L      *lua.LState
	exec   *Executor
	logger *zap.Logger

	tasks   map[*lua.LState]*Task
	nextID  uint64
	current *Task
	spawned uint64
	failed  uint64
}

// NewScheduler creates a scheduler for the state driven by exec.
func NewScheduler(state *State, exec *Executor, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		L:      state.L,
		exec:   exec,
		logger: logger,
		tasks:  make(map[*lua.LState]*Task),
	}
	state.Sandbox().OnProtectedCall(func(L *lua.LState, delta int) {
		if t, ok := s.tasks[L]; ok {
			t.protected += delta
		}
	})
	return s
}

// Run starts fn as an entry-point task and pumps wakeups until it finishes.
func (s *Scheduler) Run(name string, fn *lua.LFunction, args ...lua.LValue) (*Task, error) {
	t := s.start(s.L, name, fn, false, args)
	if err := s.exec.PumpUntil(t.Finished); err != nil {
		return t, err
	}
	return t, nil
}

// Spawn starts fn as a background task from the Lua state from, which must
// be the state currently executing. It returns once the task first
// suspends or finishes.
func (s *Scheduler) Spawn(from *lua.LState, name string, fn *lua.LFunction, args ...lua.LValue) *Task {
	if from == nil {
		from = s.L
	}
	return s.start(from, name, fn, true, args)
}

func (s *Scheduler) start(from *lua.LState, name string, fn *lua.LFunction, detached bool, args []lua.LValue) *Task {
	co, _ := s.L.NewThread()
	s.nextID++
	s.spawned++
	t := &Task{
		ID:       s.nextID,
		Name:     name,
		co:       co,
		fn:       fn,
		detached: detached,
	}
	s.tasks[co] = t
	s.step(from, t, args...)
	return t
}

// Current returns the task running on L.
func (s *Scheduler) Current(L *lua.LState) (*Task, bool) {
	t, ok := s.tasks[L]
	return t, ok
}

// Suspend parks the task running on L. start receives a wake function that
// may be called from any goroutine; only the first call has an effect. The
// task resumes on the owner goroutine with the values of the Outcome.
//
// On success the returned int must be returned from the calling LGFunction.
func (s *Scheduler) Suspend(L *lua.LState, start func(wake func(Outcome)) error) (int, error) {
	t, ok := s.tasks[L]
	if !ok || t.state != TaskRunning {
		return 0, ErrNotInTask
	}
	if t.protected > 0 {
		return 0, ErrProtectedCall
	}

	var once sync.Once
	wake := func(out Outcome) {
		once.Do(func() {
			s.exec.Wake(func() { s.resume(t, out) })
		})
	}
	if err := start(wake); err != nil {
		return 0, err
	}

	t.state = TaskSuspended
	return L.Yield(), nil
}

func (s *Scheduler) resume(t *Task, out Outcome) {
	if t.state != TaskSuspended {
		return
	}
	ok, value := s.outcome(t, out)
	s.step(s.L, t, lua.LBool(ok), value)
}

func (s *Scheduler) outcome(t *Task, out Outcome) (ok bool, value lua.LValue) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task outcome panicked",
				zap.String("task", t.Name),
				zap.Error(recoveredError(r)))
			ok = false
			value = lua.LString(fmt.Sprint(r))
		}
	}()
	ok, value = out(s.L)
	if value == nil {
		value = lua.LNil
	}
	return ok, value
}

func (s *Scheduler) step(from *lua.LState, t *Task, args ...lua.LValue) {
	prev := s.current
	s.current = t
	t.state = TaskRunning
	st, err, values := from.Resume(t.co, t.fn, args...)
	s.current = prev

	switch st {
	case lua.ResumeOK:
		s.finish(t, values, nil)
	case lua.ResumeError:
		s.finish(t, nil, err)
	case lua.ResumeYield:
		if t.state == TaskSuspended {
			return
		}
		// A bare coroutine.yield gives other work a turn.
		t.state = TaskSuspended
		if !s.exec.Wake(func() { s.resume(t, func(*lua.LState) (bool, lua.LValue) { return true, lua.LNil }) }) {
			s.finish(t, nil, ErrExecutorClosed)
		}
	}
}

func (s *Scheduler) finish(t *Task, values []lua.LValue, err error) {
	if err != nil {
		t.state = TaskFailed
		t.err = scriptErrorFrom(t.Name, err)
		t.errValue = errorObject(err)
		s.failed++
	} else {
		t.state = TaskDone
		t.results = values
	}
	delete(s.tasks, t.co)

	waiters := t.waiters
	t.waiters = nil
	for _, fn := range waiters {
		fn(t)
	}

	if t.state == TaskFailed && t.detached && len(waiters) == 0 {
		s.logger.Warn("background task failed",
			zap.String("task", t.Name),
			zap.Uint64("task_id", t.ID),
			zap.Error(t.err))
	}
}

// Running returns the task currently executing, if any.
func (s *Scheduler) Running() *Task {
	return s.current
}

// Live returns the number of unfinished tasks.
func (s *Scheduler) Live() int {
	return len(s.tasks)
}

// RunToQuiescence pumps wakeups until no task is live.
func (s *Scheduler) RunToQuiescence() error {
	return s.exec.PumpUntil(func() bool { return len(s.tasks) == 0 })
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Live:    len(s.tasks),
		Spawned: s.spawned,
		Failed:  s.failed,
	}
}

const taskTypeName = "extbridge.task"

// NewTaskHandle wraps a task in a userdata handle for script code.
func NewTaskHandle(L *lua.LState, t *Task) *lua.LUserData {
	mt, ok := L.GetTypeMetatable(taskTypeName).(*lua.LTable)
	if !ok {
		mt = L.NewTypeMetatable(taskTypeName)
		L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
			task, _ := L.CheckUserData(1).Value.(*Task)
			if task == nil {
				L.Push(lua.LString("task"))
				return 1
			}
			L.Push(lua.LString(fmt.Sprintf("task %d (%s, %s)", task.ID, task.Name, task.state)))
			return 1
		}))
	}
	ud := L.NewUserData()
	ud.Value = t
	L.SetMetatable(ud, mt)
	return ud
}

// CheckTask returns the task held by the handle at stack position n.
func CheckTask(L *lua.LState, n int) *Task {
	ud := L.CheckUserData(n)
	t, ok := ud.Value.(*Task)
	if !ok {
		L.ArgError(n, "task handle expected")
		return nil
	}
	return t
}
