package api

import (
	"errors"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/correlate"
	"github.com/dshills/extbridge/internal/plugin/lua"
	"github.com/dshills/extbridge/internal/plugin/process"
	"github.com/dshills/extbridge/internal/plugin/wire"
)

func (b *bridge) readFile(L *glua.LState) int {
	const op = "read_file"
	path := nonEmpty(L, op, 1, "path")
	return b.request(L, op, command.ReadFile{Path: path}, decodeString)
}

func (b *bridge) writeFile(L *glua.LState) int {
	const op = "write_file"
	path := nonEmpty(L, op, 1, "path")
	content := L.CheckString(2)
	return b.request(L, op, command.WriteFile{Path: path, Content: content}, decodeTrue)
}

// getBufferText reads [start, end) of a buffer. Omitted bounds select the
// whole buffer.
func (b *bridge) getBufferText(L *glua.LState) int {
	const op = "get_buffer_text"
	info := b.buffer(L, op, 1)
	start := 0
	end := -1
	if L.GetTop() >= 2 && L.Get(2) != glua.LNil {
		start = offset(L, op, 2, "start")
	}
	if L.GetTop() >= 3 && L.Get(3) != glua.LNil {
		end = offset(L, op, 3, "end")
		if end < start {
			raise(L, op, capErr(op, nil, "end %d is before start %d", end, start))
		}
	}
	return b.request(L, op, command.GetBufferText{BufferID: info.ID, Start: start, End: end}, decodeString)
}

func (b *bridge) createVirtualBuffer(L *glua.LState) int {
	const op = "create_virtual_buffer"
	spec := L.CheckTable(1)
	name, _ := lua.TableString(spec, "name")
	if name == "" {
		raise(L, op, capErr(op, nil, "name is required"))
	}
	content, _ := lua.TableString(spec, "content")
	readOnly, _ := lua.TableBool(spec, "read_only")
	return b.request(L, op, command.CreateVirtualBuffer{Name: name, Content: content, ReadOnly: readOnly}, decodeInt)
}

func (b *bridge) saveBuffer(L *glua.LState) int {
	const op = "save_buffer"
	info := b.buffer(L, op, 1)
	return b.request(L, op, command.SaveBuffer{BufferID: info.ID}, decodeString)
}

// delay parks the task until a timer resolves its request.
func (b *bridge) delay(L *glua.LState) int {
	const op = "delay"
	ms := L.CheckInt(1)
	if ms < 0 {
		raise(L, op, capErr(op, nil, "milliseconds must not be negative, got %d", ms))
	}
	requests := b.env.Requests
	return b.suspend(L, op, func(id uint64) error {
		time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			_ = requests.Resolve(id, correlate.Result{})
		})
		return nil
	}, thawing(op, decodeNil))
}

// processSpec reads command, args?, cwd? starting at argument 1. The working
// directory defaults to the host's.
func (b *bridge) processSpec(L *glua.LState, op string) process.Spec {
	spec := process.Spec{Command: nonEmpty(L, op, 1, "command")}
	if args := L.OptTable(2, nil); args != nil {
		n := args.Len()
		spec.Args = make([]string, 0, n)
		for i := 1; i <= n; i++ {
			s, ok := args.RawGetInt(i).(glua.LString)
			if !ok {
				raise(L, op, capErr(op, nil, "args[%d] must be a string", i))
			}
			spec.Args = append(spec.Args, string(s))
		}
	}
	spec.Dir = L.OptString(3, "")
	if spec.Dir == "" {
		spec.Dir = b.snap().WorkingDir
	}
	return spec
}

func (b *bridge) supervisor(L *glua.LState, op string) *process.Supervisor {
	if b.env.Processes == nil {
		raise(L, op, capErr(op, ErrProcessesDisabled, "processes are disabled"))
	}
	return b.env.Processes
}

// spawnProcess runs a process to completion. The supervisor's exit callback
// resolves the request with the captured output.
func (b *bridge) spawnProcess(L *glua.LState) int {
	const op = "spawn_process"
	procs := b.supervisor(L, op)
	spec := b.processSpec(L, op)
	requests := b.env.Requests

	return b.suspend(L, op, func(id uint64) error {
		_, err := procs.Run(spec, func(p *process.Process) {
			payload, err := wire.Freeze(p.Output())
			_ = requests.Resolve(id, correlate.Result{Payload: payload, Err: err})
		})
		return err
	}, thawing(op, decodeValue))
}

func (b *bridge) spawnBackgroundProcess(L *glua.LState) int {
	const op = "spawn_background_process"
	procs := b.supervisor(L, op)
	spec := b.processSpec(L, op)

	proc, err := procs.Start(spec)
	if err != nil {
		raise(L, op, err)
	}
	L.Push(glua.LNumber(proc.ID))
	return 1
}

func processID(L *glua.LState, n int) uint64 {
	id := L.CheckInt64(n)
	if id <= 0 {
		return 0
	}
	return uint64(id)
}

func (b *bridge) killProcess(L *glua.LState) int {
	const op = "kill_process"
	procs := b.supervisor(L, op)
	killed, err := procs.Kill(processID(L, 1))
	if err != nil && !errors.Is(err, process.ErrProcessNotFound) {
		raise(L, op, err)
	}
	L.Push(glua.LBool(killed))
	return 1
}

func (b *bridge) isProcessRunning(L *glua.LState) int {
	procs := b.supervisor(L, "is_process_running")
	L.Push(glua.LBool(procs.IsRunning(processID(L, 1))))
	return 1
}

// spawn starts fn with the remaining arguments as a background task.
func (b *bridge) spawn(L *glua.LState) int {
	fn := L.CheckFunction(1)
	top := L.GetTop()
	args := make([]glua.LValue, 0, top)
	for i := 2; i <= top; i++ {
		args = append(args, L.Get(i))
	}
	name := "spawn"
	if parent, ok := b.env.Scheduler.Current(L); ok {
		name = parent.Name + "/spawn"
	}
	t := b.env.Scheduler.Spawn(L, name, fn, args...)
	L.Push(lua.NewTaskHandle(L, t))
	return 1
}

// taskResult is the ok, value pair describing a finished task.
func taskResult(t *lua.Task) (bool, glua.LValue) {
	if t.Err() != nil {
		return false, t.ErrorValue()
	}
	return true, t.Result()
}

// join waits for t through the correlation table. Both await and settle
// return ok, value; await goes through the async wrapper which raises the
// value when ok is false.
func (b *bridge) join(L *glua.LState, op string) int {
	t := lua.CheckTask(L, 1)
	if cur, ok := b.env.Scheduler.Current(L); ok && cur == t {
		L.Push(glua.LFalse)
		L.Push(errorValue(L, op, capErr(op, nil, "task cannot wait for itself")))
		return 2
	}
	if t.Finished() {
		ok, v := taskResult(t)
		L.Push(glua.LBool(ok))
		L.Push(v)
		return 2
	}

	requests := b.env.Requests
	return b.suspend(L, op, func(id uint64) error {
		t.OnFinish(func(*lua.Task) {
			_ = requests.Resolve(id, correlate.Result{})
		})
		return nil
	}, func(L *glua.LState, res correlate.Result) (bool, glua.LValue) {
		if res.Err != nil {
			return false, errorValue(L, op, res.Err)
		}
		return taskResult(t)
	})
}

func (b *bridge) await(L *glua.LState) int {
	return b.join(L, "await")
}

func (b *bridge) settle(L *glua.LState) int {
	return b.join(L, "settle")
}
