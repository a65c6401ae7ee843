package api

import (
	"errors"
	"fmt"
	"os"

	glua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/correlate"
	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/lua"
	"github.com/dshills/extbridge/internal/plugin/process"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
	"github.com/dshills/extbridge/internal/plugin/wire"
)

// GlobalName is the name of the capability table in script scope.
const GlobalName = "editor"

// Env holds the collaborators capabilities act on.
type Env struct {
	Snapshots *snapshot.Store
	Commands  *command.Channel
	Requests  *correlate.Table
	Scheduler *lua.Scheduler
	Handlers  *event.Registry

	// Surface restricts on and off to known events. Nil accepts any name.
	Surface *event.Surface

	// Processes backs the process capabilities. Nil disables them.
	Processes *process.Supervisor

	Logger *zap.Logger

	// LookupEnv reads the host environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// ErrProcessesDisabled is returned by process capabilities without a supervisor.
var ErrProcessesDisabled = errors.New("processes are disabled")

type bridge struct {
	env Env
}

// Install builds the capability table and stores it in the global editor.
// It must run on the goroutine that owns L.
func Install(L *glua.LState, env Env) (*glua.LTable, error) {
	switch {
	case env.Snapshots == nil:
		return nil, errors.New("api: snapshot store is required")
	case env.Commands == nil:
		return nil, errors.New("api: command channel is required")
	case env.Requests == nil:
		return nil, errors.New("api: correlation table is required")
	case env.Scheduler == nil:
		return nil, errors.New("api: scheduler is required")
	case env.Handlers == nil:
		return nil, errors.New("api: handler registry is required")
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.LookupEnv == nil {
		env.LookupEnv = os.LookupEnv
	}

	b := &bridge{env: env}
	tbl := L.NewTable()
	for _, c := range catalog {
		fn := c.fn
		impl := func(L *glua.LState) int { return fn(b, L) }

		if c.Convention == Async && !c.settles {
			wrapped, err := lua.WrapAsync(L, impl)
			if err != nil {
				return nil, fmt.Errorf("api: wrap %s: %w", c.Name, err)
			}
			tbl.RawSetString(c.Name, wrapped)
			continue
		}
		tbl.RawSetString(c.Name, L.NewFunction(impl))
	}
	tbl.RawSetString("api_version", glua.LNumber(Version))

	L.SetGlobal(GlobalName, tbl)
	return tbl, nil
}

func (b *bridge) snap() *snapshot.Snapshot {
	return b.env.Snapshots.Load()
}

// buffer returns the buffer named by the argument at position n or raises.
func (b *bridge) buffer(L *glua.LState, op string, n int) snapshot.BufferInfo {
	id := L.CheckInt(n)
	info, ok := b.snap().Buffer(id)
	if !ok {
		raise(L, op, capErr(op, ErrUnknownBuffer, "unknown buffer %d", id))
	}
	return info
}

func (b *bridge) activeBuffer(L *glua.LState, op string) snapshot.BufferInfo {
	info, ok := b.snap().ActiveBuffer()
	if !ok {
		raise(L, op, capErr(op, ErrNoActiveBuffer, "no active buffer"))
	}
	return info
}

// send enqueues an uncorrelated command and returns true to the script.
func (b *bridge) send(L *glua.LState, op string, cmd command.Command) int {
	if err := b.env.Commands.Send(cmd); err != nil {
		raise(L, op, err)
	}
	L.Push(glua.LTrue)
	return 1
}

// source names the code calling a capability, for attribution.
func (b *bridge) source(L *glua.LState) string {
	if t, ok := b.env.Scheduler.Current(L); ok {
		return t.Name
	}
	return "extension"
}

func (b *bridge) logger(L *glua.LState) *zap.Logger {
	return b.env.Logger.With(zap.String("source", b.source(L)))
}

// finisher turns a correlation result into the values a task resumes with.
type finisher func(L *glua.LState, res correlate.Result) (bool, glua.LValue)

// suspend registers a pending request, calls send with its id and parks the
// calling task until the request resolves. It returns ok, value: either
// through the resumed task or immediately when the request could not start.
func (b *bridge) suspend(L *glua.LState, op string, send func(id uint64) error, finish finisher) int {
	requests := b.env.Requests
	n, err := b.env.Scheduler.Suspend(L, func(wake func(lua.Outcome)) error {
		id, err := requests.Register(func(res correlate.Result) {
			wake(func(L *glua.LState) (bool, glua.LValue) {
				return finish(L, res)
			})
		})
		if err != nil {
			return err
		}
		if err := send(id); err != nil {
			requests.Cancel(id)
			return err
		}
		return nil
	})
	if err != nil {
		L.Push(glua.LFalse)
		L.Push(errorValue(L, op, err))
		return 2
	}
	return n
}

// decoder converts a thawed response value for script code.
type decoder func(L *glua.LState, v any) (glua.LValue, error)

// request sends cmd correlated with a fresh request id and suspends.
func (b *bridge) request(L *glua.LState, op string, cmd command.Command, decode decoder) int {
	return b.suspend(L, op, func(id uint64) error {
		return b.env.Commands.SendRequest(id, cmd)
	}, thawing(op, decode))
}

// thawing builds a finisher that decodes the response payload.
func thawing(op string, decode decoder) finisher {
	return func(L *glua.LState, res correlate.Result) (bool, glua.LValue) {
		if res.Err != nil {
			return false, errorValue(L, op, res.Err)
		}
		v, err := wire.Thaw(res.Payload)
		if err != nil {
			return false, errorValue(L, op, err)
		}
		lv, err := decode(L, v)
		if err != nil {
			return false, errorValue(L, op, capErr(op, err, "%v", err))
		}
		return true, lv
	}
}

func decodeString(_ *glua.LState, v any) (glua.LValue, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string response, got %T", v)
	}
	return glua.LString(s), nil
}

func decodeInt(_ *glua.LState, v any) (glua.LValue, error) {
	switch n := v.(type) {
	case int64:
		return glua.LNumber(n), nil
	case uint64:
		return glua.LNumber(n), nil
	default:
		return nil, fmt.Errorf("expected integer response, got %T", v)
	}
}

func decodeTrue(*glua.LState, any) (glua.LValue, error) {
	return glua.LTrue, nil
}

func decodeNil(*glua.LState, any) (glua.LValue, error) {
	return glua.LNil, nil
}

func decodeValue(L *glua.LState, v any) (glua.LValue, error) {
	return lua.ToLua(L, v), nil
}
