package host

import (
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/plugin/event"
	"github.com/dshills/extbridge/internal/plugin/snapshot"
)

// Insert types text at pos in a buffer. Handlers of before_insert may veto
// it; otherwise the text is inserted and after_insert is raised. The
// insert happens on a later Tick when a manager is attached.
func (e *Editor) Insert(id, pos int, text string) error {
	b, err := e.buffer(id)
	if err != nil {
		return err
	}
	if b.ReadOnly {
		return fmt.Errorf("%w: %d", ErrReadOnly, id)
	}
	if err := e.checkOffset(b, pos); err != nil {
		return err
	}

	payload := map[string]any{"buffer_id": id, "position": pos, "text": text}
	e.emit(event.BeforeInsert, payload, func(out event.Outcome, _ error) {
		if out.Cancelled {
			e.setStatus("insert cancelled by " + out.CancelledBy)
			return
		}
		if err := e.insert(id, pos, text); err != nil {
			e.logger.Warn("insert failed", zap.Int("buffer_id", id), zap.Error(err))
			return
		}
		e.emit(event.AfterInsert, payload, nil)
	})
	return nil
}

// Delete removes [start, end) from a buffer and raises after_delete.
func (e *Editor) Delete(id, start, end int) error {
	if err := e.deleteRange(id, start, end); err != nil {
		return err
	}
	e.emit(event.AfterDelete, map[string]any{"buffer_id": id, "start": start, "end": end}, nil)
	return nil
}

// RequestSave saves a buffer unless a before_file_save handler cancels.
// The outcome is reported in the status line.
func (e *Editor) RequestSave(id int) error {
	b, err := e.buffer(id)
	if err != nil {
		return err
	}
	if b.Virtual || b.Path == "" {
		return fmt.Errorf("%w: %d", ErrNoPath, id)
	}

	payload := map[string]any{"buffer_id": id, "path": b.Path}
	e.emit(event.BeforeFileSave, payload, func(out event.Outcome, _ error) {
		if out.Cancelled {
			e.setStatus("save cancelled by " + out.CancelledBy)
			return
		}
		path, err := e.save(id)
		if err != nil {
			e.setStatus("save failed: " + err.Error())
			return
		}
		e.setStatus("saved " + path)
		e.emit(event.AfterFileSave, map[string]any{"buffer_id": id, "path": path}, nil)
	})
	return nil
}

// MoveCursor moves the primary cursor of the active buffer and raises
// cursor_moved.
func (e *Editor) MoveCursor(pos int) error {
	id := e.active
	old := e.cursors[id]
	if err := e.setCursor(id, pos); err != nil {
		return err
	}
	e.emit(event.CursorMoved, map[string]any{
		"buffer_id":    id,
		"new_position": e.cursors[id],
		"old_position": old,
	}, nil)
	return nil
}

// Activate makes a buffer active and raises buffer_activated.
func (e *Editor) Activate(id int) error {
	if _, err := e.buffer(id); err != nil {
		return err
	}
	e.active = id
	e.emit(event.BufferActivated, map[string]any{"buffer_id": id}, nil)
	return nil
}

// CloseBuffer closes a buffer and raises buffer_closed. Closing the active
// buffer activates the lowest remaining id.
func (e *Editor) CloseBuffer(id int) error {
	if _, err := e.buffer(id); err != nil {
		return err
	}
	delete(e.buffers, id)
	delete(e.cursors, id)
	delete(e.overlays, id)

	if e.active == id {
		e.active = snapshot.NoBuffer
		if ids := e.Buffers(); len(ids) > 0 {
			e.active = ids[0]
		}
	}
	e.emit(event.BufferClosed, map[string]any{"buffer_id": id}, nil)
	return nil
}

// ConfirmPrompt reports a confirmed prompt to extensions.
func (e *Editor) ConfirmPrompt(promptType, input string) {
	e.emit(event.PromptConfirmed, map[string]any{"prompt_type": promptType, "input": input}, nil)
}

// RunCommand runs a palette command by name. Built-in commands run
// immediately; extension commands run their action on the script goroutine
// and report failures in the status line.
func (e *Editor) RunCommand(name string) error {
	cmd, ok := e.palette.Find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if !cmd.Available(e.context) {
		return fmt.Errorf("%w: %s in %s", ErrCommandUnavailable, name, e.context)
	}
	if cmd.Handler != nil {
		return cmd.Handler()
	}
	if e.mgr == nil {
		return fmt.Errorf("%w: %s has no handler", ErrCommandUnavailable, name)
	}

	d, err := e.mgr.ExecuteAction(cmd.Action)
	if err != nil {
		return err
	}
	e.pending = append(e.pending, pendingOp{d: d, done: func(_ event.Outcome, err error) {
		if err != nil {
			e.setStatus(fmt.Sprintf("%s failed: %v", name, err))
		}
	}})
	return nil
}

// ConfigValue returns the configuration value at a gjson path.
func (e *Editor) ConfigValue(path string) (any, bool) {
	res := gjson.GetBytes(e.config, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// ConfigJSON returns a copy of the configuration document.
func (e *Editor) ConfigJSON() []byte {
	out := make([]byte, len(e.config))
	copy(out, e.config)
	return out
}
