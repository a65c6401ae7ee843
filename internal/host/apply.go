package host

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/dshills/extbridge/internal/palette"
	"github.com/dshills/extbridge/internal/plugin/command"
	"github.com/dshills/extbridge/internal/plugin/event"
)

// apply performs one command and returns the response value for
// correlated envelopes.
func (e *Editor) apply(cmd command.Command) (any, error) {
	switch c := cmd.(type) {
	case command.InsertText:
		return nil, e.insert(c.BufferID, c.Position, c.Text)
	case command.DeleteRange:
		return nil, e.deleteRange(c.BufferID, c.Start, c.End)
	case command.SetCursor:
		return nil, e.setCursor(c.BufferID, c.Position)
	case command.SetStatus:
		e.setStatus(c.Message)
		return nil, nil
	case command.SetClipboard:
		e.clipboard = c.Text
		return nil, nil
	case command.OpenFile:
		_, err := e.OpenFile(c.Path, c.Line, c.Column)
		return nil, err
	case command.AddOverlay:
		return nil, e.addOverlay(c)
	case command.ClearNamespace:
		return nil, e.clearNamespace(c.BufferID, c.Namespace)
	case command.RegisterCommand:
		return nil, e.palette.Register(&palette.Command{
			Name:        c.Name,
			Description: c.Description,
			Action:      c.Action,
			Contexts:    c.Contexts,
			Source:      c.Source,
		})
	case command.UnregisterCommand:
		if !e.palette.Unregister(c.Name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, c.Name)
		}
		return nil, nil
	case command.SetConfig:
		return nil, e.setConfig(c.Path, c.Value)
	case command.ReadFile:
		data, err := os.ReadFile(e.resolve(c.Path))
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case command.WriteFile:
		return nil, e.writeFile(e.resolve(c.Path), []byte(c.Content))
	case command.GetBufferText:
		return e.bufferText(c.BufferID, c.Start, c.End)
	case command.CreateVirtualBuffer:
		b := e.addBuffer(&Buffer{
			Name:     c.Name,
			Text:     []byte(c.Content),
			Virtual:  true,
			ReadOnly: c.ReadOnly,
		})
		return b.ID, nil
	case command.SaveBuffer:
		return e.save(c.BufferID)
	default:
		return nil, fmt.Errorf("unsupported command %q", cmd.Kind())
	}
}

func (e *Editor) checkOffset(b *Buffer, off int) error {
	if off < 0 || off > len(b.Text) {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, off, len(b.Text))
	}
	return nil
}

func (e *Editor) insert(id, pos int, text string) error {
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

	out := make([]byte, 0, len(b.Text)+len(text))
	out = append(out, b.Text[:pos]...)
	out = append(out, text...)
	out = append(out, b.Text[pos:]...)
	b.Text = out
	b.Modified = true

	if c := e.cursors[id]; c >= pos {
		e.cursors[id] = c + len(text)
	}
	return nil
}

func (e *Editor) deleteRange(id, start, end int) error {
	b, err := e.buffer(id)
	if err != nil {
		return err
	}
	if b.ReadOnly {
		return fmt.Errorf("%w: %d", ErrReadOnly, id)
	}
	if err := e.checkOffset(b, start); err != nil {
		return err
	}
	if err := e.checkOffset(b, end); err != nil {
		return err
	}
	if end < start {
		return fmt.Errorf("%w: end %d before start %d", ErrOutOfRange, end, start)
	}
	if end == start {
		return nil
	}

	b.Text = append(b.Text[:start:start], b.Text[end:]...)
	b.Modified = true

	switch c := e.cursors[id]; {
	case c >= end:
		e.cursors[id] = c - (end - start)
	case c > start:
		e.cursors[id] = start
	}
	return nil
}

func (e *Editor) setCursor(id, pos int) error {
	b, err := e.buffer(id)
	if err != nil {
		return err
	}
	e.cursors[id] = min(max(pos, 0), len(b.Text))
	return nil
}

func (e *Editor) addOverlay(c command.AddOverlay) error {
	b, err := e.buffer(c.BufferID)
	if err != nil {
		return err
	}
	if c.End < c.Start || c.Start < 0 || c.End > len(b.Text) {
		return fmt.Errorf("%w: overlay [%d, %d)", ErrOutOfRange, c.Start, c.End)
	}
	e.overlays[c.BufferID] = append(e.overlays[c.BufferID], Overlay{
		Namespace: c.Namespace,
		Start:     c.Start,
		End:       c.End,
		Style:     c.Style,
	})
	return nil
}

func (e *Editor) clearNamespace(id int, ns string) error {
	if _, err := e.buffer(id); err != nil {
		return err
	}
	kept := e.overlays[id][:0]
	for _, o := range e.overlays[id] {
		if o.Namespace != ns {
			kept = append(kept, o)
		}
	}
	e.overlays[id] = kept
	return nil
}

func (e *Editor) setConfig(path string, value any) error {
	out, err := sjson.SetBytes(e.config, path, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", path, err)
	}
	e.config = out
	return nil
}

func (e *Editor) bufferText(id, start, end int) (string, error) {
	b, err := e.buffer(id)
	if err != nil {
		return "", err
	}
	if end < 0 {
		end = len(b.Text)
	}
	if err := e.checkOffset(b, start); err != nil {
		return "", err
	}
	if err := e.checkOffset(b, end); err != nil {
		return "", err
	}
	if end < start {
		return "", fmt.Errorf("%w: end %d before start %d", ErrOutOfRange, end, start)
	}
	return string(b.Text[start:end]), nil
}

func (e *Editor) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// save writes a buffer to its path and returns the path.
func (e *Editor) save(id int) (string, error) {
	b, err := e.buffer(id)
	if err != nil {
		return "", err
	}
	if b.Virtual || b.Path == "" {
		return "", fmt.Errorf("%w: %d", ErrNoPath, id)
	}
	if b.ReadOnly {
		return "", fmt.Errorf("%w: %d", ErrReadOnly, id)
	}
	if err := e.writeFile(b.Path, b.Text); err != nil {
		return "", err
	}
	b.Modified = false
	e.logger.Debug("buffer saved", zap.Int("buffer_id", id), zap.String("path", b.Path))
	return b.Path, nil
}

// OpenFile opens a file relative to the workspace and makes it active. A
// path that is already open is activated instead of loaded again. Line and
// column are 1-based; zero leaves the cursor at the start.
func (e *Editor) OpenFile(path string, line, column int) (int, error) {
	abs := e.resolve(path)

	b, open := e.bufferByPath(abs)
	if !open {
		data, err := os.ReadFile(abs)
		if err != nil {
			return 0, err
		}
		b = e.addBuffer(&Buffer{Path: abs, Name: filepath.Base(abs), Text: data})
	}
	e.active = b.ID
	if line > 0 {
		e.cursors[b.ID] = lineColumnOffset(b.Text, line, column)
	}

	if !open {
		e.emit(event.AfterFileOpen, map[string]any{"buffer_id": b.ID, "path": abs}, nil)
	}
	e.emit(event.BufferActivated, map[string]any{"buffer_id": b.ID}, nil)
	return b.ID, nil
}

// lineColumnOffset converts a 1-based line and column to a byte offset,
// clamped to the line and the text.
func lineColumnOffset(text []byte, line, column int) int {
	off := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(text[off:], '\n')
		if i < 0 {
			return len(text)
		}
		off += i + 1
	}
	end := len(text)
	if i := bytes.IndexByte(text[off:], '\n'); i >= 0 {
		end = off + i
	}
	if column > 1 {
		off = min(off+column-1, end)
	}
	return off
}
