// Package command carries mutation requests from the script goroutine to the
// host.
//
// A Command is a tagged value describing one effect. The script side wraps it
// in an Envelope and sends it on a Channel; the host drains the channel once
// per loop iteration and applies the envelopes in the order they were sent.
// Envelopes with a non-zero RequestID expect a response through the
// correlation table once the effect has been applied.
package command

// Kind identifies a command type.
type Kind string

// Command kinds.
const (
	KindInsertText          Kind = "insert_text"
	KindDeleteRange         Kind = "delete_range"
	KindSetCursor           Kind = "set_cursor"
	KindSetStatus           Kind = "set_status"
	KindSetClipboard        Kind = "set_clipboard"
	KindOpenFile            Kind = "open_file"
	KindAddOverlay          Kind = "add_overlay"
	KindClearNamespace      Kind = "clear_namespace"
	KindRegisterCommand     Kind = "register_command"
	KindUnregisterCommand   Kind = "unregister_command"
	KindSetConfig           Kind = "set_config"
	KindReadFile            Kind = "read_file"
	KindWriteFile           Kind = "write_file"
	KindGetBufferText       Kind = "get_buffer_text"
	KindCreateVirtualBuffer Kind = "create_virtual_buffer"
	KindSaveBuffer          Kind = "save_buffer"
)

// Command is one mutation or action request.
type Command interface {
	Kind() Kind
}

// Envelope is a Command as it travels through the Channel.
type Envelope struct {
	// Seq is the position of the envelope in the channel, starting at 1.
	Seq uint64

	// RequestID correlates the command with a pending request.
	// Zero means no response is expected.
	RequestID uint64

	Command Command
}

// Correlated reports whether the sender is waiting for a response.
func (e Envelope) Correlated() bool {
	return e.RequestID != 0
}

// InsertText inserts text at a byte offset.
type InsertText struct {
	BufferID int
	Position int
	Text     string
}

// Kind implements Command.
func (InsertText) Kind() Kind { return KindInsertText }

// DeleteRange deletes the byte range [Start, End).
type DeleteRange struct {
	BufferID int
	Start    int
	End      int
}

// Kind implements Command.
func (DeleteRange) Kind() Kind { return KindDeleteRange }

// SetCursor moves the primary cursor of a buffer.
type SetCursor struct {
	BufferID int
	Position int
}

// Kind implements Command.
func (SetCursor) Kind() Kind { return KindSetCursor }

// SetStatus shows a message in the status line.
type SetStatus struct {
	Message string
}

// Kind implements Command.
func (SetStatus) Kind() Kind { return KindSetStatus }

// SetClipboard replaces the clipboard contents.
type SetClipboard struct {
	Text string
}

// Kind implements Command.
func (SetClipboard) Kind() Kind { return KindSetClipboard }

// OpenFile opens a file, optionally at a 1-based line and column.
type OpenFile struct {
	Path   string
	Line   int
	Column int
}

// Kind implements Command.
func (OpenFile) Kind() Kind { return KindOpenFile }

// AddOverlay decorates a byte range of a buffer.
type AddOverlay struct {
	BufferID  int
	Namespace string
	Start     int
	End       int
	Style     string
}

// Kind implements Command.
func (AddOverlay) Kind() Kind { return KindAddOverlay }

// ClearNamespace removes every overlay of a namespace.
type ClearNamespace struct {
	BufferID  int
	Namespace string
}

// Kind implements Command.
func (ClearNamespace) Kind() Kind { return KindClearNamespace }

// RegisterCommand adds a palette command whose action is a global script
// function resolved by name when the command runs.
type RegisterCommand struct {
	Name        string
	Description string
	Action      string
	Contexts    []string
	Source      string
}

// Kind implements Command.
func (RegisterCommand) Kind() Kind { return KindRegisterCommand }

// UnregisterCommand removes a palette command.
type UnregisterCommand struct {
	Name string
}

// Kind implements Command.
func (UnregisterCommand) Kind() Kind { return KindUnregisterCommand }

// SetConfig writes one host configuration value. Path uses dot notation.
type SetConfig struct {
	Path  string
	Value any
}

// Kind implements Command.
func (SetConfig) Kind() Kind { return KindSetConfig }

// ReadFile asks the host for the contents of a file.
type ReadFile struct {
	Path string
}

// Kind implements Command.
func (ReadFile) Kind() Kind { return KindReadFile }

// WriteFile asks the host to write a file.
type WriteFile struct {
	Path    string
	Content string
}

// Kind implements Command.
func (WriteFile) Kind() Kind { return KindWriteFile }

// GetBufferText asks for the text of a buffer range. End < 0 means the end
// of the buffer.
type GetBufferText struct {
	BufferID int
	Start    int
	End      int
}

// Kind implements Command.
func (GetBufferText) Kind() Kind { return KindGetBufferText }

// CreateVirtualBuffer asks the host to create a buffer that is not backed by
// a file. The response is the new buffer id.
type CreateVirtualBuffer struct {
	Name     string
	Content  string
	ReadOnly bool
}

// Kind implements Command.
func (CreateVirtualBuffer) Kind() Kind { return KindCreateVirtualBuffer }

// SaveBuffer asks the host to write a buffer to its path.
type SaveBuffer struct {
	BufferID int
}

// Kind implements Command.
func (SaveBuffer) Kind() Kind { return KindSaveBuffer }
