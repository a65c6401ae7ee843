package host

import "errors"

var (
	// ErrNoSuchBuffer is returned when a command names an unknown buffer id.
	ErrNoSuchBuffer = errors.New("no such buffer")

	// ErrOutOfRange is returned for offsets outside the buffer.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrReadOnly is returned when editing or saving a read-only buffer.
	ErrReadOnly = errors.New("buffer is read-only")

	// ErrNoPath is returned when saving a buffer that has no file path.
	ErrNoPath = errors.New("buffer has no path")

	// ErrUnknownCommand is returned for palette names that are not registered.
	ErrUnknownCommand = errors.New("unknown palette command")

	// ErrCommandUnavailable is returned when a palette command is not
	// available in the current input context.
	ErrCommandUnavailable = errors.New("palette command unavailable in this context")

	// ErrNotIdle is returned by RunUntilIdle when work is still outstanding
	// after the iteration limit.
	ErrNotIdle = errors.New("host did not become idle")
)
