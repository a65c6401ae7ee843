// Package snapshot holds the read-only view of host state that extension
// code observes.
//
// The host builds a fresh Snapshot once per loop iteration and publishes it
// through a Store. Publishing swaps a single pointer, so a reader either sees
// the previous snapshot or the new one, never a mix. A Snapshot must not be
// modified after it has been published.
package snapshot

import (
	"sort"
	"sync/atomic"
)

// NoBuffer is the buffer id used when no buffer is active.
const NoBuffer = -1

// Range is a half-open byte range.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Cursor is a caret position with an optional selection.
type Cursor struct {
	Position  int    `json:"position"`
	Selection *Range `json:"selection,omitempty"`
}

// Viewport describes the visible region of the active buffer.
type Viewport struct {
	TopByte    int `json:"top_byte"`
	TopLine    int `json:"top_line"`
	Width      int `json:"width"`
	Height     int `json:"height"`
	LeftColumn int `json:"left_column"`
}

// BufferInfo is the metadata of one open buffer.
type BufferInfo struct {
	ID        int    `json:"id"`
	Path      string `json:"path"`
	Modified  bool   `json:"modified"`
	Length    int    `json:"length"`
	LineCount int    `json:"line_count"`
	Virtual   bool   `json:"virtual"`
	ReadOnly  bool   `json:"read_only"`
}

// Snapshot is an immutable point-in-time copy of host state.
type Snapshot struct {
	// Version is assigned by Store.Publish and increases with every publish.
	Version uint64

	ActiveBufferID int
	PrimaryCursor  Cursor
	Cursors        []Cursor
	Viewport       Viewport
	Buffers        map[int]BufferInfo
	Clipboard      string
	WorkingDir     string

	// Config is the host configuration encoded as JSON.
	Config []byte
}

// Empty returns a snapshot with no buffers.
func Empty() *Snapshot {
	return &Snapshot{
		ActiveBufferID: NoBuffer,
		Buffers:        map[int]BufferInfo{},
		Config:         []byte("{}"),
	}
}

// Buffer returns the metadata for a buffer id.
func (s *Snapshot) Buffer(id int) (BufferInfo, bool) {
	info, ok := s.Buffers[id]
	return info, ok
}

// ActiveBuffer returns the metadata of the active buffer.
func (s *Snapshot) ActiveBuffer() (BufferInfo, bool) {
	return s.Buffer(s.ActiveBufferID)
}

// BufferList returns buffer metadata ordered by id.
func (s *Snapshot) BufferList() []BufferInfo {
	list := make([]BufferInfo, 0, len(s.Buffers))
	for _, info := range s.Buffers {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// Store publishes snapshots from one writer to many readers.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewStore creates a store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(Empty())
	return s
}

// Load returns the most recently published snapshot. It never returns nil.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Publish replaces the current snapshot and returns the version assigned to
// it. The store takes ownership of snap; nil is ignored.
func (s *Store) Publish(snap *Snapshot) uint64 {
	if snap == nil {
		return s.version.Load()
	}
	if snap.Buffers == nil {
		snap.Buffers = map[int]BufferInfo{}
	}
	if len(snap.Config) == 0 {
		snap.Config = []byte("{}")
	}
	snap.Version = s.version.Add(1)
	s.current.Store(snap)
	return snap.Version
}

// Version returns the version of the most recent publish.
func (s *Store) Version() uint64 {
	return s.version.Load()
}
