package handler

import (
	"os"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Handle.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Handle is one open descriptor on the local copy of Path.
type Handle struct {
	ID   uint64
	Path string

	file     *os.File
	state    atomic.Int32
	closing  sync.Once
	closeErr error
}

func (h *Handle) State() State { return State(h.state.Load()) }

// File returns the descriptor, or nil unless the handle is open.
func (h *Handle) File() *os.File {
	if h.State() != StateOpen {
		return nil
	}
	return h.file
}

func (h *Handle) attach(f *os.File) {
	h.file = f
	h.state.Store(int32(StateOpen))
}

// close closes the descriptor exactly once, whatever path led here.
func (h *Handle) close() error {
	h.closing.Do(func() {
		h.state.Store(int32(StateClosing))
		if h.file != nil {
			h.closeErr = h.file.Close()
		}
		h.state.Store(int32(StateClosed))
	})
	return h.closeErr
}
