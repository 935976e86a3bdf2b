// ABOUTME: Fixed arena of audio buffers owned by the engine
// ABOUTME: Tracks each slot as Free, Filling or Queued with checked transitions
package output

import (
	"fmt"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

type slotState uint8

const (
	slotFree slotState = iota
	slotFilling
	slotQueued
)

func (s slotState) String() string {
	switch s {
	case slotFree:
		return "free"
	case slotFilling:
		return "filling"
	case slotQueued:
		return "queued"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

type slot struct {
	state  slotState
	data   []byte
	frames int
	format audio.Format
}

// pool is indexed by buffer id. Its size never changes after creation.
// All methods must be called with the engine lock held.
type pool struct {
	slots    []slot
	capacity int // frames per buffer
}

func newPool(n, capacity int) *pool {
	return &pool{
		slots:    make([]slot, n),
		capacity: capacity,
	}
}

func (p *pool) size() int {
	return len(p.slots)
}

func (p *pool) valid(id int) bool {
	return id >= 0 && id < len(p.slots)
}

func (p *pool) state(id int) slotState {
	return p.slots[id].state
}

// move changes slot id from one state to another. It refuses the move and
// returns false when the slot is not in the expected state.
func (p *pool) move(id int, from, to slotState) bool {
	if !p.valid(id) || p.slots[id].state != from {
		return false
	}
	p.slots[id].state = to
	if to == slotFree {
		p.slots[id].frames = 0
	}
	return true
}

// held reports whether slot id is filled with audio the device has not
// accepted yet
func (p *pool) held(id int) bool {
	return p.slots[id].state == slotFilling && p.slots[id].frames > 0
}

// count returns how many slots are in state s
func (p *pool) count(s slotState) int {
	n := 0
	for i := range p.slots {
		if p.slots[i].state == s {
			n++
		}
	}
	return n
}

// fill copies data into slot id, growing its storage only when the format
// needs more bytes than the slot has held before.
func (p *pool) fill(id int, format audio.Format, data []byte) []byte {
	s := &p.slots[id]
	need := format.BytesForFrames(p.capacity)
	if cap(s.data) < need {
		s.data = make([]byte, 0, need)
	}
	s.data = append(s.data[:0], data...)
	s.frames = len(data) / format.FrameSize()
	s.format = format
	return s.data
}

// reset returns every slot to Free and reports how many were queued or filling
func (p *pool) reset() (queued, filling int) {
	for i := range p.slots {
		switch p.slots[i].state {
		case slotQueued:
			queued++
		case slotFilling:
			filling++
		}
		p.slots[i].state = slotFree
		p.slots[i].frames = 0
	}
	return queued, filling
}
