// ABOUTME: FIFO of submitted buffers shared by the device backends
// ABOUTME: Hands bytes to a playback pull, pads starvation with silence and reports completions
package device

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

// frameEpsilon absorbs float error when converting a duration to frames
const frameEpsilon = 1e-9

type entry struct {
	id     int
	data   []byte
	off    int
	format audio.Format
}

// queue is consumed by a playback goroutine or callback and fed by the
// engine worker. A buffer is complete once its last byte has been pulled.
type queue struct {
	mu        sync.Mutex
	entries   []entry
	completed []int
	notify    chan struct{}

	played  uint64 // bytes of submitted audio pulled
	starved uint64 // bytes of silence inserted while empty
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(id int, data []byte, format audio.Format) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.id == id {
			return fmt.Errorf("buffer %d is already queued", id)
		}
	}
	q.entries = append(q.entries, entry{id: id, data: data, format: format})
	return nil
}

// pull moves up to n bytes out of the queue into dst, which may be nil to
// discard them. The rest of dst is filled with silence. It returns the
// number of bytes that came from submitted buffers.
func (q *queue) pull(dst []byte, n int, silence byte) int {
	q.mu.Lock()
	done := false
	got := 0
	for got < n && len(q.entries) > 0 {
		e := &q.entries[0]
		c := min(n-got, len(e.data)-e.off)
		if dst != nil {
			copy(dst[got:], e.data[e.off:e.off+c])
		}
		e.off += c
		got += c
		if e.off == len(e.data) {
			q.completed = append(q.completed, e.id)
			q.entries = q.entries[1:]
			done = true
		}
	}
	q.played += uint64(got)
	q.starved += uint64(n - got)
	q.mu.Unlock()

	if dst != nil {
		for i := got; i < n && i < len(dst); i++ {
			dst[i] = silence
		}
	}
	if done {
		q.signal()
	}
	return got
}

// take consumes whole frames from the head buffer worth at most secs of
// playback at that buffer's own rate, copying them into dst when dst is not
// nil (at most len(dst) bytes). It returns the head's format, the bytes
// consumed and the playback time they cover. ok is false when nothing is
// queued.
func (q *queue) take(dst []byte, secs float64) (format audio.Format, n int, used float64, ok bool) {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return audio.Unset, 0, 0, false
	}
	e := &q.entries[0]
	format = e.format
	fs := format.FrameSize()

	frames := int(secs*float64(format.SampleRate) + frameEpsilon)
	frames = min(frames, (len(e.data)-e.off)/fs)
	if dst != nil {
		frames = min(frames, len(dst)/fs)
	}
	n = frames * fs
	if dst != nil {
		copy(dst, e.data[e.off:e.off+n])
	}
	e.off += n
	q.played += uint64(n)

	done := e.off == len(e.data)
	if done {
		q.completed = append(q.completed, e.id)
		q.entries = q.entries[1:]
	}
	q.mu.Unlock()

	if done {
		q.signal()
	}
	return format, n, float64(frames) / float64(format.SampleRate), true
}

// starve records n bytes of silence played while nothing was queued
func (q *queue) starve(n int) {
	q.mu.Lock()
	q.starved += uint64(n)
	q.mu.Unlock()
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) poll(dst []int) []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dst = append(dst, q.completed...)
	q.completed = q.completed[:0]
	return dst
}

func (q *queue) queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// flush drops queued buffers without reporting them complete
func (q *queue) flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	q.completed = q.completed[:0]
	return n
}

func (q *queue) counters() (played, starved uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.played, q.starved
}
