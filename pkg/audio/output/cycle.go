// ABOUTME: Fill-submit-reclaim cycle run by the engine worker
// ABOUTME: Reclaims finished buffers, counts underruns, pulls from the producer and submits
package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

type produceResult struct {
	data []byte
	err  error
}

// run is the worker loop. It is the only caller of cycle.
func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	var completions <-chan struct{}
	if n, ok := e.dev.(Notifier); ok {
		completions = n.Completions()
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		case <-completions:
		case <-ticker.C:
		}
		e.cycle()
	}
}

// cycle performs one reclaim, underrun check, fill and submit pass.
// The engine lock is released while the producer runs; any transition in
// the meantime bumps the generation and the pass abandons its work.
func (e *Engine) cycle() {
	e.mu.Lock()
	if e.state != Playing || e.failure != nil {
		e.mu.Unlock()
		return
	}
	e.reclaimLocked()
	e.detectUnderrunLocked()
	busy, failure := e.retryHeldLocked()
	gen := e.gen
	produceCtx := e.produceCtx
	e.mu.Unlock()

	for id := 0; !busy && failure == nil && id < e.pool.size(); id++ {
		e.mu.Lock()
		if e.gen != gen || e.failure != nil {
			e.mu.Unlock()
			break
		}
		if !e.pool.move(id, slotFree, slotFilling) {
			e.mu.Unlock()
			continue
		}
		format := e.format
		e.mu.Unlock()

		data, err := e.produce(produceCtx, format)

		e.mu.Lock()
		if e.gen != gen {
			// Stop already returned the slot; Pause leaves it filling
			e.pool.move(id, slotFilling, slotFree)
			e.mu.Unlock()
			break
		}
		if e.acceptLocked(id, format, data, err) {
			busy, failure = e.submitLocked(id)
		}
		e.mu.Unlock()
	}

	if failure != nil && e.config.OnError != nil {
		e.config.OnError(failure)
	}
}

// retryHeldLocked resubmits the buffer a busy device turned away, before
// anything new is produced, so the stream keeps its order.
func (e *Engine) retryHeldLocked() (busy bool, failed error) {
	for id := 0; id < e.pool.size(); id++ {
		if !e.pool.held(id) {
			continue
		}
		if busy, failed = e.submitLocked(id); busy || failed != nil {
			return busy, failed
		}
	}
	return false, nil
}

// reclaimLocked moves every buffer the device reports finished back to Free
func (e *Engine) reclaimLocked() {
	e.completed = e.dev.PollCompleted(e.completed[:0])
	for _, id := range e.completed {
		if !e.pool.move(id, slotQueued, slotFree) {
			e.logger.Warn("Device completed a buffer it did not own", "buffer", id)
			continue
		}
		e.stats.Reclaimed++
	}
}

// detectUnderrunLocked counts one drop for every pass that finds the device
// with nothing queued while playing. The first pass after Start only warms
// up, since the device is expected to be empty then.
func (e *Engine) detectUnderrunLocked() {
	if !e.warm {
		e.warm = true
		return
	}
	if e.dev.Queued() > 0 {
		return
	}
	drops := e.drops.Add(1)
	e.metrics.recordDrop(e.ctx)
	e.logger.Warn("Output underrun", "drops", drops)
}

// acceptLocked stores a producer result in slot id and reports whether it
// holds audio to submit. Empty results return the slot to Free.
func (e *Engine) acceptLocked(id int, format audio.Format, data []byte, produceErr error) bool {
	frameSize := format.FrameSize()
	requested := e.pool.capacity
	frames := len(data) / frameSize

	switch {
	case produceErr != nil:
		frames = 0
		if errors.Is(produceErr, context.DeadlineExceeded) {
			e.stats.ProducerTimeouts++
			e.logger.Warn("Producer timed out", "timeout", e.config.ProducerTimeout)
		} else if !errors.Is(produceErr, errProducerBusy) && !errors.Is(produceErr, context.Canceled) {
			e.stats.ProducerErrors++
			e.logger.Warn("Producer failed", "err", produceErr)
		}
	case frames > requested:
		e.logger.Warn("Producer returned more than requested", "requested", requested, "frames", frames)
		frames = requested
	case len(data)%frameSize != 0:
		e.logger.Debug("Dropping partial frame", "bytes", len(data)%frameSize)
	}

	if frames == 0 {
		e.stats.EmptyReads++
		e.pool.move(id, slotFilling, slotFree)
		return false
	}
	if frames < requested {
		e.stats.ShortReads++
	}
	e.pool.fill(id, format, data[:frames*frameSize])
	return true
}

// submitLocked hands the filled slot id to the device. When the device is
// busy the slot stays filled and busy is reported; a non-nil error means
// the device has now failed for good. Every other path leaves the slot
// Free or Queued.
func (e *Engine) submitLocked(id int) (busy bool, failed error) {
	s := &e.pool.slots[id]
	if err := e.dev.Submit(id, s.data, s.format); err != nil {
		if errors.Is(err, ErrDeviceBusy) {
			e.logger.Debug("Device busy, holding buffer for the next cycle", "buffer", id)
			return true, nil
		}
		e.pool.move(id, slotFilling, slotFree)
		return false, e.deviceErrorLocked(&DeviceError{Op: "submit", ID: id, Err: err})
	}

	frames := s.frames
	e.pool.move(id, slotFilling, slotQueued)
	e.deviceErrRun = 0
	e.stats.Submitted++
	e.stats.FramesSubmitted += int64(frames)
	e.metrics.recordSubmit(e.ctx, frames)
	return false, nil
}

// deviceErrorLocked records a failed submission and returns the terminal
// error once failures have run past the configured limit.
func (e *Engine) deviceErrorLocked(err *DeviceError) error {
	e.stats.DeviceErrors++
	e.deviceErrRun++
	e.metrics.recordDeviceError(e.ctx)

	if e.deviceErrRun < e.config.MaxDeviceErrors {
		e.logger.Warn("Device rejected buffer", "buffer", err.ID, "err", err.Err, "consecutive", e.deviceErrRun)
		return nil
	}

	e.failure = fmt.Errorf("%w after %d consecutive errors: %w", ErrDeviceFailed, e.deviceErrRun, err)
	e.cancelProduceLocked()
	e.logger.Error("Device failed, stop and re-create the engine", "err", err)
	return e.failure
}

// produce calls the producer for one buffer, bounded by the producer timeout.
// Only one call may be outstanding: while a timed-out call is still running
// no new call is made and the buffer counts as empty.
func (e *Engine) produce(ctx context.Context, format audio.Format) ([]byte, error) {
	frames := e.pool.capacity

	if e.config.ProducerTimeout < 0 {
		start := time.Now()
		data, err := e.producer.Produce(ctx, format, frames)
		e.metrics.recordProduce(e.ctx, time.Since(start), false)
		return data, err
	}

	if e.pending != nil {
		select {
		case <-e.pending:
			e.pending = nil
			e.logger.Debug("Discarded late producer result")
		default:
			return nil, errProducerBusy
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.ProducerTimeout)
	defer cancel()

	result := make(chan produceResult, 1)
	start := time.Now()
	go func() {
		data, err := e.producer.Produce(callCtx, format, frames)
		result <- produceResult{data: data, err: err}
	}()

	select {
	case r := <-result:
		e.metrics.recordProduce(e.ctx, time.Since(start), false)
		return r.data, r.err
	case <-callCtx.Done():
		e.pending = result
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		e.metrics.recordProduce(e.ctx, time.Since(start), timedOut)
		return nil, callCtx.Err()
	}
}
