// ABOUTME: Tests for the fill-submit-reclaim cycle
// ABOUTME: Covers underrun counting, short reads, device errors, timeouts and the worker
package output

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleFillsEveryFreeBuffer(t *testing.T) {
	dev := &mock.Device{}
	calls := 0
	e := newTestEngine(t, dev, silence(&calls), Config{Format: cdFormat, Buffers: 3, BufferFrames: 128})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, dev.Queued())
	assert.Equal(t, 3*128, dev.SubmittedFrames())
	assert.Equal(t, 0, e.Stats().Free)
	assert.Equal(t, 3, e.Stats().Queued)

	// Nothing free, nothing to do
	e.cycle()
	assert.Equal(t, 3, calls)
}

func TestCycleIdleWhenNotPlaying(t *testing.T) {
	dev := &mock.Device{}
	calls := 0
	e := newTestEngine(t, dev, silence(&calls), Config{Format: cdFormat})

	e.cycle()
	e.Pause()
	e.cycle()

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, dev.CallCountSubmit)
}

func TestSteadyPlaybackHasNoDrops(t *testing.T) {
	dev := &mock.Device{}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat, Buffers: 3, BufferFrames: 100})

	require.NoError(t, e.Start())
	const cycles = 20
	for i := 0; i < cycles; i++ {
		e.cycle()
		dev.Complete(1)
	}

	assert.Equal(t, uint64(0), e.Drops())
	// 3 buffers primed on the first pass, then one refill per pass
	assert.Equal(t, 3+cycles-1, dev.SubmissionCount())
	assert.Equal(t, dev.SubmissionCount()*100, dev.SubmittedFrames())
}

func TestEveryDryCycleCountsOneDrop(t *testing.T) {
	tests := []struct {
		name     string
		producer func(*int) ProducerFunc
		want     []uint64
	}{
		// the refill after the first dry pass keeps the device fed again
		{"full producer", silence, []uint64{1, 1, 1, 1}},
		{"empty producer", empty, []uint64{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &mock.Device{}
			var feeding atomic.Bool
			feeding.Store(true)
			after := tt.producer(nil)
			p := ProducerFunc(func(ctx context.Context, f audio.Format, frames int) ([]byte, error) {
				if feeding.Load() {
					return make([]byte, f.BytesForFrames(frames)), nil
				}
				return after(ctx, f, frames)
			})
			e := newTestEngine(t, dev, p, Config{Format: cdFormat})

			require.NoError(t, e.Start())
			e.cycle()
			require.Equal(t, 3, dev.Queued())
			feeding.Store(false)

			dev.Drain()
			for i, want := range tt.want {
				e.cycle()
				assert.Equal(t, want, e.Drops(), "after dry cycle %d", i+1)
			}
		})
	}
}

func TestDryQueueAfterStartIsNotADrop(t *testing.T) {
	dev := &mock.Device{}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()
	assert.Equal(t, uint64(0), e.Drops())

	// Drained while paused: not an underrun
	e.Pause()
	dev.Drain()
	require.NoError(t, e.Start())
	e.cycle()
	assert.Equal(t, uint64(0), e.Drops())
	assert.Equal(t, 3, dev.Queued())
}

func TestEmptyProducerDropsEveryCycle(t *testing.T) {
	dev := &mock.Device{}
	calls := 0
	e := newTestEngine(t, dev, empty(&calls), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	for i := 0; i < 5; i++ {
		e.cycle()
	}

	// the first pass after Start is a warm-up, the other four are dry
	assert.Equal(t, uint64(4), e.Drops())
	assert.Equal(t, 0, dev.CallCountSubmit)
	assert.Equal(t, 5*3, calls)
	assert.Equal(t, int64(5*3), e.Stats().EmptyReads)
	assert.Equal(t, 3, e.Stats().Free)
}

func TestShortReadsSubmitWhatWasReturned(t *testing.T) {
	dev := &mock.Device{}
	p := ProducerFunc(func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		// half a buffer plus a stray byte
		return make([]byte, f.BytesForFrames(frames/2)+1), nil
	})
	e := newTestEngine(t, dev, p, Config{Format: cdFormat, Buffers: 2, BufferFrames: 64})

	require.NoError(t, e.Start())
	e.cycle()

	require.Equal(t, 2, dev.SubmissionCount())
	last, ok := dev.LastSubmission()
	require.True(t, ok)
	assert.Equal(t, 32, last.Frames)
	assert.Len(t, last.Data, cdFormat.BytesForFrames(32))
	assert.Equal(t, int64(2), e.Stats().ShortReads)
	assert.Equal(t, uint64(0), e.Drops())
}

func TestOversizedReadIsTruncated(t *testing.T) {
	dev := &mock.Device{}
	p := ProducerFunc(func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		return make([]byte, f.BytesForFrames(frames*2)), nil
	})
	e := newTestEngine(t, dev, p, Config{Format: cdFormat, Buffers: 2, BufferFrames: 64})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 2*64, dev.SubmittedFrames())
}

func TestProducerErrorCountsAsEmpty(t *testing.T) {
	dev := &mock.Device{}
	p := ProducerFunc(func(context.Context, audio.Format, int) ([]byte, error) {
		return []byte{1, 2, 3, 4}, errors.New("decoder hiccup")
	})
	e := newTestEngine(t, dev, p, Config{Format: cdFormat, Buffers: 2})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 0, dev.CallCountSubmit)
	assert.Equal(t, int64(2), e.Stats().ProducerErrors)
	assert.Equal(t, 2, e.Stats().Free)
}

func TestFormatChangeAppliesAtNextSubmission(t *testing.T) {
	dev := &mock.Device{}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat, Buffers: 2, BufferFrames: 32})

	require.NoError(t, e.Start())
	e.cycle()

	mono := audio.Format{Channels: 1, SampleRate: 44100, Encoding: audio.Float32}
	require.NoError(t, e.SetFormat(mono))
	assert.Equal(t, 2, dev.Queued(), "queued buffers are left to drain")

	dev.Complete(1)
	e.cycle()

	require.Equal(t, 3, dev.SubmissionCount())
	assert.Equal(t, cdFormat, dev.Submissions[0].Format)
	assert.Equal(t, cdFormat, dev.Submissions[1].Format)
	assert.Equal(t, mono, dev.Submissions[2].Format)
	assert.Len(t, dev.Submissions[2].Data, mono.BytesForFrames(32))
}

func TestFormatSetWhilePausedAppliesOnStart(t *testing.T) {
	dev := &mock.Device{}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat, Buffers: 2})

	require.NoError(t, e.Start())
	e.Pause()

	mono := audio.Format{Channels: 1, SampleRate: 22050, Encoding: audio.PCM8}
	require.NoError(t, e.SetFormat(mono))
	require.NoError(t, e.Start())
	e.cycle()

	last, ok := dev.LastSubmission()
	require.True(t, ok)
	assert.Equal(t, mono, last.Format)
}

func TestStopFlushesAndHaltsProducer(t *testing.T) {
	dev := &mock.Device{}
	calls := 0
	e := newTestEngine(t, dev, silence(&calls), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()
	require.Equal(t, 3, dev.Queued())

	e.Stop()
	assert.Equal(t, 0, dev.Queued())
	assert.Equal(t, 1, dev.CallCountFlush)
	assert.Equal(t, 3, e.Stats().Free)

	before := calls
	for i := 0; i < 3; i++ {
		e.cycle()
	}
	assert.Equal(t, before, calls)

	require.NoError(t, e.Start())
	e.cycle()
	assert.Equal(t, before+3, calls)
}

func TestPauseLeavesQueuedBuffers(t *testing.T) {
	dev := &mock.Device{}
	calls := 0
	e := newTestEngine(t, dev, silence(&calls), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()
	e.Pause()

	assert.Equal(t, 3, dev.Queued())
	assert.Equal(t, 0, dev.CallCountFlush)

	dev.Complete(2)
	e.cycle()
	assert.Equal(t, 3, calls, "no fills while paused")

	require.NoError(t, e.Start())
	e.cycle()
	assert.Equal(t, 5, calls)
	assert.Equal(t, 3, dev.Queued())
}

func TestStopDuringProduceDiscardsBuffer(t *testing.T) {
	dev := &mock.Device{}
	var e *Engine
	p := ProducerFunc(func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		e.Stop()
		return make([]byte, f.BytesForFrames(frames)), nil
	})
	e = newTestEngine(t, dev, p, Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 0, dev.CallCountSubmit)
	assert.Equal(t, 3, e.Stats().Free)
	assert.Equal(t, Stopped, e.State())
}

func TestPauseDuringProduceReturnsSlotToFree(t *testing.T) {
	dev := &mock.Device{}
	var e *Engine
	p := ProducerFunc(func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		e.Pause()
		return make([]byte, f.BytesForFrames(frames)), nil
	})
	e = newTestEngine(t, dev, p, Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 0, dev.CallCountSubmit)
	assert.Equal(t, 3, e.Stats().Free)
	assert.Equal(t, Paused, e.State())
}

func TestTransientDeviceErrorRetries(t *testing.T) {
	dev := &mock.Device{SubmitErrors: []error{mock.ErrRejected}}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 2, dev.Queued())
	assert.Equal(t, int64(1), e.Stats().DeviceErrors)
	assert.Equal(t, uint64(0), e.Drops())
	assert.NoError(t, e.Err())

	e.cycle()
	assert.Equal(t, 3, dev.Queued())
}

func TestDeviceBusyStopsPass(t *testing.T) {
	dev := &mock.Device{SubmitErrors: []error{ErrDeviceBusy}}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat, MaxDeviceErrors: 1})

	require.NoError(t, e.Start())
	e.cycle()

	assert.Equal(t, 0, dev.Queued())
	assert.Equal(t, 1, dev.CallCountSubmit)
	assert.NoError(t, e.Err())

	e.cycle()
	assert.Equal(t, 3, dev.Queued())
}

func TestBusyDeviceKeepsProducedAudio(t *testing.T) {
	dev := &mock.Device{SubmitErrors: []error{nil, nil, ErrDeviceBusy, ErrDeviceBusy, ErrDeviceBusy}}
	var seq byte
	p := ProducerFunc(func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		seq++
		data := make([]byte, f.BytesForFrames(frames))
		data[0] = seq
		return data, nil
	})
	e := newTestEngine(t, dev, p, Config{Format: cdFormat, BufferFrames: 32})

	require.NoError(t, e.Start())
	e.cycle()
	require.Equal(t, 2, dev.Queued())
	assert.Equal(t, byte(3), seq)
	assert.Equal(t, 0, e.Stats().Free, "refused buffer is held, not freed")

	// two more busy replies, then the held buffer goes through
	for i := 0; i < 3; i++ {
		e.cycle()
	}
	assert.Equal(t, byte(3), seq, "no new audio produced while the device was busy")
	require.Equal(t, 3, dev.Queued())

	dev.Complete(3)
	e.cycle()

	var got []byte
	for _, sub := range dev.Submissions {
		got = append(got, sub.Data[0])
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got)
	assert.Equal(t, int64(6), e.Stats().Submitted)
	assert.Equal(t, int64(0), e.Stats().DeviceErrors)
}

func TestStopDiscardsHeldBuffer(t *testing.T) {
	dev := &mock.Device{SubmitErrors: []error{ErrDeviceBusy}}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()
	require.Equal(t, 2, e.Stats().Free)

	e.Stop()
	assert.Equal(t, 3, e.Stats().Free)

	require.NoError(t, e.Start())
	e.cycle()
	assert.Equal(t, 3, dev.Queued())
	assert.Equal(t, 4, dev.CallCountSubmit)
}

func TestPersistentDeviceErrorIsTerminal(t *testing.T) {
	dev := &mock.Device{SubmitError: mock.ErrRejected}
	var reported error
	e := newTestEngine(t, dev, silence(nil), Config{
		Format:          cdFormat,
		MaxDeviceErrors: 4,
		OnError:         func(err error) { reported = err },
	})

	require.NoError(t, e.Start())
	e.cycle()
	assert.NoError(t, e.Err())
	e.cycle()

	err := e.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceFailed)
	assert.ErrorIs(t, err, mock.ErrRejected)
	var devErr *DeviceError
	assert.True(t, errors.As(err, &devErr))
	assert.Equal(t, "submit", devErr.Op)
	assert.Equal(t, err, reported)
	assert.Equal(t, 3, e.Stats().Free, "no buffer left in limbo")

	calls := dev.CallCountSubmit
	e.cycle()
	assert.Equal(t, calls, dev.CallCountSubmit)

	e.Stop()
	assert.ErrorIs(t, e.Start(), ErrDeviceFailed)
	assert.Equal(t, Stopped, e.State())
}

func TestProducerTimeoutCountsAsEmpty(t *testing.T) {
	dev := &mock.Device{}
	release := make(chan struct{})
	var calls atomic.Int32
	p := ProducerFunc(func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		calls.Add(1)
		<-release
		return make([]byte, f.BytesForFrames(frames)), nil
	})
	e := newTestEngine(t, dev, p, Config{Format: cdFormat, ProducerTimeout: 20 * time.Millisecond})

	require.NoError(t, e.Start())
	e.cycle()

	// One call timed out; the other slots were skipped while it was stuck
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), e.Stats().ProducerTimeouts)
	assert.Equal(t, int64(3), e.Stats().EmptyReads)
	assert.Equal(t, 0, dev.CallCountSubmit)

	close(release)
	require.Eventually(t, func() bool {
		e.cycle()
		return dev.Queued() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerEndToEnd(t *testing.T) {
	dev := &mock.Device{}
	e, err := New(dev, silence(nil), Config{
		Format:       cdFormat,
		BufferFrames: 64,
		PollInterval: time.Millisecond,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Start())
	require.Eventually(t, func() bool { return dev.Queued() == 3 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			dev.Complete(1)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return dev.SubmissionCount() >= 13 }, time.Second, time.Millisecond)
	assert.Equal(t, dev.SubmissionCount()*64, dev.SubmittedFrames())

	e.Stop()
	assert.Equal(t, 0, dev.Queued())
	submitted := dev.SubmissionCount()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, submitted, dev.SubmissionCount())
}

func TestWorkerEmptyProducerDrops(t *testing.T) {
	dev := &mock.Device{}
	e, err := New(dev, empty(nil), Config{
		Format:       cdFormat,
		PollInterval: time.Millisecond,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Start())
	require.Eventually(t, func() bool { return e.Drops() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, dev.Queued())
}
