// ABOUTME: Audio output package for streaming PCM to a device
// ABOUTME: Provides the buffer-queueing Engine and the Device and Producer contracts
// Package output streams PCM audio from a pull-based Producer to an output
// Device through a small ring of fixed-size buffers.
//
// The Engine owns the buffers, the transport state (Stopped, Playing,
// Paused), the current Format and a drop counter. A single worker goroutine
// reclaims buffers the device has finished with, refills them from the
// producer and submits them back to the device. Pausing stops new
// submissions but lets queued audio play out; stopping flushes the device.
//
// Example:
//
//	dev := device.NewVirtual(device.VirtualConfig{})
//	eng, err := output.New(dev, source.NewProducer(source.NewTestTone(0, 0)), output.Config{
//	    Format: audio.Format{Channels: 2, SampleRate: 48000, Encoding: audio.PCM16},
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//	err = eng.Start()
package output
