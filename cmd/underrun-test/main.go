// ABOUTME: Test app to verify dropout counting
// ABOUTME: Plays a tone into the virtual device while the producer stalls on a schedule
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output/device"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/source"
	"github.com/charmbracelet/log"
)

var (
	duration = flag.Duration("duration", 5*time.Second, "How long to play")
	stallAt  = flag.Int("stall-every", 20, "Stall the producer on every Nth call (0 disables)")
	stallFor = flag.Duration("stall", 300*time.Millisecond, "How long each stall lasts")
	speed    = flag.Float64("speed", 1, "Virtual device clock speed")
)

func main() {
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Level: log.DebugLevel})

	fmt.Println("=== Dropout Test App ===")
	fmt.Println("This test will:")
	fmt.Println("1. Play a test tone into a virtual device running on the wall clock")
	fmt.Println("2. Stall the producer longer than the queued audio lasts")
	fmt.Println("3. Report how many times the device ran dry")
	fmt.Println()

	tone := source.NewProducer(source.NewTestTone(0, 0))
	defer tone.Close()

	calls := 0
	producer := output.ProducerFunc(func(ctx context.Context, f audio.Format, frames int) ([]byte, error) {
		calls++
		if *stallAt > 0 && calls%*stallAt == 0 {
			select {
			case <-time.After(*stallFor):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return tone.Produce(ctx, f, frames)
	})

	dev := device.NewVirtual(device.VirtualConfig{Speed: *speed, Logger: logger})
	defer dev.Close()

	// 3 x 1024 frames at 48kHz is 64ms of audio, well under a 300ms stall
	engine, err := output.New(dev, producer, output.Config{
		Format:          audio.Format{Channels: 2, SampleRate: 48000, Encoding: audio.PCM16},
		BufferFrames:    1024,
		ProducerTimeout: -1,
		Logger:          logger,
	})
	if err != nil {
		log.Fatal("Failed to create engine", "err", err)
	}
	defer engine.Close()

	if err := engine.Start(); err != nil {
		log.Fatal("Failed to start", "err", err)
	}
	time.Sleep(*duration)
	engine.Stop()

	stats := engine.Stats()
	played, silence := dev.Played()
	fmt.Printf("submitted=%d frames=%d drops=%d\n", stats.Submitted, stats.FramesSubmitted, stats.Drops)
	fmt.Printf("device played %d audio bytes and %d silence bytes\n", played, silence)
	log.Info("Test complete")
}
