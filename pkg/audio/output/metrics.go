// ABOUTME: OpenTelemetry instruments recorded by the engine
// ABOUTME: Counts drops, submissions and failures and times producer calls
package output

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for engine metrics
const meterName = "github.com/Resonate-Protocol/pcmstream/pkg/audio/output"

type metrics struct {
	attrs metric.MeasurementOption

	drops            metric.Int64Counter
	buffersSubmitted metric.Int64Counter
	framesSubmitted  metric.Int64Counter
	deviceErrors     metric.Int64Counter
	producerTimeouts metric.Int64Counter
	produceDuration  metric.Float64Histogram
}

// produceBuckets are histogram boundaries in seconds for producer calls
var produceBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
}

func newMetrics(mp metric.MeterProvider, engineID string) (*metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &metrics{
		attrs: metric.WithAttributes(attribute.String("engine", engineID)),
	}

	if met.drops, err = m.Int64Counter("pcmstream.engine.drops",
		metric.WithDescription("Cycles in which the device had nothing queued while playing."),
	); err != nil {
		return nil, err
	}
	if met.buffersSubmitted, err = m.Int64Counter("pcmstream.engine.buffers_submitted",
		metric.WithDescription("Buffers handed to the output device."),
	); err != nil {
		return nil, err
	}
	if met.framesSubmitted, err = m.Int64Counter("pcmstream.engine.frames_submitted",
		metric.WithDescription("PCM frames handed to the output device."),
	); err != nil {
		return nil, err
	}
	if met.deviceErrors, err = m.Int64Counter("pcmstream.engine.device_errors",
		metric.WithDescription("Buffer submissions rejected by the output device."),
	); err != nil {
		return nil, err
	}
	if met.producerTimeouts, err = m.Int64Counter("pcmstream.engine.producer_timeouts",
		metric.WithDescription("Producer calls that did not return within the timeout."),
	); err != nil {
		return nil, err
	}
	if met.produceDuration, err = m.Float64Histogram("pcmstream.engine.produce.duration",
		metric.WithDescription("Latency of producer calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(produceBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *metrics) recordDrop(ctx context.Context) {
	m.drops.Add(ctx, 1, m.attrs)
}

func (m *metrics) recordSubmit(ctx context.Context, frames int) {
	m.buffersSubmitted.Add(ctx, 1, m.attrs)
	m.framesSubmitted.Add(ctx, int64(frames), m.attrs)
}

func (m *metrics) recordDeviceError(ctx context.Context) {
	m.deviceErrors.Add(ctx, 1, m.attrs)
}

func (m *metrics) recordProduce(ctx context.Context, d time.Duration, timedOut bool) {
	m.produceDuration.Record(ctx, d.Seconds(), m.attrs)
	if timedOut {
		m.producerTimeouts.Add(ctx, 1, m.attrs)
	}
}
