// ABOUTME: Adapts a Source to the output engine's Producer contract
// ABOUTME: Matches rate and channels to the requested format and encodes samples
package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/charmbracelet/log"
)

// Producer pulls from a Source on behalf of the engine. Adaptive sources are
// reconfigured to the output format; others are resampled when their rate
// differs and have their channels mapped.
type Producer struct {
	mu      sync.Mutex
	src     Source
	active  Source // src, or a resampler around it
	rate    int    // output rate active was built for
	ended   bool
	samples []int32
	mapped  []int32
	out     []byte
	logger  *log.Logger
}

// NewProducer creates a producer reading from src
func NewProducer(src Source) *Producer {
	return &Producer{
		src:    src,
		active: src,
		logger: log.Default().With("source", sourceTitle(src)),
	}
}

func sourceTitle(src Source) string {
	title, _, _ := src.Metadata()
	return title
}

// Produce implements output.Producer
func (p *Producer) Produce(ctx context.Context, format audio.Format, frames int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return nil, nil
	}
	p.bind(format)

	srcCh := p.active.Channels()
	need := frames * srcCh
	if cap(p.samples) < need {
		p.samples = make([]int32, need)
	}

	n, err := p.active.Read(p.samples[:need])
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		p.ended = true
		p.logger.Info("Source ended")
	}

	got := n / srcCh
	mapped := p.mapChannels(p.samples[:got*srcCh], srcCh, format.Channels)
	p.out = audio.AppendSamples(p.out[:0], mapped, format.Encoding)
	return p.out, nil
}

// bind prepares the active source for format (must hold p.mu)
func (p *Producer) bind(format audio.Format) {
	if a, ok := p.src.(Adaptive); ok {
		if a.SampleRate() != format.SampleRate || a.Channels() != format.Channels {
			a.Configure(format.SampleRate, format.Channels)
		}
		return
	}
	if p.rate == format.SampleRate {
		return
	}
	p.rate = format.SampleRate
	if p.src.SampleRate() == format.SampleRate {
		p.active = p.src
		return
	}
	p.logger.Info("Resampling", "from", p.src.SampleRate(), "to", format.SampleRate)
	p.active = newResampled(p.src, format.SampleRate)
}

// mapChannels converts interleaved samples between channel counts. Mono
// is copied to every output channel, a mix down to mono averages, and
// otherwise channels are matched by index with extra outputs silent.
func (p *Producer) mapChannels(in []int32, from, to int) []int32 {
	if from == to {
		return in
	}
	frames := len(in) / from
	need := frames * to
	if cap(p.mapped) < need {
		p.mapped = make([]int32, need)
	}
	out := p.mapped[:need]

	for i := 0; i < frames; i++ {
		src := in[i*from : (i+1)*from]
		dst := out[i*to : (i+1)*to]
		switch {
		case from == 1:
			for c := range dst {
				dst[c] = src[0]
			}
		case to == 1:
			var sum int64
			for _, s := range src {
				sum += int64(s)
			}
			dst[0] = int32(sum / int64(from))
		default:
			for c := range dst {
				if c < from {
					dst[c] = src[c]
				} else {
					dst[c] = 0
				}
			}
		}
	}
	return out
}

// Source returns the wrapped source
func (p *Producer) Source() Source {
	return p.src
}

// Close closes the wrapped source
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src.Close()
}
