package sampler

import (
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/tracer"
)

var (
	_ tracer.Sampler = Always{}
	_ tracer.Sampler = Never{}
	_ tracer.Sampler = (*Percentage)(nil)
)

// Always samples every trace.
type Always struct{}

func (Always) IsSampled(*tracer.Trace) bool { return true }

// Never samples nothing.
type Never struct{}

func (Never) IsSampled(*tracer.Trace) bool { return false }

const bitSetSize = 100

// Percentage samples a fixed share of calls. It walks a shuffled 100 slot bit
// set round-robin, so every 100 consecutive calls sample exactly percentage.
type Percentage struct {
	mu      sync.Mutex
	bits    [bitSetSize]bool
	counter int
}

// NewPercentage returns Never below 1, Always above 99.
func NewPercentage(percentage int) tracer.Sampler {
	switch {
	case percentage < 1:
		return Never{}
	case percentage > 99:
		return Always{}
	}
	return newPercentage(percentage, rand.Intn)
}

func newPercentage(percentage int, intn func(int) int) *Percentage {
	p := &Percentage{}
	// reservoir sampling of percentage slots out of bitSetSize
	chosen := make([]int, percentage)
	for i := 0; i < percentage; i++ {
		chosen[i] = i
		p.bits[i] = true
	}
	for i := percentage; i < bitSetSize; i++ {
		if j := intn(i + 1); j < percentage {
			p.bits[chosen[j]] = false
			p.bits[i] = true
			chosen[j] = i
		}
	}
	return p
}

func (p *Percentage) IsSampled(*tracer.Trace) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sampled := p.bits[p.counter]
	p.counter = (p.counter + 1) % bitSetSize
	return sampled
}

// FromConfig builds the sampler named by config.KeySampling: "always",
// "never" or a percentage. Anything else samples everything.
func FromConfig(vp *viper.Viper) tracer.Sampler {
	raw := vp.GetString(config.KeySampling)
	switch raw {
	case "", "always":
		return Always{}
	case "never":
		return Never{}
	}
	percentage := vp.GetInt(config.KeySampling)
	if percentage == 0 && raw != "0" {
		logrus.WithField("sampling", raw).Warn("apmtrace couldn't parse sampling, sampling everything")
		return Always{}
	}
	return NewPercentage(percentage)
}
