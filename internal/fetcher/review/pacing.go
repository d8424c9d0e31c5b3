package review

import (
	"math/rand/v2"
	"time"
)

// pacer produces the jittered delay between successful pages.
type pacer struct {
	cfg  Pacing
	rand func() float64
}

func newPacer(cfg Pacing, source func() float64) pacer {
	if source == nil {
		source = rand.Float64
	}
	return pacer{cfg: cfg, rand: source}
}

// next returns base jitter plus the independent probabilistic extras.
func (p pacer) next() time.Duration {
	delay := p.uniform(p.cfg.Min, p.cfg.Max)
	if p.rand() < p.cfg.ExtraChance {
		delay += p.uniform(p.cfg.ExtraMin, p.cfg.ExtraMax)
	}
	if p.rand() < p.cfg.LongChance {
		delay += p.uniform(p.cfg.LongMin, p.cfg.LongMax)
	}
	return delay
}

func (p pacer) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rand()*float64(hi-lo))
}
