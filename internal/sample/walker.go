package sample

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Walker simulates a converter by random-walking a value inside [0, Max] and
// publishing it into an Atomic on every interval.
type Walker struct {
	Out  *Atomic
	Max  uint16
	Step int
	rng  *rand.Rand
}

func NewWalker(out *Atomic, res Resolution, step int) *Walker {
	if step <= 0 {
		step = 64
	}
	return &Walker{
		Out:  out,
		Max:  res.Max,
		Step: step,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next advances the walk once and stores the result.
func (w *Walker) Next() uint16 {
	cur := int(w.Out.Sample())
	cur += w.rng.Intn(2*w.Step+1) - w.Step
	if cur < 0 {
		cur = 0
	}
	if cur > int(w.Max) {
		cur = int(w.Max)
	}
	w.Out.Store(uint16(cur))
	return uint16(cur)
}

// Run publishes a new value every interval until ctx is done.
func (w *Walker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Debug().Dur("interval", interval).Uint16("max", w.Max).Msg("sample walker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Next()
		}
	}
}
