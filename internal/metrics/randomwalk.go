package metrics

import (
	"context"
	"math/rand/v2"
	"sync"
)

// RandomWalk drifts a starting snapshot a little on every call. It stands in
// for a live feed.
type RandomWalk struct {
	mu  sync.Mutex
	cur Snapshot
	rng *rand.Rand
}

// Baseline is the snapshot a walk starts from.
func Baseline() Snapshot {
	return Snapshot{
		Battery:    87,
		CPU:        34,
		Memory:     61,
		Storage:    73,
		Signal:     4,
		Network:    "T-Mobile 5G",
		IP:         "192.168.1.42",
		Uptime:     "14h 32m",
		DeviceName: "Pixel 9 Pro",
	}
}

func NewRandomWalk(seed uint64) *RandomWalk {
	return &RandomWalk{
		cur: Baseline(),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (w *RandomWalk) Next(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cur.CPU = clamp(w.cur.CPU+(w.rng.Float64()-0.5)*10, 5, 95)
	w.cur.Memory = clamp(w.cur.Memory+(w.rng.Float64()-0.5)*3, 20, 90)
	w.cur.Battery = clamp(w.cur.Battery-0.04, 10, 100)
	return w.cur, nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
