// Package metrics produces device metric snapshots for the console's status
// panel, either from a live feed or from a simulator.
package metrics

import (
	"context"
	"time"
)

type Snapshot struct {
	Battery    float64 `json:"battery"`
	CPU        float64 `json:"cpu"`
	Memory     float64 `json:"memory"`
	Storage    float64 `json:"storage"`
	Signal     int     `json:"signal"`
	Network    string  `json:"network"`
	IP         string  `json:"ip"`
	Uptime     string  `json:"uptime"`
	DeviceName string  `json:"deviceName"`
	// Live is false for simulated snapshots.
	Live bool `json:"-"`
}

// Source produces the next snapshot.
type Source interface {
	Next(ctx context.Context) (Snapshot, error)
}

// Fallback reads Live and falls back to Sim whenever Live fails.
type Fallback struct {
	Live Source
	Sim  Source
}

func (f Fallback) Next(ctx context.Context) (Snapshot, error) {
	if f.Live != nil {
		snap, err := f.Live.Next(ctx)
		if err == nil {
			snap.Live = true
			return snap, nil
		}
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
	}
	snap, err := f.Sim.Next(ctx)
	snap.Live = false
	return snap, err
}

// Poll calls fn with a snapshot every interval until ctx ends.
func Poll(ctx context.Context, src Source, every time.Duration, fn func(Snapshot, error)) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		snap, err := src.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		fn(snap, err)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
