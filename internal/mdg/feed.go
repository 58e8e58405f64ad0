package mdg

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"quoter/pkg/exception"
)

const DefaultInterval = 100 * time.Millisecond

// Feed publishes generated ticks into a sink at a fixed interval.
type Feed struct {
	gen      *Generator
	norm     *Normalizer
	sink     Sink
	interval time.Duration
}

func NewFeed(gen *Generator, norm *Normalizer, sink Sink, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Feed{
		gen:      gen,
		norm:     norm,
		sink:     sink,
		interval: interval,
	}
}

// Step publishes one tick. Ticks produced while the sink is disconnected are dropped.
func (f *Feed) Step(now time.Time) error {
	err := f.norm.Publish(f.sink, f.gen.Next(now))
	if errors.Is(err, exception.ErrNotConnected) {
		return nil
	}
	return err
}

// Run publishes until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := f.Step(now); err != nil {
				logs.Warnf("paper feed step failed, err: %+v", err)
			}
		}
	}
}
