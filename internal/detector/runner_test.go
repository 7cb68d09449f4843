package detector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTicker struct {
	ticks atomic.Int32
}

func (c *countingTicker) Name() string { return "counting" }

func (c *countingTicker) Tick(context.Context) (int, error) {
	c.ticks.Add(1)
	return 0, nil
}

func TestRunnerSchedulesTicks(t *testing.T) {
	r := NewRunner(nil)
	ticker := &countingTicker{}
	r.Add(ticker, time.Second)
	r.Start()

	assert.Eventually(t, func() bool { return ticker.ticks.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
