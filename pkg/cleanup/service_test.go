package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingPruner struct {
	calls atomic.Int64
}

func (p *countingPruner) PruneCompleted(time.Duration) int {
	p.calls.Add(1)
	return 1
}

func TestServicePrunesOnStartAndTick(t *testing.T) {
	pruner := &countingPruner{}
	svc := NewService(pruner, time.Hour, 10*time.Millisecond, nil)

	svc.Start(context.Background())
	assert.Eventually(t, func() bool {
		return pruner.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	svc.Stop()
}

func TestServiceStopWithoutStart(t *testing.T) {
	svc := NewService(&countingPruner{}, 0, 0, nil)
	svc.Stop()
}

func TestServiceStartTwice(t *testing.T) {
	pruner := &countingPruner{}
	svc := NewService(pruner, time.Hour, time.Hour, nil)
	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
	assert.Equal(t, int64(1), pruner.calls.Load())
}
