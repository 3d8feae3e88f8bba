package stats

import (
	"context"
	"testing"
	"time"
)

func TestRunDiskSamplerReturnsOnContextCancel(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.RunDiskSampler(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDiskSampler did not return after context cancellation")
	}
}
