package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRunTransformPoolPreservesOrder(t *testing.T) {
	in := make(chan Doc)
	out := make(chan Doc)

	const n = 250
	go func() {
		defer close(in)
		for i := 0; i < n; i++ {
			in <- Doc{IndexName: "idx", DocID: fmt.Sprint(i), SegmentOrdinal: int64(i)}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTransformPool(context.Background(), 8, 10, func(_ context.Context, d Doc) (Doc, error) {
			// Reverse-biased sleep so later sub-batches are likelier to
			// finish first, stressing the ordering guarantee.
			time.Sleep(time.Duration(n-int(d.SegmentOrdinal)) * time.Microsecond)
			d.SourceJSON = []byte("transformed")
			return d, nil
		}, in, out)
	}()

	var got []int64
	for d := range out {
		got = append(got, d.SegmentOrdinal)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("runTransformPool: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d docs, got %d", n, len(got))
	}
	for i, ord := range got {
		if ord != int64(i) {
			t.Fatalf("order violated at position %d: got ordinal %d", i, ord)
		}
	}
}

func TestRunTransformPoolPropagatesError(t *testing.T) {
	in := make(chan Doc, 1)
	in <- Doc{IndexName: "idx", DocID: "bad"}
	close(in)
	out := make(chan Doc)

	boom := fmt.Errorf("boom")
	go func() {
		for range out {
		}
	}()
	err := runTransformPool(context.Background(), 2, 10, func(_ context.Context, d Doc) (Doc, error) {
		return Doc{}, boom
	}, in, out)
	if err != boom {
		t.Fatalf("expected transform error to propagate, got %v", err)
	}
}
