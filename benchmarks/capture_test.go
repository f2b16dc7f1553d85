package benchmarks

import (
	"context"
	"testing"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/capture"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

func discardWrite(context.Context, []store.ItemChange, func() time.Time) error {
	return nil
}

func newBenchBuffer() *capture.Buffer[string, store.ItemChange] {
	return capture.NewBuffer(capture.BufferConfig[string, store.ItemChange]{
		Stream: "bench",
		Delay:  time.Hour,
		Key:    func(c store.ItemChange) string { return c.ItemID },
		Write:  discardWrite,
	})
}

// BenchmarkBuffer_Add measures appending and re-arming the debounce timer.
func BenchmarkBuffer_Add(b *testing.B) {
	buf := newBenchBuffer()
	ctx := context.Background()
	change := store.ItemChange{ItemID: "item-1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Add(ctx, change)
		if buf.Pending() >= 10000 {
			b.StopTimer()
			_ = buf.Flush(ctx)
			b.StartTimer()
		}
	}
	b.StopTimer()
	_ = buf.Close(ctx)
}

// BenchmarkBuffer_Flush_Coalesce measures coalescing 1000 entries over 100
// distinct keys.
func BenchmarkBuffer_Flush_Coalesce(b *testing.B) {
	buf := newBenchBuffer()
	ctx := context.Background()
	batch := itemBatch(100, 0, benchStart)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 10; j++ {
			for _, c := range batch {
				_ = buf.Add(ctx, c)
			}
		}
		b.StartTimer()
		if err := buf.Flush(ctx); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	_ = buf.Close(ctx)
}
