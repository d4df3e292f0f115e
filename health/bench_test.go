package health

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkAggregator_CheckAll(b *testing.B) {
	for _, n := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("checkers=%d", n), func(b *testing.B) {
			agg := NewAggregator(AggregatorConfig{})
			for i := range n {
				agg.Register(fixed(fmt.Sprintf("c%d", i), Healthy("")))
			}
			ctx := context.Background()

			b.ReportAllocs()
			for b.Loop() {
				_ = agg.CheckAll(ctx)
			}
		})
	}
}

func BenchmarkUsageChecker_Check(b *testing.B) {
	checker := NewUsageChecker(fixedUsage{used: 400, limit: 1000}, UsageCheckerConfig{})
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		_ = checker.Check(ctx)
	}
}
