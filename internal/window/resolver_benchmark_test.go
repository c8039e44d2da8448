package window

import (
	"testing"
	"time"
)

func BenchmarkResolverResolve(b *testing.B) {
	loc := ReferenceLocation()
	normal := Window{OpenDay: Monday, CloseDay: Friday, OpenTime: MustParseTimeOfDay("12:00"), CloseTime: MustParseTimeOfDay("18:00")}
	privilege := Window{OpenDay: Saturday, CloseDay: Tuesday, OpenTime: MustParseTimeOfDay("09:00"), CloseTime: MustParseTimeOfDay("20:00")}
	start := time.Date(2026, time.October, 12, 0, 0, 0, 0, loc)

	for _, mode := range []Mode{ModeDaily, ModeContinuous} {
		resolver := NewResolver(loc, mode)
		b.Run(string(mode), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				now := start.Add(time.Duration(i%(7*24*60)) * time.Minute)
				_ = resolver.Resolve(now, normal, privilege)
			}
		})
	}
}
