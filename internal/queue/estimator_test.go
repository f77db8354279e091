package queue

import (
	"testing"
	"time"
)

// series builds newest-first servedAt timestamps separated by the given
// gaps, oldest gap last.
func series(base time.Time, gaps ...time.Duration) []time.Time {
	times := make([]time.Time, len(gaps)+1)
	times[0] = base
	for i, gap := range gaps {
		times[i+1] = times[i].Add(-gap)
	}
	return times
}

func TestAverageServiceTime(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		served []time.Time
		want   time.Duration
		wantOK bool
	}{
		{
			name:   "steady pace",
			served: series(base, 4*time.Minute, 4*time.Minute, 4*time.Minute),
			want:   4 * time.Minute,
			wantOK: true,
		},
		{
			name:   "mixed pace averages",
			served: series(base, 2*time.Minute, 4*time.Minute, 6*time.Minute),
			want:   4 * time.Minute,
			wantOK: true,
		},
		{
			name:   "too few samples",
			served: series(base, 3*time.Minute, 3*time.Minute),
			wantOK: false,
		},
		{
			name:   "empty history",
			served: nil,
			wantOK: false,
		},
		{
			name:   "idle overnight gap discarded",
			served: series(base, 3*time.Minute, 8*time.Hour, 3*time.Minute, 3*time.Minute),
			want:   3 * time.Minute,
			wantOK: true,
		},
		{
			name:   "bulk backfill discarded",
			served: series(base, 5*time.Minute, time.Second, 5*time.Minute, 5*time.Minute),
			want:   5 * time.Minute,
			wantOK: true,
		},
		{
			name:   "all gaps implausible",
			served: series(base, time.Second, 2*time.Second, 7*time.Hour, time.Second),
			wantOK: false,
		},
		{
			name: "window keeps the newest six",
			// The huge gap sits outside the six-sample window.
			served: series(base, 2*time.Minute, 2*time.Minute, 2*time.Minute, 2*time.Minute, 2*time.Minute, 48*time.Hour, time.Minute),
			want:   2 * time.Minute,
			wantOK: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := AverageServiceTime(tc.served)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tc.wantOK, got)
			}
			if ok && got != tc.want {
				t.Fatalf("average = %v, want %v", got, tc.want)
			}
		})
	}
}
