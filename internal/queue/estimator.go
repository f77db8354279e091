package queue

import "time"

// Rolling-window service-time estimation. A short window adapts to the
// service point's current pace without configuration; the plausibility
// filter keeps idle gaps and bulk backfills from skewing the average.
const (
	estimatorWindow   = 6
	estimatorMinGap   = 5 * time.Second
	estimatorMaxGap   = 6 * time.Hour
	estimatorMinCount = 3
)

// AverageServiceTime computes the mean interval between consecutive
// completions, given servedAt timestamps ordered newest first. It
// returns false when fewer than three plausible intervals remain;
// callers must treat that as "no estimate", never as zero.
func AverageServiceTime(servedAt []time.Time) (time.Duration, bool) {
	if len(servedAt) > estimatorWindow {
		servedAt = servedAt[:estimatorWindow]
	}

	var total time.Duration
	count := 0
	for i := 0; i+1 < len(servedAt); i++ {
		gap := servedAt[i].Sub(servedAt[i+1])
		if gap <= estimatorMinGap || gap >= estimatorMaxGap {
			continue
		}
		total += gap
		count++
	}
	if count < estimatorMinCount {
		return 0, false
	}
	return (total / time.Duration(count)).Round(time.Second), true
}
