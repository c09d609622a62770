// Package cycle implements the two cycle detectors layered over a
// session's tool-invocation history: Floyd's tortoise-and-hare over the
// linear history sequence, and Tarjan's strongly-connected-components
// algorithm over the full per-session invocation graph.
package cycle

// Floyd runs tortoise-and-hare cycle detection over seq, the linear
// sequence of invocation fingerprints observed so far in the session
// (oldest first). Consecutive pairs in seq define a successor function
// (seq[i] "produced" seq[i+1]); Floyd's algorithm walks that function from
// seq[0] with a tortoise stepping once and a hare stepping twice per
// round. If they ever meet, the walk has entered a cycle; the cycle's
// period is then measured by stepping a single pointer from the meeting
// point until it returns to itself.
//
// Floyd is the fast path: O(n) time, O(1) additional space beyond the
// successor table already implied by the session history, used because an
// attacker can force detection to run on every call and the detector
// itself must not be memory-bombable.
func Floyd[T comparable](seq []T) (period int, ok bool) {
	n := len(seq)
	if n < 2 {
		return 0, false
	}

	next := make(map[T]T, n-1)
	for i := 0; i+1 < n; i++ {
		next[seq[i]] = seq[i+1]
	}

	tortoise, hare := seq[0], seq[0]
	for steps := 0; steps <= n; steps++ {
		t1, ok1 := next[tortoise]
		if !ok1 {
			return 0, false
		}
		h1, ok2 := next[hare]
		if !ok2 {
			return 0, false
		}
		h2, ok3 := next[h1]
		if !ok3 {
			return 0, false
		}
		tortoise, hare = t1, h2

		if tortoise == hare {
			return measurePeriod(next, tortoise, n)
		}
	}
	return 0, false
}

// measurePeriod walks the successor function starting at meeting until it
// returns to meeting, bounded by maxSteps to guarantee termination even if
// the table is malformed.
func measurePeriod[T comparable](next map[T]T, meeting T, maxSteps int) (int, bool) {
	period := 1
	cur, ok := next[meeting]
	for ok && cur != meeting {
		if period > maxSteps {
			return 0, false
		}
		cur, ok = next[cur]
		period++
	}
	if !ok {
		return 0, false
	}
	return period, true
}
