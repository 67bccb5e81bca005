package resilience

import "time"

// maxRecordedAttempts caps the per-key attempt log. Counters keep the full
// totals; only the attempt detail is trimmed, and neither backoff nor
// breaker math reads the detail list.
const maxRecordedAttempts = 256

// Attempt is one invocation within a retry sequence. Append-only; never
// mutated after creation.
type Attempt struct {
	// Number is 1 for the initial attempt, 2 for the first retry, and so on.
	Number int

	// Timestamp is when the attempt was made.
	Timestamp time.Time

	// Delay is the backoff slept before this attempt (zero for the first).
	Delay time.Duration

	// Err is the normalized failure, nil on success.
	Err *Error

	// Success reports whether the attempt succeeded.
	Success bool
}

// History aggregates all attempts made against one resource key. Owned
// exclusively by the Executor; callers receive copies.
type History struct {
	ResourceKey       string
	TotalAttempts     int
	TotalRetries      int
	SuccessfulRetries int
	FailedRetries     int
	Attempts          []Attempt
	LastAttempt       time.Time
}

// record appends an attempt and maintains the aggregate counters. A retry
// is any attempt past the first in its sequence.
func (h *History) record(a Attempt) {
	h.TotalAttempts++
	h.LastAttempt = a.Timestamp

	if a.Number > 1 {
		h.TotalRetries++
		if a.Success {
			h.SuccessfulRetries++
		} else {
			h.FailedRetries++
		}
	}

	h.Attempts = append(h.Attempts, a)
	if len(h.Attempts) > maxRecordedAttempts {
		h.Attempts = h.Attempts[len(h.Attempts)-maxRecordedAttempts:]
	}
}

// clone returns a copy safe to hand to callers.
func (h *History) clone() History {
	out := *h
	out.Attempts = make([]Attempt, len(h.Attempts))
	copy(out.Attempts, h.Attempts)
	return out
}
