package resilience

import (
	"fmt"
	"sort"
)

// Analytics derives tuning insight from the executor's retry histories.
// Strictly read-side: it consumes snapshot copies and never mutates
// executor state.
type Analytics struct {
	exec *Executor
}

// NewAnalytics creates an Analytics over the given executor.
func NewAnalytics(exec *Executor) *Analytics {
	return &Analytics{exec: exec}
}

// ErrorFrequency summarizes one error code within a key's history.
type ErrorFrequency struct {
	// Code is the normalized error code.
	Code string

	// Count is how many failed attempts carried this code.
	Count int

	// MeanAttemptsToResolution is the mean length of resolved sequences
	// in which this code appeared. Zero when no such sequence resolved.
	MeanAttemptsToResolution float64
}

// KeyReport is the per-resource-key analytics report.
type KeyReport struct {
	ResourceKey   string
	TotalAttempts int
	TotalRetries  int

	// FailureRate is failed attempts over total attempts.
	FailureRate float64

	// WastedRetryRatio is retries spent on sequences that still failed,
	// over all retries.
	WastedRetryRatio float64

	// TopErrors lists error codes by descending frequency.
	TopErrors []ErrorFrequency

	// Suggestions are textual tuning hints derived from the figures.
	Suggestions []string
}

// sequence is one reconstructed retry sequence.
type sequence struct {
	attempts int
	resolved bool
	codes    map[string]bool
}

// Report builds the analytics report for one resource key. The second
// return is false when the key has no history.
func (a *Analytics) Report(key string) (KeyReport, bool) {
	h, ok := a.exec.Statistics(key)
	if !ok {
		return KeyReport{}, false
	}
	return buildReport(h), true
}

// ReportAll builds reports for every key with history, sorted by key.
func (a *Analytics) ReportAll() []KeyReport {
	stats := a.exec.AllStatistics()

	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]KeyReport, 0, len(keys))
	for _, key := range keys {
		out = append(out, buildReport(stats[key]))
	}
	return out
}

func buildReport(h History) KeyReport {
	report := KeyReport{
		ResourceKey:   h.ResourceKey,
		TotalAttempts: h.TotalAttempts,
		TotalRetries:  h.TotalRetries,
	}

	if len(h.Attempts) == 0 {
		return report
	}

	failures := 0
	for _, att := range h.Attempts {
		if !att.Success {
			failures++
		}
	}
	report.FailureRate = float64(failures) / float64(len(h.Attempts))

	sequences := splitSequences(h.Attempts)

	wasted, retries := 0, 0
	for _, seq := range sequences {
		r := seq.attempts - 1
		retries += r
		if !seq.resolved {
			wasted += r
		}
	}
	if retries > 0 {
		report.WastedRetryRatio = float64(wasted) / float64(retries)
	}

	report.TopErrors = rankErrors(h.Attempts, sequences)
	report.Suggestions = suggest(report)
	return report
}

// splitSequences reconstructs retry sequences from the attempt log. A new
// sequence starts at every attempt numbered 1.
func splitSequences(attempts []Attempt) []sequence {
	var out []sequence
	var cur *sequence

	for _, att := range attempts {
		if att.Number == 1 || cur == nil {
			out = append(out, sequence{codes: make(map[string]bool)})
			cur = &out[len(out)-1]
		}
		cur.attempts++
		if att.Success {
			cur.resolved = true
		} else if att.Err != nil {
			cur.codes[att.Err.Code] = true
		}
	}
	return out
}

// rankErrors orders error codes by frequency and computes the mean length
// of resolved sequences in which each code appeared.
func rankErrors(attempts []Attempt, sequences []sequence) []ErrorFrequency {
	counts := make(map[string]int)
	for _, att := range attempts {
		if !att.Success && att.Err != nil {
			counts[att.Err.Code]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	resolutionSum := make(map[string]int)
	resolutionN := make(map[string]int)
	for _, seq := range sequences {
		if !seq.resolved {
			continue
		}
		for code := range seq.codes {
			resolutionSum[code] += seq.attempts
			resolutionN[code]++
		}
	}

	out := make([]ErrorFrequency, 0, len(counts))
	for code, count := range counts {
		freq := ErrorFrequency{Code: code, Count: count}
		if n := resolutionN[code]; n > 0 {
			freq.MeanAttemptsToResolution = float64(resolutionSum[code]) / float64(n)
		}
		out = append(out, freq)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// suggest derives textual tuning hints from the report figures.
func suggest(report KeyReport) []string {
	var out []string

	var top string
	if len(report.TopErrors) > 0 {
		top = report.TopErrors[0].Code
	}

	switch top {
	case CodeTimeout:
		out = append(out, fmt.Sprintf("timeouts dominate failures for %q; raise InitialDelay or the operation deadline", report.ResourceKey))
	case CodeRateLimited:
		out = append(out, fmt.Sprintf("rate limiting dominates failures for %q; keep jitter enabled and raise MaxDelay", report.ResourceKey))
	}

	if report.FailureRate > 0.5 {
		out = append(out, fmt.Sprintf("failure rate for %q is above 50%%; consider a lower breaker FailureThreshold", report.ResourceKey))
	}

	if report.TotalRetries >= 4 && report.WastedRetryRatio > 0.5 {
		out = append(out, fmt.Sprintf("most retries against %q do not resolve; lower MaxRetries to stop burning budget", report.ResourceKey))
	}

	return out
}
