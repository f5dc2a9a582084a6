// Package batch decides when a new aggregate report is due and keeps
// concurrent generators from producing more than one report per threshold.
package batch

import "sync"

// DefaultSize is the number of new records required between aggregate reports.
const DefaultSize = 5

// IsDue reports whether a new aggregate report should be generated.
// Once a report fires at count C, nothing is due again until C+batchSize.
func IsDue(currentCount, lastReportCount, batchSize int) bool {
	if batchSize <= 0 {
		batchSize = DefaultSize
	}
	return currentCount >= batchSize && currentCount-lastReportCount >= batchSize
}

// Remaining returns how many more records are needed before the next report.
func Remaining(currentCount, lastReportCount, batchSize int) int {
	if batchSize <= 0 {
		batchSize = DefaultSize
	}
	if currentCount < batchSize {
		return batchSize - currentCount
	}
	n := batchSize - (currentCount - lastReportCount)
	if n < 0 {
		return 0
	}
	return n
}

// Coalescer lets at most one caller run for a given threshold key at a time.
// Callers that arrive while a run is in flight for the same key are dropped.
type Coalescer struct {
	mu       sync.Mutex
	inflight map[int]struct{}
}

// NewCoalescer creates an empty Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{inflight: make(map[int]struct{})}
}

// Do runs fn unless another run for key is already in flight.
// ran is false when the call was coalesced into the in-flight one.
func (c *Coalescer) Do(key int, fn func() error) (ran bool, err error) {
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return false, nil
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	return true, fn()
}
