package core

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// MinScore and MaxScore bound every criterion value.
	MinScore = 1
	MaxScore = 10

	// PendingNarrative is stored on a record until enrichment overwrites it.
	PendingNarrative = `<div class="report-spinner-container"><p class="student-loading-text">Değerlendirme raporu hazırlanıyor...</p></div>`
)

// Criteria holds the five scored dimensions of an evaluation.
type Criteria struct {
	Teaching      int `json:"teaching"`
	Communication int `json:"communication"`
	Knowledge     int `json:"knowledge"`
	Support       int `json:"support"`
	Management    int `json:"management"`
}

// Evaluation is a single submitted feedback record.
type Evaluation struct {
	ID        string    `json:"id"`        // Decimal millisecond timestamp, strictly increasing
	Timestamp time.Time `json:"timestamp"` // Submission time
	Criteria  Criteria  `json:"criteria"`  // Five scores in [1,10]
	Comments  string    `json:"comments"`  // Free text from the student
	Narrative string    `json:"narrative"` // Generated per-record narrative, PendingNarrative until enriched
}

// Report is an aggregate narrative generated once per batch threshold.
type Report struct {
	ID           string    `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	StudentCount int       `json:"studentCount"` // Record count that triggered the report
	Narrative    string    `json:"narrative"`
}

// UnmarshalJSON also accepts the legacy "report" key for the narrative, as
// written by earlier deployments of the JSON fallback store.
func (e *Evaluation) UnmarshalJSON(data []byte) error {
	type plain Evaluation
	aux := struct {
		*plain
		Legacy *string `json:"report"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if e.Narrative == "" && aux.Legacy != nil {
		e.Narrative = *aux.Legacy
	}
	return nil
}

// UnmarshalJSON also accepts the legacy "report" key for the narrative.
func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	aux := struct {
		*plain
		Legacy *string `json:"report"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.Narrative == "" && aux.Legacy != nil {
		r.Narrative = *aux.Legacy
	}
	return nil
}

// ReportHistory is the persisted report-history collection.
type ReportHistory struct {
	LastReportCount int      `json:"lastReportCount"`
	Reports         []Report `json:"reports"`
}

// Latest returns the most recently appended report, or nil.
func (h ReportHistory) Latest() *Report {
	if len(h.Reports) == 0 {
		return nil
	}
	r := h.Reports[len(h.Reports)-1]
	return &r
}

// MaxStudentCount returns the highest StudentCount in the history.
func (h ReportHistory) MaxStudentCount() int {
	max := 0
	for _, r := range h.Reports {
		if r.StudentCount > max {
			max = r.StudentCount
		}
	}
	return max
}

// CriterionAverages holds per-criterion averages across a set of evaluations.
type CriterionAverages struct {
	Teaching      float64 `json:"teaching"`
	Communication float64 `json:"communication"`
	Knowledge     float64 `json:"knowledge"`
	Support       float64 `json:"support"`
	Management    float64 `json:"management"`
}

// Total sums the five averages (out of 50).
func (a CriterionAverages) Total() float64 {
	return a.Teaching + a.Communication + a.Knowledge + a.Support + a.Management
}

// Named returns the averages paired with their criterion keys, in canonical order.
func (a CriterionAverages) Named() []NamedScore {
	return []NamedScore{
		{Key: "teaching", Value: a.Teaching},
		{Key: "communication", Value: a.Communication},
		{Key: "knowledge", Value: a.Knowledge},
		{Key: "support", Value: a.Support},
		{Key: "management", Value: a.Management},
	}
}

// NamedScore is one criterion value tagged with its key.
type NamedScore struct {
	Key   string
	Value float64
}

// Named returns the raw criterion values paired with their keys.
func (c Criteria) Named() []NamedScore {
	return []NamedScore{
		{Key: "teaching", Value: float64(c.Teaching)},
		{Key: "communication", Value: float64(c.Communication)},
		{Key: "knowledge", Value: float64(c.Knowledge)},
		{Key: "support", Value: float64(c.Support)},
		{Key: "management", Value: float64(c.Management)},
	}
}

// Validate checks that all five criteria are present and within range.
func (c Criteria) Validate() error {
	for _, s := range c.Named() {
		v := int(s.Value)
		if v == 0 {
			return fmt.Errorf("%w: criterion %q is missing", ErrValidation, s.Key)
		}
		if v < MinScore || v > MaxScore {
			return fmt.Errorf("%w: criterion %q must be between %d and %d, got %d", ErrValidation, s.Key, MinScore, MaxScore, v)
		}
	}
	return nil
}

// Averages computes per-criterion averages rounded to one decimal place.
// It returns false when evals is empty.
func Averages(evals []Evaluation) (CriterionAverages, bool) {
	if len(evals) == 0 {
		return CriterionAverages{}, false
	}

	var sum CriterionAverages
	for _, e := range evals {
		sum.Teaching += float64(e.Criteria.Teaching)
		sum.Communication += float64(e.Criteria.Communication)
		sum.Knowledge += float64(e.Criteria.Knowledge)
		sum.Support += float64(e.Criteria.Support)
		sum.Management += float64(e.Criteria.Management)
	}

	n := float64(len(evals))
	return CriterionAverages{
		Teaching:      round1(sum.Teaching / n),
		Communication: round1(sum.Communication / n),
		Knowledge:     round1(sum.Knowledge / n),
		Support:       round1(sum.Support / n),
		Management:    round1(sum.Management / n),
	}, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

var lastID atomic.Int64

// NewEvaluationID returns the current millisecond timestamp as a string,
// bumped when needed so that ids are strictly increasing within the process.
func NewEvaluationID(now time.Time) string {
	ms := now.UnixMilli()
	for {
		prev := lastID.Load()
		next := ms
		if next <= prev {
			next = prev + 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

// NewEvaluation builds a record with a fresh id and the pending placeholder.
func NewEvaluation(criteria Criteria, comments string) Evaluation {
	now := time.Now().UTC()
	return Evaluation{
		ID:        NewEvaluationID(now),
		Timestamp: now,
		Criteria:  criteria,
		Comments:  comments,
		Narrative: PendingNarrative,
	}
}

// NewReport builds an aggregate report for the given record count.
func NewReport(studentCount int, narrative string) Report {
	return Report{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		StudentCount: studentCount,
		Narrative:    narrative,
	}
}

// SortChronological orders evals oldest first in place. Ties on timestamp
// fall back to the numeric id.
func SortChronological(evals []Evaluation) {
	sort.SliceStable(evals, func(i, j int) bool {
		a, b := evals[i], evals[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if len(a.ID) != len(b.ID) {
			return len(a.ID) < len(b.ID)
		}
		return a.ID < b.ID
	})
}
