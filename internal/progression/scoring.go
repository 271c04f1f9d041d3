package progression

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultCriticalMinRatio is the share of a critical criterion's maximum that
// must be awarded for the stage to be passable.
const DefaultCriticalMinRatio = 0.5

var (
	// ErrNoCriteria is returned when a practical stage has no active criteria.
	ErrNoCriteria = errors.New("progression: no active criteria for stage")
	// ErrEmptyAnswerKey is returned when a written test has no questions.
	ErrEmptyAnswerKey = errors.New("progression: answer key is empty")
)

// Criterion is the scoring view of an active evaluation criterion.
type Criterion struct {
	ID        string
	Name      string
	MaxPoints float64
	Critical  bool
}

// Award is the points an officer gave for one criterion.
type Award struct {
	CriterionID string
	Points      float64
	Notes       string
}

// AwardError identifies an award that cannot be applied.
type AwardError struct {
	CriterionID string
	Reason      string
}

func (e *AwardError) Error() string {
	return fmt.Sprintf("progression: criterion %s: %s", e.CriterionID, e.Reason)
}

// Line is the scored result of one criterion.
type Line struct {
	CriterionID    string
	Awarded        float64
	MaxPoints      float64
	Critical       bool
	CriticalFailed bool
	Notes          string
}

// ChecklistResult aggregates a checklist evaluation.
type ChecklistResult struct {
	Lines          []Line
	Awarded        float64
	Possible       float64
	Score          float64
	CriticalPassed bool
	Passed         bool
}

// ScoreChecklist computes a practical stage score. Criteria without an award
// count as zero. The stage passes only when the aggregate reaches passMark and
// every critical criterion received at least criticalRatio of its maximum.
func ScoreChecklist(criteria []Criterion, awards []Award, passMark, criticalRatio float64) (ChecklistResult, error) {
	if len(criteria) == 0 {
		return ChecklistResult{}, ErrNoCriteria
	}
	if criticalRatio < 0 || criticalRatio > 1 {
		criticalRatio = DefaultCriticalMinRatio
	}

	known := make(map[string]Criterion, len(criteria))
	for _, c := range criteria {
		known[c.ID] = c
	}

	given := make(map[string]Award, len(awards))
	for _, award := range awards {
		criterion, ok := known[award.CriterionID]
		if !ok {
			return ChecklistResult{}, &AwardError{CriterionID: award.CriterionID, Reason: "not an active criterion for this stage"}
		}
		if _, dup := given[award.CriterionID]; dup {
			return ChecklistResult{}, &AwardError{CriterionID: award.CriterionID, Reason: "scored more than once"}
		}
		if award.Points < 0 || award.Points > criterion.MaxPoints {
			return ChecklistResult{}, &AwardError{
				CriterionID: award.CriterionID,
				Reason:      fmt.Sprintf("points must be between 0 and %g", criterion.MaxPoints),
			}
		}
		given[award.CriterionID] = award
	}

	result := ChecklistResult{CriticalPassed: true, Lines: make([]Line, 0, len(criteria))}
	for _, c := range criteria {
		award := given[c.ID]
		line := Line{
			CriterionID: c.ID,
			Awarded:     award.Points,
			MaxPoints:   c.MaxPoints,
			Critical:    c.Critical,
			Notes:       award.Notes,
		}
		if c.Critical && award.Points < criticalRatio*c.MaxPoints {
			line.CriticalFailed = true
			result.CriticalPassed = false
		}
		result.Awarded += award.Points
		result.Possible += c.MaxPoints
		result.Lines = append(result.Lines, line)
	}
	if result.Possible <= 0 {
		return ChecklistResult{}, ErrNoCriteria
	}

	raw := result.Awarded / result.Possible * 100
	result.Score = round2(raw)
	result.Passed = raw >= passMark && result.CriticalPassed
	return result, nil
}

// WrittenResult is the outcome of automated written scoring.
type WrittenResult struct {
	Correct int
	Total   int
	Score   float64
	Passed  bool
}

// ScoreWritten compares responses against the answer key. Unanswered
// questions count as wrong and answers are compared case-insensitively.
func ScoreWritten(key, responses map[string]string, passMark float64) (WrittenResult, error) {
	if len(key) == 0 {
		return WrittenResult{}, ErrEmptyAnswerKey
	}
	result := WrittenResult{Total: len(key)}
	for question, expected := range key {
		answer, ok := responses[question]
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(expected)) {
			result.Correct++
		}
	}
	raw := float64(result.Correct) / float64(result.Total) * 100
	result.Score = round2(raw)
	result.Passed = raw >= passMark
	return result, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
