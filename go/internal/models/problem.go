package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Difficulty is the problem tier that decides the match duration.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// DefaultTierDurations maps each tier to its match length.
var DefaultTierDurations = map[Difficulty]time.Duration{
	DifficultyEasy:   15 * time.Minute,
	DifficultyMedium: 30 * time.Minute,
	DifficultyHard:   60 * time.Minute,
}

// ParseDifficulty accepts any casing of easy, medium or hard.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToUpper(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
}

// ProblemRef is the opaque problem reference a room is bound to.
type ProblemRef struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty"`
}

// VerdictStatus is the overall outcome of a judged submission.
type VerdictStatus string

const (
	VerdictAccepted VerdictStatus = "accepted"
	VerdictRejected VerdictStatus = "rejected"
)

// TestResult is the outcome of one test case.
type TestResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	IsSample bool   `json:"isSample"`
	Message  string `json:"message,omitempty"`
}

// Verdict is what the verdict service returns for one submission.
type Verdict struct {
	Status VerdictStatus `json:"verdict"`
	Tests  []TestResult  `json:"testResults"`
}

// Accepted is true only for an accepted verdict.
func (v Verdict) Accepted() bool {
	return v.Status == VerdictAccepted
}

// Passed counts passing tests.
func (v Verdict) Passed() int {
	n := 0
	for _, t := range v.Tests {
		if t.Passed {
			n++
		}
	}
	return n
}

// Total is the number of tests judged.
func (v Verdict) Total() int {
	return len(v.Tests)
}

// Percentage is the pass ratio in [0, 1]; a verdict with no tests scores 0.
func (v Verdict) Percentage() float64 {
	if len(v.Tests) == 0 {
		return 0
	}
	return float64(v.Passed()) / float64(len(v.Tests))
}

// ErrProblemNotFound is returned by problem catalogs for unknown ids.
var ErrProblemNotFound = errors.New("problem not found")
