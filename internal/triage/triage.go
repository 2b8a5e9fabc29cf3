// Package triage converts intake data into a dispatch priority.
//
// Classification is a pure, total function: unknown categories fall back to the lowest base
// score and nothing here can fail.
package triage

import (
	"strings"

	"github.com/example/emergency-dispatch/internal/models"
)

const defaultBase = 3

var categoryBase = map[string]int{
	"RESPIRATORY": 9,
	"CARDIAC":     8,
	"STROKE":      8,
	"TRAUMA":      7,
	"ACCIDENT":    7,
	"BURNS":       6,
	"MATERNITY":   5,
	"PEDIATRIC":   5,
	"ORTHOPEDIC":  4,
	"PSYCHIATRIC": 3,
	"GENERAL":     3,
}

var criticalKeywords = []string{
	"not breathing",
	"unconscious",
	"severe bleeding",
	"chest pain",
	"cardiac arrest",
	"heart attack",
	"stroke",
	"seizure",
	"choking",
	"anaphylaxis",
	"unresponsive",
}

var highKeywords = []string{
	"difficulty breathing",
	"shortness of breath",
	"bleeding",
	"fracture",
	"burn",
	"head injury",
	"high fever",
	"vomiting blood",
	"fainted",
	"labor",
}

// Thresholds on the accumulated score.
const (
	criticalAt = 15
	highAt     = 10
	mediumAt   = 5
)

// Classify maps an intake to a priority tier.
func Classify(in models.Intake) models.Priority {
	return FromScore(Score(in))
}

// Score accumulates the raw severity score for an intake.
func Score(in models.Intake) int {
	score, ok := categoryBase[strings.ToUpper(strings.TrimSpace(in.Category))]
	if !ok {
		score = defaultBase
	}
	if in.Conscious != nil && !*in.Conscious {
		score += 10
	}
	if in.Breathing != nil && !*in.Breathing {
		score += 10
	}
	if in.Bleeding {
		score += 5
	}
	switch {
	case in.PainScore >= 8:
		score += 4
	case in.PainScore >= 6:
		score += 2
	case in.PainScore >= 4:
		score += 1
	}
	symptoms := strings.ToLower(in.Symptoms)
	switch {
	case containsAny(symptoms, criticalKeywords):
		score += 8
	case containsAny(symptoms, highKeywords):
		score += 4
	}
	return score
}

func FromScore(score int) models.Priority {
	switch {
	case score >= criticalAt:
		return models.PriorityCritical
	case score >= highAt:
		return models.PriorityHigh
	case score >= mediumAt:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// RequiredTier is the minimum resource capability dispatched for a priority.
func RequiredTier(p models.Priority) models.Tier {
	switch p {
	case models.PriorityCritical:
		return models.TierAdvanced
	case models.PriorityHigh:
		return models.TierIntermediate
	default:
		return models.TierBasic
	}
}

func containsAny(s string, words []string) bool {
	if s == "" {
		return false
	}
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
