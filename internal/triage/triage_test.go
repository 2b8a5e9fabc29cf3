package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/emergency-dispatch/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestScoreVectors(t *testing.T) {
	tests := []struct {
		name  string
		in    models.Intake
		score int
		want  models.Priority
	}{
		{"unknown category defaults to base", models.Intake{Category: "ALIEN"}, 3, models.PriorityLow},
		{"empty intake", models.Intake{}, 3, models.PriorityLow},
		{"respiratory base", models.Intake{Category: "respiratory"}, 9, models.PriorityMedium},
		{"category is trimmed", models.Intake{Category: "  Cardiac "}, 8, models.PriorityMedium},
		{"unconscious", models.Intake{Category: "GENERAL", Conscious: boolPtr(false)}, 13, models.PriorityHigh},
		{"not breathing", models.Intake{Category: "GENERAL", Breathing: boolPtr(false)}, 13, models.PriorityHigh},
		{"explicitly fine vitals", models.Intake{Category: "GENERAL", Conscious: boolPtr(true), Breathing: boolPtr(true)}, 3, models.PriorityLow},
		{"bleeding", models.Intake{Category: "TRAUMA", Bleeding: true}, 12, models.PriorityHigh},
		{"pain 8", models.Intake{Category: "GENERAL", PainScore: 8}, 7, models.PriorityMedium},
		{"pain 6", models.Intake{Category: "GENERAL", PainScore: 6}, 5, models.PriorityMedium},
		{"pain 4", models.Intake{Category: "GENERAL", PainScore: 4}, 4, models.PriorityLow},
		{"pain 3", models.Intake{Category: "GENERAL", PainScore: 3}, 3, models.PriorityLow},
		{"critical keyword", models.Intake{Category: "CARDIAC", Symptoms: "Sudden CHEST PAIN"}, 16, models.PriorityCritical},
		{"high keyword", models.Intake{Category: "ORTHOPEDIC", Symptoms: "possible fracture of wrist"}, 8, models.PriorityMedium},
		{"critical tier wins over high", models.Intake{Category: "GENERAL", Symptoms: "severe bleeding and a fracture"}, 11, models.PriorityHigh},
		{"everything", models.Intake{Category: "RESPIRATORY", Conscious: boolPtr(false), Breathing: boolPtr(false), Bleeding: true, PainScore: 10, Symptoms: "not breathing"}, 46, models.PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.score, Score(tt.in))
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestThresholdBoundaries(t *testing.T) {
	assert.Equal(t, models.PriorityCritical, FromScore(15))
	assert.Equal(t, models.PriorityHigh, FromScore(14))
	assert.Equal(t, models.PriorityHigh, FromScore(10))
	assert.Equal(t, models.PriorityMedium, FromScore(9))
	assert.Equal(t, models.PriorityMedium, FromScore(5))
	assert.Equal(t, models.PriorityLow, FromScore(4))
}

// Losing consciousness or breathing must never classify as LOW, whatever else is reported.
func TestVitalsNeverLow(t *testing.T) {
	categories := []string{"", "GENERAL", "PSYCHIATRIC", "CARDIAC", "RESPIRATORY", "nonsense"}
	symptoms := []string{"", "headache", "bleeding", "unconscious"}
	for _, c := range categories {
		for _, s := range symptoms {
			for pain := 0; pain <= 10; pain++ {
				for _, vitals := range [][2]*bool{
					{boolPtr(false), nil},
					{nil, boolPtr(false)},
					{boolPtr(false), boolPtr(false)},
				} {
					in := models.Intake{Category: c, Symptoms: s, PainScore: pain, Conscious: vitals[0], Breathing: vitals[1]}
					p := Classify(in)
					assert.Contains(t, []models.Priority{models.PriorityCritical, models.PriorityHigh}, p, "intake %+v", in)
				}
			}
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	in := models.Intake{Category: "STROKE", Symptoms: "slurred speech, possible stroke", PainScore: 5}
	first := Classify(in)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Classify(in))
	}
}

func TestRequiredTier(t *testing.T) {
	assert.Equal(t, models.TierAdvanced, RequiredTier(models.PriorityCritical))
	assert.Equal(t, models.TierIntermediate, RequiredTier(models.PriorityHigh))
	assert.Equal(t, models.TierBasic, RequiredTier(models.PriorityMedium))
	assert.Equal(t, models.TierBasic, RequiredTier(models.PriorityLow))
}
