package improve

import (
	"testing"
	"time"

	"github.com/promptops/whetstone/pkg/models"
)

func floatPtr(v float64) *float64 { return &v }

func evalSkill() *models.Skill {
	return &models.Skill{
		ID:                      "skill-1",
		Name:                    "Market Analysis",
		MinGradesForImprovement: 50,
		ImprovementThreshold:    3.5,
		Scores: models.ScoreVector{
			TotalGrades: 60,
			Overall:     floatPtr(3.1),
			Relevance:   floatPtr(4.0),
			Accuracy:    floatPtr(2.8),
			Clarity:     floatPtr(3.2),
		},
	}
}

func TestEvaluateEligible(t *testing.T) {
	e := NewEvaluator(Policy{})
	elig := e.Evaluate(evalSkill(), time.Now())

	if !elig.Eligible {
		t.Fatalf("expected eligible, got %+v", elig)
	}
	if elig.Reason != models.TriggerLowDimensionScore {
		t.Errorf("expected low_dimension_score reason, got %s", elig.Reason)
	}
	// Weakest dimension first.
	if len(elig.WeakDimensions) != 2 || elig.WeakDimensions[0].Dimension != models.DimensionAccuracy {
		t.Errorf("unexpected weak dimensions: %+v", elig.WeakDimensions)
	}
}

func TestEvaluateIneligible(t *testing.T) {
	now := time.Now()
	recently := now.Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*models.Skill)
		policy Policy
	}{
		{
			name:   "pending request open",
			mutate: func(s *models.Skill) { s.ImprovementPending = true },
		},
		{
			name:   "not enough grades",
			mutate: func(s *models.Skill) { s.Scores.TotalGrades = 49 },
		},
		{
			name:   "no overall score",
			mutate: func(s *models.Skill) { s.Scores.Overall = nil },
		},
		{
			name:   "score meets threshold",
			mutate: func(s *models.Skill) { s.Scores.Overall = floatPtr(3.5) },
		},
		{
			name:   "cycle cap reached",
			mutate: func(s *models.Skill) { s.ImprovementCount = 3 },
			policy: Policy{MaxCycles: 3},
		},
		{
			name:   "cooling down",
			mutate: func(s *models.Skill) { s.LastImprovedAt = &recently },
			policy: Policy{Cooldown: 24 * time.Hour},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skill := evalSkill()
			tt.mutate(skill)
			elig := NewEvaluator(tt.policy).Evaluate(skill, now)
			if elig.Eligible {
				t.Errorf("expected ineligible, got %+v", elig)
			}
			if elig.Detail == "" {
				t.Error("expected a detail explaining ineligibility")
			}
		})
	}
}

func TestEvaluateLowOverallOnly(t *testing.T) {
	skill := evalSkill()
	skill.Scores.Accuracy = floatPtr(4.1)
	skill.Scores.Clarity = floatPtr(4.0)

	elig := NewEvaluator(Policy{}).Evaluate(skill, time.Now())
	if !elig.Eligible {
		t.Fatalf("expected eligible, got %+v", elig)
	}
	if elig.Reason != models.TriggerLowOverallScore {
		t.Errorf("expected low_overall_score reason, got %s", elig.Reason)
	}
	if len(elig.WeakDimensions) != 0 {
		t.Errorf("expected no weak dimensions, got %+v", elig.WeakDimensions)
	}
}

func TestWeakDimensionsSortedAscending(t *testing.T) {
	scores := models.ScoreVector{
		Relevance:       floatPtr(3.4),
		Accuracy:        floatPtr(2.1),
		Completeness:    floatPtr(4.5),
		Clarity:         floatPtr(2.9),
		Professionalism: floatPtr(3.49),
	}

	weak := WeakDimensions(scores)
	if len(weak) != 4 {
		t.Fatalf("expected 4 weak dimensions, got %d", len(weak))
	}
	for i := 1; i < len(weak); i++ {
		if weak[i-1].Score > weak[i].Score {
			t.Errorf("weak dimensions not sorted ascending: %+v", weak)
		}
	}
	if weak[0].Dimension != models.DimensionAccuracy {
		t.Errorf("weakest dimension should come first, got %s", weak[0].Dimension)
	}
}

func TestWeakDimensionsIgnoresUngraded(t *testing.T) {
	weak := WeakDimensions(models.ScoreVector{Accuracy: floatPtr(2.0)})
	if len(weak) != 1 {
		t.Errorf("nil averages must not count as weak, got %+v", weak)
	}
}
