package improve

import (
	"fmt"
	"sort"
	"time"

	"github.com/promptops/whetstone/pkg/models"
)

// weakDimensionCutoff is the score below which a dimension is considered weak
// on the 1-5 scale. Weak dimensions focus the rewrite.
const weakDimensionCutoff = 3.5

// Policy bounds how often a skill may enter an improvement cycle beyond the
// pending-flag lock. Zero values disable each bound.
type Policy struct {
	MaxCycles int           // maximum applied improvements per skill
	Cooldown  time.Duration // minimum gap since last_improved_at
}

// DimensionScore pairs a dimension with its average at evaluation time.
type DimensionScore struct {
	Dimension models.Dimension `json:"dimension"`
	Score     float64          `json:"score"`
}

// Eligibility is the result of a trigger evaluation.
type Eligibility struct {
	Eligible       bool                 `json:"eligible"`
	Reason         models.TriggerReason `json:"reason,omitempty"`
	Detail         string               `json:"detail,omitempty"`
	WeakDimensions []DimensionScore     `json:"weak_dimensions,omitempty"`
}

// Evaluator decides whether a skill is eligible for an improvement cycle.
// It is a pure query: creating the request and setting the pending flag is
// the store's single conditional write, not the evaluator's business.
type Evaluator struct {
	policy Policy
}

func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Evaluate applies the eligibility predicate:
// total_grades >= min AND overall < threshold AND NOT improvement_pending,
// bounded by the configured cycle cap and cooldown.
func (e *Evaluator) Evaluate(skill *models.Skill, now time.Time) Eligibility {
	if skill.ImprovementPending {
		return Eligibility{Detail: "an improvement request is already open"}
	}
	if skill.Scores.TotalGrades < skill.MinGradesForImprovement {
		return Eligibility{Detail: fmt.Sprintf("%d more grades needed before improvement is considered",
			skill.MinGradesForImprovement-skill.Scores.TotalGrades)}
	}
	if skill.Scores.Overall == nil {
		return Eligibility{Detail: "no overall score recorded yet"}
	}
	if *skill.Scores.Overall >= skill.ImprovementThreshold {
		return Eligibility{Detail: fmt.Sprintf("overall score %.2f meets threshold %.2f",
			*skill.Scores.Overall, skill.ImprovementThreshold)}
	}
	if e.policy.MaxCycles > 0 && skill.ImprovementCount >= e.policy.MaxCycles {
		return Eligibility{Detail: fmt.Sprintf("improvement cycle cap reached (%d)", e.policy.MaxCycles)}
	}
	if e.policy.Cooldown > 0 && skill.LastImprovedAt != nil {
		if since := now.Sub(*skill.LastImprovedAt); since < e.policy.Cooldown {
			return Eligibility{Detail: fmt.Sprintf("cooling down, %s remaining",
				(e.policy.Cooldown - since).Round(time.Second))}
		}
	}

	weak := WeakDimensions(skill.Scores)
	reason := models.TriggerLowOverallScore
	detail := fmt.Sprintf("overall score %.2f below threshold %.2f", *skill.Scores.Overall, skill.ImprovementThreshold)
	if len(weak) > 0 {
		reason = models.TriggerLowDimensionScore
		detail = fmt.Sprintf("%s; weakest dimension %s at %.2f", detail, weak[0].Dimension, weak[0].Score)
	}

	return Eligibility{
		Eligible:       true,
		Reason:         reason,
		Detail:         detail,
		WeakDimensions: weak,
	}
}

// WeakDimensions returns the dimensions scoring below the weak cutoff, sorted
// ascending so the weakest comes first. The ordering focuses the rewrite.
func WeakDimensions(scores models.ScoreVector) []DimensionScore {
	weak := make([]DimensionScore, 0, len(models.Dimensions))
	for _, d := range models.Dimensions {
		avg := scores.ByDimension(d)
		if avg != nil && *avg < weakDimensionCutoff {
			weak = append(weak, DimensionScore{Dimension: d, Score: *avg})
		}
	}
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].Score < weak[j].Score })
	return weak
}
