package models

import "time"

// RequestStatus represents the status of an improvement request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusGenerated RequestStatus = "generated"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusApplied   RequestStatus = "applied"
)

// OpenStatuses are the request statuses that block a new improvement cycle
// for the same skill. A skill's improvement_pending flag is true iff a
// request in one of these statuses exists.
var OpenStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusGenerated,
	RequestStatusApproved,
}

// IsOpen reports whether the status still blocks new triggers for the skill.
func (s RequestStatus) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is absorbing.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusRejected || s == RequestStatusApplied
}

// legalTransitions encodes the request state machine:
// pending -> generated -> {approved, rejected}; approved -> applied;
// pending -> rejected covers aborting before generation completed.
var legalTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:   {RequestStatusGenerated, RequestStatusRejected},
	RequestStatusGenerated: {RequestStatusApproved, RequestStatusRejected},
	RequestStatusApproved:  {RequestStatusApplied},
}

// CanTransition reports whether from -> to is a legal state machine move.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TriggerReason describes why an improvement request was created
type TriggerReason string

const (
	TriggerLowOverallScore   TriggerReason = "low_overall_score"
	TriggerLowDimensionScore TriggerReason = "low_dimension_score"
	TriggerManual            TriggerReason = "manual"
)

// Dimension names one of the six graded quality axes.
type Dimension string

const (
	DimensionRelevance       Dimension = "relevance"
	DimensionAccuracy        Dimension = "accuracy"
	DimensionCompleteness    Dimension = "completeness"
	DimensionClarity         Dimension = "clarity"
	DimensionActionability   Dimension = "actionability"
	DimensionProfessionalism Dimension = "professionalism"
)

// Dimensions lists the graded axes in display order.
var Dimensions = []Dimension{
	DimensionRelevance,
	DimensionAccuracy,
	DimensionCompleteness,
	DimensionClarity,
	DimensionActionability,
	DimensionProfessionalism,
}

// ScoreVector holds aggregate grading results for a skill. Averages are nil
// until at least one grade has been recorded for the dimension.
type ScoreVector struct {
	TotalGrades     int      `json:"total_grades"`
	Overall         *float64 `json:"overall,omitempty"`
	Relevance       *float64 `json:"relevance,omitempty"`
	Accuracy        *float64 `json:"accuracy,omitempty"`
	Completeness    *float64 `json:"completeness,omitempty"`
	Clarity         *float64 `json:"clarity,omitempty"`
	Actionability   *float64 `json:"actionability,omitempty"`
	Professionalism *float64 `json:"professionalism,omitempty"`
}

// ByDimension returns the average for a named dimension, or nil if ungraded.
func (v ScoreVector) ByDimension(d Dimension) *float64 {
	switch d {
	case DimensionRelevance:
		return v.Relevance
	case DimensionAccuracy:
		return v.Accuracy
	case DimensionCompleteness:
		return v.Completeness
	case DimensionClarity:
		return v.Clarity
	case DimensionActionability:
		return v.Actionability
	case DimensionProfessionalism:
		return v.Professionalism
	}
	return nil
}

// Skill represents a named, versioned prompt configuration
type Skill struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	SkillType          string      `json:"skill_type,omitempty"`
	SystemInstruction  string      `json:"current_system_instruction"`
	UserPromptTemplate string      `json:"current_user_prompt_template"`
	CurrentVersion     int         `json:"current_version"`
	Scores             ScoreVector `json:"scores"`

	// RecentFeedback is the latest sample of raw feedback strings pushed by
	// the grading pipeline alongside aggregate scores. A trigger snapshots a
	// bounded slice of it onto the improvement request.
	RecentFeedback []string `json:"recent_feedback,omitempty"`

	// Improvement configuration and lifecycle state
	MinGradesForImprovement int        `json:"min_grades_for_improvement"`
	ImprovementThreshold    float64    `json:"improvement_threshold"`
	ImprovementPending      bool       `json:"improvement_pending"`
	ImprovementCount        int        `json:"improvement_count"`
	LastImprovedAt          *time.Time `json:"last_improved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImprovementRequest represents one proposed rewrite cycle for a skill.
// Requests are never deleted; rejected and applied are audit-retained terminals.
type ImprovementRequest struct {
	ID      string        `json:"id"`
	SkillID string        `json:"skill_id"`
	Status  RequestStatus `json:"status"`

	// Trigger metadata, immutable once captured. Future grades must not
	// retroactively change the snapshot used for generation.
	TriggerReason  TriggerReason `json:"trigger_reason"`
	ScoreSnapshot  ScoreVector   `json:"score_snapshot"`
	SampleFeedback []string      `json:"sample_feedback,omitempty"`
	TriggeredAt    time.Time     `json:"triggered_at"`

	// Proposal fields, empty until generation succeeds
	ProposedSystemInstruction  string `json:"proposed_system_instruction,omitempty"`
	ProposedUserPromptTemplate string `json:"proposed_user_prompt_template,omitempty"`
	ImprovementRationale       string `json:"improvement_rationale,omitempty"`

	// Review metadata
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
}

// VersionEntry is an immutable snapshot of a skill's content at a version.
// Version numbers per skill are contiguous, strictly increasing and never
// reused; the skill's active version always has a corresponding entry.
type VersionEntry struct {
	SkillID              string    `json:"skill_id"`
	VersionNumber        int       `json:"version_number"`
	SystemInstruction    string    `json:"system_instruction"`
	UserPromptTemplate   string    `json:"user_prompt_template"`
	ImprovementRequestID string    `json:"improvement_request_id,omitempty"`
	ChangeReason         string    `json:"change_reason,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}
