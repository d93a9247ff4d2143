package improve

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/promptops/whetstone/internal/metrics"
	"github.com/promptops/whetstone/internal/notify"
	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

// Action is one improver invocation. The single entry point multiplexes on the
// Action field; parameters that an action does not use are ignored.
type Action struct {
	Action     string `json:"action"`
	RequestID  string `json:"requestId,omitempty"`
	SkillID    string `json:"skillId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ReviewerID string `json:"reviewerId,omitempty"`
}

// Result is the uniform response envelope. Either Success is true and Data
// carries the action payload, or Success is false and Error/Code describe the
// failure. No partial mutation is ever visible behind a Success result.
type Result struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    Kind        `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ApplyResult is the apply action payload.
type ApplyResult struct {
	RequestID  string `json:"request_id"`
	SkillID    string `json:"skill_id"`
	NewVersion int    `json:"new_version"`
}

// RollbackResult is the rollback action payload. RestoredVersion names the
// version whose content is active again.
type RollbackResult struct {
	SkillID         string `json:"skill_id"`
	RestoredVersion int    `json:"restored_version"`
}

// TriggerResult is the trigger action payload. RequestID is set only when a
// new improvement request was created.
type TriggerResult struct {
	Eligible  bool                 `json:"eligible"`
	Detail    string               `json:"detail,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
	Reason    models.TriggerReason `json:"reason,omitempty"`
}

// ReviewResult is the approve/reject payload.
type ReviewResult struct {
	RequestID  string               `json:"request_id"`
	SkillID    string               `json:"skill_id"`
	Status     models.RequestStatus `json:"status"`
	ReviewedBy string               `json:"reviewed_by,omitempty"`
}

// SkillSummary is the skill block of the status payload.
type SkillSummary struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	CurrentVersion      int        `json:"current_version"`
	TotalGrades         int        `json:"total_grades"`
	MinGradesRequired   int        `json:"min_grades_required"`
	GradesUntilEligible int        `json:"grades_until_eligible"`
	ImprovementPending  bool       `json:"improvement_pending"`
	ImprovementCount    int        `json:"improvement_count"`
	LastImprovedAt      *time.Time `json:"last_improved_at,omitempty"`
}

// ScoreSummary is the scores block of the status payload.
type ScoreSummary struct {
	Overall         *float64 `json:"overall"`
	Relevance       *float64 `json:"relevance"`
	Accuracy        *float64 `json:"accuracy"`
	Completeness    *float64 `json:"completeness"`
	Clarity         *float64 `json:"clarity"`
	Actionability   *float64 `json:"actionability"`
	Professionalism *float64 `json:"professionalism"`
	Threshold       float64  `json:"threshold"`
}

// StatusResult is the status action payload: skill summary, scores, a fresh
// eligibility check, the active request if any, and recent history.
type StatusResult struct {
	Skill            SkillSummary               `json:"skill"`
	Scores           ScoreSummary               `json:"scores"`
	ImprovementCheck Eligibility                `json:"improvement_check"`
	ActiveRequest    *models.ImprovementRequest `json:"active_request"`
	VersionHistory   []*models.VersionEntry     `json:"version_history"`
}

// PendingRequest is one entry of the pending-list payload, the open request
// joined with a short skill summary.
type PendingRequest struct {
	*models.ImprovementRequest
	SkillName           string `json:"skill_name"`
	SkillType           string `json:"skill_type,omitempty"`
	SkillCurrentVersion int    `json:"skill_current_version"`
}

const historyLimit = 5

// Orchestrator dispatches actions to the lifecycle components. It holds no
// business state; everything durable lives in the store.
type Orchestrator struct {
	store     store.Store
	evaluator *Evaluator
	generator *Generator
	gate      *Gate
	promoter  *Promoter
	publisher notify.Publisher
	metrics   *metrics.Metrics
}

func NewOrchestrator(s store.Store, evaluator *Evaluator, generator *Generator, publisher notify.Publisher, m *metrics.Metrics) *Orchestrator {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	return &Orchestrator{
		store:     s,
		evaluator: evaluator,
		generator: generator,
		gate:      NewGate(s),
		promoter:  NewPromoter(s),
		publisher: publisher,
		metrics:   m,
	}
}

// Do executes one action and returns the uniform envelope.
func (o *Orchestrator) Do(ctx context.Context, action Action) *Result {
	start := time.Now()
	data, err := o.dispatch(ctx, action)
	o.recordAction(action.Action, err, time.Since(start))

	if err != nil {
		log.Printf("[Orchestrator] Action %s failed: %v", action.Action, err)
		return &Result{Success: false, Error: err.Error(), Code: KindOf(err)}
	}
	return &Result{Success: true, Data: data}
}

func (o *Orchestrator) dispatch(ctx context.Context, action Action) (interface{}, error) {
	switch action.Action {
	case "generate":
		return o.generate(ctx, action)
	case "approve":
		return o.approve(ctx, action)
	case "reject":
		return o.reject(ctx, action)
	case "apply":
		return o.apply(ctx, action)
	case "rollback":
		return o.rollback(ctx, action)
	case "status":
		return o.status(ctx, action)
	case "pending-list", "pending":
		return o.pendingList(ctx)
	case "trigger":
		return o.trigger(ctx, action)
	case "":
		return nil, newError(KindInvalidRequest, "action is required")
	default:
		return nil, newError(KindInvalidRequest, "unknown action: %s", action.Action)
	}
}

func (o *Orchestrator) generate(ctx context.Context, action Action) (interface{}, error) {
	if action.RequestID == "" {
		return nil, newError(KindInvalidRequest, "requestId is required")
	}

	result, err := o.generator.Generate(ctx, action.RequestID)
	if err != nil {
		return nil, err
	}

	o.recordTransition(models.RequestStatusPending, models.RequestStatusGenerated)
	o.publish(ctx, notify.Event{
		Type:      notify.EventRequestGenerated,
		SkillID:   result.SkillID,
		RequestID: result.RequestID,
	})
	return result, nil
}

func (o *Orchestrator) approve(ctx context.Context, action Action) (interface{}, error) {
	if action.RequestID == "" {
		return nil, newError(KindInvalidRequest, "requestId is required")
	}

	req, err := o.gate.Approve(ctx, action.RequestID, action.ReviewerID)
	if err != nil {
		return nil, err
	}

	o.recordTransition(models.RequestStatusGenerated, models.RequestStatusApproved)
	o.publish(ctx, notify.Event{
		Type:      notify.EventRequestApproved,
		SkillID:   req.SkillID,
		RequestID: req.ID,
		Detail:    req.ReviewedBy,
	})
	return &ReviewResult{RequestID: req.ID, SkillID: req.SkillID, Status: req.Status, ReviewedBy: req.ReviewedBy}, nil
}

func (o *Orchestrator) reject(ctx context.Context, action Action) (interface{}, error) {
	if action.RequestID == "" {
		return nil, newError(KindInvalidRequest, "requestId is required")
	}

	req, err := o.gate.Reject(ctx, action.RequestID, action.Reason, action.ReviewerID)
	if err != nil {
		return nil, err
	}

	// A request with no proposal was rejected straight from pending.
	from := models.RequestStatusGenerated
	if req.ProposedSystemInstruction == "" {
		from = models.RequestStatusPending
	}
	o.recordTransition(from, models.RequestStatusRejected)
	o.publish(ctx, notify.Event{
		Type:      notify.EventRequestRejected,
		SkillID:   req.SkillID,
		RequestID: req.ID,
		Detail:    req.ReviewNotes,
	})
	return &ReviewResult{RequestID: req.ID, SkillID: req.SkillID, Status: req.Status, ReviewedBy: req.ReviewedBy}, nil
}

func (o *Orchestrator) apply(ctx context.Context, action Action) (interface{}, error) {
	if action.RequestID == "" {
		return nil, newError(KindInvalidRequest, "requestId is required")
	}

	newVersion, err := o.promoter.Apply(ctx, action.RequestID)
	if err != nil {
		return nil, err
	}

	req, err := o.store.GetRequest(ctx, action.RequestID)
	if err != nil {
		return nil, storeError(err, "failed to load applied request")
	}

	o.recordTransition(models.RequestStatusApproved, models.RequestStatusApplied)
	if o.metrics != nil {
		skill, err := o.store.GetSkill(ctx, req.SkillID)
		skillType := ""
		if err == nil {
			skillType = skill.SkillType
		}
		o.metrics.SkillsImproved.WithLabelValues(skillType).Inc()
	}
	o.publish(ctx, notify.Event{
		Type:      notify.EventRequestApplied,
		SkillID:   req.SkillID,
		RequestID: req.ID,
		Version:   newVersion,
	})
	return &ApplyResult{RequestID: req.ID, SkillID: req.SkillID, NewVersion: newVersion}, nil
}

func (o *Orchestrator) rollback(ctx context.Context, action Action) (interface{}, error) {
	if action.SkillID == "" {
		return nil, newError(KindInvalidRequest, "skillId is required")
	}

	reason := action.Reason
	if reason == "" {
		reason = "manual rollback"
	}

	restored, err := o.promoter.Rollback(ctx, action.SkillID, reason)
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		skill, err := o.store.GetSkill(ctx, action.SkillID)
		skillType := ""
		if err == nil {
			skillType = skill.SkillType
		}
		o.metrics.Rollbacks.WithLabelValues(skillType).Inc()
	}
	o.publish(ctx, notify.Event{
		Type:    notify.EventSkillRolledBack,
		SkillID: action.SkillID,
		Version: restored,
		Detail:  reason,
	})
	return &RollbackResult{SkillID: action.SkillID, RestoredVersion: restored}, nil
}

func (o *Orchestrator) status(ctx context.Context, action Action) (interface{}, error) {
	if action.SkillID == "" {
		return nil, newError(KindInvalidRequest, "skillId is required")
	}

	skill, err := o.store.GetSkill(ctx, action.SkillID)
	if err != nil {
		return nil, storeError(err, "failed to load skill")
	}

	active, err := o.store.LatestOpenRequestForSkill(ctx, skill.ID)
	if err != nil {
		return nil, storeError(err, "failed to load active request")
	}

	history, err := o.store.HistoryForSkill(ctx, skill.ID, historyLimit)
	if err != nil {
		return nil, storeError(err, "failed to load version history")
	}

	gradesUntil := skill.MinGradesForImprovement - skill.Scores.TotalGrades
	if gradesUntil < 0 {
		gradesUntil = 0
	}

	return &StatusResult{
		Skill: SkillSummary{
			ID:                  skill.ID,
			Name:                skill.Name,
			CurrentVersion:      skill.CurrentVersion,
			TotalGrades:         skill.Scores.TotalGrades,
			MinGradesRequired:   skill.MinGradesForImprovement,
			GradesUntilEligible: gradesUntil,
			ImprovementPending:  skill.ImprovementPending,
			ImprovementCount:    skill.ImprovementCount,
			LastImprovedAt:      skill.LastImprovedAt,
		},
		Scores: ScoreSummary{
			Overall:         skill.Scores.Overall,
			Relevance:       skill.Scores.Relevance,
			Accuracy:        skill.Scores.Accuracy,
			Completeness:    skill.Scores.Completeness,
			Clarity:         skill.Scores.Clarity,
			Actionability:   skill.Scores.Actionability,
			Professionalism: skill.Scores.Professionalism,
			Threshold:       skill.ImprovementThreshold,
		},
		ImprovementCheck: o.evaluator.Evaluate(skill, time.Now()),
		ActiveRequest:    active,
		VersionHistory:   history,
	}, nil
}

func (o *Orchestrator) pendingList(ctx context.Context) (interface{}, error) {
	requests, err := o.store.ListOpenRequests(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list open requests")
	}

	// Join each request with its skill so reviewers see names, not ids.
	skills := make(map[string]*models.Skill, len(requests))
	out := make([]*PendingRequest, 0, len(requests))
	for _, req := range requests {
		skill, ok := skills[req.SkillID]
		if !ok {
			skill, err = o.store.GetSkill(ctx, req.SkillID)
			if err != nil {
				return nil, storeError(err, "failed to load skill for request")
			}
			skills[req.SkillID] = skill
		}
		out = append(out, &PendingRequest{
			ImprovementRequest:  req,
			SkillName:           skill.Name,
			SkillType:           skill.SkillType,
			SkillCurrentVersion: skill.CurrentVersion,
		})
	}
	return out, nil
}

// trigger evaluates eligibility for a skill and, if eligible, creates the
// pending request and sets the improvement_pending flag in one conditional
// write. With Reason set to "manual" the eligibility predicate is bypassed
// but the pending-flag guard still holds.
func (o *Orchestrator) trigger(ctx context.Context, action Action) (interface{}, error) {
	if action.SkillID == "" {
		return nil, newError(KindInvalidRequest, "skillId is required")
	}

	skill, err := o.store.GetSkill(ctx, action.SkillID)
	if err != nil {
		return nil, storeError(err, "failed to load skill")
	}

	var elig Eligibility
	if action.Reason == string(models.TriggerManual) {
		elig = Eligibility{
			Eligible:       !skill.ImprovementPending,
			Reason:         models.TriggerManual,
			Detail:         "manually triggered",
			WeakDimensions: WeakDimensions(skill.Scores),
		}
		if skill.ImprovementPending {
			elig.Detail = "an improvement request is already open"
		}
	} else {
		elig = o.evaluator.Evaluate(skill, time.Now())
	}

	if !elig.Eligible {
		return &TriggerResult{Eligible: false, Detail: elig.Detail}, nil
	}

	req := &models.ImprovementRequest{
		ID:             newRequestID(),
		SkillID:        skill.ID,
		Status:         models.RequestStatusPending,
		TriggerReason:  elig.Reason,
		ScoreSnapshot:  skill.Scores,
		SampleFeedback: feedbackSample(skill.RecentFeedback, o.generator.opts.FeedbackSampleCap),
		TriggeredAt:    time.Now(),
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return nil, storeError(err, "failed to create improvement request")
	}

	log.Printf("[Orchestrator] Created improvement request %s for skill %s (%s)",
		req.ID, skill.ID, elig.Reason)

	o.publish(ctx, notify.Event{
		Type:      notify.EventRequestCreated,
		SkillID:   skill.ID,
		RequestID: req.ID,
		Detail:    elig.Detail,
	})
	return &TriggerResult{
		Eligible:  true,
		Detail:    elig.Detail,
		RequestID: req.ID,
		Reason:    elig.Reason,
	}, nil
}

// publish sends a lifecycle event best-effort. A failed publish is logged and
// never fails the action that produced it.
func (o *Orchestrator) publish(ctx context.Context, event notify.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := o.publisher.Publish(pubCtx, event); err != nil {
		log.Printf("[Orchestrator] Failed to publish %s event: %v", event.Type, err)
		return
	}
	if o.metrics != nil {
		o.metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	}
}

func (o *Orchestrator) recordAction(action string, err error, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	o.metrics.RecordAction(action, result, elapsed.Seconds())
}

func (o *Orchestrator) recordTransition(from, to models.RequestStatus) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordTransition(string(from), string(to))
}

// feedbackSample bounds the feedback snapshot taken at trigger time. Future
// grades and feedback must not retroactively change it, so the slice is copied.
func feedbackSample(feedback []string, limit int) []string {
	if len(feedback) == 0 {
		return nil
	}
	if limit > 0 && len(feedback) > limit {
		feedback = feedback[:limit]
	}
	return append([]string(nil), feedback...)
}

func newRequestID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return "req-" + hex.EncodeToString(b)
}
