package improve

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/promptops/whetstone/internal/provider"
	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, store.Store, *provider.MockProvider) {
	t.Helper()
	s := store.NewMemoryStore()
	mock := provider.NewMockProvider()
	gen := NewGenerator(s, mock, GeneratorOptions{FeedbackSampleCap: 10, PreviewLength: 500})
	orch := NewOrchestrator(s, NewEvaluator(Policy{}), gen, nil, nil)
	return orch, s, mock
}

func seedWeakSkill(t *testing.T, s store.Store) {
	t.Helper()
	err := s.CreateSkill(context.Background(), &models.Skill{
		ID:                      "skill-1",
		Name:                    "Market Analysis",
		SkillType:               "analysis",
		SystemInstruction:       "You are an analyst.",
		UserPromptTemplate:      "Analyze {{company}}.",
		MinGradesForImprovement: 50,
		ImprovementThreshold:    3.5,
		Scores: models.ScoreVector{
			TotalGrades: 60,
			Overall:     floatPtr(3.0),
			Accuracy:    floatPtr(2.5),
		},
	})
	if err != nil {
		t.Fatalf("CreateSkill failed: %v", err)
	}
}

func mustTrigger(t *testing.T, orch *Orchestrator) string {
	t.Helper()
	result := orch.Do(context.Background(), Action{Action: "trigger", SkillID: "skill-1"})
	if !result.Success {
		t.Fatalf("trigger failed: %s", result.Error)
	}
	tr := result.Data.(*TriggerResult)
	if !tr.Eligible || tr.RequestID == "" {
		t.Fatalf("expected eligible trigger with request id, got %+v", tr)
	}
	return tr.RequestID
}

func TestFullLifecycle(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)
	ctx := context.Background()

	reqID := mustTrigger(t, orch)

	// Generate.
	result := orch.Do(ctx, Action{Action: "generate", RequestID: reqID})
	if !result.Success {
		t.Fatalf("generate failed: %s", result.Error)
	}

	// Approve.
	result = orch.Do(ctx, Action{Action: "approve", RequestID: reqID, ReviewerID: "alex"})
	if !result.Success {
		t.Fatalf("approve failed: %s", result.Error)
	}
	review := result.Data.(*ReviewResult)
	if review.Status != models.RequestStatusApproved || review.ReviewedBy != "alex" {
		t.Errorf("unexpected review result: %+v", review)
	}

	// Apply.
	result = orch.Do(ctx, Action{Action: "apply", RequestID: reqID})
	if !result.Success {
		t.Fatalf("apply failed: %s", result.Error)
	}
	applied := result.Data.(*ApplyResult)
	if applied.NewVersion != 2 {
		t.Errorf("expected new version 2, got %d", applied.NewVersion)
	}

	skill, _ := s.GetSkill(ctx, "skill-1")
	if skill.CurrentVersion != 2 || skill.ImprovementPending {
		t.Errorf("skill state after apply: version=%d pending=%v", skill.CurrentVersion, skill.ImprovementPending)
	}

	// Rollback.
	result = orch.Do(ctx, Action{Action: "rollback", SkillID: "skill-1", Reason: "worse in production"})
	if !result.Success {
		t.Fatalf("rollback failed: %s", result.Error)
	}
	rb := result.Data.(*RollbackResult)
	if rb.RestoredVersion != 1 {
		t.Errorf("expected restored version 1, got %d", rb.RestoredVersion)
	}
	skill, _ = s.GetSkill(ctx, "skill-1")
	if skill.SystemInstruction != "You are an analyst." {
		t.Errorf("content not restored: %q", skill.SystemInstruction)
	}
}

func TestTriggerIneligible(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)

	// Drain eligibility by opening a request.
	mustTrigger(t, orch)

	result := orch.Do(context.Background(), Action{Action: "trigger", SkillID: "skill-1"})
	if !result.Success {
		t.Fatalf("trigger evaluation itself should succeed: %s", result.Error)
	}
	tr := result.Data.(*TriggerResult)
	if tr.Eligible || tr.RequestID != "" {
		t.Errorf("expected ineligible result, got %+v", tr)
	}
}

func TestTriggerManualBypassesPredicate(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	// Healthy skill: would never pass the predicate.
	err := s.CreateSkill(context.Background(), &models.Skill{
		ID:                      "skill-1",
		Name:                    "Healthy",
		SystemInstruction:       "sys",
		UserPromptTemplate:      "{{x}}",
		MinGradesForImprovement: 50,
		ImprovementThreshold:    3.5,
		Scores:                  models.ScoreVector{TotalGrades: 10, Overall: floatPtr(4.8)},
	})
	if err != nil {
		t.Fatalf("CreateSkill failed: %v", err)
	}

	result := orch.Do(context.Background(), Action{Action: "trigger", SkillID: "skill-1", Reason: "manual"})
	if !result.Success {
		t.Fatalf("manual trigger failed: %s", result.Error)
	}
	tr := result.Data.(*TriggerResult)
	if !tr.Eligible || tr.Reason != models.TriggerManual {
		t.Errorf("expected manual trigger to open a request, got %+v", tr)
	}

	// The pending-flag guard still applies to manual triggers.
	result = orch.Do(context.Background(), Action{Action: "trigger", SkillID: "skill-1", Reason: "manual"})
	tr = result.Data.(*TriggerResult)
	if tr.Eligible {
		t.Error("manual trigger must not bypass the open-request guard")
	}
}

func TestTriggerSnapshotsFeedback(t *testing.T) {
	orch, s, mock := newTestOrchestrator(t)
	seedWeakSkill(t, s)
	ctx := context.Background()

	// The grading pipeline pushes feedback alongside scores; the trigger takes
	// a bounded snapshot of it (sample cap is 10 in the test orchestrator).
	feedback := make([]string, 12)
	for i := range feedback {
		feedback[i] = fmt.Sprintf("comment %d", i)
	}
	scores := models.ScoreVector{TotalGrades: 60, Overall: floatPtr(3.0), Accuracy: floatPtr(2.5)}
	if err := s.UpdateSkillScores(ctx, "skill-1", scores, feedback); err != nil {
		t.Fatalf("UpdateSkillScores failed: %v", err)
	}

	reqID := mustTrigger(t, orch)

	req, err := s.GetRequest(ctx, reqID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if len(req.SampleFeedback) != 10 {
		t.Fatalf("expected feedback snapshot capped at 10, got %d", len(req.SampleFeedback))
	}
	if req.SampleFeedback[0] != "comment 0" {
		t.Errorf("unexpected snapshot contents: %+v", req.SampleFeedback)
	}

	// Later feedback pushes must not change the snapshot already taken.
	if err := s.UpdateSkillScores(ctx, "skill-1", scores, []string{"new complaint"}); err != nil {
		t.Fatalf("UpdateSkillScores failed: %v", err)
	}
	req, _ = s.GetRequest(ctx, reqID)
	if len(req.SampleFeedback) != 10 || req.SampleFeedback[0] != "comment 0" {
		t.Errorf("snapshot changed after trigger: %+v", req.SampleFeedback)
	}

	// The snapshot reaches the rewrite prompt.
	if result := orch.Do(ctx, Action{Action: "generate", RequestID: reqID}); !result.Success {
		t.Fatalf("generate failed: %s", result.Error)
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(mock.Calls))
	}
	prompt := mock.Calls[0].User
	if !strings.Contains(prompt, "comment 0") {
		t.Error("generation prompt missing the feedback sample")
	}
	if strings.Contains(prompt, "No written feedback provided") {
		t.Error("prompt claims no feedback despite a populated snapshot")
	}
}

func TestConcurrentTriggersCreateOneRequest(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)

	const attempts = 10
	var wg sync.WaitGroup
	created := make([]string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := orch.Do(context.Background(), Action{Action: "trigger", SkillID: "skill-1"})
			if result.Success {
				if tr := result.Data.(*TriggerResult); tr.Eligible {
					created[i] = tr.RequestID
				}
			}
		}(i)
	}
	wg.Wait()

	count := 0
	for _, id := range created {
		if id != "" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 request created under contention, got %d", count)
	}
}

func TestApproveTwiceFailsInvalidState(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)
	ctx := context.Background()

	reqID := mustTrigger(t, orch)
	orch.Do(ctx, Action{Action: "generate", RequestID: reqID})

	if result := orch.Do(ctx, Action{Action: "approve", RequestID: reqID}); !result.Success {
		t.Fatalf("first approve failed: %s", result.Error)
	}
	result := orch.Do(ctx, Action{Action: "approve", RequestID: reqID})
	if result.Success || result.Code != KindInvalidState {
		t.Errorf("second approve must fail InvalidState, got %+v", result)
	}
}

func TestApproveBeforeGenerateFails(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)

	reqID := mustTrigger(t, orch)
	result := orch.Do(context.Background(), Action{Action: "approve", RequestID: reqID})
	if result.Success || result.Code != KindInvalidState {
		t.Errorf("approving a pending request must fail InvalidState, got %+v", result)
	}
}

func TestRejectClearsImprovementPending(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)
	ctx := context.Background()

	reqID := mustTrigger(t, orch)
	orch.Do(ctx, Action{Action: "generate", RequestID: reqID})

	result := orch.Do(ctx, Action{Action: "reject", RequestID: reqID, Reason: "too aggressive", ReviewerID: "alex"})
	if !result.Success {
		t.Fatalf("reject failed: %s", result.Error)
	}

	skill, _ := s.GetSkill(ctx, "skill-1")
	if skill.ImprovementPending {
		t.Error("reject must clear improvement_pending")
	}

	req, _ := s.GetRequest(ctx, reqID)
	if req.Status != models.RequestStatusRejected || req.ReviewNotes != "too aggressive" {
		t.Errorf("unexpected rejected request: %+v", req)
	}

	// A fresh trigger can open a new cycle.
	mustTrigger(t, orch)
}

func TestRollbackAtVersionOne(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)

	result := orch.Do(context.Background(), Action{Action: "rollback", SkillID: "skill-1"})
	if result.Success || result.Code != KindNoPreviousVersion {
		t.Errorf("rollback at v1 must fail NoPreviousVersion, got %+v", result)
	}
}

func TestStatusAction(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)
	ctx := context.Background()

	reqID := mustTrigger(t, orch)

	result := orch.Do(ctx, Action{Action: "status", SkillID: "skill-1"})
	if !result.Success {
		t.Fatalf("status failed: %s", result.Error)
	}
	status := result.Data.(*StatusResult)

	if status.Skill.ID != "skill-1" || status.Skill.GradesUntilEligible != 0 {
		t.Errorf("unexpected skill summary: %+v", status.Skill)
	}
	if status.Scores.Threshold != 3.5 || *status.Scores.Overall != 3.0 {
		t.Errorf("unexpected scores: %+v", status.Scores)
	}
	if status.ActiveRequest == nil || status.ActiveRequest.ID != reqID {
		t.Errorf("expected active request %s, got %+v", reqID, status.ActiveRequest)
	}
	if len(status.VersionHistory) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(status.VersionHistory))
	}
	// The fresh eligibility check sees the open request.
	if status.ImprovementCheck.Eligible {
		t.Error("improvement check should report ineligible while a request is open")
	}
}

func TestStatusUnknownSkill(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	result := orch.Do(context.Background(), Action{Action: "status", SkillID: "missing"})
	if result.Success || result.Code != KindNotFound {
		t.Errorf("expected NotFound, got %+v", result)
	}
}

func TestPendingListJoinsSkill(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	seedWeakSkill(t, s)
	mustTrigger(t, orch)

	result := orch.Do(context.Background(), Action{Action: "pending-list"})
	if !result.Success {
		t.Fatalf("pending-list failed: %s", result.Error)
	}
	pending := result.Data.([]*PendingRequest)
	if len(pending) != 1 {
		t.Fatalf("expected 1 open request, got %d", len(pending))
	}
	if pending[0].SkillName != "Market Analysis" || pending[0].SkillCurrentVersion != 1 {
		t.Errorf("skill join missing: %+v", pending[0])
	}
}

func TestUnknownAndMissingParams(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	tests := []Action{
		{Action: "improve-everything"},
		{},
		{Action: "generate"}, // missing requestId
		{Action: "approve"},  // missing requestId
		{Action: "rollback"}, // missing skillId
		{Action: "status"},   // missing skillId
		{Action: "trigger"},  // missing skillId
	}
	for _, action := range tests {
		result := orch.Do(ctx, action)
		if result.Success || result.Code != KindInvalidRequest {
			t.Errorf("action %+v: expected InvalidRequest, got %+v", action, result)
		}
	}
}
