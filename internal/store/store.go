package store

import (
	"context"
	"errors"
	"time"

	"github.com/promptops/whetstone/pkg/models"
)

// Sentinel errors returned by Store implementations. Callers map these onto
// the lifecycle error taxonomy; nothing else inspects store error text.
var (
	ErrSkillNotFound      = errors.New("skill not found")
	ErrSkillExists        = errors.New("skill already exists")
	ErrRequestNotFound    = errors.New("improvement request not found")
	ErrImprovementPending = errors.New("an open improvement request already exists for this skill")
	ErrStaleStatus        = errors.New("request status changed concurrently")
	ErrNoPreviousVersion  = errors.New("no previous version available")
)

// Proposal carries the generated content attached to a request on the
// pending -> generated transition.
type Proposal struct {
	SystemInstruction  string
	UserPromptTemplate string
	Rationale          string
}

// Review carries reviewer metadata recorded on approve/reject.
type Review struct {
	By    string
	At    time.Time
	Notes string
}

// RequestUpdate describes a conditional status transition. The transition is
// applied only if the request's current status is in the caller's allowed-from
// set; otherwise ErrStaleStatus is returned and nothing changes.
type RequestUpdate struct {
	Status   models.RequestStatus
	Proposal *Proposal
	Review   *Review

	// ClearImprovementPending clears the owning skill's flag in the same
	// atomic unit (reject path: a rejected request no longer blocks triggers).
	ClearImprovementPending bool
}

// Store is the version store: durable record of skills, improvement requests
// and append-only version history. It owns all persistence invariants; every
// mutation below is a single atomic unit keyed on the skill or request id.
type Store interface {
	CreateSkill(ctx context.Context, skill *models.Skill) error
	GetSkill(ctx context.Context, id string) (*models.Skill, error)
	ListSkills(ctx context.Context) ([]*models.Skill, error)
	// UpdateSkillScores replaces the skill's aggregate scores. A non-nil
	// feedback slice replaces the stored recent-feedback sample as well;
	// nil leaves the existing sample untouched.
	UpdateSkillScores(ctx context.Context, id string, scores models.ScoreVector, feedback []string) error

	GetRequest(ctx context.Context, id string) (*models.ImprovementRequest, error)
	ListOpenRequests(ctx context.Context) ([]*models.ImprovementRequest, error)
	// LatestOpenRequestForSkill returns (nil, nil) when the skill has no open request.
	LatestOpenRequestForSkill(ctx context.Context, skillID string) (*models.ImprovementRequest, error)

	// CreateRequest conditionally inserts a pending request and sets the
	// skill's improvement_pending flag as one atomic write. Fails with
	// ErrImprovementPending if the flag is already set, so two concurrent
	// trigger evaluations cannot both create a request.
	CreateRequest(ctx context.Context, req *models.ImprovementRequest) error

	// TransitionRequest performs a compare-and-swap on the request status.
	TransitionRequest(ctx context.Context, id string, allowedFrom []models.RequestStatus, update RequestUpdate) (*models.ImprovementRequest, error)

	// ApplyImprovement promotes an approved request: inserts the next version
	// history row, swaps the skill's active content, clears the pending flag
	// and rejects any other open request for the skill as superseded. Returns
	// the new version number. All-or-nothing.
	ApplyImprovement(ctx context.Context, requestID string) (int, error)

	// RollbackVersion restores the content of the version immediately
	// preceding the skill's current one by appending a new history row
	// (history is never truncated). Returns the version number whose content
	// was restored, or ErrNoPreviousVersion for a skill at version 1.
	RollbackVersion(ctx context.Context, skillID, reason string) (int, error)

	// HistoryForSkill returns history entries newest-first, at most limit.
	HistoryForSkill(ctx context.Context, skillID string, limit int) ([]*models.VersionEntry, error)

	Close() error
}
