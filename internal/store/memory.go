package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptops/whetstone/pkg/models"
)

// MemoryStore provides an in-memory version store. Used in dev mode and
// throughout the test suite; the mutex serializes every mutation, which gives
// the same linearizability per skill id that the Postgres store gets from
// transactions.
type MemoryStore struct {
	mu       sync.RWMutex
	skills   map[string]*models.Skill
	requests map[string]*models.ImprovementRequest
	history  map[string][]*models.VersionEntry // skillID -> entries, ascending version
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		skills:   make(map[string]*models.Skill),
		requests: make(map[string]*models.ImprovementRequest),
		history:  make(map[string][]*models.VersionEntry),
	}
}

func cloneSkill(s *models.Skill) *models.Skill {
	c := *s
	c.RecentFeedback = append([]string(nil), s.RecentFeedback...)
	if s.LastImprovedAt != nil {
		t := *s.LastImprovedAt
		c.LastImprovedAt = &t
	}
	return &c
}

func cloneRequest(r *models.ImprovementRequest) *models.ImprovementRequest {
	c := *r
	c.SampleFeedback = append([]string(nil), r.SampleFeedback...)
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

func cloneEntry(e *models.VersionEntry) *models.VersionEntry {
	c := *e
	return &c
}

func (m *MemoryStore) CreateSkill(_ context.Context, skill *models.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.skills[skill.ID]; exists {
		return ErrSkillExists
	}

	now := time.Now()
	s := cloneSkill(skill)
	if s.CurrentVersion == 0 {
		s.CurrentVersion = 1
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.skills[s.ID] = s

	// Seed the version-1 history row so the active version always has an entry.
	m.history[s.ID] = []*models.VersionEntry{{
		SkillID:            s.ID,
		VersionNumber:      s.CurrentVersion,
		SystemInstruction:  s.SystemInstruction,
		UserPromptTemplate: s.UserPromptTemplate,
		ChangeReason:       "initial version",
		CreatedAt:          now,
	}}

	return nil
}

func (m *MemoryStore) GetSkill(_ context.Context, id string) (*models.Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	skill, exists := m.skills[id]
	if !exists {
		return nil, ErrSkillNotFound
	}
	return cloneSkill(skill), nil
}

func (m *MemoryStore) ListSkills(_ context.Context) ([]*models.Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	skills := make([]*models.Skill, 0, len(m.skills))
	for _, s := range m.skills {
		skills = append(skills, cloneSkill(s))
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	return skills, nil
}

func (m *MemoryStore) UpdateSkillScores(_ context.Context, id string, scores models.ScoreVector, feedback []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	skill, exists := m.skills[id]
	if !exists {
		return ErrSkillNotFound
	}
	skill.Scores = scores
	if feedback != nil {
		skill.RecentFeedback = append([]string(nil), feedback...)
	}
	skill.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.ImprovementRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, exists := m.requests[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

func (m *MemoryStore) ListOpenRequests(_ context.Context) ([]*models.ImprovementRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make([]*models.ImprovementRequest, 0)
	for _, req := range m.requests {
		if req.Status.IsOpen() {
			open = append(open, cloneRequest(req))
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].TriggeredAt.After(open[j].TriggeredAt) })
	return open, nil
}

func (m *MemoryStore) LatestOpenRequestForSkill(_ context.Context, skillID string) (*models.ImprovementRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.ImprovementRequest
	for _, req := range m.requests {
		if req.SkillID != skillID || !req.Status.IsOpen() {
			continue
		}
		if latest == nil || req.TriggeredAt.After(latest.TriggeredAt) {
			latest = req
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRequest(latest), nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, req *models.ImprovementRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	skill, exists := m.skills[req.SkillID]
	if !exists {
		return ErrSkillNotFound
	}
	if skill.ImprovementPending {
		return ErrImprovementPending
	}
	if _, exists := m.requests[req.ID]; exists {
		return fmt.Errorf("request with ID %s already exists", req.ID)
	}

	r := cloneRequest(req)
	r.Status = models.RequestStatusPending
	if r.TriggeredAt.IsZero() {
		r.TriggeredAt = time.Now()
	}
	m.requests[r.ID] = r

	skill.ImprovementPending = true
	skill.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) TransitionRequest(_ context.Context, id string, allowedFrom []models.RequestStatus, update RequestUpdate) (*models.ImprovementRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, exists := m.requests[id]
	if !exists {
		return nil, ErrRequestNotFound
	}

	allowed := false
	for _, from := range allowedFrom {
		if req.Status == from {
			allowed = true
			break
		}
	}
	if !allowed || !models.CanTransition(req.Status, update.Status) {
		return nil, ErrStaleStatus
	}

	req.Status = update.Status
	if update.Proposal != nil {
		req.ProposedSystemInstruction = update.Proposal.SystemInstruction
		req.ProposedUserPromptTemplate = update.Proposal.UserPromptTemplate
		req.ImprovementRationale = update.Proposal.Rationale
	}
	if update.Review != nil {
		req.ReviewedBy = update.Review.By
		at := update.Review.At
		req.ReviewedAt = &at
		if update.Review.Notes != "" {
			req.ReviewNotes = update.Review.Notes
		}
	}

	if update.ClearImprovementPending {
		if skill, ok := m.skills[req.SkillID]; ok {
			skill.ImprovementPending = false
			skill.UpdatedAt = time.Now()
		}
	}

	return cloneRequest(req), nil
}

func (m *MemoryStore) ApplyImprovement(_ context.Context, requestID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, exists := m.requests[requestID]
	if !exists {
		return 0, ErrRequestNotFound
	}
	if req.Status != models.RequestStatusApproved {
		return 0, ErrStaleStatus
	}
	skill, exists := m.skills[req.SkillID]
	if !exists {
		return 0, ErrSkillNotFound
	}

	now := time.Now()
	newVersion := skill.CurrentVersion + 1

	m.history[skill.ID] = append(m.history[skill.ID], &models.VersionEntry{
		SkillID:              skill.ID,
		VersionNumber:        newVersion,
		SystemInstruction:    req.ProposedSystemInstruction,
		UserPromptTemplate:   req.ProposedUserPromptTemplate,
		ImprovementRequestID: req.ID,
		ChangeReason:         req.ImprovementRationale,
		CreatedAt:            now,
	})

	skill.SystemInstruction = req.ProposedSystemInstruction
	skill.UserPromptTemplate = req.ProposedUserPromptTemplate
	skill.CurrentVersion = newVersion
	skill.ImprovementPending = false
	skill.ImprovementCount++
	skill.LastImprovedAt = &now
	skill.UpdatedAt = now

	req.Status = models.RequestStatusApplied

	// Any other open request for this skill is now stale; reject it so it
	// can never be applied on top of the new version.
	for _, other := range m.requests {
		if other.ID == req.ID || other.SkillID != skill.ID || !other.Status.IsOpen() {
			continue
		}
		other.Status = models.RequestStatusRejected
		other.ReviewNotes = fmt.Sprintf("superseded by applied request %s", req.ID)
		at := now
		other.ReviewedAt = &at
	}

	return newVersion, nil
}

func (m *MemoryStore) RollbackVersion(_ context.Context, skillID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	skill, exists := m.skills[skillID]
	if !exists {
		return 0, ErrSkillNotFound
	}

	// Most recent entry strictly older than the active version.
	var prev *models.VersionEntry
	for _, e := range m.history[skillID] {
		if e.VersionNumber >= skill.CurrentVersion {
			continue
		}
		if prev == nil || e.VersionNumber > prev.VersionNumber {
			prev = e
		}
	}
	if prev == nil {
		return 0, ErrNoPreviousVersion
	}

	if reason == "" {
		reason = "Manual rollback"
	}

	now := time.Now()
	newVersion := skill.CurrentVersion + 1

	// Rollback is an append, never a rewind: the restored content gets a new
	// version number so history stays contiguous and numbers are never reused.
	m.history[skillID] = append(m.history[skillID], &models.VersionEntry{
		SkillID:            skillID,
		VersionNumber:      newVersion,
		SystemInstruction:  prev.SystemInstruction,
		UserPromptTemplate: prev.UserPromptTemplate,
		ChangeReason:       fmt.Sprintf("rollback to version %d: %s", prev.VersionNumber, reason),
		CreatedAt:          now,
	})

	skill.SystemInstruction = prev.SystemInstruction
	skill.UserPromptTemplate = prev.UserPromptTemplate
	skill.CurrentVersion = newVersion
	skill.UpdatedAt = now

	return prev.VersionNumber, nil
}

func (m *MemoryStore) HistoryForSkill(_ context.Context, skillID string, limit int) ([]*models.VersionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.skills[skillID]; !exists {
		return nil, ErrSkillNotFound
	}

	entries := m.history[skillID]
	out := make([]*models.VersionEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneEntry(entries[i]))
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
