package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/promptops/whetstone/internal/improve"
	"github.com/promptops/whetstone/pkg/models"
)

// statusForKind maps the lifecycle error taxonomy onto HTTP statuses.
func statusForKind(kind improve.Kind) int {
	switch kind {
	case improve.KindNotFound:
		return http.StatusNotFound
	case improve.KindInvalidState, improve.KindNoPreviousVersion:
		return http.StatusConflict
	case improve.KindInvalidRequest:
		return http.StatusBadRequest
	case improve.KindUpstreamError, improve.KindMalformedGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleImprover is the single action endpoint. The request body names an
// action plus its parameters; the response is the uniform result envelope.
func (s *Server) handleImprover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var action improve.Action
	if err := s.parseJSON(r, &action); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A verified bearer token overrides whatever reviewer id the body claims.
	reviewer, err := s.verifier.ReviewerFromRequest(r)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid bearer token")
		return
	}
	if reviewer != "" {
		action.ReviewerID = reviewer
	}

	result := s.orchestrator.Do(r.Context(), action)
	if !result.Success {
		s.respondJSON(w, statusForKind(result.Code), result)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// createSkillRequest is the body for registering a skill.
type createSkillRequest struct {
	ID                      string  `json:"id,omitempty"`
	Name                    string  `json:"name"`
	SkillType               string  `json:"skill_type,omitempty"`
	SystemInstruction       string  `json:"system_instruction"`
	UserPromptTemplate      string  `json:"user_prompt_template"`
	MinGradesForImprovement int     `json:"min_grades_for_improvement,omitempty"`
	ImprovementThreshold    float64 `json:"improvement_threshold,omitempty"`
}

// handleSkills handles list and create on the skill registry
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		skills, err := s.store.ListSkills(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to list skills")
			return
		}
		s.respondJSON(w, http.StatusOK, skills)

	case http.MethodPost:
		var req createSkillRequest
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" || req.SystemInstruction == "" || req.UserPromptTemplate == "" {
			s.respondError(w, http.StatusBadRequest, "name, system_instruction and user_prompt_template are required")
			return
		}

		skill := &models.Skill{
			ID:                      req.ID,
			Name:                    req.Name,
			SkillType:               req.SkillType,
			SystemInstruction:       req.SystemInstruction,
			UserPromptTemplate:      req.UserPromptTemplate,
			MinGradesForImprovement: req.MinGradesForImprovement,
			ImprovementThreshold:    req.ImprovementThreshold,
		}
		if skill.ID == "" {
			skill.ID = newSkillID()
		}
		if skill.MinGradesForImprovement <= 0 {
			skill.MinGradesForImprovement = s.config.Improvement.DefaultMinGrades
		}
		if skill.ImprovementThreshold <= 0 {
			skill.ImprovementThreshold = s.config.Improvement.DefaultThreshold
		}

		if err := s.store.CreateSkill(r.Context(), skill); err != nil {
			lerr := improve.StoreError(err, "failed to create skill")
			s.respondJSON(w, statusForKind(lerr.Kind), improve.Result{Success: false, Error: lerr.Error(), Code: lerr.Kind})
			return
		}
		s.respondJSON(w, http.StatusCreated, skill)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSkill handles per-skill routes:
// GET /api/v1/skills/{id} and PUT /api/v1/skills/{id}/scores.
func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/skills/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.respondError(w, http.StatusBadRequest, "skill id is required")
		return
	}
	skillID := parts[0]

	if len(parts) == 2 && parts[1] == "scores" {
		s.handleSkillScores(w, r, skillID)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := s.orchestrator.Do(r.Context(), improve.Action{Action: "status", SkillID: skillID})
	if !result.Success {
		s.respondJSON(w, statusForKind(result.Code), result)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// updateScoresRequest is the grading-pipeline ingestion payload: the aggregate
// score vector plus an optional sample of raw feedback strings. Omitting
// feedback leaves the stored sample untouched.
type updateScoresRequest struct {
	models.ScoreVector
	Feedback []string `json:"feedback,omitempty"`
}

// handleSkillScores ingests an aggregate score snapshot from the grading
// pipeline. The lifecycle consumes scores; it never computes them.
func (s *Server) handleSkillScores(w http.ResponseWriter, r *http.Request, skillID string) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body updateScoresRequest
	if err := s.parseJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateSkillScores(r.Context(), skillID, body.ScoreVector, body.Feedback); err != nil {
		lerr := improve.StoreError(err, "failed to update skill scores")
		s.respondJSON(w, statusForKind(lerr.Kind), improve.Result{Success: false, Error: lerr.Error(), Code: lerr.Kind})
		return
	}
	s.respondJSON(w, http.StatusOK, improve.Result{Success: true})
}

func newSkillID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "skill-unknown"
	}
	return "skill-" + hex.EncodeToString(b)
}
