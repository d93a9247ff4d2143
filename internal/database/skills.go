package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

const skillColumns = `id, name, skill_type, current_system_instruction, current_user_prompt_template,
	current_version, total_grades, avg_overall_score, avg_relevance, avg_accuracy, avg_completeness,
	avg_clarity, avg_actionability, avg_professionalism, recent_feedback, min_grades_for_improvement,
	improvement_threshold, improvement_pending, improvement_count, last_improved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSkill(row rowScanner) (*models.Skill, error) {
	var s models.Skill
	var skillType sql.NullString
	var overall, relevance, accuracy, completeness, clarity, actionability, professionalism sql.NullFloat64
	var feedback []byte
	var lastImproved sql.NullTime

	err := row.Scan(
		&s.ID, &s.Name, &skillType, &s.SystemInstruction, &s.UserPromptTemplate,
		&s.CurrentVersion, &s.Scores.TotalGrades, &overall, &relevance, &accuracy, &completeness,
		&clarity, &actionability, &professionalism, &feedback, &s.MinGradesForImprovement,
		&s.ImprovementThreshold, &s.ImprovementPending, &s.ImprovementCount, &lastImproved,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(feedback) > 0 {
		if err := json.Unmarshal(feedback, &s.RecentFeedback); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recent feedback: %w", err)
		}
	}

	s.SkillType = skillType.String
	s.Scores.Overall = nullFloat(overall)
	s.Scores.Relevance = nullFloat(relevance)
	s.Scores.Accuracy = nullFloat(accuracy)
	s.Scores.Completeness = nullFloat(completeness)
	s.Scores.Clarity = nullFloat(clarity)
	s.Scores.Actionability = nullFloat(actionability)
	s.Scores.Professionalism = nullFloat(professionalism)
	if lastImproved.Valid {
		t := lastImproved.Time
		s.LastImprovedAt = &t
	}
	return &s, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func toNullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (d *Database) CreateSkill(ctx context.Context, skill *models.Skill) error {
	version := skill.CurrentVersion
	if version == 0 {
		version = 1
	}

	feedback, err := marshalJSON(skill.RecentFeedback)
	if err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rebind(`
			INSERT INTO skill_registry (id, name, skill_type, current_system_instruction,
				current_user_prompt_template, current_version, total_grades, avg_overall_score,
				avg_relevance, avg_accuracy, avg_completeness, avg_clarity, avg_actionability,
				avg_professionalism, recent_feedback, min_grades_for_improvement,
				improvement_threshold, improvement_pending, improvement_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false, 0)`),
			skill.ID, skill.Name, skill.SkillType, skill.SystemInstruction,
			skill.UserPromptTemplate, version, skill.Scores.TotalGrades,
			toNullFloat(skill.Scores.Overall), toNullFloat(skill.Scores.Relevance),
			toNullFloat(skill.Scores.Accuracy), toNullFloat(skill.Scores.Completeness),
			toNullFloat(skill.Scores.Clarity), toNullFloat(skill.Scores.Actionability),
			toNullFloat(skill.Scores.Professionalism), feedback,
			skill.MinGradesForImprovement, skill.ImprovementThreshold,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return store.ErrSkillExists
			}
			return fmt.Errorf("failed to insert skill: %w", err)
		}

		// Seed the version-1 history row.
		_, err = tx.ExecContext(ctx, rebind(`
			INSERT INTO skill_version_history (skill_id, version_number, system_instruction,
				user_prompt_template, change_reason)
			VALUES (?, ?, ?, ?, 'initial version')`),
			skill.ID, version, skill.SystemInstruction, skill.UserPromptTemplate,
		)
		if err != nil {
			return fmt.Errorf("failed to insert initial version: %w", err)
		}
		return nil
	})
}

func (d *Database) GetSkill(ctx context.Context, id string) (*models.Skill, error) {
	row := d.db.QueryRowContext(ctx,
		rebind(`SELECT `+skillColumns+` FROM skill_registry WHERE id = ?`), id)
	skill, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrSkillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query skill: %w", err)
	}
	return skill, nil
}

func (d *Database) ListSkills(ctx context.Context) ([]*models.Skill, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+skillColumns+` FROM skill_registry ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer rows.Close()

	var skills []*models.Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

func (d *Database) UpdateSkillScores(ctx context.Context, id string, scores models.ScoreVector, feedback []string) error {
	query := `
		UPDATE skill_registry
		SET total_grades = ?, avg_overall_score = ?, avg_relevance = ?, avg_accuracy = ?,
			avg_completeness = ?, avg_clarity = ?, avg_actionability = ?, avg_professionalism = ?,
			updated_at = ?`
	args := []interface{}{
		scores.TotalGrades, toNullFloat(scores.Overall), toNullFloat(scores.Relevance),
		toNullFloat(scores.Accuracy), toNullFloat(scores.Completeness), toNullFloat(scores.Clarity),
		toNullFloat(scores.Actionability), toNullFloat(scores.Professionalism), time.Now(),
	}

	// A nil feedback slice leaves the stored sample untouched.
	if feedback != nil {
		fb, err := marshalJSON(feedback)
		if err != nil {
			return err
		}
		query += `, recent_feedback = ?`
		args = append(args, fb)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	result, err := d.db.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update skill scores: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrSkillNotFound
	}
	return nil
}
