package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

// ApplyImprovement promotes an approved request in one transaction. The skill
// row is locked first so version numbers can never collide under concurrent
// applies; the status CAS then rejects any request that lost the race.
func (d *Database) ApplyImprovement(ctx context.Context, requestID string) (int, error) {
	var newVersion int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var skillID string
		var proposedSystem, proposedTemplate, rationale sql.NullString
		err := tx.QueryRowContext(ctx, rebind(`
			SELECT skill_id, proposed_system_instruction, proposed_user_prompt_template,
				improvement_rationale
			FROM skill_improvement_requests WHERE id = ?`), requestID).
			Scan(&skillID, &proposedSystem, &proposedTemplate, &rationale)
		if err == sql.ErrNoRows {
			return store.ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}

		// Lock the skill row; all per-skill version math happens under it.
		var currentVersion int
		err = tx.QueryRowContext(ctx,
			rebind(`SELECT current_version FROM skill_registry WHERE id = ? FOR UPDATE`),
			skillID).Scan(&currentVersion)
		if err == sql.ErrNoRows {
			return store.ErrSkillNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock skill: %w", err)
		}

		result, err := tx.ExecContext(ctx, rebind(`
			UPDATE skill_improvement_requests SET status = 'applied'
			WHERE id = ? AND status = 'approved'`), requestID)
		if err != nil {
			return fmt.Errorf("failed to mark request applied: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return store.ErrStaleStatus
		}

		newVersion = currentVersion + 1
		now := time.Now()

		_, err = tx.ExecContext(ctx, rebind(`
			INSERT INTO skill_version_history (skill_id, version_number, system_instruction,
				user_prompt_template, improvement_request_id, change_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			skillID, newVersion, proposedSystem.String, proposedTemplate.String,
			requestID, rationale.String, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}

		_, err = tx.ExecContext(ctx, rebind(`
			UPDATE skill_registry
			SET current_system_instruction = ?, current_user_prompt_template = ?,
				current_version = ?, improvement_pending = false,
				improvement_count = improvement_count + 1, last_improved_at = ?, updated_at = ?
			WHERE id = ?`),
			proposedSystem.String, proposedTemplate.String, newVersion, now, now, skillID,
		)
		if err != nil {
			return fmt.Errorf("failed to update skill: %w", err)
		}

		// Any other open request for this skill is now stale.
		_, err = tx.ExecContext(ctx, rebind(`
			UPDATE skill_improvement_requests
			SET status = 'rejected', review_notes = ?, reviewed_at = ?
			WHERE skill_id = ? AND id <> ?
			AND status IN ('pending', 'generated', 'approved')`),
			fmt.Sprintf("superseded by applied request %s", requestID), now, skillID, requestID,
		)
		if err != nil {
			return fmt.Errorf("failed to supersede open requests: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// RollbackVersion restores the previous version's content by appending a new
// history row. History is never truncated and version numbers are never reused.
func (d *Database) RollbackVersion(ctx context.Context, skillID, reason string) (int, error) {
	if reason == "" {
		reason = "Manual rollback"
	}

	var restoredVersion int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var currentVersion int
		err := tx.QueryRowContext(ctx,
			rebind(`SELECT current_version FROM skill_registry WHERE id = ? FOR UPDATE`),
			skillID).Scan(&currentVersion)
		if err == sql.ErrNoRows {
			return store.ErrSkillNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock skill: %w", err)
		}

		var prevVersion int
		var prevSystem, prevTemplate string
		err = tx.QueryRowContext(ctx, rebind(`
			SELECT version_number, system_instruction, user_prompt_template
			FROM skill_version_history
			WHERE skill_id = ? AND version_number < ?
			ORDER BY version_number DESC
			LIMIT 1`), skillID, currentVersion).
			Scan(&prevVersion, &prevSystem, &prevTemplate)
		if err == sql.ErrNoRows {
			return store.ErrNoPreviousVersion
		}
		if err != nil {
			return fmt.Errorf("failed to find previous version: %w", err)
		}

		newVersion := currentVersion + 1
		now := time.Now()

		_, err = tx.ExecContext(ctx, rebind(`
			INSERT INTO skill_version_history (skill_id, version_number, system_instruction,
				user_prompt_template, change_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			skillID, newVersion, prevSystem, prevTemplate,
			fmt.Sprintf("rollback to version %d: %s", prevVersion, reason), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rollback entry: %w", err)
		}

		_, err = tx.ExecContext(ctx, rebind(`
			UPDATE skill_registry
			SET current_system_instruction = ?, current_user_prompt_template = ?,
				current_version = ?, updated_at = ?
			WHERE id = ?`),
			prevSystem, prevTemplate, newVersion, now, skillID,
		)
		if err != nil {
			return fmt.Errorf("failed to update skill: %w", err)
		}

		restoredVersion = prevVersion
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restoredVersion, nil
}

func (d *Database) HistoryForSkill(ctx context.Context, skillID string, limit int) ([]*models.VersionEntry, error) {
	var exists bool
	if err := d.db.QueryRowContext(ctx,
		rebind(`SELECT EXISTS(SELECT 1 FROM skill_registry WHERE id = ?)`),
		skillID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check skill existence: %w", err)
	}
	if !exists {
		return nil, store.ErrSkillNotFound
	}

	query := `
		SELECT skill_id, version_number, system_instruction, user_prompt_template,
			improvement_request_id, change_reason, created_at
		FROM skill_version_history
		WHERE skill_id = ?
		ORDER BY version_number DESC`
	args := []interface{}{skillID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.VersionEntry
	for rows.Next() {
		var e models.VersionEntry
		var requestID, changeReason sql.NullString
		if err := rows.Scan(&e.SkillID, &e.VersionNumber, &e.SystemInstruction,
			&e.UserPromptTemplate, &requestID, &changeReason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.ImprovementRequestID = requestID.String
		e.ChangeReason = changeReason.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
