package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

const requestColumns = `id, skill_id, status, trigger_reason, score_snapshot, sample_feedback,
	proposed_system_instruction, proposed_user_prompt_template, improvement_rationale,
	reviewed_by, reviewed_at, review_notes, triggered_at`

func scanRequest(row rowScanner) (*models.ImprovementRequest, error) {
	var r models.ImprovementRequest
	var snapshot []byte
	var feedback []byte
	var proposedSystem, proposedTemplate, rationale, reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.SkillID, &r.Status, &r.TriggerReason, &snapshot, &feedback,
		&proposedSystem, &proposedTemplate, &rationale,
		&reviewedBy, &reviewedAt, &reviewNotes, &r.TriggeredAt,
	)
	if err != nil {
		return nil, err
	}

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &r.ScoreSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score snapshot: %w", err)
		}
	}
	if len(feedback) > 0 {
		if err := json.Unmarshal(feedback, &r.SampleFeedback); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sample feedback: %w", err)
		}
	}
	r.ProposedSystemInstruction = proposedSystem.String
	r.ProposedUserPromptTemplate = proposedTemplate.String
	r.ImprovementRationale = rationale.String
	r.ReviewedBy = reviewedBy.String
	r.ReviewNotes = reviewNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	return &r, nil
}

func (d *Database) GetRequest(ctx context.Context, id string) (*models.ImprovementRequest, error) {
	row := d.db.QueryRowContext(ctx,
		rebind(`SELECT `+requestColumns+` FROM skill_improvement_requests WHERE id = ?`), id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query request: %w", err)
	}
	return req, nil
}

func (d *Database) ListOpenRequests(ctx context.Context) ([]*models.ImprovementRequest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM skill_improvement_requests
		WHERE status IN ('pending', 'generated', 'approved')
		ORDER BY triggered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.ImprovementRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (d *Database) LatestOpenRequestForSkill(ctx context.Context, skillID string) (*models.ImprovementRequest, error) {
	row := d.db.QueryRowContext(ctx, rebind(`
		SELECT `+requestColumns+` FROM skill_improvement_requests
		WHERE skill_id = ? AND status IN ('pending', 'generated', 'approved')
		ORDER BY triggered_at DESC
		LIMIT 1`), skillID)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open request: %w", err)
	}
	return req, nil
}

// CreateRequest inserts a pending request and flips improvement_pending in one
// transaction. The conditional UPDATE on the flag is the duplicate-trigger
// guard: of two concurrent creations only one sees improvement_pending=false.
func (d *Database) CreateRequest(ctx context.Context, req *models.ImprovementRequest) error {
	snapshot, err := marshalJSON(req.ScoreSnapshot)
	if err != nil {
		return err
	}
	feedback, err := marshalJSON(req.SampleFeedback)
	if err != nil {
		return err
	}

	triggeredAt := req.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = time.Now()
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, rebind(`
			UPDATE skill_registry
			SET improvement_pending = true, updated_at = ?
			WHERE id = ? AND improvement_pending = false`),
			time.Now(), req.SkillID,
		)
		if err != nil {
			return fmt.Errorf("failed to set improvement_pending: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			// Either the skill is missing or a request is already open.
			var exists bool
			if err := tx.QueryRowContext(ctx,
				rebind(`SELECT EXISTS(SELECT 1 FROM skill_registry WHERE id = ?)`),
				req.SkillID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check skill existence: %w", err)
			}
			if !exists {
				return store.ErrSkillNotFound
			}
			return store.ErrImprovementPending
		}

		_, err = tx.ExecContext(ctx, rebind(`
			INSERT INTO skill_improvement_requests (id, skill_id, status, trigger_reason,
				score_snapshot, sample_feedback, triggered_at)
			VALUES (?, ?, 'pending', ?, ?, ?, ?)`),
			req.ID, req.SkillID, req.TriggerReason, snapshot, feedback, triggeredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}
		return nil
	})
}

// TransitionRequest performs a compare-and-swap on the request status. The
// status predicate lives in the UPDATE's WHERE clause so concurrent callers
// cannot both win the same transition.
func (d *Database) TransitionRequest(ctx context.Context, id string, allowedFrom []models.RequestStatus, update store.RequestUpdate) (*models.ImprovementRequest, error) {
	if len(allowedFrom) == 0 {
		return nil, store.ErrStaleStatus
	}

	fromSet := make([]interface{}, 0, len(allowedFrom))
	placeholders := ""
	for i, s := range allowedFrom {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		fromSet = append(fromSet, string(s))
	}

	var updated *models.ImprovementRequest
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE skill_improvement_requests SET status = ?`
		args := []interface{}{string(update.Status)}

		if update.Proposal != nil {
			query += `, proposed_system_instruction = ?, proposed_user_prompt_template = ?, improvement_rationale = ?`
			args = append(args, update.Proposal.SystemInstruction,
				update.Proposal.UserPromptTemplate, update.Proposal.Rationale)
		}
		if update.Review != nil {
			query += `, reviewed_by = ?, reviewed_at = ?`
			args = append(args, update.Review.By, update.Review.At)
			if update.Review.Notes != "" {
				query += `, review_notes = ?`
				args = append(args, update.Review.Notes)
			}
		}
		query += ` WHERE id = ? AND status IN (` + placeholders + `)`
		args = append(args, id)
		args = append(args, fromSet...)

		result, err := tx.ExecContext(ctx, rebind(query), args...)
		if err != nil {
			return fmt.Errorf("failed to transition request: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				rebind(`SELECT EXISTS(SELECT 1 FROM skill_improvement_requests WHERE id = ?)`),
				id).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check request existence: %w", err)
			}
			if !exists {
				return store.ErrRequestNotFound
			}
			return store.ErrStaleStatus
		}

		if update.ClearImprovementPending {
			_, err = tx.ExecContext(ctx, rebind(`
				UPDATE skill_registry SET improvement_pending = false, updated_at = ?
				WHERE id = (SELECT skill_id FROM skill_improvement_requests WHERE id = ?)`),
				time.Now(), id,
			)
			if err != nil {
				return fmt.Errorf("failed to clear improvement_pending: %w", err)
			}
		}

		row := tx.QueryRowContext(ctx,
			rebind(`SELECT `+requestColumns+` FROM skill_improvement_requests WHERE id = ?`), id)
		updated, err = scanRequest(row)
		if err != nil {
			return fmt.Errorf("failed to re-read request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
