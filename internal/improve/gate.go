package improve

import (
	"context"
	"log"
	"time"

	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

// Gate is the review gate: it enforces the legal transitions a proposal may
// take between generation and promotion. All status checks ride on the
// store's compare-and-swap, so a second approve/reject/apply on an already
// transitioned request fails with InvalidState instead of silently succeeding.
type Gate struct {
	store store.Store
}

func NewGate(s store.Store) *Gate {
	return &Gate{store: s}
}

// Approve marks a generated proposal as approved. No content is copied to the
// skill yet; apply is a distinct explicit step, so the approved-but-unapplied
// window stays inspectable.
func (g *Gate) Approve(ctx context.Context, requestID, reviewerID string) (*models.ImprovementRequest, error) {
	req, err := g.store.TransitionRequest(ctx, requestID,
		[]models.RequestStatus{models.RequestStatusGenerated},
		store.RequestUpdate{
			Status: models.RequestStatusApproved,
			Review: &store.Review{By: reviewerID, At: time.Now()},
		})
	if err != nil {
		return nil, storeError(err, "failed to approve request")
	}

	log.Printf("[Gate] Request %s approved by %s", requestID, orSystem(reviewerID))
	return req, nil
}

// Reject is allowed from pending as well as generated, covering an abort
// before generation completed. It always clears the owning skill's
// improvement_pending flag: a rejected request no longer blocks future triggers.
func (g *Gate) Reject(ctx context.Context, requestID, reason, reviewerID string) (*models.ImprovementRequest, error) {
	notes := reason
	if notes == "" {
		notes = "Rejected by admin"
	}

	req, err := g.store.TransitionRequest(ctx, requestID,
		[]models.RequestStatus{models.RequestStatusPending, models.RequestStatusGenerated},
		store.RequestUpdate{
			Status:                  models.RequestStatusRejected,
			Review:                  &store.Review{By: reviewerID, At: time.Now(), Notes: notes},
			ClearImprovementPending: true,
		})
	if err != nil {
		return nil, storeError(err, "failed to reject request")
	}

	log.Printf("[Gate] Request %s rejected by %s: %s", requestID, orSystem(reviewerID), notes)
	return req, nil
}

func orSystem(reviewerID string) string {
	if reviewerID == "" {
		return "system"
	}
	return reviewerID
}
