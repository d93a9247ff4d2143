package improve

import (
	"context"
	"log"

	"github.com/promptops/whetstone/internal/store"
)

// Promoter is the promotion/rollback manager. The heavy lifting — locking the
// skill row, inserting the history entry, swapping the active content — is
// the store's single atomic operation; this layer maps outcomes onto the
// lifecycle taxonomy and logs the audit trail.
type Promoter struct {
	store store.Store
}

func NewPromoter(s store.Store) *Promoter {
	return &Promoter{store: s}
}

// Apply promotes an approved request to the skill's next active version.
// Fails with InvalidState unless the request status is exactly approved, so
// applying twice for the same request is impossible.
func (p *Promoter) Apply(ctx context.Context, requestID string) (int, error) {
	newVersion, err := p.store.ApplyImprovement(ctx, requestID)
	if err != nil {
		return 0, storeError(err, "failed to apply improvement")
	}

	log.Printf("[Promoter] Applied request %s, new version %d", requestID, newVersion)
	return newVersion, nil
}

// Rollback restores the content of the version immediately preceding the
// skill's current one. Independent of the request state machine; it may be
// invoked at any time, including after an applied request proves harmful.
func (p *Promoter) Rollback(ctx context.Context, skillID, reason string) (int, error) {
	restored, err := p.store.RollbackVersion(ctx, skillID, reason)
	if err != nil {
		return 0, storeError(err, "failed to rollback version")
	}

	log.Printf("[Promoter] Rolled back skill %s to content of version %d", skillID, restored)
	return restored, nil
}
