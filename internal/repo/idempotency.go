// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file implements the idempotency claim protocol used
// by the publish endpoint.
//
// A record for (user_id, key) is in one of two legal states: claimed
// (response columns NULL) or completed (response columns populated). The
// claim is taken with an insert-if-absent, a storage-level compare-and-set
// that stays correct across multiple process instances, and completed
// inside the same transaction that performs the publish side effects, so
// "issue persisted + tasks enqueued + response stored" commits as one unit.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// TryBeginIdempotency attempts to claim (userID, key) inside tx.
//
// Outcomes:
//   - (nil, nil): a fresh claim row was inserted; the caller owns it for the
//     lifetime of tx and must finish with CompleteIdempotency before commit.
//   - (rec, nil): a completed record exists; the caller must replay its
//     stored response instead of re-executing side effects.
//   - (nil, ErrClaimInFlight): a bare claim younger than claimTTL exists.
//     Since claims normally live and die inside their own transaction, a
//     committed bare claim is an impossible state; the fresh-claim window
//     only guards the takeover path below.
//
// A bare claim older than claimTTL is presumed orphaned by a crash and is
// taken over: its created_at is reset with a conditional update (guarded by
// the old timestamp so two takeovers cannot both win) and the caller
// proceeds as if the claim were new.
func TryBeginIdempotency(tx *gorm.DB, userID, key string, now time.Time, claimTTL time.Duration) (*domain.Idempotency, error) {
	claim := &domain.Idempotency{
		UserID:    userID,
		Key:       key,
		CreatedAt: now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(claim)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		// Brand-new claim.
		return nil, nil
	}

	var existing domain.Idempotency
	err := tx.
		Where("user_id = ? AND key = ?", userID, key).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Conflicted on insert yet no row is visible: another transaction
		// holds an uncommitted claim.
		return nil, ErrClaimInFlight
	}
	if err != nil {
		return nil, err
	}

	if existing.Completed() {
		return &existing, nil
	}

	if now.Sub(existing.CreatedAt) < claimTTL {
		return nil, ErrClaimInFlight
	}

	// Stale claim takeover: reset ownership only if nobody else has.
	res = tx.Model(&domain.Idempotency{}).
		Where("user_id = ? AND key = ? AND response_status IS NULL AND created_at = ?",
			userID, key, existing.CreatedAt).
		Update("created_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrClaimInFlight
	}
	return nil, nil
}

// CompleteIdempotency transitions the claim row owned by the caller from
// claimed to completed, storing the response to replay on retries. It must
// run in the same transaction that inserted the claim; committing that
// transaction makes the publish side effects and the stored response
// durable together.
func CompleteIdempotency(tx *gorm.DB, userID, key string, resp *domain.StoredResponse) error {
	headers, err := resp.EncodeHeaders()
	if err != nil {
		return err
	}
	res := tx.Model(&domain.Idempotency{}).
		Where("user_id = ? AND key = ? AND response_status IS NULL", userID, key).
		Updates(map[string]any{
			"response_status":  resp.Status,
			"response_headers": headers,
			"response_body":    resp.Body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// The claim vanished or was completed by someone else under us.
		return ErrClaimInFlight
	}
	return nil
}

// GetSavedResponse returns the stored response for a completed record, or
// ErrNotFound when no completed record exists. In-flight claims are
// deliberately reported as not found: the caller cannot replay them.
func GetSavedResponse(ctx context.Context, db *gorm.DB, userID, key string) (*domain.StoredResponse, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.Completed() {
		return nil, ErrNotFound
	}
	return domain.StoredResponseFrom(&rec)
}
