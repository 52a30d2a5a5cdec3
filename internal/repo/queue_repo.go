// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the delivery queue: bulk enqueue at
// publish time and the lease-based claim primitive the workers drain it
// with.
//
// SQLite has no FOR UPDATE SKIP LOCKED, so claims are emulated with a
// (lease_id, leased_until) pair stamped by a single conditional UPDATE.
// SQLite serializes writers, so the update is atomic: exactly one claimer
// wins a given row, and rows whose lease has not expired are skipped rather
// than blocked on. A worker that dies mid-task never unleases its row; the
// lease simply expires and the row becomes claimable again. The trade-off
// is a small race window when a send outlives its lease, which can at worst
// duplicate a single delivery, consistent with at-least-once semantics.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// EnqueueDeliveryTasks inserts one pending task per recipient for the given
// issue. Intended to be called on the publish transaction handle so the
// fan-out commits atomically with the issue itself.
func EnqueueDeliveryTasks(tx *gorm.DB, issueID string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	now := time.Now().UTC()
	tasks := make([]domain.DeliveryTask, 0, len(recipients))
	for _, r := range recipients {
		tasks = append(tasks, domain.DeliveryTask{
			IssueID:        issueID,
			RecipientEmail: r,
			CreatedAt:      now,
		})
	}
	return tx.Create(&tasks).Error
}

// ClaimDeliveryTask leases the oldest claimable task to leaseID until
// now+leaseFor and returns it. A task is claimable when it has never been
// leased or its lease has expired. Returns ErrEmptyQueue when nothing is
// claimable (including the case where a concurrent claimer won the race for
// the last ready row).
func ClaimDeliveryTask(ctx context.Context, db *gorm.DB, leaseID string, leaseFor time.Duration, now time.Time) (*domain.DeliveryTask, error) {
	until := now.Add(leaseFor)
	res := db.WithContext(ctx).Exec(`
		UPDATE issue_delivery_queue
		SET lease_id = ?, leased_until = ?
		WHERE rowid = (
			SELECT rowid FROM issue_delivery_queue
			WHERE lease_id IS NULL OR leased_until <= ?
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1
		)
		AND (lease_id IS NULL OR leased_until <= ?)`,
		leaseID, until, now, now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrEmptyQueue
	}

	var task domain.DeliveryTask
	if err := db.WithContext(ctx).Where("lease_id = ?", leaseID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// RetireDeliveryTask deletes a claimed task, but only while the caller still
// holds its lease. Returns ErrLeaseLost when the lease expired and the row
// was reclaimed (or already retired) by another worker.
func RetireDeliveryTask(ctx context.Context, db *gorm.DB, task *domain.DeliveryTask, leaseID string) error {
	res := db.WithContext(ctx).
		Where("newsletter_issue_id = ? AND recipient_email = ? AND lease_id = ?",
			task.IssueID, task.RecipientEmail, leaseID).
		Delete(&domain.DeliveryTask{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// CountDeliveryTasks returns the number of pending tasks, leased or not.
func CountDeliveryTasks(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DeliveryTask{}).Count(&n).Error
	return n, err
}
