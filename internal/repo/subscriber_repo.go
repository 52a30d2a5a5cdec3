// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for subscribers
// and their confirmation tokens.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// CreateSubscriber inserts a new subscriber in pending_confirmation state.
// Returns ErrDuplicate when the email is already registered.
func CreateSubscriber(ctx context.Context, db *gorm.DB, email, name string) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Status:       domain.SubscriberPending,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(sub).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return sub, nil
}

// StoreSubscriptionToken associates a one-time confirmation token with a
// subscriber.
func StoreSubscriptionToken(ctx context.Context, db *gorm.DB, subscriberID, token string) error {
	rec := &domain.SubscriptionToken{
		Token:        token,
		SubscriberID: subscriberID,
	}
	return db.WithContext(ctx).Create(rec).Error
}

// GetSubscriberIDByToken resolves a confirmation token to a subscriber id,
// or ErrNotFound.
func GetSubscriberIDByToken(ctx context.Context, db *gorm.DB, token string) (string, error) {
	var rec domain.SubscriptionToken
	err := db.WithContext(ctx).
		Where("token = ?", token).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.SubscriberID, nil
}

// ConfirmSubscriber flips a subscriber to confirmed. Confirming an already
// confirmed subscriber is a no-op and not an error.
func ConfirmSubscriber(ctx context.Context, db *gorm.DB, subscriberID string) error {
	res := db.WithContext(ctx).Model(&domain.Subscriber{}).
		Where("id = ?", subscriberID).
		Update("status", domain.SubscriberConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConfirmedSubscriberEmails returns the addresses of every confirmed
// subscriber. This is the snapshot the publish coordinator fans out to;
// addresses are validated again at send time, not here.
func ListConfirmedSubscriberEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	var emails []string
	err := db.WithContext(ctx).Model(&domain.Subscriber{}).
		Where("status = ?", domain.SubscriberConfirmed).
		Order("subscribed_at ASC").
		Pluck("email", &emails).Error
	return emails, err
}
