// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for newsletter
// issues.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// CreateIssue inserts an immutable newsletter issue. Intended to be called
// on a transaction handle so the insert commits together with the delivery
// queue fan-out.
func CreateIssue(tx *gorm.DB, title, htmlContent, textContent string) (*domain.NewsletterIssue, error) {
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       title,
		HTMLContent: htmlContent,
		TextContent: textContent,
		PublishedAt: time.Now().UTC(),
	}
	if err := tx.Create(issue).Error; err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssue fetches a single issue by id, or ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var issue domain.NewsletterIssue
	err := db.WithContext(ctx).Where("id = ?", id).First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &issue, err
}

// CountIssues returns the total number of published issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&n).Error
	return n, err
}

// ListIssuesPage returns a page of issues, newest first.
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	var issues []domain.NewsletterIssue
	err := db.WithContext(ctx).
		Order("published_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&issues).Error
	return issues, err
}

// IssueStats returns the issue count and latest publish time, used for
// cheap ETag construction on the issue listing.
func IssueStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var latest time.Time
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).
		Select("MAX(published_at)").
		Scan(&latest).Error
	if err != nil {
		return count, nil, err
	}
	return count, &latest, nil
}
