// Package domain defines the persistence models for subscribers, newsletter
// issues, and the delivery queue. These types are mapped with GORM and form
// the core data layer of the newsletter application.
package domain

import (
	"time"
)

// Subscriber statuses. A subscriber only receives issues once confirmed.
const (
	SubscriberPending   = "pending_confirmation"
	SubscriberConfirmed = "confirmed"
)

// Subscriber represents a newsletter signup. New signups start in
// pending_confirmation and flip to confirmed when the emailed token
// is redeemed.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique address; unconfirmed duplicates are rejected at the DB level.
//   - Name: display name supplied on signup.
//   - Status: pending_confirmation or confirmed (enforced by DB constraint).
//   - SubscribedAt: UTC timestamp of the original signup.
type Subscriber struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriber_email"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;check:status IN ('pending_confirmation','confirmed')"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscribers" }

// SubscriptionToken links a one-time confirmation token to a pending
// subscriber. Tokens are generated at signup and redeemed exactly once by
// the confirmation endpoint; redemption is idempotent (re-confirming an
// already confirmed subscriber is a no-op).
type SubscriptionToken struct {
	Token        string `json:"-" gorm:"type:varchar(64);primaryKey"`
	SubscriberID string `json:"-" gorm:"type:char(36);not null;index"`

	// Subscriber is the owning signup. Tokens are cascade-deleted with it.
	Subscriber Subscriber `json:"-" gorm:"foreignKey:SubscriberID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubscriptionToken.
func (SubscriptionToken) TableName() string { return "subscription_tokens" }

// NewsletterIssue is an immutable published issue. The delivery worker reads
// it but never mutates it.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:varchar(255);not null"`
	HTMLContent string    `json:"html_content" gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one pending unit of fan-out work: "send this issue to this
// recipient". The row's existence is its pending state; there is no status
// column, and retiring a task deletes the row.
//
// LeaseID/LeasedUntil emulate a skip-locked row claim on storage engines
// without one: a claimer atomically stamps both on an unleased (or
// lease-expired) row and only the current lease holder may delete it. A
// worker that dies mid-task lets its lease expire, after which any worker
// can reclaim the row.
type DeliveryTask struct {
	IssueID        string     `json:"issue_id"        gorm:"column:newsletter_issue_id;type:char(36);primaryKey"`
	RecipientEmail string     `json:"recipient_email" gorm:"type:varchar(320);primaryKey"`
	LeaseID        *string    `json:"-"               gorm:"type:char(36);index"`
	LeasedUntil    *time.Time `json:"-"               gorm:"index"`
	CreatedAt      time.Time  `json:"created_at"      gorm:"not null;index"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
