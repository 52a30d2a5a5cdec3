// Package services – PublishService
//
// This file implements PublishService, the application-level component that
// owns newsletter publishing. A publish request is retry-safe end to end:
// the idempotency claim, the issue insert, the per-subscriber fan-out into
// the delivery queue, and the stored response all commit in one transaction,
// so concurrent or retried requests with the same key observe either the
// original response or nothing at all.
//
// No email is sent on this path. Sending is delegated to the delivery
// worker, which decouples request latency from recipient count.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the acting user and the resulting issue id.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/repo"
)

// PublishedMessage is the user-visible acknowledgement for a publish.
const PublishedMessage = "The newsletter issue has been published!"

// newslettersPath is the admin location a successful publish points back to.
const newslettersPath = "/admin/newsletters"

// PublishService coordinates idempotent newsletter publishing.
type PublishService struct {
	DB *gorm.DB

	// KeyMaxLen caps client-supplied idempotency keys. Values <= 0 default to 50.
	KeyMaxLen int

	// ClaimTTL is the age after which a bare idempotency claim is presumed
	// orphaned and retried. Values <= 0 default to one minute.
	ClaimTTL time.Duration
}

// PublishAck is the JSON body of a fresh publish response; it is captured
// verbatim into the idempotency record for replay.
type PublishAck struct {
	Message string `json:"message"`
	IssueID string `json:"issue_id"`
}

// Publish validates the request, claims the idempotency key, persists the
// issue, enqueues one delivery task per confirmed subscriber, and stores the
// response for replay, all in a single transaction. When a completed record
// already exists for (userID, key), the stored response is returned
// unchanged and replayed is true.
func (s *PublishService) Publish(ctx context.Context, userID, title, htmlContent, textContent, key string) (*domain.StoredResponse, bool, error) {
	tr := otel.Tracer("services/PublishService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := domain.ValidateIdempotencyKey(key, s.keyMaxLen()); err != nil {
		return nil, false, ErrInvalidIdempotencyKey
	}

	// A completed record replays whatever payload the retry carries, so the
	// lookup happens before payload validation.
	if saved, err := repo.GetSavedResponse(ctx, s.DB, userID, key); err == nil {
		return saved, true, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, false, ErrEmptyTitle
	}

	var (
		resp     *domain.StoredResponse
		replayed bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := repo.TryBeginIdempotency(tx, userID, key, time.Now().UTC(), s.claimTTL())
		if errors.Is(err, repo.ErrClaimInFlight) {
			return ErrPublishInFlight
		}
		if err != nil {
			return err
		}
		if rec != nil {
			saved, err := domain.StoredResponseFrom(rec)
			if err != nil {
				return err
			}
			resp, replayed = saved, true
			return nil
		}

		issue, err := repo.CreateIssue(tx, title, htmlContent, textContent)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("issue.id", issue.ID))

		// Snapshot the confirmed subscribers once, at publish time.
		recipients, err := repo.ListConfirmedSubscriberEmails(ctx, tx)
		if err != nil {
			return err
		}
		if err := repo.EnqueueDeliveryTasks(tx, issue.ID, recipients); err != nil {
			return err
		}

		fresh, err := buildPublishResponse(issue.ID)
		if err != nil {
			return err
		}
		if err := repo.CompleteIdempotency(tx, userID, key, fresh); err != nil {
			return err
		}
		resp = fresh
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return resp, replayed, nil
}

// buildPublishResponse synthesizes the "accepted" response a fresh publish
// returns: a see-other pointing at the admin newsletters page plus a JSON
// acknowledgement body. Headers are kept as an ordered list so the replay
// is byte-for-byte identical.
func buildPublishResponse(issueID string) (*domain.StoredResponse, error) {
	body, err := json.Marshal(PublishAck{
		Message: PublishedMessage,
		IssueID: issueID,
	})
	if err != nil {
		return nil, err
	}
	return &domain.StoredResponse{
		Status: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
			{Name: "Location", Value: newslettersPath},
		},
		Body: body,
	}, nil
}

func (s *PublishService) keyMaxLen() int {
	if s.KeyMaxLen > 0 {
		return s.KeyMaxLen
	}
	return 50
}

func (s *PublishService) claimTTL() time.Duration {
	if s.ClaimTTL > 0 {
		return s.ClaimTTL
	}
	return time.Minute
}

// ListIssuesPage returns paginated published issues, newest first.
func (s *PublishService) ListIssuesPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	tr := otel.Tracer("services/PublishService")
	ctx, span := tr.Start(ctx, "ListIssuesPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountIssues(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.NewsletterIssue{}, 0, nil
	}
	items, err := repo.ListIssuesPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// IssueStats reports the published issue count and the latest publish
// timestamp. List endpoints derive cache validators from it.
func (s *PublishService) IssueStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.IssueStats(ctx, s.DB)
}
