// Handler wiring and service contracts for the public API.
//
// Handlers depend on abstract service interfaces to keep transport concerns
// separate from business logic. Implementations must be safe for concurrent
// use and honor the provided context for cancellation and timeouts.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// SubscriptionService defines signup lifecycle operations consumed by HTTP
// handlers.
type SubscriptionService interface {
	// Subscribe registers a pending subscriber and emails a confirmation link.
	Subscribe(ctx context.Context, email, name string) error
	// Confirm redeems a confirmation token.
	Confirm(ctx context.Context, token string) error
}

// PublishService defines newsletter publishing operations consumed by HTTP
// handlers.
type PublishService interface {
	// Publish idempotently publishes an issue for userID under the given key.
	Publish(ctx context.Context, userID, title, htmlContent, textContent, key string) (*domain.StoredResponse, bool, error)
	// ListIssuesPage returns paginated published issues, newest first.
	ListIssuesPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error)
	// IssueStats reports the issue count and latest publish time, for caching.
	IssueStats(ctx context.Context) (int64, *time.Time, error)
}

// Handlers groups HTTP endpoints for subscriptions and newsletter publishing.
type Handlers struct {
	subSvc SubscriptionService
	pubSvc PublishService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(subSvc SubscriptionService, pubSvc PublishService) *Handlers {
	return &Handlers{subSvc: subSvc, pubSvc: pubSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header. An empty
// result means the request is unauthenticated.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// Pagination describes the page metadata returned by list endpoints.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}
