// Newsletter HTTP handlers.
//
// This file exposes the admin endpoints for newsletter issues:
//   - POST /admin/newsletters   (publish an issue to all confirmed subscribers)
//   - GET  /admin/newsletters   (list published issues, paginated, ETag support)
//
// Handlers are transport-thin: they validate & normalize inputs, delegate to
// the PublishService, and write its result out.
//
// Idempotency:
// Publishing is idempotent by contract. The client supplies an
// idempotency_key in the body (optionally mirrored in the Idempotency-Key
// header); retries with the same key replay the originally persisted
// response (status, headers, and body unchanged) with
// `Idempotency-Replayed: true` added so clients can tell a replay apart.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/http/middleware"
	"github.com/ntavlas/go-newsletter-backend/internal/services"
	"github.com/ntavlas/go-newsletter-backend/internal/utils"
)

//
// DTOs
//

// PublishIssueRequest is the JSON payload for publishing a newsletter issue.
type PublishIssueRequest struct {
	// Title of the issue; doubles as the email subject.
	Title string `json:"title" binding:"required,min=1" example:"Issue #12: shipping at last"`
	// HTMLContent is the rich body sent to subscribers.
	HTMLContent string `json:"html_content" example:"<p>Hello!</p>"`
	// TextContent is the plain-text alternative body.
	TextContent string `json:"text_content" example:"Hello!"`
	// IdempotencyKey scopes "same logical request" across retries.
	IdempotencyKey string `json:"idempotency_key" example:"a1b2c3d4"`
}

// ListIssuesResponse contains a page of published issues and pagination
// metadata.
type ListIssuesResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
}

//
// Helpers
//

// clampIssuePagination parses page/page_size from query parameters, applies
// sane defaults and caps, and returns the validated (page, pageSize).
func clampIssuePagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// writeStoredResponse replays a persisted response exactly: original status,
// original headers in original order, original body bytes.
func writeStoredResponse(c *gin.Context, resp *domain.StoredResponse, replayed bool) {
	h := c.Writer.Header()
	for _, pair := range resp.Headers {
		h.Set(pair.Name, pair.Value)
	}
	if replayed {
		h.Set("Idempotency-Replayed", "true")
	}
	c.Writer.WriteHeader(resp.Status)
	_, _ = c.Writer.Write(resp.Body)
}

//
// Handlers
//

// PublishNewsletter publishes an issue to every confirmed subscriber.
//
// The request must carry the authenticated admin identity (X-User-ID) and an
// idempotency key. On success the issue and its per-subscriber delivery
// tasks are committed atomically and the response is stored for replay; no
// email is sent on this path.
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	ctx := c.Request.Context()

	currentUser := userID(c)
	if currentUser == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	var req PublishIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		return
	}

	// Body field is authoritative; the validated header is the fallback for
	// clients that only mirror the key there.
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key, _ = middleware.GetIdempotencyKey(c)
	}

	resp, replayed, err := h.pubSvc.Publish(ctx, currentUser, req.Title, req.HTMLContent, req.TextContent, key)
	if err != nil {
		switch err {
		case services.ErrInvalidIdempotencyKey:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "idempotency_key must be 1-50 characters of [A-Za-z0-9_-]")
		case services.ErrEmptyTitle:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		case services.ErrPublishInFlight:
			fail(c, http.StatusInternalServerError, ErrCodePublishFailed, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodePublishFailed, err.Error())
		}
		return
	}

	writeStoredResponse(c, resp, replayed)
}

// ListIssues returns a paginated list of published issues, newest first.
func (h *Handlers) ListIssues(c *gin.Context) {
	ctx := c.Request.Context()

	if userID(c) == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.pubSvc.IssueStats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"issues:%d:%d"`, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampIssuePagination(c)

	items, total, err := h.pubSvc.ListIssuesPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListIssuesResponse{
		Issues: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
