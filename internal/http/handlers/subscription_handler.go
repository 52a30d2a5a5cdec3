// Subscription HTTP handlers.
//
// This file exposes the public signup endpoints:
//   - POST /subscriptions          (register a new subscriber, pending state)
//   - GET  /subscriptions/confirm  (redeem the emailed confirmation token)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ntavlas/go-newsletter-backend/internal/services"
)

// SubscribeRequest is the JSON payload for a signup request.
type SubscribeRequest struct {
	// Email address of the would-be subscriber.
	Email string `json:"email" binding:"required" example:"jane@example.com"`
	// Name the subscriber wants mail addressed to. Optional.
	Name string `json:"name" example:"Jane"`
}

// SubscribeResponse acknowledges a signup.
type SubscribeResponse struct {
	Message string `json:"message" example:"confirmation email sent"`
}

// ConfirmResponse acknowledges a confirmed subscription.
type ConfirmResponse struct {
	Message string `json:"message" example:"subscription confirmed"`
}

// Subscribe registers a new subscriber in the pending state and sends them a
// confirmation email. Duplicate signups for the same address are rejected
// with a conflict.
func (h *Handlers) Subscribe(c *gin.Context) {
	ctx := c.Request.Context()

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email required")
		return
	}

	err := h.subSvc.Subscribe(ctx, req.Email, req.Name)
	switch {
	case err == nil:
		ok(c, http.StatusOK, SubscribeResponse{Message: "confirmation email sent"})
	case err == services.ErrInvalidEmail:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid email address")
	case err == services.ErrInvalidName:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid subscriber name")
	case err == services.ErrAlreadySubscribed:
		fail(c, http.StatusConflict, ErrCodeConflict, "email is already subscribed")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeSubscribeFailed, err.Error())
	}
}

// Confirm redeems a subscription token from the confirmation link. An
// unknown token is treated as unauthorized rather than not-found so the
// endpoint does not leak which tokens ever existed.
func (h *Handlers) Confirm(c *gin.Context) {
	ctx := c.Request.Context()

	token := strings.TrimSpace(c.Query("subscription_token"))
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subscription_token required")
		return
	}

	err := h.subSvc.Confirm(ctx, token)
	switch {
	case err == nil:
		ok(c, http.StatusOK, ConfirmResponse{Message: "subscription confirmed"})
	case err == services.ErrTokenNotFound:
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown subscription token")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeConfirmFailed, err.Error())
	}
}
