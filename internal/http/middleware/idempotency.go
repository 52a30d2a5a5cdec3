// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements transport-level idempotency support for the publish
// endpoint. The idempotency key itself travels in the request body (it is
// part of the publish form), but clients may also mirror it in the
// Idempotency-Key header; when they do, this middleware validates the header
// early, stashes it in the request context, and optionally performs a
// user-defined lookup to detect previously completed requests so that:
//   - handlers can read the normalized key (GetIdempotencyKey)
//   - replayed requests are detectable (IsReplay)
//   - the rate limiter can waive replays (via an internal flag)
//
// Persistence stays decoupled behind a narrow IdempotencyLookup function.
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients may use to mirror the
// idempotency key carried in the publish body.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected that this request would
// replay a previously completed publish for (user, key).
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation behavior for
// IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 50.
	MaxLen int
	// Pattern restricts allowed characters. If nil, the publish form's key
	// alphabet is used: ^[A-Za-z0-9_-]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a completed publish exists for
// (userID, key). Return exists=true when the prior response can be replayed;
// return an error only for lookup failures (which should not block normal
// processing).
type IdempotencyLookup func(ctx context.Context, userID, key string) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and optionally checks for a prior
// completed request via the supplied lookup.
//
// Behavior:
//   - If header is absent: the middleware is a no-op (the body key still
//     goes through full validation in the service layer).
//   - If header fails validation: responds 400 with a compact error body.
//   - If lookup indicates a replay: sets replay + rate-bypass flags.
//   - Always invokes the next handler unless validation fails.
//
// The middleware never serves a cached payload itself; the publish handler
// remains in control of replaying the persisted response.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 50
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := userIDFromCtx(c)
			if exists, _ := lookup(c.Request.Context(), uid, key); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx extracts the user identifier from the Gin context as set by
// upstream authentication middleware.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
