package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newIdemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		// Mimic the auth middleware.
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			c.Set("userID", uid)
		}
		c.Next()
	})
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/publish", func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "replay": IsReplay(c)})
	})
	return r
}

func TestIdempotencyValidator_NoHeaderIsNoop(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/publish", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"key":""`) {
		t.Fatalf("expected empty key, got %s", w.Body.String())
	}
}

func TestIdempotencyValidator_RejectsBadHeader(t *testing.T) {
	cases := []string{
		"bad key",
		"bad!key",
		strings.Repeat("a", 51),
	}
	for _, key := range cases {
		r := newIdemRouter(IdempotencyOptions{MaxLen: 50}, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/publish", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status = %d, want 400", key, w.Code)
		}
	}
}

func TestIdempotencyValidator_StashesValidKey(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/publish", nil)
	req.Header.Set(HeaderIdempotencyKey, "retry-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"key":"retry-1"`) {
		t.Fatalf("key not stashed: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("no lookup: replay must be false: %s", w.Body.String())
	}
}

func TestIdempotencyValidator_ReplayFlagsBypass(t *testing.T) {
	var gotUser, gotKey string
	lookup := func(_ context.Context, userID, key string) (bool, error) {
		gotUser, gotKey = userID, key
		return true, nil
	}
	r := newIdemRouter(IdempotencyOptions{}, lookup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/publish", nil)
	req.Header.Set("X-User-ID", "admin")
	req.Header.Set(HeaderIdempotencyKey, "retry-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUser != "admin" || gotKey != "retry-1" {
		t.Fatalf("lookup got (%q, %q)", gotUser, gotKey)
	}
	if !strings.Contains(w.Body.String(), `"replay":true`) {
		t.Fatalf("replay flag not set: %s", w.Body.String())
	}
}

func TestIdempotencyValidator_LookupErrorDoesNotBlock(t *testing.T) {
	lookup := func(context.Context, string, string) (bool, error) {
		return false, errors.New("storage down")
	}
	r := newIdemRouter(IdempotencyOptions{}, lookup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/publish", nil)
	req.Header.Set(HeaderIdempotencyKey, "retry-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("lookup failure must not block: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("failed lookup must not mark replay: %s", w.Body.String())
	}
}
