package services

import (
	"context"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// Mailer performs the actual network send. Implementations are fallible and
// retryable black boxes; callers decide whether a failure is surfaced or
// skipped.
type Mailer interface {
	Send(ctx context.Context, to domain.EmailAddress, subject, htmlContent, textContent string) error
}
