// Package services – SubscriptionService
//
// This file implements SubscriptionService, which owns the signup flow:
// a new subscriber is stored in pending_confirmation together with a
// one-time confirmation token (one transaction), then a confirmation link
// is emailed. Redeeming the link flips the subscriber to confirmed, which
// is what makes them visible to the publish fan-out.
package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/repo"
)

const (
	// subscriptionTokenLen matches the entropy of a 25-char alphanumeric token.
	subscriptionTokenLen = 25
	tokenAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	maxNameRunes = 255
)

// SubscriptionService coordinates signups and confirmations.
type SubscriptionService struct {
	DB     *gorm.DB
	Mailer Mailer

	// BaseURL is the public base used to build confirmation links,
	// e.g. "https://newsletter.example.com".
	BaseURL string
}

// Subscribe registers a pending subscriber and emails a confirmation link.
// The subscriber row and its token commit together; the email is sent after
// commit so a mailer outage never strands a half-written signup.
func (s *SubscriptionService) Subscribe(ctx context.Context, email, name string) error {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Subscribe")
	defer span.End()

	addr, err := domain.ParseEmail(email)
	if err != nil {
		return ErrInvalidEmail
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return ErrInvalidName
	}

	token, err := generateSubscriptionToken()
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := repo.CreateSubscriber(ctx, tx, addr.String(), name)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("subscriber.id", sub.ID))
		return repo.StoreSubscriptionToken(ctx, tx, sub.ID, token)
	})
	if err == repo.ErrDuplicate {
		return ErrAlreadySubscribed
	}
	if err != nil {
		return err
	}

	return s.sendConfirmationEmail(ctx, addr, token)
}

// Confirm redeems a confirmation token, flipping the subscriber to
// confirmed. Unknown tokens map to ErrTokenNotFound.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return ErrTokenNotFound
	}
	subscriberID, err := repo.GetSubscriberIDByToken(ctx, s.DB, token)
	if err == repo.ErrNotFound {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("subscriber.id", subscriberID))

	if err := repo.ConfirmSubscriber(ctx, s.DB, subscriberID); err != nil {
		if err == repo.ErrNotFound {
			return ErrTokenNotFound
		}
		return err
	}
	return nil
}

func (s *SubscriptionService) sendConfirmationEmail(ctx context.Context, to domain.EmailAddress, token string) error {
	link := fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s",
		strings.TrimRight(s.BaseURL, "/"), token)
	htmlBody := fmt.Sprintf(
		`Welcome to our newsletter!<br/>Click <a href="%s">here</a> to confirm your subscription.`, link)
	textBody := fmt.Sprintf(
		"Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	return s.Mailer.Send(ctx, to, "Welcome!", htmlBody, textBody)
}

// generateSubscriptionToken returns a cryptographically random alphanumeric
// token.
func generateSubscriptionToken() (string, error) {
	var b strings.Builder
	b.Grow(subscriptionTokenLen)
	alphabetLen := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < subscriptionTokenLen; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}
