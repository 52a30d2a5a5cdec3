// Package email implements the outbound mailer client. It speaks a
// Postmark-style JSON API: one POST per send, authenticated with a server
// token header, bounded by a client-side timeout. Callers treat the client
// as a fallible, retryable black box; a timeout surfaces as a send failure.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
)

// Client sends email through an HTTP provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sender     domain.EmailAddress
	authToken  string
}

// sendRequest is the provider wire format.
type sendRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// NewClient builds a mailer client. timeout bounds every send end to end,
// connection setup included.
func NewClient(baseURL string, sender domain.EmailAddress, authToken string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		authToken:  authToken,
	}
}

// Send delivers one message. Any transport failure, timeout, or non-2xx
// provider status is returned as an error; the caller decides whether to
// retry or skip.
func (c *Client) Send(ctx context.Context, to domain.EmailAddress, subject, htmlContent, textContent string) error {
	payload, err := json.Marshal(sendRequest{
		From:     c.sender.String(),
		To:       to.String(),
		Subject:  subject,
		HTMLBody: htmlContent,
		TextBody: textContent,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Server-Token", c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send email to %s: provider returned %s", to, resp.Status)
	}
	return nil
}
