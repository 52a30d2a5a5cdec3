// Validated value types for client-supplied input: subscriber email
// addresses and idempotency keys. Both reject bad input before any storage
// access.
package domain

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// EmailAddress is a syntactically valid subscriber email. The zero value is
// not valid; construct via ParseEmail.
type EmailAddress struct {
	addr string
}

// ParseEmail validates s and returns it as an EmailAddress.
//
// Contact details cannot become valid by retrying, so callers that hit an
// error on a stored address should skip the recipient rather than requeue.
func ParseEmail(s string) (EmailAddress, error) {
	if err := validation.Validate(s,
		validation.Required,
		validation.RuneLength(3, 320),
		is.EmailFormat,
	); err != nil {
		return EmailAddress{}, err
	}
	return EmailAddress{addr: s}, nil
}

// String returns the validated address.
func (e EmailAddress) String() string { return e.addr }

// idempotencyKeyRE restricts keys to a conservative URL-safe token set.
var idempotencyKeyRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateIdempotencyKey checks a client-supplied idempotency key: non-empty,
// at most maxLen runes, ASCII alphanumerics plus '-' and '_'.
func ValidateIdempotencyKey(key string, maxLen int) error {
	return validation.Validate(key,
		validation.Required,
		validation.RuneLength(1, maxLen),
		validation.Match(idempotencyKeyRE),
	)
}
