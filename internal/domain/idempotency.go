// Package domain defines the core persistence models for the application.
// This file holds the idempotency record used to implement safe-retry
// semantics for the publish endpoint, together with the stored-response
// types it captures.
package domain

import (
	"encoding/json"
	"time"
)

// Idempotency records the outcome of a previously processed publish request,
// keyed by (user_id, key). A row is in exactly one of two states:
//
//   - claimed: ResponseStatus is NULL; the owning request is still in flight
//     inside an open transaction.
//   - completed: ResponseStatus, ResponseHeaders, and ResponseBody are
//     populated with the response originally returned to the client.
//
// Rows are never deleted by the application; retention is an operational
// concern.
type Idempotency struct {
	UserID          string    `gorm:"type:varchar(64);primaryKey"`
	Key             string    `gorm:"type:varchar(64);primaryKey"`
	ResponseStatus  *int      `gorm:"type:smallint"`
	ResponseHeaders []byte    `gorm:"type:blob"` // JSON-encoded ordered []HeaderPair
	ResponseBody    []byte    `gorm:"type:blob"`
	CreatedAt       time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Completed reports whether the record has a stored response to replay.
func (r *Idempotency) Completed() bool { return r.ResponseStatus != nil }

// HeaderPair is one response header in original order. Headers are stored as
// an ordered list, not a map, so a replay reproduces the response exactly.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StoredResponse is the HTTP-level outcome captured in (and replayed from)
// an idempotency record.
type StoredResponse struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
}

// StoredResponseFrom decodes the response captured in a completed record.
func StoredResponseFrom(rec *Idempotency) (*StoredResponse, error) {
	var headers []HeaderPair
	if len(rec.ResponseHeaders) > 0 {
		if err := json.Unmarshal(rec.ResponseHeaders, &headers); err != nil {
			return nil, err
		}
	}
	return &StoredResponse{
		Status:  *rec.ResponseStatus,
		Headers: headers,
		Body:    rec.ResponseBody,
	}, nil
}

// EncodeHeaders serializes the ordered header list for persistence.
func (r *StoredResponse) EncodeHeaders() ([]byte, error) {
	if len(r.Headers) == 0 {
		return nil, nil
	}
	return json.Marshal(r.Headers)
}
