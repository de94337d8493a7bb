// Package idempotency replays stored responses for retried mutating requests
// that carry the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed record stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when an idempotency key arrives with a request
// fingerprint that differs from the one it was first used with.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// State classifies the result of starting work under an idempotency key.
type State int

const (
	// StateProceed means the key is fresh and the request should run.
	StateProceed State = iota
	// StateReplay means a stored response exists and should be returned as-is.
	StateReplay
	// StateInFlight means another request holds the key and has not finished.
	StateInFlight
)

// Record is the persisted outcome of a keyed request.
type Record struct {
	Key             string
	Fingerprint     string
	Completed       bool
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Outcome pairs the state with the stored record, when one exists.
type Outcome struct {
	State  State
	Record Record
}

// StoredResponse is the response captured for replay.
type StoredResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and completed responses.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, error)
	Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storableHeaders drops hop-by-hop and auto-generated headers before persistence.
func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "te", "trailers":
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		kept[http.CanonicalHeaderKey(name)] = copied
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
