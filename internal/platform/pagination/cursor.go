// Package pagination provides the opaque cursor tokens used by list endpoints.
// A cursor pins the (createdAt, documentID) position after which the next page
// starts, matching the descending creation-time ordering the repositories use.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a page token cannot be decoded.
var ErrInvalidCursor = errors.New("pagination: invalid page token")

// Cursor marks a resume position within a creation-time ordered listing.
type Cursor struct {
	CreatedAt time.Time
	DocID     string
}

// Encode serialises the cursor into a URL-safe page token. The zero cursor
// encodes to the empty string.
func Encode(cursor Cursor) string {
	if cursor.CreatedAt.IsZero() && cursor.DocID == "" {
		return ""
	}
	payload := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + cursor.DocID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// Decode parses a page token produced by Encode. The empty token decodes to
// the zero cursor.
func Decode(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, fmt.Errorf("%w: malformed payload", ErrInvalidCursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return Cursor{CreatedAt: ts, DocID: parts[1]}, nil
}
