package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// Logger is the printf surface the validator logs through.
type Logger interface {
	Printf(format string, args ...any)
}

// SecretProvider resolves the shared secret for a named webhook source.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to SecretProvider.
type SecretProviderFunc func(context.Context, string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore remembers nonces until expiry so a captured request cannot be
// replayed inside the timestamp window.
type NonceStore interface {
	// UseNonce returns true when the nonce was fresh and is now recorded,
	// false when it was already seen within the scope.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory. Good enough for a
// single replica and for tests.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[string]time.Time)}
}

func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	now := time.Now()
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, exp := range s.seen {
		if exp.Before(now) {
			delete(s.seen, k)
		}
	}

	key := scope + "::" + nonce
	if exp, dup := s.seen[key]; dup && exp.After(now) {
		return false, nil
	}
	s.seen[key] = expiry
	return true, nil
}

// HMACValidator authenticates webhook deliveries from courier and payment
// vendors. The signature covers method, path, timestamp, nonce, and a body
// digest, so none of them can be swapped independently.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore
	logger   Logger
	now      func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration

	secrets sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a clock for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders renames the signature, timestamp, and nonce headers.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew widens or narrows the accepted timestamp window.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL adjusts how long nonces are retained.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata records what was verified, for handlers that want it.
type HMACMetadata struct {
	SecretName   string
	Timestamp    time.Time
	Nonce        string
	Signature    []byte
	RawSignature string
}

type hmacContextKey struct{}

// WithHMACMetadata stores verification metadata on the context.
func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext retrieves metadata stored by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// hmacReject carries the HTTP outcome of a failed verification step.
type hmacReject struct {
	status  int
	code    string
	message string
}

// RequireHMAC guards a route group with signature verification against the
// named secret.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta, reject := v.verify(r, secretName)
			if reject != nil {
				respondAuthError(w, reject.status, reject.code, reject.message)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(r.Context(), meta)))
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, secretName string) (*HMACMetadata, *hmacReject) {
	ctx := r.Context()

	if secretName == "" {
		return nil, &hmacReject{http.StatusServiceUnavailable, "verification_unavailable", "hmac secret not configured"}
	}
	secret, err := v.secretFor(ctx, secretName)
	if err != nil {
		v.logf("auth: hmac secret lookup failed: %v", err)
		return nil, &hmacReject{http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable"}
	}

	rawSignature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if rawSignature == "" {
		return nil, &hmacReject{http.StatusUnauthorized, "signature_missing", "signature header missing"}
	}
	rawTimestamp := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if rawTimestamp == "" {
		return nil, &hmacReject{http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing"}
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, &hmacReject{http.StatusUnauthorized, "nonce_missing", "signature nonce missing"}
	}

	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return nil, &hmacReject{http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid"}
	}
	if drift := v.now().Sub(timestamp); drift > v.clockSkew || drift < -v.clockSkew {
		return nil, &hmacReject{http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window"}
	}

	body, err := bufferBody(r)
	if err != nil {
		return nil, &hmacReject{http.StatusBadRequest, "invalid_body", "unable to read body for signature verification"}
	}

	signature, err := decodeSignature(rawSignature)
	if err != nil {
		return nil, &hmacReject{http.StatusUnauthorized, "signature_invalid", "signature encoding invalid"}
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(canonicalRequest(r, body, rawTimestamp, nonce))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, &hmacReject{http.StatusUnauthorized, "signature_mismatch", "signature verification failed"}
	}

	if v.nonces == nil {
		return nil, &hmacReject{http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable"}
	}
	expiry := timestamp.Add(v.nonceTTL)
	if expiry.Before(v.now()) {
		expiry = v.now().Add(v.nonceTTL)
	}
	fresh, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	if err != nil {
		v.logf("auth: nonce store error: %v", err)
		return nil, &hmacReject{http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error"}
	}
	if !fresh {
		return nil, &hmacReject{http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce"}
	}

	return &HMACMetadata{
		SecretName:   secretName,
		Timestamp:    timestamp,
		Nonce:        nonce,
		Signature:    signature,
		RawSignature: rawSignature,
	}, nil
}

func (v *HMACValidator) secretFor(ctx context.Context, name string) ([]byte, error) {
	if v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	if cached, ok := v.secrets.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}
	secret := []byte(raw)
	v.secrets.Store(name, secret)
	return secret, nil
}

func (v *HMACValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

// bufferBody reads the request body and replaces it so the handler can
// still decode it.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseSignatureTimestamp accepts RFC3339 (with or without fractions) and
// unix seconds.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, errors.New("auth: unable to parse signature timestamp")
}

// canonicalRequest is METHOD, escaped path, timestamp, nonce, and the hex
// body digest joined with newlines. The timestamp is signed as sent, not
// re-encoded.
func canonicalRequest(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}, "\n"))
}
