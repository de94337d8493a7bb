package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func fixedClock() time.Time {
	return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
}

func TestVerifyExtractsIdentity(t *testing.T) {
	authn, err := NewAuthenticator(testSecret, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	raw := signToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
		"role":  "seller",
		"exp":   fixedClock().Add(time.Hour).Unix(),
	})

	identity, err := authn.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UID != "user-1" {
		t.Fatalf("expected uid user-1 got %s", identity.UID)
	}
	if identity.Email != "user@example.com" {
		t.Fatalf("unexpected email %s", identity.Email)
	}
	if !identity.HasRole(RoleSeller) {
		t.Fatalf("expected seller role, got %v", identity.Roles)
	}
}

func TestVerifyFallsBackToCustomerRole(t *testing.T) {
	authn, err := NewAuthenticator(testSecret, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	raw := signToken(t, jwt.MapClaims{
		"sub": "user-2",
		"exp": fixedClock().Add(time.Hour).Unix(),
	})

	identity, err := authn.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !identity.HasRole(RoleCustomer) {
		t.Fatalf("expected fallback customer role, got %v", identity.Roles)
	}
	if identity.IsStaff() {
		t.Fatalf("customer must not be staff")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	authn, err := NewAuthenticator(testSecret, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	raw := signToken(t, jwt.MapClaims{
		"sub": "user-3",
		"exp": fixedClock().Add(-time.Hour).Unix(),
	})

	if _, err := authn.Verify(raw); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	authn, err := NewAuthenticator(testSecret, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	sellerToken := signToken(t, jwt.MapClaims{
		"sub":  "staff-1",
		"role": "seller",
		"exp":  fixedClock().Add(time.Hour).Unix(),
	})
	customerToken := signToken(t, jwt.MapClaims{
		"sub":  "cust-1",
		"role": "customer",
		"exp":  fixedClock().Add(time.Hour).Unix(),
	})

	cases := []struct {
		name       string
		header     string
		roles      []string
		wantStatus int
	}{
		{name: "missing header", header: "", roles: nil, wantStatus: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", roles: nil, wantStatus: http.StatusUnauthorized},
		{name: "any role passes", header: "Bearer " + customerToken, roles: nil, wantStatus: http.StatusOK},
		{name: "allowed role", header: "Bearer " + sellerToken, roles: []string{RoleSeller, RoleAdmin}, wantStatus: http.StatusOK},
		{name: "forbidden role", header: "Bearer " + customerToken, roles: []string{RoleSeller, RoleAdmin}, wantStatus: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := authn.RequireAuth(tc.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := IdentityFromContext(r.Context()); !ok {
					t.Fatalf("identity missing from context")
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}
