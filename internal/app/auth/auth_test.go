package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return NewManager(Config{
		Secret:       "test-signing-secret",
		Users:        map[string]string{"ada": hash},
		StaticTokens: map[string]string{"svc-token-1": "ci-bot"},
	}, nil)
}

func TestLoginAndVerify(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	token, err := m.Login(ctx, "ada", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "ada" || claims.Subject != "ada" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) <= 0 {
		t.Fatalf("expiry not set: %+v", claims.ExpiresAt)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if _, err := m.Login(ctx, "ada", "wrong"); err == nil {
		t.Fatal("expected bad password to fail")
	}
	if _, err := m.Login(ctx, "nobody", "s3cret"); err == nil {
		t.Fatal("expected unknown user to fail")
	}
	if _, err := m.Login(ctx, "", ""); err == nil {
		t.Fatal("expected empty credentials to fail")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m := testManager(t)
	token, err := m.Issue("ada", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Verify(token + "x"); err == nil {
		t.Fatal("expected tampered token to fail")
	}

	other := NewManager(Config{Secret: "different-secret"}, nil)
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected token signed with another secret to fail")
	}
}

func TestVerifyRejectsWrongSigningMethod(t *testing.T) {
	m := testManager(t)

	// alg=none tokens must never verify.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "ada"})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Verify(raw); err == nil {
		t.Fatal("expected alg=none token to fail")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewManager(Config{Secret: "test-signing-secret"}, nil)

	issued := time.Now().Add(-2 * time.Hour)
	claims := Claims{
		UserID: "ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ada",
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestStaticTokens(t *testing.T) {
	m := testManager(t)

	user, ok := m.VerifyStatic("svc-token-1")
	if !ok || user != "ci-bot" {
		t.Fatalf("static token: %v %q", ok, user)
	}
	if _, ok := m.VerifyStatic("unknown"); ok {
		t.Fatal("unknown static token accepted")
	}
}

func TestEnabled(t *testing.T) {
	if NewManager(Config{}, nil).Enabled() {
		t.Fatal("empty config should be disabled")
	}
	if !NewManager(Config{Secret: "x"}, nil).Enabled() {
		t.Fatal("secret should enable auth")
	}
	if !NewManager(Config{StaticTokens: map[string]string{"t": "u"}}, nil).Enabled() {
		t.Fatal("static tokens should enable auth")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), "ada", "admin")
	if UserID(ctx) != "ada" {
		t.Fatalf("user id = %q", UserID(ctx))
	}
	if Role(ctx) != "admin" {
		t.Fatalf("role = %q", Role(ctx))
	}
	if UserID(context.Background()) != "" {
		t.Fatal("empty context should have no identity")
	}
}
