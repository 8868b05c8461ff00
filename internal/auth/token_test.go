package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("secret", 15*time.Minute)

	token, exp, err := ti.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if d := time.Until(exp); d < 14*time.Minute || d > 16*time.Minute {
		t.Errorf("expires in %v, want about 15m", d)
	}

	id, err := ti.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 42 {
		t.Errorf("user id = %d, want 42", id)
	}
}

func TestTokenExpired(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Minute)
	token, _, _ := ti.Issue(1)

	ti.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := ti.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenRejected(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Minute)
	other := NewTokenIssuer("other-secret", time.Minute)
	foreign, _, _ := other.Issue(1)

	now := time.Now()
	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	badIssuer := valid
	badIssuer.Issuer = "someone-else"
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	badSubject := valid
	badSubject.Subject = "alice"
	notYet := valid
	notYet.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"wrong key", foreign},
		{"alg none", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
		{"hs512", sign(jwt.SigningMethodHS512, []byte("secret"), valid)},
		{"bad issuer", sign(jwt.SigningMethodHS256, []byte("secret"), badIssuer)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("secret"), noExpiry)},
		{"bad subject", sign(jwt.SigningMethodHS256, []byte("secret"), badSubject)},
		{"not yet valid", sign(jwt.SigningMethodHS256, []byte("secret"), notYet)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ti.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
