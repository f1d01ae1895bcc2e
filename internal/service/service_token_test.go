package service

import (
	"errors"
	"testing"
	"time"

	"github.com/buymall/buypay/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

const testServiceSecret = "0123456789abcdef0123456789abcdef"

func newTestServiceTokens(now time.Time) *ServiceTokenService {
	return NewServiceTokenService(config.ServiceTokenConfig{
		Secret:   testServiceSecret,
		Issuer:   "buymall-storefront",
		Audience: "buypay",
	}, func() time.Time { return now })
}

func TestServiceTokenIssueAndParse(t *testing.T) {
	now := time.Date(2025, 8, 20, 14, 30, 0, 0, time.UTC)
	tokens := newTestServiceTokens(now)
	signed, expiresAt, err := tokens.Issue("storefront-api", time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expires at: %v", expiresAt)
	}
	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.Subject != "storefront-api" || claims.Scope != "payments" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestServiceTokenRejects(t *testing.T) {
	now := time.Date(2025, 8, 20, 14, 30, 0, 0, time.UTC)
	tokens := newTestServiceTokens(now)
	valid, _, err := tokens.Issue("storefront-api", time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}

	expired := newTestServiceTokens(now.Add(2 * time.Hour))
	otherIssuer := NewServiceTokenService(config.ServiceTokenConfig{Secret: testServiceSecret, Issuer: "someone-else", Audience: "buypay"}, func() time.Time { return now })
	otherSecret := NewServiceTokenService(config.ServiceTokenConfig{Secret: "ffffffffffffffffffffffffffffffff", Issuer: "buymall-storefront", Audience: "buypay"}, func() time.Time { return now })

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "storefront-api", Issuer: "buymall-storefront", Audience: jwt.ClaimStrings{"buypay"}},
	}).SignedString([]byte(testServiceSecret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "storefront-api",
			Issuer:    "buymall-storefront",
			Audience:  jwt.ClaimStrings{"buypay"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testServiceSecret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}

	cases := []struct {
		name   string
		parser *ServiceTokenService
		token  string
	}{
		{"expired", expired, valid},
		{"issuer_mismatch", otherIssuer, valid},
		{"secret_mismatch", otherSecret, valid},
		{"missing_exp", tokens, noExp},
		{"wrong_alg", tokens, hs512},
		{"garbage", tokens, "not-a-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.parser.Parse(tc.token); !errors.Is(err, ErrServiceTokenInvalid) {
				t.Fatalf("expected ErrServiceTokenInvalid, got %v", err)
			}
		})
	}
}

func TestServiceTokenDisabledWithoutSecret(t *testing.T) {
	tokens := NewServiceTokenService(config.ServiceTokenConfig{}, nil)
	if tokens.Enabled() {
		t.Fatalf("tokens without secret should be disabled")
	}
	if _, _, err := tokens.Issue("storefront-api", 0); !errors.Is(err, ErrServiceTokenDisabled) {
		t.Fatalf("expected ErrServiceTokenDisabled, got %v", err)
	}
}
