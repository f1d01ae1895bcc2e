package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims 商城后端调用凭证声明
type ServiceClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// ServiceTokenService 商城后端 JWT 凭证的签发与校验
type ServiceTokenService struct {
	cfg config.ServiceTokenConfig
	now func() time.Time
}

// NewServiceTokenService 创建凭证服务；now 为 nil 时使用 time.Now
func NewServiceTokenService(cfg config.ServiceTokenConfig, now func() time.Time) *ServiceTokenService {
	if now == nil {
		now = time.Now
	}
	return &ServiceTokenService{cfg: cfg, now: now}
}

// Enabled 是否配置了签章密钥
func (s *ServiceTokenService) Enabled() bool {
	return s != nil && s.cfg.Enabled()
}

// Issue 签发凭证，ttl <= 0 时使用配置的有效期
func (s *ServiceTokenService) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrServiceTokenDisabled
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", ErrServiceTokenInvalid)
	}
	if ttl <= 0 {
		ttl = s.cfg.Expire()
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := ServiceClaims{
		Scope: "payments",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if aud := strings.TrimSpace(s.cfg.Audience); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse 校验凭证：仅接受 HS256，必须带过期时间与主体，issuer/audience 按配置校验
func (s *ServiceTokenService) Parse(tokenString string) (*ServiceClaims, error) {
	if !s.Enabled() {
		return nil, ErrServiceTokenDisabled
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if iss := strings.TrimSpace(s.cfg.Issuer); iss != "" {
		options = append(options, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(s.cfg.Audience); aud != "" {
		options = append(options, jwt.WithAudience(aud))
	}
	parser := jwt.NewParser(options...)
	claims := &ServiceClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrServiceTokenInvalid
	}
	return claims, nil
}
