package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BaSui01/otpflow/types"
)

// TokenIssuer 签发与校验会话令牌（HS256）
// 令牌以会话 ID 为 subject，有效期与会话 TTL 对齐。
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer 创建令牌签发器
func NewTokenIssuer(secret []byte, issuer string) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("token secret too short: need at least 16 bytes, got %d", len(secret))
	}
	if issuer == "" {
		issuer = "otpflow"
	}
	return &TokenIssuer{secret: secret, issuer: issuer}, nil
}

// Issue 为会话签发令牌
func (t *TokenIssuer) Issue(sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌并返回其中的会话 ID
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", types.NewError(types.ErrUnauthorized, "invalid session token").WithCause(err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", types.NewError(types.ErrUnauthorized, "session token missing subject")
	}
	return claims.Subject, nil
}
