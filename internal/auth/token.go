package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

const tokenIssuer = "project-vector"

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Alias  string `json:"alias"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func issueToken(secret []byte, sess domain.Session, issuedAt time.Time) (string, error) {
	claims := Claims{
		UserID: sess.UserID.String(),
		Email:  sess.Email,
		Alias:  sess.Alias,
		Role:   string(sess.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sess.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func parseToken(secret []byte, tokenString string, now time.Time) (domain.Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, ErrInvalidToken)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, ErrInvalidToken)
	}

	sess := domain.Session{
		UserID:      userID,
		Email:       claims.Email,
		Alias:       claims.Alias,
		Role:        domain.Role(claims.Role),
		AccessToken: tokenString,
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return sess, nil
}
