package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongQuote   = errors.New("token does not cover this quote")
)

// Service issues and verifies maker tokens. A token is minted when a quote
// is registered and is the only credential that can cancel that quote.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
}

type Claims struct {
	Maker   string `json:"maker"`
	QuoteID string `json:"quote_id"`
	jwt.RegisteredClaims
}

func NewService(jwtSecret string, ttl time.Duration) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
	}
}

// IssueMakerToken mints an HS256 token binding the maker to one quote.
func (s *Service) IssueMakerToken(maker string, quoteID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &Claims{
		Maker:   maker,
		QuoteID: quoteID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   maker,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken parses a bearer token and returns its claims.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyQuoteToken verifies the token and checks it was minted for quoteID.
func (s *Service) VerifyQuoteToken(tokenString string, quoteID uuid.UUID) (*Claims, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.QuoteID != quoteID.String() {
		return nil, ErrWrongQuote
	}
	return claims, nil
}
