package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose ограничивает область действия токена.
type Purpose string

const (
	// PurposeSession: токен сессии клиента.
	PurposeSession Purpose = "session"
	// PurposeCheckIn: токен ссылки для отметки из письма.
	PurposeCheckIn Purpose = "checkin"
	// PurposeStatus: токен ссылки на статус для экстренного контакта.
	PurposeStatus Purpose = "status"
)

var (
	// ErrInvalidToken возвращается для поддельного, просроченного или чужого токена.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptySecret возвращается, если секрет подписи не задан.
	ErrEmptySecret = errors.New("auth secret is empty")
)

// Claims: стандартные утверждения плюс назначение токена.
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
}

// Signer выпускает и проверяет токены HS256.
type Signer struct {
	secret    []byte
	issuer    string
	publicURL string
	ttl       map[Purpose]time.Duration
	now       func() time.Time
}

// Config задаёт параметры Signer.
type Config struct {
	Secret     string
	Issuer     string
	PublicURL  string
	SessionTTL time.Duration
	CheckInTTL time.Duration
	StatusTTL  time.Duration
}

// NewSigner создаёт Signer.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		ttl: map[Purpose]time.Duration{
			PurposeSession: cfg.SessionTTL,
			PurposeCheckIn: cfg.CheckInTTL,
			PurposeStatus:  cfg.StatusTTL,
		},
		now: time.Now,
	}, nil
}

// Issue выпускает токен для userID.
func (s *Signer) Issue(userID string, purpose Purpose) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Purpose: purpose,
	}
	if ttl := s.ttl[purpose]; ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify проверяет токен и возвращает userID.
func (s *Signer) Verify(tokenString string, purpose Purpose) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Purpose != purpose || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// CheckInURL реализует domain.LinkIssuer.
func (s *Signer) CheckInURL(userID string) (string, error) {
	token, err := s.Issue(userID, PurposeCheckIn)
	if err != nil {
		return "", err
	}
	return s.publicURL + "/c/" + url.PathEscape(token), nil
}

// StatusURL реализует domain.LinkIssuer.
func (s *Signer) StatusURL(userID string) (string, error) {
	token, err := s.Issue(userID, PurposeStatus)
	if err != nil {
		return "", err
	}
	return s.publicURL + "/s/" + url.PathEscape(token), nil
}
