package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"property-portal/internal/identity"
)

type TokenKind string

const (
	TokenAccess            TokenKind = "access"
	TokenRefresh           TokenKind = "refresh"
	TokenEmailVerification TokenKind = "email_verification"
	TokenPasswordReset     TokenKind = "password_reset"
)

func (k TokenKind) Valid() bool {
	switch k {
	case TokenAccess, TokenRefresh, TokenEmailVerification, TokenPasswordReset:
		return true
	}
	return false
}

// Identity is the subject a token is issued for.
type Identity struct {
	UserID      int64
	Email       string
	Role        identity.Role
	Name        string
	CompanyName string
}

// Claims is the signed payload. Values are never modified after signing.
type Claims struct {
	UserID      int64         `json:"userId"`
	Email       string        `json:"email"`
	Role        identity.Role `json:"role"`
	Name        string        `json:"name,omitempty"`
	CompanyName string        `json:"companyName,omitempty"`
	Type        TokenKind     `json:"type"`
	jwt.RegisteredClaims
}

func (c Claims) Principal() identity.Principal {
	return identity.Principal{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

type TokenConfig struct {
	Secret               string
	Issuer               string
	Audience             string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

var (
	errEmptySecret  = errors.New("token secret is not configured")
	errNegativeTTL  = errors.New("token ttl must not be negative")
	errUnknownKind  = errors.New("unknown token kind")
	errKindMismatch = errors.New("unexpected token kind")
)

type TokenService struct {
	secret []byte
	cfg    TokenConfig
	now    func() time.Time
}

func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.EmailVerificationTTL <= 0 {
		cfg.EmailVerificationTTL = 24 * time.Hour
	}
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = time.Hour
	}

	return &TokenService{
		secret: []byte(cfg.Secret),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *TokenService) TTL(kind TokenKind) time.Duration {
	switch kind {
	case TokenAccess:
		return s.cfg.AccessTTL
	case TokenRefresh:
		return s.cfg.RefreshTTL
	case TokenEmailVerification:
		return s.cfg.EmailVerificationTTL
	case TokenPasswordReset:
		return s.cfg.PasswordResetTTL
	}
	return 0
}

// Issue signs a token of kind for subject that expires after ttl. A zero
// ttl yields a token that is already expired.
func (s *TokenService) Issue(subject Identity, kind TokenKind, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errEmptySecret
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", errUnknownKind, kind)
	}
	if ttl < 0 {
		return "", errNegativeTTL
	}

	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		UserID:      subject.UserID,
		Email:       subject.Email,
		Role:        subject.Role,
		Name:        subject.Name,
		CompanyName: subject.CompanyName,
		Type:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (s *TokenService) IssueDefault(subject Identity, kind TokenKind) (string, error) {
	return s.Issue(subject, kind, s.TTL(kind))
}

func (s *TokenService) CreateTokenPair(subject Identity) (TokenPair, error) {
	access, err := s.IssueDefault(subject, TokenAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueDefault(subject, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.cfg.AccessTTL}, nil
}

// Verify checks signature, algorithm, expiry, issuer and audience. Every
// failure is reported as KindInvalidToken.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, invalidToken(errEmptySecret)
	}
	if tokenString == "" {
		return Claims{}, invalidToken(errors.New("empty token"))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, invalidToken(err)
	}
	if !token.Valid {
		return Claims{}, invalidToken(errors.New("token is not valid"))
	}
	if !claims.Type.Valid() {
		return Claims{}, invalidToken(fmt.Errorf("%w: %q", errUnknownKind, claims.Type))
	}
	if claims.UserID <= 0 {
		return Claims{}, invalidToken(errors.New("token subject is missing"))
	}
	if !claims.Role.Valid() {
		return Claims{}, invalidToken(fmt.Errorf("unknown role %q", claims.Role))
	}

	return claims, nil
}

func (s *TokenService) VerifyKind(tokenString string, kind TokenKind) (Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != kind {
		return Claims{}, invalidToken(fmt.Errorf("%w: got %s want %s", errKindMismatch, claims.Type, kind))
	}
	return claims, nil
}
