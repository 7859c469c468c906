package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nkit/internal/repositories"
	"nkit/internal/utils"
)

var (
	ErrAuthDisabled = errors.New("authentication is not configured")
	ErrTokenRevoked = errors.New("token has been revoked")

	ErrRevocationUnavailable = errors.New("token revocation check failed")
)

// AuthService issues and checks API tokens. Revocation needs Redis; without
// it revoked tokens stay valid until they expire.
type AuthService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoked *repositories.RedisRepository
}

func NewAuthService(secret, issuer string, ttl time.Duration, revoked *repositories.RedisRepository) *AuthService {
	return &AuthService{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		revoked: revoked,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *AuthService) Enabled() bool {
	return len(s.secret) > 0
}

// Issue signs a token for subject with a read or write scope.
func (s *AuthService) Issue(subject, scope string) (string, *utils.Claims, error) {
	if !s.Enabled() {
		return "", nil, ErrAuthDisabled
	}
	if scope != "" && !utils.Contains([]string{utils.ScopeRead, utils.ScopeWrite}, scope) {
		return "", nil, fmt.Errorf("unknown token scope %q", scope)
	}
	return utils.GenerateJWT(s.secret, s.issuer, subject, scope, s.ttl)
}

// Verify validates a token and rejects revoked ones.
func (s *AuthService) Verify(ctx context.Context, token string) (*utils.Claims, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	claims, err := utils.VerifyJWT(token, s.secret, s.issuer)
	if err != nil {
		return nil, err
	}

	if s.revoked != nil {
		revoked, err := s.revoked.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke blacklists a token until it expires.
func (s *AuthService) Revoke(ctx context.Context, claims *utils.Claims) error {
	if s.revoked == nil {
		return errors.New("token revocation needs redis")
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return s.revoked.Blacklist(ctx, claims.ID, ttl)
}
