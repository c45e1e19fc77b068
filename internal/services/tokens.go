package services

import (
	"context"
	"time"

	"tunebridge/internal/catalog"
	"tunebridge/internal/errs"
	"tunebridge/internal/logging"
	"tunebridge/internal/models"
)

// expiryMargin treats tokens expiring within this window as already
// expired, so a token handed to a sync run cannot die mid-run.
const expiryMargin = 5 * time.Minute

// TokenRefresher exchanges a refresh token at the provider.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*catalog.TokenResponse, error)
}

// TokenService hands out valid access tokens for service connections,
// refreshing them through the provider when they are expired or close
// to it.
type TokenService struct {
	repo      *Repository
	refresher TokenRefresher
	log       *logging.Logger

	// Process-wide provider credentials, used when the connection
	// carries no override.
	clientID     string
	clientSecret string
}

// NewTokenService creates a TokenService with process-default
// credentials.
func NewTokenService(repo *Repository, refresher TokenRefresher, clientID, clientSecret string, log *logging.Logger) *TokenService {
	return &TokenService{
		repo:         repo,
		refresher:    refresher,
		log:          log,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// GetValidToken returns an access token guaranteed to outlive the
// expiry margin. A token still inside the margin is returned without
// any network traffic. Otherwise the connection's refresh token is
// exchanged and the stored triple updated atomically; conn is mutated
// to reflect the new state.
func (s *TokenService) GetValidToken(ctx context.Context, conn *models.ServiceConnection) (string, error) {
	if conn.AccessToken != "" && conn.ExpiresAt != nil && time.Until(*conn.ExpiresAt) > expiryMargin {
		return string(conn.AccessToken), nil
	}

	if conn.RefreshToken == "" {
		return "", errs.TokenRefresh("connection has no refresh token; relink required", nil).
			WithDetail("connection_id", conn.ID)
	}

	clientID, clientSecret, err := s.credentials(conn)
	if err != nil {
		return "", err
	}

	token, err := s.refresher.RefreshToken(ctx, string(conn.RefreshToken), clientID, clientSecret)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	if err := s.repo.UpdateConnectionToken(conn.ID, token.AccessToken, token.RefreshToken, expiresAt); err != nil {
		return "", errs.E(errs.KindInfrastructure, "failed to persist refreshed token", err)
	}

	conn.AccessToken = models.EncryptedString(token.AccessToken)
	if token.RefreshToken != "" {
		conn.RefreshToken = models.EncryptedString(token.RefreshToken)
	}
	conn.ExpiresAt = &expiresAt

	s.log.Zerolog().Info().
		Int64("connection_id", conn.ID).
		Str("provider", conn.ProviderName).
		Time("expires_at", expiresAt).
		Msg("access token refreshed")

	return token.AccessToken, nil
}

// credentials resolves the client pair: a connection override wins,
// then the process defaults.
func (s *TokenService) credentials(conn *models.ServiceConnection) (string, string, error) {
	override, err := conn.CredentialOverride()
	if err != nil {
		return "", "", errs.Validation(err.Error())
	}
	if override != nil && override.ClientID != "" && override.ClientSecret != "" {
		return override.ClientID, override.ClientSecret, nil
	}
	if s.clientID == "" || s.clientSecret == "" {
		return "", "", errs.TokenRefresh("no provider credentials configured", nil).
			WithDetail("connection_id", conn.ID)
	}
	return s.clientID, s.clientSecret, nil
}
