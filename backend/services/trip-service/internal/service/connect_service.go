package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/clients"
	"fleetride/backend/services/trip-service/internal/models"
	"fleetride/backend/services/trip-service/internal/tokenstore"
)

// OAuthClient is the authorization half of the fleet client.
type OAuthClient interface {
	AuthorizationURL() (clients.AuthRequest, error)
	ExchangeCode(ctx context.Context, code string) (tokenstore.Token, error)
}

// VehicleLister lists the connected account's vehicles.
type VehicleLister interface {
	ListVehicles(ctx context.Context) ([]models.VehicleRef, error)
}

// Tokens is read and clear access to the token store.
type Tokens interface {
	Get() (tokenstore.Token, bool)
	IsValid() bool
	Clear(ctx context.Context) error
}

// ConnectionStatus describes the fleet session without exposing credentials.
type ConnectionStatus struct {
	Connected  bool       `json:"connected"`
	CanRefresh bool       `json:"can_refresh"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ConnectService links and unlinks the fleet account.
type ConnectService struct {
	oauth    OAuthClient
	vehicles VehicleLister
	tokens   Tokens
	logger   *zap.Logger
}

// NewConnectService builds service.
func NewConnectService(oauth OAuthClient, vehicles VehicleLister, tokens Tokens, logger *zap.Logger) *ConnectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectService{oauth: oauth, vehicles: vehicles, tokens: tokens, logger: logger}
}

// AuthorizationURL returns the vendor URL to send the user to, plus its state.
func (s *ConnectService) AuthorizationURL() (clients.AuthRequest, error) {
	return s.oauth.AuthorizationURL()
}

// ExchangeCode completes the OAuth callback.
func (s *ConnectService) ExchangeCode(ctx context.Context, code string) error {
	if _, err := s.oauth.ExchangeCode(ctx, code); err != nil {
		s.logger.Warn("fleet code exchange failed", zap.Error(err))
		return err
	}
	return nil
}

// IsAuthenticated reports whether a usable access token is held.
func (s *ConnectService) IsAuthenticated() bool {
	return s.tokens.IsValid()
}

// Status summarizes the session.
func (s *ConnectService) Status() ConnectionStatus {
	tok, ok := s.tokens.Get()
	status := ConnectionStatus{Connected: s.tokens.IsValid()}
	if !ok {
		return status
	}
	status.CanRefresh = tok.RefreshToken != ""
	if !tok.ExpiresAt.IsZero() {
		expires := tok.ExpiresAt
		status.ExpiresAt = &expires
	}
	return status
}

// ClearTokens disconnects the fleet account.
func (s *ConnectService) ClearTokens(ctx context.Context) error {
	if err := s.tokens.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("fleet account disconnected")
	return nil
}

// ListVehicles returns the account's vehicles.
func (s *ConnectService) ListVehicles(ctx context.Context) ([]models.VehicleRef, error) {
	return s.vehicles.ListVehicles(ctx)
}
