package clients

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/tokenstore"
)

const refreshKey = "refresh"

// AuthRequest is a ready-to-redirect authorize URL and its anti-forgery state.
type AuthRequest struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthorizationURL builds the vendor authorize URL with a fresh random state.
func (c *FleetClient) AuthorizationURL() (AuthRequest, error) {
	if c.cfg.ClientID == "" || c.cfg.RedirectURI == "" {
		return AuthRequest{}, fmt.Errorf("%w: client id and redirect uri are required", ErrConfiguration)
	}
	if c.cfg.AuthURL == "" {
		return AuthRequest{}, fmt.Errorf("%w: auth url is required", ErrConfiguration)
	}

	state, err := newState()
	if err != nil {
		return AuthRequest{}, err
	}
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(c.cfg.Scopes, " "))
	params.Set("state", state)

	return AuthRequest{
		URL:   joinURL(c.cfg.AuthURL, "/authorize") + "?" + params.Encode(),
		State: state,
	}, nil
}

// ExchangeCode trades an authorization code for tokens. The store is untouched on failure.
func (c *FleetClient) ExchangeCode(ctx context.Context, code string) (tokenstore.Token, error) {
	if c.cfg.ClientID == "" || c.cfg.RedirectURI == "" {
		return tokenstore.Token{}, fmt.Errorf("%w: client id and redirect uri are required", ErrConfiguration)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return tokenstore.Token{}, fmt.Errorf("%w: authorization code is required", ErrOAuthExchangeFailed)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	if c.cfg.Audience != "" {
		form.Set("audience", c.cfg.Audience)
	}

	tr, err := c.postToken(ctx, form)
	if err != nil {
		return tokenstore.Token{}, fmt.Errorf("%w: %w", ErrOAuthExchangeFailed, err)
	}
	if tr.AccessToken == "" {
		return tokenstore.Token{}, fmt.Errorf("%w: response carried no access token", ErrOAuthExchangeFailed)
	}

	if err := c.tokens.Set(ctx, tokenstore.Fields{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.expiryFrom(tr.ExpiresIn),
	}); err != nil {
		return tokenstore.Token{}, err
	}
	c.logger.Info("fleet account connected")
	tok, _ := c.tokens.Get()
	return tok, nil
}

// Refresh runs the refresh grant. Concurrent callers share one in-flight refresh.
// Any failure clears the token store.
func (c *FleetClient) Refresh(ctx context.Context) (tokenstore.Token, error) {
	ch := c.refresh.DoChan(refreshKey, func() (any, error) {
		// a caller giving up must not abort the refresh the others wait on
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return tokenstore.Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return tokenstore.Token{}, res.Err
		}
		return res.Val.(tokenstore.Token), nil
	}
}

func (c *FleetClient) doRefresh(ctx context.Context) (tokenstore.Token, error) {
	current, _ := c.tokens.Get()
	if current.RefreshToken == "" {
		c.failRefresh(ctx)
		return tokenstore.Token{}, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("refresh_token", current.RefreshToken)

	tr, err := c.postToken(ctx, form)
	if err == nil && tr.AccessToken == "" {
		err = fmt.Errorf("response carried no access token")
	}
	if err != nil {
		c.logger.Warn("token refresh failed, clearing session", zap.Error(err))
		c.failRefresh(ctx)
		return tokenstore.Token{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if err := c.tokens.Set(ctx, tokenstore.Fields{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.expiryFrom(tr.ExpiresIn),
	}); err != nil {
		c.failRefresh(ctx)
		return tokenstore.Token{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	c.recorder.RecordTokenRefresh(true)
	tok, _ := c.tokens.Get()
	return tok, nil
}

func (c *FleetClient) failRefresh(ctx context.Context) {
	c.recorder.RecordTokenRefresh(false)
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Error("failed to clear tokens after refresh failure", zap.Error(err))
	}
}

func (c *FleetClient) postToken(ctx context.Context, form url.Values) (tokenResponse, error) {
	var tr tokenResponse
	if c.cfg.AuthURL == "" {
		return tr, fmt.Errorf("%w: auth url is required", ErrConfiguration)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return tr, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.cfg.AuthURL, "/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return tr, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	started := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return tr, err
	}
	defer resp.Body.Close()
	c.recorder.RecordFleetRequest("/oauth2/token", resp.StatusCode, c.clock.Since(started))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tr, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tr, newAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return tr, fmt.Errorf("decode token response: %w", err)
	}
	return tr, nil
}

func newState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("clients: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
