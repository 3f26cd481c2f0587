package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"fleetride/backend/services/trip-service/internal/metrics"
	"fleetride/backend/services/trip-service/internal/signer"
	"fleetride/backend/services/trip-service/internal/tokenstore"
)

// Request signing headers.
const (
	HeaderSignature = "X-Tesla-Signature"
	HeaderTimestamp = "X-Tesla-Timestamp"
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"openid", "offline_access", "vehicle_device_data", "vehicle_cmds", "vehicle_charging_cmds"}

// TokenStore is the subset of tokenstore.Store the client needs.
type TokenStore interface {
	Get() (tokenstore.Token, bool)
	IsValid() bool
	Set(ctx context.Context, f tokenstore.Fields) error
	Clear(ctx context.Context) error
}

// Signer signs canonical request descriptors.
type Signer interface {
	Sign(p signer.Payload) (string, error)
}

// Config holds the fleet API endpoints and OAuth client settings.
type Config struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Audience     string
	Scopes       []string
	// RateLimit is requests per second to the vendor; zero disables limiting.
	RateLimit float64
	RateBurst int
	// TokenLifetime is assumed when a token response carries no expires_in.
	TokenLifetime time.Duration
}

// DefaultTokenLifetime matches the vendor's usual access token lifetime.
const DefaultTokenLifetime = 8 * time.Hour

// FleetClient talks to the vendor fleet API on behalf of the single connected account.
type FleetClient struct {
	cfg      Config
	http     HTTPDoer
	tokens   TokenStore
	signer   Signer
	clock    clock.PassiveClock
	limiter  *rate.Limiter
	refresh  singleflight.Group
	recorder metrics.Recorder
	logger   *zap.Logger
}

// NewFleetClient wires the client. signer may be nil when no key is configured.
func NewFleetClient(
	cfg Config,
	httpClient HTTPDoer,
	tokens TokenStore,
	sign Signer,
	clk clock.PassiveClock,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *FleetClient {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = DefaultTokenLifetime
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &FleetClient{
		cfg:      cfg,
		http:     httpClient,
		tokens:   tokens,
		signer:   sign,
		clock:    clk,
		limiter:  limiter,
		recorder: recorder,
		logger:   logger,
	}
}

// RequestOptions describes one API call.
type RequestOptions struct {
	Method  string
	Body    any
	Headers map[string]string
	// AllowUnsigned lets a signed request go out without a signature when no key is configured.
	AllowUnsigned bool
}

// Response is a parsed vendor answer.
type Response struct {
	Status      int
	ContentType string
	JSON        json.RawMessage
	Text        string
}

// Decode unmarshals a JSON response into v.
func (r *Response) Decode(v any) error {
	if r.JSON == nil {
		return fmt.Errorf("clients: expected json response, got %q", r.ContentType)
	}
	return json.Unmarshal(r.JSON, v)
}

// Request performs an authenticated call. A 401 triggers one refresh and one retry.
func (c *FleetClient) Request(ctx context.Context, endpoint string, opts RequestOptions, requiresSignature bool) (*Response, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, endpoint, opts, body, requiresSignature)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		c.logger.Info("fleet api rejected token, refreshing", zap.String("endpoint", routeLabel(endpoint)))
		if _, err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, endpoint, opts, body, requiresSignature)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, newAPIError(resp.Status, rawBody(resp)))
		}
	}
	if resp.Status < 200 || resp.Status > 299 {
		return nil, newAPIError(resp.Status, rawBody(resp))
	}
	return resp, nil
}

func (c *FleetClient) ensureSession(ctx context.Context) error {
	if c.tokens.IsValid() {
		return nil
	}
	tok, _ := c.tokens.Get()
	if tok.RefreshToken == "" {
		return ErrNotAuthenticated
	}
	_, err := c.Refresh(ctx)
	return err
}

func (c *FleetClient) send(ctx context.Context, endpoint string, opts RequestOptions, body []byte, requiresSignature bool) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tok, _ := c.tokens.Get()
	if tok.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, joinURL(c.cfg.BaseURL, endpoint), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if requiresSignature {
		if err := c.sign(req, endpoint, opts, body); err != nil {
			return nil, err
		}
	}

	started := c.clock.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	c.recorder.RecordFleetRequest(routeLabel(endpoint), httpResp.StatusCode, c.clock.Since(started))

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return parseResponse(httpResp.StatusCode, httpResp.Header.Get("Content-Type"), data), nil
}

func (c *FleetClient) sign(req *http.Request, endpoint string, opts RequestOptions, body []byte) error {
	if c.signer == nil {
		if opts.AllowUnsigned {
			return nil
		}
		return signer.ErrSigningUnavailable
	}
	timestamp := strconv.FormatInt(c.clock.Now().Unix(), 10)
	signature, err := c.signer.Sign(signer.Payload{
		Method:    opts.Method,
		Endpoint:  endpoint,
		Timestamp: timestamp,
		Body:      body,
	})
	if errors.Is(err, signer.ErrSigningUnavailable) && opts.AllowUnsigned {
		c.logger.Debug("sending unsigned request", zap.String("endpoint", routeLabel(endpoint)))
		return nil
	}
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, timestamp)
	return nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("clients: encode body: %w", err)
		}
		return data, nil
	}
}

func parseResponse(status int, contentType string, data []byte) *Response {
	resp := &Response{Status: status, ContentType: contentType}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.HasSuffix(mediaType, "json") && json.Valid(data) {
		resp.JSON = data
		return resp
	}
	resp.Text = string(data)
	return resp
}

func rawBody(r *Response) []byte {
	if r.JSON != nil {
		return r.JSON
	}
	return []byte(r.Text)
}

// expiryFrom converts expires_in seconds into an absolute instant.
// A missing lifetime falls back to cfg.TokenLifetime so a fresh token never inherits an old expiry.
func (c *FleetClient) expiryFrom(expiresIn int64) time.Time {
	lifetime := c.cfg.TokenLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}
	return c.clock.Now().Add(lifetime)
}
