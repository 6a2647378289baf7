// Package platform implements the credential-aware, rate-limited, retrying
// client for the external social platform API. The protocol itself is opaque
// authenticated HTTP; every operation composes the credential vault, the
// sliding-window limiter and the retrier.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/internal/ratelimit"
	"github.com/hainguyen99-cdm/farcastertool/internal/vault"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

const (
	// DefaultBaseURL is the platform API root.
	DefaultBaseURL = "https://client.warpcast.com"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4 * 1024 * 1024
)

// Credentials identifies one account's encrypted platform secret. AccountID
// doubles as the credential identity for rate-limit keying.
type Credentials struct {
	AccountID       string
	EncryptedSecret string
}

// Config configures the platform client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Breaker    BreakerConfig
}

// Client is the typed platform API surface.
type Client struct {
	vault   *vault.CredentialVault
	limiter *ratelimit.Limiter
	retrier *Retrier
	breaker *Breaker
	http    *http.Client
	baseURL string
}

// NewClient builds a Client from its three leaves.
func NewClient(v *vault.CredentialVault, l *ratelimit.Limiter, r *Retrier, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		vault:   v,
		limiter: l,
		retrier: r,
		breaker: NewBreaker(cfg.Breaker),
		http:    hc,
		baseURL: cfg.BaseURL,
	}
}

// call decrypts the credential, passes admission control, then performs the
// request under the retrier. Terminal failures surface as typed errors
// carrying the resolved HTTP status (400 when none is available).
func (c *Client) call(ctx context.Context, operation string, creds Credentials, method, path string, query url.Values, body any) (map[string]any, error) {
	token, err := c.vault.Decrypt(creds.EncryptedSecret)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.CheckAndRecord(ratelimit.Key(operation, creds.AccountID)); err != nil {
		return nil, err
	}
	if err := c.breaker.Allow(creds.AccountID); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: marshal request body", operation).WithCause(err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := c.retrier.Execute(ctx, func(ctx context.Context) (*http.Response, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.http.Do(req)
	})
	if err != nil {
		c.breaker.RecordFailure(creds.AccountID)
		return nil, schema.NewErrorf(schema.ErrCodeTransient, "%s: request failed: %v", operation, err).
			WithStatus(http.StatusBadRequest).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTransient, "%s: read response", operation).
			WithStatus(http.StatusBadRequest).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		code := schema.ErrCodeExecution
		if RetryableStatus(resp.StatusCode) {
			code = schema.ErrCodeTransient
			c.breaker.RecordFailure(creds.AccountID)
		}
		return nil, schema.NewErrorf(code, "%s: platform returned %d", operation, resp.StatusCode).
			WithStatus(resp.StatusCode).
			WithDetails(map[string]any{"body": string(raw)})
	}
	c.breaker.RecordSuccess(creds.AccountID)

	result := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: decode response", operation).
				WithStatus(http.StatusBadRequest).WithCause(err)
		}
	}
	return result, nil
}

// GetFeed fetches the account's home feed.
func (c *Client) GetFeed(ctx context.Context, creds Credentials) (map[string]any, error) {
	q := url.Values{"feedKey": {"home"}, "feedType": {"default"}}
	return c.call(ctx, "getFeed", creds, http.MethodGet, "/v2/feed-items", q, nil)
}

// LikeCast likes the cast with the given hash.
func (c *Client) LikeCast(ctx context.Context, creds Credentials, castHash string) (map[string]any, error) {
	return c.call(ctx, "likeCast", creds, http.MethodPut, "/v2/cast-likes", nil,
		map[string]any{"castHash": castHash})
}

// RecastCast recasts the cast with the given hash.
func (c *Client) RecastCast(ctx context.Context, creds Credentials, castHash string) (map[string]any, error) {
	return c.call(ctx, "recastCast", creds, http.MethodPut, "/v2/recasts", nil,
		map[string]any{"castHash": castHash})
}

// JoinChannel joins a channel using an invite code.
func (c *Client) JoinChannel(ctx context.Context, creds Credentials, channelKey, inviteCode string) (map[string]any, error) {
	return c.call(ctx, "joinChannel", creds, http.MethodPost, "/v1/join-channel-via-code", nil,
		map[string]any{"channelKey": channelKey, "inviteCode": inviteCode})
}

// PinMiniApp pins the mini app served from the given domain.
func (c *Client) PinMiniApp(ctx context.Context, creds Credentials, domain string) (map[string]any, error) {
	return c.call(ctx, "pinMiniApp", creds, http.MethodPut, "/v1/favorite-frames", nil,
		map[string]any{"domain": domain})
}

// FollowUser follows the user with the given FID.
func (c *Client) FollowUser(ctx context.Context, creds Credentials, targetFID int64) (map[string]any, error) {
	return c.call(ctx, "followUser", creds, http.MethodPut, "/v2/follows", nil,
		map[string]any{"targetFid": targetFID})
}

// GetUserByUsername resolves a username to its user record (including fid).
func (c *Client) GetUserByUsername(ctx context.Context, creds Credentials, username string) (map[string]any, error) {
	q := url.Values{"username": {username}}
	return c.call(ctx, "getUserByUsername", creds, http.MethodGet, "/v2/user-by-username", q, nil)
}

// CreateCast publishes a cast with optional media embeds.
func (c *Client) CreateCast(ctx context.Context, creds Credentials, text string, embeds []string) (map[string]any, error) {
	body := map[string]any{"text": text}
	if len(embeds) > 0 {
		body["embeds"] = embeds
	}
	return c.call(ctx, "createCast", creds, http.MethodPost, "/v2/casts", nil, body)
}

// GetThreadCasts fetches the casts of a thread rooted at the given hash.
func (c *Client) GetThreadCasts(ctx context.Context, creds Credentials, castHash string) (map[string]any, error) {
	q := url.Values{"castHash": {castHash}}
	return c.call(ctx, "getThreadCasts", creds, http.MethodGet, "/v2/thread-casts", q, nil)
}

// GenerateImageUploadURL requests a one-shot media upload URL.
func (c *Client) GenerateImageUploadURL(ctx context.Context, creds Credentials) (map[string]any, error) {
	return c.call(ctx, "generateImageUploadUrl", creds, http.MethodPost, "/v1/generate-image-upload-url", nil,
		map[string]any{})
}

// SendMiniAppEvent reports a mini-app interaction event.
func (c *Client) SendMiniAppEvent(ctx context.Context, creds Credentials, domain, event, platformType string) (map[string]any, error) {
	return c.call(ctx, "sendMiniAppEvent", creds, http.MethodPut, "/v1/mini-app-event", nil,
		map[string]any{"domain": domain, "event": event, "platformType": platformType})
}

// SendAnalyticsEvents submits a batch of analytics events.
func (c *Client) SendAnalyticsEvents(ctx context.Context, creds Credentials, events []map[string]any) (map[string]any, error) {
	return c.call(ctx, "sendAnalyticsEvents", creds, http.MethodPost, "/v1/analytics-events", nil,
		map[string]any{"events": events})
}

// OnboardingState fetches the account's onboarding state (wallet address,
// username, fid).
func (c *Client) OnboardingState(ctx context.Context, creds Credentials) (map[string]any, error) {
	return c.call(ctx, "onboardingState", creds, http.MethodGet, "/v2/onboarding-state", nil, nil)
}

// ResolveFID resolves a username to its numeric FID via GetUserByUsername.
// Absence of a resolvable FID is reported as a validation failure.
func (c *Client) ResolveFID(ctx context.Context, creds Credentials, username string) (int64, error) {
	res, err := c.GetUserByUsername(ctx, creds, username)
	if err != nil {
		return 0, err
	}
	for _, path := range [][]string{{"result", "user", "fid"}, {"user", "fid"}, {"fid"}} {
		if fid, ok := digNumber(res, path...); ok && fid > 0 {
			return int64(fid), nil
		}
	}
	return 0, schema.NewErrorf(schema.ErrCodeValidation, "no fid resolved for username %q", username)
}

// digNumber walks nested maps and returns the numeric leaf at path.
func digNumber(m map[string]any, path ...string) (float64, bool) {
	var cur any = m
	for _, key := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur, ok = mm[key]
		if !ok {
			return 0, false
		}
	}
	switch n := cur.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
