package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/internal/vault"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// DefaultClaimTimeout bounds one record-claim call end to end.
const DefaultClaimTimeout = 20 * time.Second

// GameConfig configures the record-claim client.
type GameConfig struct {
	ClaimURL   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GameClient performs signed record-claim calls against the external game
// backend. It is separate from Client because the claim endpoint uses
// HMAC request signing instead of bearer auth and has its own timeout.
type GameClient struct {
	vault    *vault.CredentialVault
	retrier  *Retrier
	http     *http.Client
	claimURL string
	apiKey   string
	timeout  time.Duration
}

// NewGameClient builds a claim client.
func NewGameClient(v *vault.CredentialVault, r *Retrier, cfg GameConfig) *GameClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClaimTimeout
	}
	return &GameClient{
		vault:    v,
		retrier:  r,
		http:     hc,
		claimURL: cfg.ClaimURL,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
	}
}

// SignClaim computes the request signature: HMAC-SHA256 keyed by the game
// credential over the api key concatenated with the JSON payload.
func SignClaim(credential, apiKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(credential))
	mac.Write([]byte(apiKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ClaimRecords posts a signed claim request and returns the decoded response
// body as-is. The caller normalizes the result shape.
func (g *GameClient) ClaimRecords(ctx context.Context, encryptedCredential string, payload map[string]any) (any, error) {
	credential, err := g.vault.Decrypt(encryptedCredential)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "claimRecords: marshal payload").WithCause(err)
	}
	signature := SignClaim(credential, g.apiKey, body)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.retrier.Execute(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.claimURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", g.apiKey)
		req.Header.Set("X-Signature", signature)
		return g.http.Do(req)
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTransient, "claimRecords: request failed: %v", err).
			WithStatus(http.StatusBadRequest).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTransient, "claimRecords: read response").
			WithStatus(http.StatusBadRequest).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		code := schema.ErrCodeExecution
		if RetryableStatus(resp.StatusCode) {
			code = schema.ErrCodeTransient
		}
		return nil, schema.NewErrorf(code, "claimRecords: backend returned %d", resp.StatusCode).
			WithStatus(resp.StatusCode).
			WithDetails(map[string]any{"body": string(raw)})
	}

	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "claimRecords: decode response").
			WithStatus(http.StatusBadRequest).WithCause(err)
	}
	return decoded, nil
}
