package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hainguyen99-cdm/farcastertool/internal/vault"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

func testGameClient(t *testing.T, claimURL string) (*GameClient, string) {
	t.Helper()
	v, err := vault.New(testKeyHex)
	require.NoError(t, err)
	encrypted, err := v.Encrypt("game-secret")
	require.NoError(t, err)
	g := NewGameClient(v, fastRetrier(), GameConfig{
		ClaimURL: claimURL,
		APIKey:   "api-key-1",
		Timeout:  time.Second,
	})
	return g, encrypted
}

func TestClaimRecords_SignsRequest(t *testing.T) {
	var gotSig, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotKey = r.Header.Get("X-Api-Key")
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	g, encrypted := testGameClient(t, srv.URL)
	payload := map[string]any{"gameLabel": "snake", "wallet": "0xabc"}
	_, err := g.ClaimRecords(context.Background(), encrypted, payload)
	require.NoError(t, err)

	assert.Equal(t, "api-key-1", gotKey)
	assert.Equal(t, SignClaim("game-secret", "api-key-1", gotBody), gotSig)
}

func TestClaimRecords_ReturnsDecodedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]any{
			map[string]any{"recordId": "r1"},
			map[string]any{"recordId": "r2"},
		})
	}))
	defer srv.Close()

	g, encrypted := testGameClient(t, srv.URL)
	got, err := g.ClaimRecords(context.Background(), encrypted, map[string]any{})
	require.NoError(t, err)

	arr, ok := got.([]any)
	require.True(t, ok)
	assert.Len(t, arr, 2)
}

func TestClaimRecords_BackendErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad claim", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	g, encrypted := testGameClient(t, srv.URL)
	_, err := g.ClaimRecords(context.Background(), encrypted, map[string]any{})
	require.Error(t, err)
	var ee *schema.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, http.StatusUnprocessableEntity, ee.Status)
	assert.Equal(t, schema.ErrCodeExecution, ee.Code)
}

func TestSignClaim_Deterministic(t *testing.T) {
	a := SignClaim("secret", "key", []byte(`{"a":1}`))
	b := SignClaim("secret", "key", []byte(`{"a":1}`))
	c := SignClaim("other", "key", []byte(`{"a":1}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
