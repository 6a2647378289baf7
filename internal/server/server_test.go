package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hainguyen99-cdm/farcastertool/internal/queue"
	"github.com/hainguyen99-cdm/farcastertool/internal/runner"
	"github.com/hainguyen99-cdm/farcastertool/internal/store"
	"github.com/hainguyen99-cdm/farcastertool/internal/validation"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

type memStores struct {
	mu        sync.Mutex
	accounts  map[string]*schema.Account
	scenarios map[string]*schema.Scenario
	logs      []*schema.LogEntry
}

func newMemStores() *memStores {
	return &memStores{
		accounts:  make(map[string]*schema.Account),
		scenarios: make(map[string]*schema.Scenario),
	}
}

func (m *memStores) GetAccount(ctx context.Context, id string) (*schema.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "account not found: %s", id)
	}
	return acc, nil
}

func (m *memStores) ListAccounts(ctx context.Context, ids []string) ([]*schema.Account, error) {
	out := make([]*schema.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := m.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

func (m *memStores) CreateAccount(ctx context.Context, acc *schema.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.ID] = acc
	return nil
}

func (m *memStores) UpdateAccountWallet(ctx context.Context, id, walletAddress, username string, fid int64) error {
	return nil
}

func (m *memStores) SetAccountStatus(ctx context.Context, id string, status schema.AccountStatus, reason string) error {
	return nil
}

func (m *memStores) SetGameCredential(ctx context.Context, accountID, gameLabel, encryptedCredential string) error {
	return nil
}

func (m *memStores) CreateScenario(ctx context.Context, sc *schema.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[sc.ID] = sc
	return nil
}

func (m *memStores) GetScenario(ctx context.Context, id string) (*schema.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scenario not found: %s", id)
	}
	return sc, nil
}

func (m *memStores) ListScenarios(ctx context.Context) ([]*schema.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*schema.Scenario, 0, len(m.scenarios))
	for _, sc := range m.scenarios {
		out = append(out, sc)
	}
	return out, nil
}

func (m *memStores) DeleteScenario(ctx context.Context, id string) error { return nil }

func (m *memStores) CreateLog(ctx context.Context, entry *schema.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStores) ListLogs(ctx context.Context, filter store.LogFilter) ([]*schema.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.LogEntry
	for _, e := range m.logs {
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// echoProcessor resolves every job successfully.
type echoProcessor struct{}

func (echoProcessor) Process(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	merged := job.PreviousResults.Clone()
	merged[job.Action.Type] = map[string]any{"ok": true}
	return merged, nil
}

type serverEnv struct {
	srv    *Server
	stores *memStores
}

func newServerEnv(t *testing.T) (*serverEnv, func()) {
	t.Helper()
	stores := newMemStores()
	q := queue.New(echoProcessor{}, queue.WithBackoff(time.Millisecond))
	r := runner.New(q, stores, stores)
	v, err := validation.New()
	require.NoError(t, err)
	srv := New(r, stores, stores, stores, v, slog.Default())
	return &serverEnv{srv: srv, stores: stores}, q.Shutdown
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestExecuteScenario(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	env.stores.accounts["acc-1"] = &schema.Account{ID: "acc-1", EncryptedSecret: "aa:bb"}
	env.stores.scenarios["sc-1"] = &schema.Scenario{
		ID:      "sc-1",
		Actions: []schema.Action{{Type: schema.ActionGetFeed}},
		Loop:    2,
	}

	w := doRequest(t, env.srv, http.MethodPost, "/scenarios/sc-1/execute", map[string]any{
		"accountIds": []string{"acc-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["executed"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "acc-1", first["accountId"])
	assert.Equal(t, float64(2), first["loopsRun"])
}

func TestExecuteScenario_UnknownScenarioIs404(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	w := doRequest(t, env.srv, http.MethodPost, "/scenarios/missing/execute", map[string]any{
		"accountIds": []string{"acc-1"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteScenario_MissingAccountIds(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	w := doRequest(t, env.srv, http.MethodPost, "/scenarios/sc-1/execute", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunAccountScript(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	env.stores.accounts["acc-1"] = &schema.Account{ID: "acc-1", EncryptedSecret: "aa:bb"}

	w := doRequest(t, env.srv, http.MethodPost, "/accounts/acc-1/script", map[string]any{
		"actions": []map[string]any{
			{"type": "GET_FEED", "order": 0},
			{"type": "CREATE_CAST", "order": 1, "config": map[string]any{"text": "gm"}},
		},
		"loop": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "acc-1", body["accountId"])
	assert.Equal(t, float64(2), body["actionsExecuted"])
	assert.Equal(t, float64(1), body["loopsExecuted"])
	assert.Len(t, body["results"].([]any), 2)
}

func TestRunAccountScript_InvalidActionRejected(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	env.stores.accounts["acc-1"] = &schema.Account{ID: "acc-1", EncryptedSecret: "aa:bb"}

	w := doRequest(t, env.srv, http.MethodPost, "/accounts/acc-1/script", map[string]any{
		"actions": []map[string]any{{"type": "TELEPORT"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "TELEPORT")
}

func TestExecuteScriptBatch_ReturnsStarted(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	env.stores.accounts["acc-1"] = &schema.Account{ID: "acc-1", EncryptedSecret: "aa:bb"}
	env.stores.accounts["acc-2"] = &schema.Account{ID: "acc-2", EncryptedSecret: "cc:dd"}

	w := doRequest(t, env.srv, http.MethodPost, "/scripts/execute", map[string]any{
		"accountIds": []string{"acc-1", "acc-2"},
		"actions":    []map[string]any{{"type": "GET_FEED"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "started", body["status"])
	assert.Len(t, body["accounts"].([]any), 2)
}

func TestListLogs_FiltersByAccount(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	env.stores.logs = []*schema.LogEntry{
		{AccountID: "acc-1", ActionType: schema.ActionGetFeed, Status: schema.LogSuccess},
		{AccountID: "acc-2", ActionType: schema.ActionDelay, Status: schema.LogSuccess},
	}

	w := doRequest(t, env.srv, http.MethodGet, "/logs?accountId=acc-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Len(t, body["logs"].([]any), 1)
}

func TestCreateScenario_ValidatedAndPersisted(t *testing.T) {
	env, shutdown := newServerEnv(t)
	defer shutdown()

	w := doRequest(t, env.srv, http.MethodPost, "/scenarios", map[string]any{
		"id":   "sc-new",
		"name": "warmup",
		"actions": []map[string]any{
			{"type": "GET_FEED", "order": 0},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, env.stores.scenarios, "sc-new")

	w = doRequest(t, env.srv, http.MethodPost, "/scenarios", map[string]any{
		"id":      "sc-bad",
		"actions": []map[string]any{{"type": "PIN_MINI_APP"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
