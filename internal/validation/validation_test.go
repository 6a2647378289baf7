package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func TestValidateAction_UnknownType(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateAction(schema.Action{Type: "TELEPORT"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownAction, schema.CodeOf(err))
	assert.Contains(t, err.Error(), `"TELEPORT"`)
}

func TestValidateAction_NoConfigTypesPass(t *testing.T) {
	v := newValidator(t)

	assert.NoError(t, v.ValidateAction(schema.Action{Type: schema.ActionGetFeed}))
	assert.NoError(t, v.ValidateAction(schema.Action{Type: schema.ActionUpdateWallet}))
	assert.NoError(t, v.ValidateAction(schema.Action{Type: schema.ActionDelay}))
}

func TestValidateAction_ConfigConstraints(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name   string
		action schema.Action
		ok     bool
	}{
		{
			name:   "join channel requires both fields",
			action: schema.Action{Type: schema.ActionJoinChannel, Config: map[string]any{"channelKey": "dev"}},
			ok:     false,
		},
		{
			name: "join channel complete",
			action: schema.Action{Type: schema.ActionJoinChannel, Config: map[string]any{
				"channelKey": "dev", "inviteCode": "abc",
			}},
			ok: true,
		},
		{
			name:   "pin mini app requires domain",
			action: schema.Action{Type: schema.ActionPinMiniApp, Config: map[string]any{}},
			ok:     false,
		},
		{
			name:   "like cast url method requires castUrl",
			action: schema.Action{Type: schema.ActionLikeCast, Config: map[string]any{"likeMethod": "url"}},
			ok:     false,
		},
		{
			name: "like cast url method with castUrl",
			action: schema.Action{Type: schema.ActionLikeCast, Config: map[string]any{
				"likeMethod": "url", "castUrl": "https://warpcast.com/a/0x1",
			}},
			ok: true,
		},
		{
			name:   "like cast random needs no config",
			action: schema.Action{Type: schema.ActionLikeCast},
			ok:     true,
		},
		{
			name:   "like cast rejects bogus method",
			action: schema.Action{Type: schema.ActionLikeCast, Config: map[string]any{"likeMethod": "psychic"}},
			ok:     false,
		},
		{
			name:   "delay rejects negative",
			action: schema.Action{Type: schema.ActionDelay, Config: map[string]any{"delayMs": float64(-5)}},
			ok:     false,
		},
		{
			name:   "create cast requires text",
			action: schema.Action{Type: schema.ActionCreateCast, Config: map[string]any{"text": ""}},
			ok:     false,
		},
		{
			name:   "analytics requires non-empty events",
			action: schema.Action{Type: schema.ActionAnalyticsEvents, Config: map[string]any{"events": []any{}}},
			ok:     false,
		},
		{
			name:   "record game requires label",
			action: schema.Action{Type: schema.ActionCreateRecordGame, Config: map[string]any{}},
			ok:     false,
		},
		{
			name:   "create wallet requires mnemonic",
			action: schema.Action{Type: schema.ActionCreateWallet},
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAction(tt.action)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
			}
		})
	}
}

func TestValidateActions_ReportsIndexAndType(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateActions([]schema.Action{
		{Type: schema.ActionGetFeed},
		{Type: schema.ActionPinMiniApp},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action 1 (PIN_MINI_APP)")

	assert.Error(t, v.ValidateActions(nil))
}

func TestValidateScenario(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateScenario(&schema.Scenario{
		ID:   "sc-1",
		Name: "warmup",
		Actions: []schema.Action{
			{Type: schema.ActionGetFeed, Order: 0},
			{Type: schema.ActionLikeCast, Order: 1},
		},
		Loop: 2,
	})
	assert.NoError(t, err)

	err = v.ValidateScenario(&schema.Scenario{ID: "sc-2", Actions: []schema.Action{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	assert.Error(t, v.ValidateScenario(nil))
}
