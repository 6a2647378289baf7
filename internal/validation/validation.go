// Package validation checks scenarios and ad-hoc action lists against JSON
// Schema Draft 2020-12 before they reach the queue, so malformed configs fail
// at the boundary instead of mid-run.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// scenarioSchemaJSON validates the scenario envelope. Embedded as a constant
// to avoid filesystem dependencies.
const scenarioSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://farcastertool.dev/schemas/scenario.json",
  "type": "object",
  "required": ["actions"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/action" }
    },
    "shuffle": { "type": "boolean" },
    "loop": { "type": "integer", "minimum": 1 },
    "createdAt": { "type": "string" },
    "updatedAt": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string" },
        "config": { "type": "object" },
        "order": { "type": "integer" }
      },
      "additionalProperties": false
    }
  }
}`

// configSchemas hold the per-action-type config constraints. Absent entries
// mean the type takes no required config.
var configSchemas = map[schema.ActionType]string{
	schema.ActionLikeCast: `{
	  "type": "object",
	  "properties": {
	    "likeMethod": { "type": "string", "enum": ["url", "random"] },
	    "castUrl": { "type": "string", "minLength": 1 },
	    "castHash": { "type": "string" }
	  },
	  "if": { "properties": { "likeMethod": { "const": "url" } }, "required": ["likeMethod"] },
	  "then": { "required": ["castUrl"] }
	}`,
	schema.ActionRecastCast: `{
	  "type": "object",
	  "properties": {
	    "likeMethod": { "type": "string", "enum": ["url", "random"] },
	    "castUrl": { "type": "string", "minLength": 1 },
	    "castHash": { "type": "string" }
	  },
	  "if": { "properties": { "likeMethod": { "const": "url" } }, "required": ["likeMethod"] },
	  "then": { "required": ["castUrl"] }
	}`,
	schema.ActionDelay: `{
	  "type": "object",
	  "properties": {
	    "delayMs": { "type": "number", "minimum": 0 }
	  }
	}`,
	schema.ActionJoinChannel: `{
	  "type": "object",
	  "required": ["channelKey", "inviteCode"],
	  "properties": {
	    "channelKey": { "type": "string", "minLength": 1 },
	    "inviteCode": { "type": "string", "minLength": 1 }
	  }
	}`,
	schema.ActionPinMiniApp: `{
	  "type": "object",
	  "required": ["domain"],
	  "properties": {
	    "domain": { "type": "string", "minLength": 1 }
	  }
	}`,
	schema.ActionFollowUser: `{
	  "type": "object",
	  "required": ["userLink"],
	  "properties": {
	    "userLink": { "type": "string", "minLength": 1 }
	  }
	}`,
	schema.ActionCreateWallet: `{
	  "type": "object",
	  "required": ["mnemonic"],
	  "properties": {
	    "mnemonic": { "type": "string", "minLength": 1 },
	    "passphrase": { "type": "string" }
	  }
	}`,
	schema.ActionCreateRecordGame: `{
	  "type": "object",
	  "required": ["gameLabel"],
	  "properties": {
	    "gameLabel": { "type": "string", "minLength": 1 },
	    "payload": { "type": "object" }
	  }
	}`,
	schema.ActionMiniAppEvent: `{
	  "type": "object",
	  "required": ["domain", "event"],
	  "properties": {
	    "domain": { "type": "string", "minLength": 1 },
	    "event": { "type": "string", "minLength": 1 },
	    "platformType": { "type": "string" }
	  }
	}`,
	schema.ActionAnalyticsEvents: `{
	  "type": "object",
	  "required": ["events"],
	  "properties": {
	    "events": {
	      "type": "array",
	      "minItems": 1,
	      "items": { "type": "object" }
	    }
	  }
	}`,
	schema.ActionCreateCast: `{
	  "type": "object",
	  "required": ["text"],
	  "properties": {
	    "text": { "type": "string", "minLength": 1 },
	    "mediaUrls": {
	      "type": "array",
	      "items": { "type": "string", "minLength": 1 }
	    }
	  }
	}`,
}

// Validator validates scenarios and actions. Safe for concurrent use; all
// schemas are compiled once at construction.
type Validator struct {
	scenario *jsonschema.Schema
	configs  map[schema.ActionType]*jsonschema.Schema
}

// New compiles every embedded schema and fails fast on any defect.
func New() (*Validator, error) {
	scenarioSchema, err := compileSchema("https://farcastertool.dev/schemas/scenario.json", scenarioSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}

	configs := make(map[schema.ActionType]*jsonschema.Schema, len(configSchemas))
	for actionType, raw := range configSchemas {
		url := fmt.Sprintf("https://farcastertool.dev/schemas/configs/%s.json", strings.ToLower(string(actionType)))
		compiled, err := compileSchema(url, raw)
		if err != nil {
			return nil, fmt.Errorf("compile config schema for %s: %w", actionType, err)
		}
		configs[actionType] = compiled
	}

	return &Validator{scenario: scenarioSchema, configs: configs}, nil
}

// ValidateScenario checks the scenario envelope and every action in it.
func (v *Validator) ValidateScenario(sc *schema.Scenario) error {
	if sc == nil {
		return schema.NewError(schema.ErrCodeValidation, "scenario is nil")
	}
	doc, err := toJSONValue(sc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize scenario").WithCause(err)
	}
	if err := v.scenario.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return v.ValidateActions(sc.Actions)
}

// ValidateActions checks each action's type and config.
func (v *Validator) ValidateActions(actions []schema.Action) error {
	if len(actions) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "actions must be a non-empty list")
	}
	for i, action := range actions {
		if err := v.ValidateAction(action); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "action %d (%s): %s", i, action.Type, engineMessage(err)).
				WithCause(err)
		}
	}
	return nil
}

// ValidateAction checks one action's type against the closed set and its
// config against the type's schema.
func (v *Validator) ValidateAction(action schema.Action) error {
	if !action.Type.Valid() {
		return schema.NewErrorf(schema.ErrCodeUnknownAction, "unknown action type %q", string(action.Type))
	}
	compiled, ok := v.configs[action.Type]
	if !ok {
		return nil
	}
	cfg := action.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	doc, err := toJSONValue(cfg)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize action config").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

func compileSchema(url, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// with per-location violation messages.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

func engineMessage(err error) string {
	var ee *schema.EngineError
	if e, ok := err.(*schema.EngineError); ok {
		ee = e
	}
	if ee != nil {
		return ee.Message
	}
	return err.Error()
}
