package schema

import "time"

// ActionType identifies one kind of scripted interaction. The set is closed:
// the executor dispatches exhaustively over these variants and rejects
// anything else as a validation failure.
type ActionType string

const (
	ActionGetFeed          ActionType = "GET_FEED"
	ActionLikeCast         ActionType = "LIKE_CAST"
	ActionRecastCast       ActionType = "RECAST_CAST"
	ActionDelay            ActionType = "DELAY"
	ActionJoinChannel      ActionType = "JOIN_CHANNEL"
	ActionPinMiniApp       ActionType = "PIN_MINI_APP"
	ActionFollowUser       ActionType = "FOLLOW_USER"
	ActionUpdateWallet     ActionType = "UPDATE_WALLET"
	ActionCreateWallet     ActionType = "CREATE_WALLET"
	ActionCreateRecordGame ActionType = "CREATE_RECORD_GAME"
	ActionMiniAppEvent     ActionType = "MINI_APP_EVENT"
	ActionAnalyticsEvents  ActionType = "ANALYTICS_EVENTS"
	ActionCreateCast       ActionType = "CREATE_CAST"
)

// AllActionTypes lists every valid action type.
var AllActionTypes = []ActionType{
	ActionGetFeed, ActionLikeCast, ActionRecastCast, ActionDelay,
	ActionJoinChannel, ActionPinMiniApp, ActionFollowUser, ActionUpdateWallet,
	ActionCreateWallet, ActionCreateRecordGame, ActionMiniAppEvent,
	ActionAnalyticsEvents, ActionCreateCast,
}

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	for _, k := range AllActionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Action is one declarative step in a scenario or script.
// Order is used only for sort stability; duplicate values are tolerated and
// yield undefined relative order among ties.
type Action struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Order  int            `json:"order" yaml:"order"`
}

// PreviousResults accumulates action outputs within one run, keyed by type,
// so later actions can consult earlier outputs.
type PreviousResults map[ActionType]any

// Clone returns a shallow copy. The zero map clones to an empty map.
func (p PreviousResults) Clone() PreviousResults {
	out := make(PreviousResults, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ExecutionJob is one queued unit of work: exactly one terminal log entry
// regardless of how many attempts the queue spends on it.
type ExecutionJob struct {
	AccountID       string          `json:"accountId"`
	CorrelationID   string          `json:"correlationId"`
	Action          Action          `json:"action"`
	EncryptedSecret string          `json:"encryptedSecret"`
	PreviousResults PreviousResults `json:"previousResults,omitempty"`
	LoopIndex       int             `json:"loopIndex"`

	// Attempt and MaxAttempts are stamped by the queue before each delivery
	// so the processor can tell a retryable failure that will be re-attempted
	// from a terminal one. Both are zero outside the queue's retry loop.
	Attempt     int `json:"-"`
	MaxAttempts int `json:"-"`
}

// LogStatus is the terminal outcome recorded for an action execution.
type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogFailure LogStatus = "FAILURE"
)

// LogEntry is the append-only record of one terminal action outcome.
type LogEntry struct {
	ID            int64      `json:"id,omitempty"`
	AccountID     string     `json:"accountId"`
	CorrelationID string     `json:"correlationId"`
	ActionType    ActionType `json:"actionType"`
	Status        LogStatus  `json:"status"`
	Error         string     `json:"error,omitempty"`
	Result        any        `json:"result,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ActionOutcome is one element of a RunResult's per-action list.
type ActionOutcome struct {
	ActionType ActionType `json:"actionType"`
	Success    bool       `json:"success"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	LoopIndex  int        `json:"loopIndex"`
}

// RunResult aggregates one account's scenario or script run.
type RunResult struct {
	AccountID       string          `json:"accountId"`
	ActionsExecuted int             `json:"actionsExecuted"`
	LoopsExecuted   int             `json:"loopsExecuted"`
	PerAction       []ActionOutcome `json:"results"`
}
