package schema

import "time"

// AccountStatus tracks an account's operational health.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountError  AccountStatus = "ERROR"
)

// Account is the managed-account record the engine consumes from the
// persistence collaborator. The platform secret and per-game credentials are
// stored only in encrypted form (hex(iv):hex(ciphertext)).
type Account struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	EncryptedSecret string            `json:"encryptedSecret"`
	WalletAddress   string            `json:"walletAddress,omitempty"`
	Username        string            `json:"username,omitempty"`
	FID             int64             `json:"fid,omitempty"`
	Status          AccountStatus     `json:"status"`
	StatusReason    string            `json:"statusReason,omitempty"`
	GameCredentials map[string]string `json:"gameCredentials,omitempty"` // gameLabel -> encrypted credential
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// GameRecord is one claimed game record returned by the external claim
// endpoint. RecordID may be empty; such records are keyed by
// (AccountID, GameLabel, Nonce) instead.
type GameRecord struct {
	RecordID  string    `json:"recordId,omitempty"`
	AccountID string    `json:"accountId"`
	GameLabel string    `json:"gameLabel"`
	Nonce     string    `json:"nonce,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// Scenario is a persisted, reusable ordered action set with shuffle/loop
// settings, executable against many accounts.
type Scenario struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Actions   []Action  `json:"actions"`
	Shuffle   bool      `json:"shuffle"`
	Loop      int       `json:"loop"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduledRun is a cron-scheduled scenario execution.
type ScheduledRun struct {
	ID             string     `json:"id"`
	ScenarioID     string     `json:"scenarioId"`
	AccountIDs     []string   `json:"accountIds"`
	CronExpression string     `json:"cronExpression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastStatus     string     `json:"lastStatus,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}
