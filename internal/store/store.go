package store

import (
	"context"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// AccountStore is the account collaborator boundary consumed by the engine.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*schema.Account, error)
	ListAccounts(ctx context.Context, ids []string) ([]*schema.Account, error)
	CreateAccount(ctx context.Context, acc *schema.Account) error
	UpdateAccountWallet(ctx context.Context, id, walletAddress, username string, fid int64) error
	SetAccountStatus(ctx context.Context, id string, status schema.AccountStatus, reason string) error
	SetGameCredential(ctx context.Context, accountID, gameLabel, encryptedCredential string) error
}

// LogStore is the append-only logging collaborator.
type LogStore interface {
	CreateLog(ctx context.Context, entry *schema.LogEntry) error
	ListLogs(ctx context.Context, filter LogFilter) ([]*schema.LogEntry, error)
}

// GameRecordStore persists claimed game records idempotently.
type GameRecordStore interface {
	UpsertGameRecord(ctx context.Context, rec *schema.GameRecord) error
	BulkUpsertGameRecords(ctx context.Context, recs []*schema.GameRecord) error
}

// ScenarioStore persists reusable scenarios.
type ScenarioStore interface {
	CreateScenario(ctx context.Context, sc *schema.Scenario) error
	GetScenario(ctx context.Context, id string) (*schema.Scenario, error)
	ListScenarios(ctx context.Context) ([]*schema.Scenario, error)
	DeleteScenario(ctx context.Context, id string) error
}

// ScheduleStore persists cron-scheduled scenario runs.
type ScheduleStore interface {
	CreateScheduledRun(ctx context.Context, run *schema.ScheduledRun) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*schema.ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	DeleteScheduledRun(ctx context.Context, id string) error
}

// Store is the full persistence contract. All implementations must be safe
// for concurrent use.
type Store interface {
	AccountStore
	LogStore
	GameRecordStore
	ScenarioStore
	ScheduleStore

	Migrate(ctx context.Context) error
	Close() error
}

// LogFilter narrows a log listing.
type LogFilter struct {
	AccountID     string
	CorrelationID string
	Status        schema.LogStatus
	Limit         int
}

// ScheduledRunFilter narrows a scheduled-run listing.
type ScheduledRunFilter struct {
	Enabled *bool
}

// ScheduledRunUpdate is a partial scheduled-run update; nil fields are
// untouched.
type ScheduledRunUpdate struct {
	Enabled    *bool
	LastRunAt  *time.Time
	LastStatus *string
	NextRunAt  *time.Time
}
