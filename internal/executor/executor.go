// Package executor maps one queued action to one platform call, validates its
// config, persists exactly one terminal log entry, and threads the result into
// the run's accumulating previous-results map.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/internal/expressions"
	"github.com/hainguyen99-cdm/farcastertool/internal/logging"
	"github.com/hainguyen99-cdm/farcastertool/internal/platform"
	"github.com/hainguyen99-cdm/farcastertool/internal/store"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// Config keys handled by the executor itself, before and after dispatch.
const (
	configCondition   = "condition"
	configResultQuery = "resultQuery"
)

// PlatformAPI is the slice of the platform client the executor dispatches to.
type PlatformAPI interface {
	GetFeed(ctx context.Context, creds platform.Credentials) (map[string]any, error)
	LikeCast(ctx context.Context, creds platform.Credentials, castHash string) (map[string]any, error)
	RecastCast(ctx context.Context, creds platform.Credentials, castHash string) (map[string]any, error)
	JoinChannel(ctx context.Context, creds platform.Credentials, channelKey, inviteCode string) (map[string]any, error)
	PinMiniApp(ctx context.Context, creds platform.Credentials, domain string) (map[string]any, error)
	FollowUser(ctx context.Context, creds platform.Credentials, targetFID int64) (map[string]any, error)
	ResolveFID(ctx context.Context, creds platform.Credentials, username string) (int64, error)
	CreateCast(ctx context.Context, creds platform.Credentials, text string, embeds []string) (map[string]any, error)
	FirstCastHashFromThread(ctx context.Context, creds platform.Credentials, castURL string) (string, error)
	SendMiniAppEvent(ctx context.Context, creds platform.Credentials, domain, event, platformType string) (map[string]any, error)
	SendAnalyticsEvents(ctx context.Context, creds platform.Credentials, events []map[string]any) (map[string]any, error)
	OnboardingState(ctx context.Context, creds platform.Credentials) (map[string]any, error)
}

// Claimer performs the signed record-claim call.
type Claimer interface {
	ClaimRecords(ctx context.Context, encryptedCredential string, payload map[string]any) (any, error)
}

// Executor consumes ExecutionJobs from the queue.
type Executor struct {
	platform PlatformAPI
	claimer  Claimer
	accounts store.AccountStore
	logs     store.LogStore
	records  store.GameRecordStore
	cond     *expressions.CondEngine
	query    *expressions.QueryEngine
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithSleep replaces the delay action's sleep function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithClock replaces the time source.
func WithClock(fn func() time.Time) Option {
	return func(e *Executor) { e.now = fn }
}

// New builds an Executor.
func New(api PlatformAPI, claimer Claimer, accounts store.AccountStore, logs store.LogStore, records store.GameRecordStore, opts ...Option) *Executor {
	e := &Executor{
		platform: api,
		claimer:  claimer,
		accounts: accounts,
		logs:     logs,
		records:  records,
		cond:     expressions.NewCondEngine(),
		query:    expressions.NewQueryEngine(),
		log:      slog.Default(),
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process executes one job attempt. On success it returns the merged
// previous-results map with this action's result folded in under its type.
// Exactly one log entry is written per job: failures the queue will
// re-attempt are not logged, only the terminal outcome is.
func (e *Executor) Process(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	ctx = logging.WithIDs(ctx, job.AccountID, job.CorrelationID, string(job.Action.Type))

	if !job.Action.Type.Valid() {
		err := schema.NewErrorf(schema.ErrCodeUnknownAction, "unknown action type %q", string(job.Action.Type))
		e.writeFailure(ctx, job, err)
		return nil, err
	}

	skip, err := e.conditionSkips(job)
	if err != nil {
		e.writeFailure(ctx, job, err)
		return nil, err
	}
	if skip {
		result := map[string]any{"skipped": true}
		e.writeLog(ctx, job, schema.LogSuccess, result, nil)
		return mergeResults(job, result), nil
	}

	result, err := e.dispatch(ctx, job)
	if err != nil {
		e.writeFailure(ctx, job, err)
		return nil, err
	}

	if q := stringConfig(job.Action.Config, configResultQuery); q != "" {
		result, err = e.applyQuery(ctx, q, result)
		if err != nil {
			e.writeFailure(ctx, job, err)
			return nil, err
		}
	}
	if result == nil {
		result = map[string]any{}
	}

	e.writeLog(ctx, job, schema.LogSuccess, result, nil)
	return mergeResults(job, result), nil
}

// dispatch is the exhaustive match over the closed action-type set. The
// default arm is unreachable after the Valid check but kept so a new type
// without a handler fails loudly instead of silently succeeding.
func (e *Executor) dispatch(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	creds := platform.Credentials{AccountID: job.AccountID, EncryptedSecret: job.EncryptedSecret}
	switch job.Action.Type {
	case schema.ActionGetFeed:
		return e.platform.GetFeed(ctx, creds)
	case schema.ActionLikeCast:
		return e.execLikeCast(ctx, job, creds, e.platform.LikeCast)
	case schema.ActionRecastCast:
		return e.execLikeCast(ctx, job, creds, e.platform.RecastCast)
	case schema.ActionDelay:
		return e.execDelay(ctx, job)
	case schema.ActionJoinChannel:
		return e.execJoinChannel(ctx, job, creds)
	case schema.ActionPinMiniApp:
		return e.execPinMiniApp(ctx, job, creds)
	case schema.ActionFollowUser:
		return e.execFollowUser(ctx, job, creds)
	case schema.ActionUpdateWallet:
		return e.execUpdateWallet(ctx, job, creds)
	case schema.ActionCreateWallet:
		return e.execCreateWallet(ctx, job)
	case schema.ActionCreateRecordGame:
		return e.execCreateRecordGame(ctx, job)
	case schema.ActionMiniAppEvent:
		return e.execMiniAppEvent(ctx, job, creds)
	case schema.ActionAnalyticsEvents:
		return e.execAnalyticsEvents(ctx, job, creds)
	case schema.ActionCreateCast:
		return e.execCreateCast(ctx, job, creds)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeUnknownAction, "unknown action type %q", string(job.Action.Type))
	}
}

// conditionSkips evaluates the optional config.condition expression against
// the run state. A false result skips the action without failing it.
func (e *Executor) conditionSkips(job *schema.ExecutionJob) (bool, error) {
	expr := stringConfig(job.Action.Config, configCondition)
	if expr == "" {
		return false, nil
	}
	env := map[string]any{
		"previousResults": previousResultsEnv(job.PreviousResults),
		"accountId":       job.AccountID,
		"loopIndex":       job.LoopIndex,
	}
	ok, err := e.cond.EvalBool(expr, env)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (e *Executor) applyQuery(ctx context.Context, query string, result any) (any, error) {
	out, err := e.query.Evaluate(ctx, query, normalizeForQuery(result))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "resultQuery failed: %v", err).WithCause(err)
	}
	return out, nil
}

// writeFailure logs a failed attempt only if it is the job's terminal
// outcome: a retryable error on a non-final queue attempt will be delivered
// again, and only the last delivery may produce the job's FAILURE entry.
func (e *Executor) writeFailure(ctx context.Context, job *schema.ExecutionJob, actionErr error) {
	var ee *schema.EngineError
	if errors.As(actionErr, &ee) && ee.IsRetryable() &&
		job.MaxAttempts > 0 && job.Attempt < job.MaxAttempts {
		return
	}
	e.writeLog(ctx, job, schema.LogFailure, nil, actionErr)
}

// writeLog persists the terminal outcome. A persistence failure here is
// reported but does not change the action's outcome.
func (e *Executor) writeLog(ctx context.Context, job *schema.ExecutionJob, status schema.LogStatus, result any, actionErr error) {
	entry := &schema.LogEntry{
		AccountID:     job.AccountID,
		CorrelationID: job.CorrelationID,
		ActionType:    job.Action.Type,
		Status:        status,
		Result:        result,
		Timestamp:     e.now().UTC(),
	}
	if actionErr != nil {
		entry.Error = actionErr.Error()
	}
	if err := e.logs.CreateLog(ctx, entry); err != nil {
		e.log.ErrorContext(ctx, "failed to persist action log", slog.String("error", err.Error()))
	}
}

func mergeResults(job *schema.ExecutionJob, result any) schema.PreviousResults {
	merged := job.PreviousResults.Clone()
	merged[job.Action.Type] = result
	return merged
}

// previousResultsEnv rekeys previous results by plain string for expression
// environments.
func previousResultsEnv(prev schema.PreviousResults) map[string]any {
	env := make(map[string]any, len(prev))
	for k, v := range prev {
		env[string(k)] = v
	}
	return env
}

// normalizeForQuery converts typed results into the plain map/slice forms
// gojq accepts.
func normalizeForQuery(v any) any {
	switch t := v.(type) {
	case schema.PreviousResults:
		return previousResultsEnv(t)
	default:
		return v
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
