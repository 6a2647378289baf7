package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// execCreateRecordGame claims game records for the account: readiness check,
// signed claim call, response normalization, idempotent persistence, and one
// log entry per returned record.
func (e *Executor) execCreateRecordGame(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	gameLabel := stringConfig(job.Action.Config, "gameLabel")
	if gameLabel == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "gameLabel is required")
	}

	acc, err := e.accounts.GetAccount(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}
	if err := checkRecordReadiness(acc, gameLabel); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"accountId": acc.ID,
		"gameLabel": gameLabel,
		"wallet":    acc.WalletAddress,
	}
	if extra, ok := job.Action.Config["payload"].(map[string]any); ok {
		for k, v := range extra {
			payload[k] = v
		}
	}

	response, err := e.claimer.ClaimRecords(ctx, acc.GameCredentials[gameLabel], payload)
	if err != nil {
		return nil, err
	}

	records, err := normalizeRecords(job.AccountID, gameLabel, response, e.now().UTC())
	if err != nil {
		return nil, err
	}

	outcomes := e.persistRecords(ctx, records)
	persisted, failed := 0, 0
	for _, out := range outcomes {
		if out.err == nil {
			persisted++
		} else {
			failed++
		}
		e.writeRecordLog(ctx, job, out.rec, out.err)
	}

	return map[string]any{
		"gameLabel":        gameLabel,
		"recordsReturned":  len(records),
		"recordsPersisted": persisted,
		"recordsFailed":    failed,
	}, nil
}

// checkRecordReadiness enumerates every missing precondition instead of
// stopping at the first one.
func checkRecordReadiness(acc *schema.Account, gameLabel string) error {
	var issues []string
	if acc.WalletAddress == "" {
		issues = append(issues, "account has no wallet address")
	}
	if acc.GameCredentials[gameLabel] == "" {
		issues = append(issues, fmt.Sprintf("no credential registered for game %q", gameLabel))
	}
	if len(issues) == 0 {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeReadiness, "account not ready: %s", strings.Join(issues, "; ")).
		WithDetails(map[string]any{"issues": issues})
}

// normalizeRecords accepts the three shapes the claim backend is known to
// return: a bare object, a direct array, or {data: [...]}. Anything else is
// a validation error rather than a silent wrap.
func normalizeRecords(accountID, gameLabel string, response any, claimedAt time.Time) ([]*schema.GameRecord, error) {
	var items []any
	switch r := response.(type) {
	case nil:
		return nil, nil
	case []any:
		items = r
	case map[string]any:
		if data, present := r["data"]; present {
			list, ok := data.([]any)
			if !ok {
				return nil, schema.NewError(schema.ErrCodeValidation, "claim response field data is not an array")
			}
			items = list
		} else {
			items = []any{r}
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unrecognized claim response shape %T", response)
	}

	records := make([]*schema.GameRecord, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "claim record %d is not an object", i)
		}
		recordID, _ := m["recordId"].(string)
		nonce, _ := m["nonce"].(string)
		if recordID == "" && nonce == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "claim record %d carries neither recordId nor nonce", i)
		}
		records = append(records, &schema.GameRecord{
			RecordID:  recordID,
			AccountID: accountID,
			GameLabel: gameLabel,
			Nonce:     nonce,
			Payload:   m,
			ClaimedAt: claimedAt,
		})
	}
	return records, nil
}

// recordOutcome pairs a claimed record with its persistence result.
type recordOutcome struct {
	rec *schema.GameRecord
	err error
}

// persistRecords tries the bulk path first and degrades to per-record upserts
// on failure, tolerating partial success. Every returned record gets an
// outcome so the caller can log each one.
func (e *Executor) persistRecords(ctx context.Context, records []*schema.GameRecord) []recordOutcome {
	if len(records) == 0 {
		return nil
	}
	outcomes := make([]recordOutcome, 0, len(records))
	bulkErr := e.records.BulkUpsertGameRecords(ctx, records)
	if bulkErr == nil {
		for _, rec := range records {
			outcomes = append(outcomes, recordOutcome{rec: rec})
		}
		return outcomes
	}
	e.log.WarnContext(ctx, "bulk record upsert failed, falling back to per-record writes",
		slog.String("error", bulkErr.Error()))

	for _, rec := range records {
		err := e.records.UpsertGameRecord(ctx, rec)
		if err != nil {
			e.log.ErrorContext(ctx, "record upsert failed",
				slog.String("record_id", rec.RecordID),
				slog.String("error", err.Error()))
		}
		outcomes = append(outcomes, recordOutcome{rec: rec, err: err})
	}
	return outcomes
}

// writeRecordLog emits the per-record entry that accompanies the action-level
// log entry. Records that failed to persist are logged as failures so every
// returned record leaves a trace.
func (e *Executor) writeRecordLog(ctx context.Context, job *schema.ExecutionJob, rec *schema.GameRecord, persistErr error) {
	entry := &schema.LogEntry{
		AccountID:     job.AccountID,
		CorrelationID: job.CorrelationID,
		ActionType:    job.Action.Type,
		Status:        schema.LogSuccess,
		Result: map[string]any{
			"recordId":  rec.RecordID,
			"gameLabel": rec.GameLabel,
			"nonce":     rec.Nonce,
		},
		Timestamp: e.now().UTC(),
	}
	if persistErr != nil {
		entry.Status = schema.LogFailure
		entry.Error = persistErr.Error()
	}
	if err := e.logs.CreateLog(ctx, entry); err != nil {
		e.log.ErrorContext(ctx, "failed to persist record log", slog.String("error", err.Error()))
	}
}
