package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Accounts ---

func (s *LibSQLStore) CreateAccount(ctx context.Context, acc *schema.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, encrypted_secret, wallet_address, username, fid, status, status_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, nullStr(acc.Name), acc.EncryptedSecret, nullStr(acc.WalletAddress), nullStr(acc.Username),
		acc.FID, string(statusOrActive(acc.Status)), nullStr(acc.StatusReason),
		timeOrNow(acc.CreatedAt), timeOrNow(acc.UpdatedAt),
	)
	if err != nil {
		return err
	}
	for label, cred := range acc.GameCredentials {
		if err := s.SetGameCredential(ctx, acc.ID, label, cred); err != nil {
			return err
		}
	}
	return nil
}

func (s *LibSQLStore) GetAccount(ctx context.Context, id string) (*schema.Account, error) {
	acc := &schema.Account{}
	var name, wallet, username, reason sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, encrypted_secret, wallet_address, username, fid, status, status_reason, created_at, updated_at
		 FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &name, &acc.EncryptedSecret, &wallet, &username, &acc.FID, &status, &reason,
		&acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("account", id)
	}
	if err != nil {
		return nil, err
	}
	acc.Name = name.String
	acc.WalletAddress = wallet.String
	acc.Username = username.String
	acc.Status = schema.AccountStatus(status)
	acc.StatusReason = reason.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT game_label, encrypted_credential FROM game_credentials WHERE account_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var label, cred string
		if err := rows.Scan(&label, &cred); err != nil {
			return nil, err
		}
		if acc.GameCredentials == nil {
			acc.GameCredentials = make(map[string]string)
		}
		acc.GameCredentials[label] = cred
	}
	return acc, rows.Err()
}

func (s *LibSQLStore) ListAccounts(ctx context.Context, ids []string) ([]*schema.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	accounts := make([]*schema.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := s.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (s *LibSQLStore) UpdateAccountWallet(ctx context.Context, id, walletAddress, username string, fid int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET wallet_address = ?, username = ?, fid = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullStr(walletAddress), nullStr(username), fid, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "account", id)
}

func (s *LibSQLStore) SetAccountStatus(ctx context.Context, id string, status schema.AccountStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, status_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), nullStr(reason), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "account", id)
}

func (s *LibSQLStore) SetGameCredential(ctx context.Context, accountID, gameLabel, encryptedCredential string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO game_credentials (account_id, game_label, encrypted_credential) VALUES (?, ?, ?)
		 ON CONFLICT(account_id, game_label) DO UPDATE SET encrypted_credential = excluded.encrypted_credential`,
		accountID, gameLabel, encryptedCredential,
	)
	return err
}

// --- Action logs ---

func (s *LibSQLStore) CreateLog(ctx context.Context, entry *schema.LogEntry) error {
	result, err := nullableJSON(entry.Result)
	if err != nil {
		return fmt.Errorf("marshal log result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_logs (account_id, correlation_id, action_type, status, error, result, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AccountID, entry.CorrelationID, string(entry.ActionType), string(entry.Status),
		nullStr(entry.Error), result, timeOrNow(entry.Timestamp),
	)
	return err
}

func (s *LibSQLStore) ListLogs(ctx context.Context, filter LogFilter) ([]*schema.LogEntry, error) {
	query := `SELECT id, account_id, correlation_id, action_type, status, error, result, timestamp FROM action_logs`
	var conds []string
	var args []any
	if filter.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.CorrelationID != "" {
		conds = append(conds, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*schema.LogEntry
	for rows.Next() {
		e := &schema.LogEntry{}
		var actionType, status string
		var errMsg, result sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &e.CorrelationID, &actionType, &status, &errMsg, &result, &e.Timestamp); err != nil {
			return nil, err
		}
		e.ActionType = schema.ActionType(actionType)
		e.Status = schema.LogStatus(status)
		e.Error = errMsg.String
		if result.Valid && result.String != "" {
			var v any
			if err := json.Unmarshal([]byte(result.String), &v); err == nil {
				e.Result = v
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Game records ---

// recordKey is the idempotency key: upstream record id when present,
// otherwise (account, game, nonce).
func recordKey(rec *schema.GameRecord) string {
	if rec.RecordID != "" {
		return rec.RecordID
	}
	return rec.AccountID + "|" + rec.GameLabel + "|" + rec.Nonce
}

func (s *LibSQLStore) UpsertGameRecord(ctx context.Context, rec *schema.GameRecord) error {
	return s.upsertGameRecordTx(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *LibSQLStore) upsertGameRecordTx(ctx context.Context, ex execer, rec *schema.GameRecord) error {
	payload, err := nullableJSON(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal record payload: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO game_records (record_key, record_id, account_id, game_label, nonce, payload, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(record_key) DO UPDATE SET payload = excluded.payload, claimed_at = excluded.claimed_at`,
		recordKey(rec), nullStr(rec.RecordID), rec.AccountID, rec.GameLabel, nullStr(rec.Nonce),
		payload, timeOrNow(rec.ClaimedAt),
	)
	return err
}

func (s *LibSQLStore) BulkUpsertGameRecords(ctx context.Context, recs []*schema.GameRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk upsert: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := s.upsertGameRecordTx(ctx, tx, rec); err != nil {
			return fmt.Errorf("bulk upsert record %s: %w", recordKey(rec), err)
		}
	}
	return tx.Commit()
}

// --- Scenarios ---

func (s *LibSQLStore) CreateScenario(ctx context.Context, sc *schema.Scenario) error {
	actions, err := json.Marshal(sc.Actions)
	if err != nil {
		return fmt.Errorf("marshal scenario actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scenarios (id, name, actions, shuffle, loop_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, actions = excluded.actions,
		   shuffle = excluded.shuffle, loop_count = excluded.loop_count, updated_at = CURRENT_TIMESTAMP`,
		sc.ID, sc.Name, string(actions), boolToInt(sc.Shuffle), sc.Loop,
		timeOrNow(sc.CreatedAt), timeOrNow(sc.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScenario(ctx context.Context, id string) (*schema.Scenario, error) {
	sc := &schema.Scenario{}
	var actionsJSON string
	var shuffle int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, actions, shuffle, loop_count, created_at, updated_at FROM scenarios WHERE id = ?`, id,
	).Scan(&sc.ID, &sc.Name, &actionsJSON, &shuffle, &sc.Loop, &sc.CreatedAt, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scenario", id)
	}
	if err != nil {
		return nil, err
	}
	sc.Shuffle = shuffle != 0
	if err := json.Unmarshal([]byte(actionsJSON), &sc.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal scenario actions: %w", err)
	}
	return sc, nil
}

func (s *LibSQLStore) ListScenarios(ctx context.Context) ([]*schema.Scenario, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, actions, shuffle, loop_count, created_at, updated_at FROM scenarios ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenarios []*schema.Scenario
	for rows.Next() {
		sc := &schema.Scenario{}
		var actionsJSON string
		var shuffle int
		if err := rows.Scan(&sc.ID, &sc.Name, &actionsJSON, &shuffle, &sc.Loop, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		sc.Shuffle = shuffle != 0
		if err := json.Unmarshal([]byte(actionsJSON), &sc.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal scenario actions: %w", err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

func (s *LibSQLStore) DeleteScenario(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scenario", id)
}

// --- Scheduled runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *schema.ScheduledRun) error {
	accountIDs, err := json.Marshal(run.AccountIDs)
	if err != nil {
		return fmt.Errorf("marshal account ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, scenario_id, account_ids, cron_expression, enabled, last_run_at, last_status, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScenarioID, string(accountIDs), run.CronExpression, boolToInt(run.Enabled),
		nullTime(run.LastRunAt), nullStr(run.LastStatus), nullTime(run.NextRunAt), timeOrNow(run.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*schema.ScheduledRun, error) {
	query := `SELECT id, scenario_id, account_ids, cron_expression, enabled, last_run_at, last_status, next_run_at, created_at FROM scheduled_runs`
	var args []any
	if filter.Enabled != nil {
		query += " WHERE enabled = ?"
		args = append(args, boolToInt(*filter.Enabled))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.ScheduledRun
	for rows.Next() {
		run := &schema.ScheduledRun{}
		var accountIDs string
		var enabled int
		var lastRun, nextRun sql.NullTime
		var lastStatus sql.NullString
		if err := rows.Scan(&run.ID, &run.ScenarioID, &accountIDs, &run.CronExpression, &enabled,
			&lastRun, &lastStatus, &nextRun, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.Enabled = enabled != 0
		run.LastStatus = lastStatus.String
		if lastRun.Valid {
			run.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			run.NextRunAt = &nextRun.Time
		}
		if err := json.Unmarshal([]byte(accountIDs), &run.AccountIDs); err != nil {
			return nil, fmt.Errorf("unmarshal account ids: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.LastStatus != nil {
		sets = append(sets, "last_status = ?")
		args = append(args, *update.LastStatus)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

// --- Scan/format helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullableJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func statusOrActive(s schema.AccountStatus) schema.AccountStatus {
	if s == "" {
		return schema.AccountActive
	}
	return s
}

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}
