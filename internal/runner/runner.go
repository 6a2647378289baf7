// Package runner builds ordered, optionally shuffled and looped action
// sequences and drives them through the queue one action at a time per
// account, threading each action's result into the next.
package runner

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hainguyen99-cdm/farcastertool/internal/logging"
	"github.com/hainguyen99-cdm/farcastertool/internal/queue"
	"github.com/hainguyen99-cdm/farcastertool/internal/store"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// DefaultBatchConcurrency bounds how many accounts run in parallel.
const DefaultBatchConcurrency = 4

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithBatchConcurrency bounds parallel per-account runs in a batch.
func WithBatchConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchConcurrency = n
		}
	}
}

// WithShuffleSource replaces the shuffle randomness source.
func WithShuffleSource(src rand.Source) Option {
	return func(r *Runner) { r.rand = rand.New(src) }
}

// Runner executes scenarios and ad-hoc scripts against accounts.
type Runner struct {
	queue            *queue.Queue
	accounts         store.AccountStore
	scenarios        store.ScenarioStore
	log              *slog.Logger
	batchConcurrency int

	mu   sync.Mutex
	rand *rand.Rand
}

// New builds a Runner.
func New(q *queue.Queue, accounts store.AccountStore, scenarios store.ScenarioStore, opts ...Option) *Runner {
	r := &Runner{
		queue:            q,
		accounts:         accounts,
		scenarios:        scenarios,
		log:              slog.Default(),
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScenario loads a persisted scenario and executes it against the given
// accounts. One RunResult per account, index-aligned with accountIDs; a
// failed account carries its partial result, other accounts are unaffected.
func (r *Runner) RunScenario(ctx context.Context, scenarioID string, accountIDs []string) ([]*schema.RunResult, error) {
	sc, err := r.scenarios.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	accounts, err := r.accounts.ListAccounts(ctx, accountIDs)
	if err != nil {
		return nil, err
	}
	return r.runBatch(ctx, accounts, sc.Actions, sc.Shuffle, sc.Loop), nil
}

// RunScript executes an ad-hoc action list against one account.
func (r *Runner) RunScript(ctx context.Context, account *schema.Account, actions []schema.Action, shuffle bool, loop int) (*schema.RunResult, error) {
	return r.runAccount(ctx, account, actions, shuffle, loop)
}

// RunScriptBatch executes an ad-hoc action list against many accounts,
// bounded by the batch concurrency. Per-account failures are folded into
// that account's RunResult; the batch itself always completes.
func (r *Runner) RunScriptBatch(ctx context.Context, accounts []*schema.Account, actions []schema.Action, shuffle bool, loop int) []*schema.RunResult {
	return r.runBatch(ctx, accounts, actions, shuffle, loop)
}

func (r *Runner) runBatch(ctx context.Context, accounts []*schema.Account, actions []schema.Action, shuffle bool, loop int) []*schema.RunResult {
	results := make([]*schema.RunResult, len(accounts))
	sem := make(chan struct{}, r.batchConcurrency)
	var wg sync.WaitGroup

	for i, acc := range accounts {
		wg.Add(1)
		go func(i int, acc *schema.Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := r.runAccount(ctx, acc, actions, shuffle, loop)
			if err != nil {
				r.log.ErrorContext(ctx, "account run aborted",
					slog.String("account_id", acc.ID),
					slog.String("error", err.Error()))
			}
			results[i] = result
		}(i, acc)
	}
	wg.Wait()
	return results
}

// runAccount drives one account through the full loop/action sequence. The
// returned RunResult is populated even when the run aborts early.
func (r *Runner) runAccount(ctx context.Context, account *schema.Account, actions []schema.Action, shuffle bool, loop int) (*schema.RunResult, error) {
	if loop < 1 {
		loop = 1
	}
	ordered := r.prepareActions(actions, shuffle)
	correlationID := uuid.NewString()
	ctx = logging.WithAccountID(logging.WithCorrelationID(ctx, correlationID), account.ID)

	result := &schema.RunResult{AccountID: account.ID}
	for loopIndex := 0; loopIndex < loop; loopIndex++ {
		prev := schema.PreviousResults{}
		for _, action := range ordered {
			job := &schema.ExecutionJob{
				AccountID:       account.ID,
				CorrelationID:   correlationID,
				Action:          action,
				EncryptedSecret: account.EncryptedSecret,
				PreviousResults: prev,
				LoopIndex:       loopIndex,
			}
			handle, err := r.queue.Enqueue(ctx, job)
			if err != nil {
				return result, err
			}
			value, err := handle.Result()
			result.ActionsExecuted++
			if err != nil {
				result.PerAction = append(result.PerAction, schema.ActionOutcome{
					ActionType: action.Type,
					Success:    false,
					Error:      err.Error(),
					LoopIndex:  loopIndex,
				})
				return result, err
			}

			merged, ok := value.(schema.PreviousResults)
			if !ok {
				merged = prev.Clone()
			}
			prev = merged
			result.PerAction = append(result.PerAction, schema.ActionOutcome{
				ActionType: action.Type,
				Success:    true,
				Result:     merged[action.Type],
				LoopIndex:  loopIndex,
			})
		}
		result.LoopsExecuted++
	}
	return result, nil
}

// prepareActions copies the list, shuffles the copy once when requested, then
// stable-sorts by order so equal orders keep their shuffled arrangement.
func (r *Runner) prepareActions(actions []schema.Action, shuffle bool) []schema.Action {
	ordered := make([]schema.Action, len(actions))
	copy(ordered, actions)
	if shuffle {
		r.shuffleActions(ordered)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})
	return ordered
}

func (r *Runner) shuffleActions(actions []schema.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rand != nil {
		r.rand.Shuffle(len(actions), func(i, j int) {
			actions[i], actions[j] = actions[j], actions[i]
		})
		return
	}
	rand.Shuffle(len(actions), func(i, j int) {
		actions[i], actions[j] = actions[j], actions[i]
	})
}
