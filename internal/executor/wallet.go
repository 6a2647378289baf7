package executor

import (
	"context"
	"crypto/hmac"
	"crypto/pbkdf2"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"

	"github.com/hainguyen99-cdm/farcastertool/internal/platform"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// execUpdateWallet refreshes wallet address, username and FID from the
// platform's onboarding state. On upstream failure the account is marked
// ERROR with the failure reason before the error propagates.
func (e *Executor) execUpdateWallet(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	state, err := e.platform.OnboardingState(ctx, creds)
	if err != nil {
		if serr := e.accounts.SetAccountStatus(ctx, job.AccountID, schema.AccountError, err.Error()); serr != nil {
			e.log.ErrorContext(ctx, "failed to mark account errored", "error", serr.Error())
		}
		return nil, err
	}

	user := onboardedUser(state)
	if user == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "onboarding state carries no user object")
	}
	address, _ := user["custodyAddress"].(string)
	if address == "" {
		address, _ = user["walletAddress"].(string)
	}
	username, _ := user["username"].(string)
	var fid int64
	if f, ok := user["fid"].(float64); ok {
		fid = int64(f)
	}

	if err := e.accounts.UpdateAccountWallet(ctx, job.AccountID, address, username, fid); err != nil {
		return nil, err
	}
	return map[string]any{
		"walletAddress": address,
		"username":      username,
		"fid":           fid,
	}, nil
}

func onboardedUser(state map[string]any) map[string]any {
	for _, path := range [][]string{{"result", "user"}, {"user"}, {"state", "user"}} {
		var cur any = state
		ok := true
		for _, key := range path {
			m, isMap := cur.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			cur = m[key]
		}
		if !ok {
			continue
		}
		if user, isMap := cur.(map[string]any); isMap {
			return user
		}
	}
	return nil
}

// execCreateWallet derives a wallet address deterministically from the
// supplied mnemonic and persists it. Pure, no network call; the private key
// never leaves this function.
func (e *Executor) execCreateWallet(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	mnemonic := stringConfig(job.Action.Config, "mnemonic")
	if mnemonic == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "mnemonic is required")
	}
	passphrase := stringConfig(job.Action.Config, "passphrase")

	address, err := deriveWalletAddress(mnemonic, passphrase)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "wallet derivation failed").WithCause(err)
	}

	acc, err := e.accounts.GetAccount(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.UpdateAccountWallet(ctx, job.AccountID, address, acc.Username, acc.FID); err != nil {
		return nil, err
	}
	return map[string]any{"walletAddress": address}, nil
}

// deriveWalletAddress is a BIP-39 style seed derivation: PBKDF2-HMAC-SHA512
// over the mnemonic, then a keyed hash down to a 20-byte address.
func deriveWalletAddress(mnemonic, passphrase string) (string, error) {
	seed, err := pbkdf2.Key(sha512.New, mnemonic, []byte("mnemonic"+passphrase), 2048, 64)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte("wallet seed"))
	mac.Write(seed)
	key := mac.Sum(nil)[:32]

	digest := sha256.Sum256(key)
	return "0x" + hex.EncodeToString(digest[12:]), nil
}
