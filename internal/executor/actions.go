package executor

import (
	"context"
	"time"

	"github.com/hainguyen99-cdm/farcastertool/internal/platform"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

const defaultDelay = 5000 * time.Millisecond

// castCall is LikeCast or RecastCast; both share target resolution.
type castCall func(ctx context.Context, creds platform.Credentials, castHash string) (map[string]any, error)

func (e *Executor) execLikeCast(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials, call castCall) (any, error) {
	hash, err := e.resolveTargetHash(ctx, job, creds)
	if err != nil {
		return nil, err
	}
	return call(ctx, creds, hash)
}

// resolveTargetHash picks the cast to act on: an explicit thread URL when
// likeMethod is "url", otherwise a random hash from the run's earlier GetFeed
// result, falling back to config.castHash.
func (e *Executor) resolveTargetHash(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (string, error) {
	cfg := job.Action.Config
	if stringConfig(cfg, "likeMethod") == "url" {
		castURL := stringConfig(cfg, "castUrl")
		if castURL == "" {
			return "", schema.NewError(schema.ErrCodeValidation, `castUrl is required when likeMethod is "url"`)
		}
		hash, err := e.platform.FirstCastHashFromThread(ctx, creds, castURL)
		if err != nil {
			return "", err
		}
		if hash == "" {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "thread at %q contains no casts", castURL)
		}
		return hash, nil
	}

	if feed, ok := job.PreviousResults[schema.ActionGetFeed].(map[string]any); ok {
		if hash, found := platform.RandomCastHashFromFeed(feed); found {
			return hash, nil
		}
	}
	if hash := stringConfig(cfg, "castHash"); hash != "" {
		return hash, nil
	}
	return "", schema.NewError(schema.ErrCodeValidation, "no feed data available and no fallback provided")
}

func (e *Executor) execDelay(ctx context.Context, job *schema.ExecutionJob) (any, error) {
	delay := defaultDelay
	if ms, ok := numberConfig(job.Action.Config, "delayMs"); ok {
		delay = time.Duration(ms) * time.Millisecond
	}
	if err := e.sleep(ctx, delay); err != nil {
		return nil, schema.NewError(schema.ErrCodeAborted, "delay interrupted").WithCause(err)
	}
	return map[string]any{"success": true, "delayMs": delay.Milliseconds()}, nil
}

func (e *Executor) execJoinChannel(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	channelKey := stringConfig(job.Action.Config, "channelKey")
	inviteCode := stringConfig(job.Action.Config, "inviteCode")
	if channelKey == "" || inviteCode == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "channelKey and inviteCode are required")
	}
	return e.platform.JoinChannel(ctx, creds, channelKey, inviteCode)
}

func (e *Executor) execPinMiniApp(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	domain := stringConfig(job.Action.Config, "domain")
	if domain == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "domain is required")
	}
	return e.platform.PinMiniApp(ctx, creds, domain)
}

func (e *Executor) execFollowUser(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	userLink := stringConfig(job.Action.Config, "userLink")
	if userLink == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "userLink is required")
	}
	username, err := platform.ParseProfileURL(userLink)
	if err != nil {
		return nil, err
	}
	fid, err := e.platform.ResolveFID(ctx, creds, username)
	if err != nil {
		return nil, err
	}
	res, err := e.platform.FollowUser(ctx, creds, fid)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = map[string]any{}
	}
	res["followedFid"] = fid
	return res, nil
}

func (e *Executor) execMiniAppEvent(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	cfg := job.Action.Config
	domain := stringConfig(cfg, "domain")
	event := stringConfig(cfg, "event")
	if domain == "" || event == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "domain and event are required")
	}
	platformType := stringConfig(cfg, "platformType")
	if platformType == "" {
		platformType = "web"
	}
	return e.platform.SendMiniAppEvent(ctx, creds, domain, event, platformType)
}

func (e *Executor) execAnalyticsEvents(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	acc, err := e.accounts.GetAccount(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}
	if acc.FID <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "account has no resolved fid; run UPDATE_WALLET first")
	}

	raw, _ := job.Action.Config["events"].([]any)
	if len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "events must be a non-empty array")
	}
	ts := e.now().UTC().UnixMilli()
	events := make([]map[string]any, 0, len(raw))
	for _, ev := range raw {
		m, ok := ev.(map[string]any)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "each event must be an object")
		}
		stamped := make(map[string]any, len(m)+2)
		for k, v := range m {
			stamped[k] = v
		}
		stamped["fid"] = acc.FID
		stamped["ts"] = ts
		events = append(events, stamped)
	}
	return e.platform.SendAnalyticsEvents(ctx, creds, events)
}

func (e *Executor) execCreateCast(ctx context.Context, job *schema.ExecutionJob, creds platform.Credentials) (any, error) {
	text := stringConfig(job.Action.Config, "text")
	if text == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "text is required")
	}
	embeds := stringSliceConfig(job.Action.Config, "mediaUrls")
	return e.platform.CreateCast(ctx, creds, text, embeds)
}

// --- config accessors ---

func stringConfig(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

// numberConfig accepts the numeric representations a decoded JSON or YAML
// config may carry.
func numberConfig(cfg map[string]any, key string) (int64, bool) {
	switch n := cfg[key].(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func stringSliceConfig(cfg map[string]any, key string) []string {
	raw, ok := cfg[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
