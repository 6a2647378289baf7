package platform

import (
	"context"
	"math/rand"
	"net/url"
	"strings"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// acceptedThreadHosts are the platform domains a cast URL may use.
var acceptedThreadHosts = map[string]bool{
	"warpcast.com":  true,
	"farcaster.xyz": true,
}

// itemContainers are the feed-response keys that may hold the item list.
var itemContainers = [][]string{
	{"items"},
	{"data", "items"},
	{"data", "feedItems"},
	{"feedItems"},
}

// castKeys are the per-item sub-objects that may carry the cast.
var castKeys = []string{"cast", "castItem", "fidCast"}

// hashKeys are the fields a hash may live under.
var hashKeys = []string{"hash", "castHash", "merkleRoot"}

// ExtractCastHashes walks the known feed-response shapes and collects every
// cast hash it can find. Purely structural, no network access.
func ExtractCastHashes(feed map[string]any) []string {
	items := feedItems(feed)
	hashes := make([]string, 0, len(items))
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if h := itemHash(item); h != "" {
			hashes = append(hashes, h)
		}
	}
	return hashes
}

func feedItems(feed map[string]any) []any {
	for _, path := range itemContainers {
		var cur any = feed
		found := true
		for _, key := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			cur, ok = m[key]
			if !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		if items, ok := cur.([]any); ok {
			return items
		}
	}
	return nil
}

func itemHash(item map[string]any) string {
	for _, ck := range castKeys {
		if cast, ok := item[ck].(map[string]any); ok {
			for _, hk := range hashKeys {
				if h, ok := cast[hk].(string); ok && h != "" {
					return h
				}
			}
		}
	}
	// Hash directly on the item.
	for _, hk := range []string{"hash", "castHash"} {
		if h, ok := item[hk].(string); ok && h != "" {
			return h
		}
	}
	return ""
}

// RandomCastHashFromFeed uniformly samples one hash from the feed, returning
// "" and false when the feed holds none.
func RandomCastHashFromFeed(feed map[string]any) (string, bool) {
	hashes := ExtractCastHashes(feed)
	if len(hashes) == 0 {
		return "", false
	}
	return hashes[rand.Intn(len(hashes))], true
}

// ParseCastURL validates a platform cast URL (host/username/0xHASH...) and
// returns its username and hash segments.
func ParseCastURL(castURL string) (username, hash string, err error) {
	u, perr := url.Parse(castURL)
	if perr != nil {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "invalid cast url %q", castURL).WithCause(perr)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !acceptedThreadHosts[host] {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "unsupported cast url host %q", u.Hostname())
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "cast url %q missing username or hash segment", castURL)
	}
	username, hash = parts[0], parts[1]
	if !strings.HasPrefix(hash, "0x") {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "cast url hash segment %q must start with 0x", hash)
	}
	return username, hash, nil
}

// ParseProfileURL validates a platform profile URL (host/username) and
// returns the username segment.
func ParseProfileURL(profileURL string) (string, error) {
	u, err := url.Parse(profileURL)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid profile url %q", profileURL).WithCause(err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !acceptedThreadHosts[host] {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unsupported profile url host %q", u.Hostname())
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "profile url %q missing username segment", profileURL)
	}
	return parts[0], nil
}

// FirstCastHashFromThread resolves a cast URL to the first cast hash in its
// thread, or "" when the thread is empty.
func (c *Client) FirstCastHashFromThread(ctx context.Context, creds Credentials, castURL string) (string, error) {
	_, hash, err := ParseCastURL(castURL)
	if err != nil {
		return "", err
	}
	res, err := c.GetThreadCasts(ctx, creds, hash)
	if err != nil {
		return "", err
	}
	for _, path := range [][]string{{"result", "casts"}, {"casts"}} {
		var cur any = res
		ok := true
		for _, key := range path {
			m, isMap := cur.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			cur, isMap = m[key], true
			if cur == nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		casts, isList := cur.([]any)
		if !isList || len(casts) == 0 {
			continue
		}
		if first, isMap := casts[0].(map[string]any); isMap {
			if h, isStr := first["hash"].(string); isStr {
				return h, nil
			}
		}
	}
	return "", nil
}
