package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCastHashes_Shapes(t *testing.T) {
	tests := []struct {
		name string
		feed map[string]any
		want []string
	}{
		{
			name: "top-level items with cast.hash",
			feed: map[string]any{"items": []any{
				map[string]any{"cast": map[string]any{"hash": "0xaaa"}},
			}},
			want: []string{"0xaaa"},
		},
		{
			name: "data.items with castItem.castHash",
			feed: map[string]any{"data": map[string]any{"items": []any{
				map[string]any{"castItem": map[string]any{"castHash": "0xbbb"}},
			}}},
			want: []string{"0xbbb"},
		},
		{
			name: "data.feedItems with fidCast.merkleRoot",
			feed: map[string]any{"data": map[string]any{"feedItems": []any{
				map[string]any{"fidCast": map[string]any{"merkleRoot": "0xccc"}},
			}}},
			want: []string{"0xccc"},
		},
		{
			name: "top-level feedItems with direct hash",
			feed: map[string]any{"feedItems": []any{
				map[string]any{"hash": "0xddd"},
				map[string]any{"castHash": "0xeee"},
			}},
			want: []string{"0xddd", "0xeee"},
		},
		{
			name: "empty feed",
			feed: map[string]any{},
			want: []string{},
		},
		{
			name: "items without hashes are skipped",
			feed: map[string]any{"items": []any{
				map[string]any{"other": "noise"},
				map[string]any{"cast": map[string]any{"hash": "0xfff"}},
				"not-a-map",
			}},
			want: []string{"0xfff"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCastHashes(tt.feed))
		})
	}
}

func TestRandomCastHashFromFeed(t *testing.T) {
	feed := map[string]any{"data": map[string]any{"feedItems": []any{
		map[string]any{"cast": map[string]any{"hash": "0xabc"}},
	}}}
	h, ok := RandomCastHashFromFeed(feed)
	require.True(t, ok)
	assert.Equal(t, "0xabc", h)

	_, ok = RandomCastHashFromFeed(map[string]any{})
	assert.False(t, ok)
}

func TestRandomCastHashFromFeed_SamplesFromSet(t *testing.T) {
	feed := map[string]any{"items": []any{
		map[string]any{"cast": map[string]any{"hash": "0x1"}},
		map[string]any{"cast": map[string]any{"hash": "0x2"}},
		map[string]any{"cast": map[string]any{"hash": "0x3"}},
	}}
	for i := 0; i < 20; i++ {
		h, ok := RandomCastHashFromFeed(feed)
		require.True(t, ok)
		assert.Contains(t, []string{"0x1", "0x2", "0x3"}, h)
	}
}

func TestParseProfileURL(t *testing.T) {
	username, err := ParseProfileURL("https://warpcast.com/alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	username, err = ParseProfileURL("https://www.farcaster.xyz/bob/")
	require.NoError(t, err)
	assert.Equal(t, "bob", username)

	for _, bad := range []string{
		"https://example.com/alice",
		"https://warpcast.com/",
		"://not-a-url",
	} {
		_, err := ParseProfileURL(bad)
		assert.Error(t, err, "url %q", bad)
	}
}

func TestParseCastURL(t *testing.T) {
	username, hash, err := ParseCastURL("https://warpcast.com/alice/0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	assert.Equal(t, "0xdeadbeef", hash)

	_, _, err = ParseCastURL("https://farcaster.xyz/bob/0x123456")
	assert.NoError(t, err)

	for _, bad := range []string{
		"https://example.com/alice/0xdeadbeef", // wrong host
		"https://warpcast.com/alice",           // no hash segment
		"https://warpcast.com/alice/deadbeef",  // hash missing 0x prefix
		"://not-a-url",
	} {
		_, _, err := ParseCastURL(bad)
		assert.Error(t, err, "url %q", bad)
	}
}
