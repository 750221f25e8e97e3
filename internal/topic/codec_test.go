package topic

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildID(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		args   []string
		want   string
	}{
		{"sorted args", "/market/ticker", []string{"BTC-USDT", "ETH-USDT"}, "/market/ticker@@BTC-USDT,ETH-USDT"},
		{"unsorted args", "/market/ticker", []string{"ETH-USDT", "BTC-USDT"}, "/market/ticker@@BTC-USDT,ETH-USDT"},
		{"no args", "/spotMarket/tradeOrders", nil, "/spotMarket/tradeOrders@@EMPTY_ARGS"},
		{"all suffix", "/market/ticker:all", []string{}, "/market/ticker:all@@EMPTY_ARGS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildID(tt.prefix, tt.args))
		})
	}
}

func TestBuildID_DoesNotMutateArgs(t *testing.T) {
	args := []string{"c", "a", "b"}
	BuildID("/p", args)
	assert.Equal(t, []string{"c", "a", "b"}, args)
}

func TestParseID_RoundTripIgnoresOrder(t *testing.T) {
	pool := []string{"BTC-USDT", "ETH-USDT", "XRP-USDT", "SOL-USDT", "KCS-USDT", "DOGE-USDT"}
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		n := r.IntN(len(pool) + 1)
		args := slices.Clone(pool[:n])
		r.Shuffle(len(args), func(a, b int) { args[a], args[b] = args[b], args[a] })

		prefix, got, err := ParseID(BuildID("/market/level2", args))
		require.NoError(t, err)
		assert.Equal(t, "/market/level2", prefix)
		assert.ElementsMatch(t, args, got)
	}
}

func TestParseID_Malformed(t *testing.T) {
	_, _, err := ParseID("/market/ticker:BTC-USDT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedID))
}

func TestParseID_SplitsOnFirstSeparator(t *testing.T) {
	prefix, args, err := ParseID("/a@@x,y")
	require.NoError(t, err)
	assert.Equal(t, "/a", prefix)
	assert.Equal(t, []string{"x", "y"}, args)
}

func TestTopics(t *testing.T) {
	got := slices.Collect(Topics("/market/ticker", []string{"ETH-USDT", "BTC-USDT"}))
	assert.Equal(t, []string{"/market/ticker:ETH-USDT", "/market/ticker:BTC-USDT"}, got)

	got = slices.Collect(Topics("/account/balance", nil))
	assert.Equal(t, []string{"/account/balance"}, got)
}

func TestTopics_StopsEarly(t *testing.T) {
	var seen []string
	for tp := range Topics("/p", []string{"a", "b", "c"}) {
		seen = append(seen, tp)
		if len(seen) == 2 {
			break
		}
	}
	assert.Len(t, seen, 2)
}

func TestSubTopic(t *testing.T) {
	assert.Equal(t, "/market/ticker:ETH-USDT,BTC-USDT", SubTopic("/market/ticker", []string{"ETH-USDT", "BTC-USDT"}))
	assert.Equal(t, "/market/ticker:all", SubTopic("/market/ticker:all", nil))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		topic      string
		wantPrefix string
		wantArg    string
	}{
		{"/market/ticker:BTC-USDT", "/market/ticker", "BTC-USDT"},
		{"/market/ticker:all", "/market/ticker:all", ""},
		{"/account/balance", "/account/balance", ""},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			prefix, arg := Split(tt.topic)
			assert.Equal(t, tt.wantPrefix, prefix)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		args    []string
		wantErr bool
	}{
		{"valid", "/market/ticker", []string{"BTC-USDT"}, false},
		{"valid no args", "/market/ticker:all", nil, false},
		{"empty prefix", "", nil, true},
		{"separator in prefix", "/a@@b", nil, true},
		{"empty arg", "/p", []string{""}, true},
		{"comma in arg", "/p", []string{"a,b"}, true},
		{"colon in arg", "/p", []string{"a:b"}, true},
		{"separator in arg", "/p", []string{"a@@b"}, true},
		{"sentinel arg", "/p", []string{EmptyArgs}, true},
		{"repeated arg", "/p", []string{"a", "a"}, true},
		{"prefix ends in at", "/a@", []string{"b"}, true},
		{"prefix ends in at no args", "/a@", nil, true},
		{"colon in prefix", "/spot:v2/ticker", []string{"BTC-USDT"}, true},
		{"colon in prefix no args", "/spot:v2/ticker", nil, true},
		{"all prefix with args", "/market/ticker:all", []string{"BTC-USDT"}, true},
		{"double colon all prefix", "/a:b:all", nil, true},
		{"bare all prefix", ":all", nil, true},
		{"all arg", "/p", []string{AllSuffix}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.prefix, tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_AcceptedRoundTrip(t *testing.T) {
	cases := []struct {
		prefix string
		args   []string
	}{
		{"/market/ticker", []string{"ETH-USDT", "BTC-USDT"}},
		{"/market/ticker:all", nil},
		{"/a@b", []string{"@c"}},
		{"/account/balance", nil},
	}

	for _, c := range cases {
		t.Run(c.prefix, func(t *testing.T) {
			require.NoError(t, Validate(c.prefix, c.args))

			prefix, args, err := ParseID(BuildID(c.prefix, c.args))
			require.NoError(t, err)
			assert.Equal(t, c.prefix, prefix)
			assert.ElementsMatch(t, c.args, args)

			for wire := range Topics(c.prefix, c.args) {
				gotPrefix, _ := Split(wire)
				assert.Equal(t, c.prefix, gotPrefix, "wire topic %q", wire)
			}
		})
	}
}
