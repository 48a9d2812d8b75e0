package tracectx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const valid = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"

// TestParseValid verifies the scenario-7 traceparent parses to the exact
// ids.
func TestParseValid(t *testing.T) {
	ctx, err := Parse(valid)
	require.NoError(t, err)
	require.Equal(t, byte(0x00), ctx.Version)
	require.Equal(t, "0af7651916cd43dd8448eb211c80319c", ctx.String()[3:35])
	require.True(t, ctx.Sampled())
}

// TestParseRejectsMalformed covers the validation matrix: field count,
// lengths, hex, zero ids, version.
func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"wrong field count":  "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331",
		"short trace id":     "00-0af7651916cd43dd-b7ad6b7169203331-01",
		"short span id":      "00-0af7651916cd43dd8448eb211c80319c-b7ad6b71-01",
		"non-hex trace id":   "00-zzf7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		"non-hex span id":    "00-0af7651916cd43dd8448eb211c80319c-g7ad6b7169203331-01",
		"all-zero trace id":  "00-00000000000000000000000000000000-b7ad6b7169203331-01",
		"all-zero span id":   "00-0af7651916cd43dd8448eb211c80319c-0000000000000000-01",
		"nonzero version":    "01-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		"empty":              "",
		"extra field":        valid + "-extra",
	}
	for name, input := range cases {
		_, err := Parse(input)
		require.Error(t, err, name)
	}
}

// TestRoundTrip verifies Parse(String()) equality for well-formed values.
func TestRoundTrip(t *testing.T) {
	ctx, err := Parse(valid)
	require.NoError(t, err)
	again, err := Parse(ctx.String())
	require.NoError(t, err)
	require.Equal(t, ctx, again)
}

// TestFromEnvironmentPrecedence verifies explicit > TRACEPARENT >
// OTEL_TRACEPARENT.
func TestFromEnvironmentPrecedence(t *testing.T) {
	env := map[string]string{
		"TRACEPARENT":      "from-env",
		"OTEL_TRACEPARENT": "from-otel-env",
	}
	getenv := func(k string) string { return env[k] }

	got, ok := FromEnvironment("explicit", getenv)
	require.True(t, ok)
	require.Equal(t, "explicit", got)

	got, ok = FromEnvironment("", getenv)
	require.True(t, ok)
	require.Equal(t, "from-env", got)

	delete(env, "TRACEPARENT")
	got, ok = FromEnvironment("", getenv)
	require.True(t, ok)
	require.Equal(t, "from-otel-env", got)

	delete(env, "OTEL_TRACEPARENT")
	_, ok = FromEnvironment("", getenv)
	require.False(t, ok)
}

// TestLamportMonotonic verifies ticks strictly increase, including under
// concurrency.
func TestLamportMonotonic(t *testing.T) {
	var clock LamportClock
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tick := clock.Tick()
				mu.Lock()
				require.False(t, seen[tick], "duplicate tick %d", tick)
				seen[tick] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(8000), clock.Now())
}

// TestLamportObserve verifies receive events land after both clocks.
func TestLamportObserve(t *testing.T) {
	var clock LamportClock
	clock.Tick() // local = 1

	got := clock.Observe(10) // remote ahead
	require.Equal(t, uint64(11), got)

	got = clock.Observe(3) // remote behind
	require.Equal(t, uint64(12), got)
}
