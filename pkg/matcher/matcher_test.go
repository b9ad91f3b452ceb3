package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/testutil"
)

func newMatcher() *Matcher {
	return New(&logger.EmptyLogger{})
}

func matchIDs(matches []models.IntentMatch) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.IntentA.ID+"/"+m.IntentB.ID)
	}
	return out
}

func TestFindMatches(t *testing.T) {
	now := testutil.BaseTime
	day := now.Add(48 * time.Hour)
	target := testutil.NewIntent("target", testutil.WithPair("NAM", "ATOM"), testutil.WithAmounts("100", "10"), testutil.WithExpiry(day))

	pool := []models.Intent{
		target,
		testutil.NewIntent("half", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "200"), testutil.WithExpiry(day)),
		testutil.NewIntent("exact", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"), testutil.WithExpiry(day)),
		testutil.NewIntent("same-direction", testutil.WithPair("NAM", "ATOM"), testutil.WithExpiry(day)),
		testutil.NewIntent("matched", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"), testutil.WithExpiry(day), testutil.WithStatus(models.StatusMatched)),
		testutil.NewIntent("stale", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"), testutil.WithExpiry(now)),
		testutil.NewIntent("exact-2", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"), testutil.WithExpiry(day)),
	}

	m := newMatcher()
	matches := m.FindMatches(target, pool, now)
	assert.Equal(t, []string{"target/exact", "target/exact-2", "target/half"}, matchIDs(matches))
	assert.Equal(t, 100, matches[0].CompatibilityScore)
	assert.True(t, matches[0].CanFulfill)
	assert.False(t, matches[2].CanFulfill, "reciprocal but out of tolerance is still listed")

	best, ok := m.FindBestMatch(target, pool, now)
	require.True(t, ok)
	assert.Equal(t, "exact", best.IntentB.ID)

	t.Run("expired target", func(t *testing.T) {
		expired := target
		expired.Expiry = now.Add(-time.Second)
		assert.Empty(t, m.FindMatches(expired, pool, now))
		_, ok := m.FindBestMatch(expired, pool, now)
		assert.False(t, ok)
	})

	t.Run("pool is not mutated", func(t *testing.T) {
		snapshot := make([]models.Intent, len(pool))
		copy(snapshot, pool)
		m.FindMatches(target, pool, now)
		m.AllPairs(pool, now)
		assert.Equal(t, snapshot, pool)
	})
}

func TestAllPairs(t *testing.T) {
	now := testutil.BaseTime
	day := now.Add(48 * time.Hour)
	hour := now.Add(time.Hour)

	pool := []models.Intent{
		testutil.NewIntent("a", testutil.WithPair("NAM", "ATOM"), testutil.WithAmounts("100", "10"), testutil.WithExpiry(hour)),
		testutil.NewIntent("b", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"), testutil.WithExpiry(day)),
		testutil.NewIntent("c", testutil.WithPair("OSMO", "USDC"), testutil.WithAmounts("5", "5"), testutil.WithExpiry(day)),
		testutil.NewIntent("d", testutil.WithPair("USDC", "OSMO"), testutil.WithAmounts("5", "5"), testutil.WithExpiry(day)),
		testutil.NewIntent("e", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "150"), testutil.WithExpiry(day)),
		testutil.NewIntent("f", testutil.WithPair("NAM", "ATOM"), testutil.WithAmounts("100", "10"), testutil.WithExpiry(now)),
		testutil.NewIntent("g", testutil.WithPair("USDC", "OSMO"), testutil.WithAmounts("5", "5"), testutil.WithExpiry(day), testutil.WithStatus(models.StatusFulfilled)),
	}

	pairs := newMatcher().AllPairs(pool, now)
	// c/d scores 100, a/b 40+30+(1/24+1)*15+15 = 100.6 -> 100; ties keep scan order.
	assert.Equal(t, []string{"a/b", "c/d"}, matchIDs(pairs))
	for _, p := range pairs {
		assert.True(t, p.CanFulfill)
		assert.False(t, p.IntentA.IsExpired(now))
		assert.False(t, p.IntentB.IsExpired(now))
	}
}

func TestAllPairsReportsEachPairOnce(t *testing.T) {
	now := testutil.BaseTime
	day := now.Add(48 * time.Hour)
	a := testutil.NewIntent("a", testutil.WithPair("NAM", "ATOM"), testutil.WithAmounts("100", "10"), testutil.WithExpiry(day))
	b := testutil.NewIntent("b", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"), testutil.WithExpiry(day))

	// The same records appearing twice must still yield one pair.
	for _, pool := range [][]models.Intent{{a, b}, {b, a}, {a, b, a, b}, {b, b, a}} {
		pairs := newMatcher().AllPairs(pool, now)
		require.Len(t, pairs, 1, "pool %v", pool)
	}
}

func TestAllPairsMatchesQuadraticScan(t *testing.T) {
	now := testutil.BaseTime
	symbols := []string{"NAM", "ATOM", "OSMO", "USDC"}
	amounts := []string{"10", "10.05", "11", "20"}

	var pool []models.Intent
	for i := 0; i < 40; i++ {
		from := symbols[i%4]
		to := symbols[(i/4+1+i%4)%4]
		if from == to {
			to = symbols[(i+1)%4]
		}
		pool = append(pool, testutil.NewIntent(fmt.Sprintf("i%02d", i),
			testutil.WithPair(from, to),
			testutil.WithAmounts(amounts[i%len(amounts)], amounts[(i/3)%len(amounts)]),
			testutil.WithExpiry(now.Add(time.Duration(i)*time.Hour)),
		))
	}

	var want []models.IntentMatch
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if score, ok := Score(pool[i], pool[j], now); ok {
				want = append(want, models.IntentMatch{IntentA: pool[i], IntentB: pool[j], CompatibilityScore: score, CanFulfill: true})
			}
		}
	}
	rank(want)

	got := newMatcher().AllPairs(pool, now)
	require.NotEmpty(t, want)
	assert.Equal(t, matchIDs(want), matchIDs(got))
}
