package matcher

import (
	"sort"
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// Matcher ranks counter-intents over a caller supplied snapshot. It holds no
// intent state and never mutates the pool.
type Matcher struct {
	logger logger.Logger
}

// New creates a matcher
func New(logger logger.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// FindMatches scores every active, unexpired candidate of pool against target and
// returns the reciprocal ones, best first. Equal scores keep pool order.
func (m *Matcher) FindMatches(target models.Intent, pool []models.Intent, now time.Time) []models.IntentMatch {
	matches := make([]models.IntentMatch, 0)
	if target.IsExpired(now) {
		m.logger.DebugWithComponent(logger.Matcher, "Skipping target %s: expired at %s", target.ID, target.Expiry.Format(time.RFC3339))
		return matches
	}

	for _, candidate := range pool {
		if candidate.ID == target.ID {
			continue
		}
		if candidate.Status != models.StatusActive {
			continue
		}
		if candidate.IsExpired(now) {
			m.logger.DebugWithComponent(logger.Matcher, "Skipping candidate %s: expired but not yet swept", candidate.ID)
			continue
		}
		if !IsReciprocal(target, candidate) {
			continue
		}

		score, canFulfill := Score(target, candidate, now)
		matches = append(matches, models.IntentMatch{
			IntentA:            target,
			IntentB:            candidate,
			CompatibilityScore: score,
			CanFulfill:         canFulfill,
		})
	}

	rank(matches)
	return matches
}

// FindBestMatch returns the highest ranked match for target, if any
func (m *Matcher) FindBestMatch(target models.Intent, pool []models.Intent, now time.Time) (models.IntentMatch, bool) {
	matches := m.FindMatches(target, pool, now)
	if len(matches) == 0 {
		return models.IntentMatch{}, false
	}
	return matches[0], true
}

type bucketKey struct {
	from string
	to   string
}

// AllPairs returns every fulfillable unordered pair of active intents in pool
// exactly once, best first. Candidates are looked up by token pair, and pairs are
// produced in the same order a scan over all i < j would produce them.
func (m *Matcher) AllPairs(pool []models.Intent, now time.Time) []models.IntentMatch {
	buckets := make(map[bucketKey][]int)
	for idx, intent := range pool {
		if intent.Status != models.StatusActive {
			continue
		}
		key := bucketKey{from: intent.FromToken, to: intent.ToToken}
		buckets[key] = append(buckets[key], idx)
	}

	seen := make(map[string]struct{})
	matches := make([]models.IntentMatch, 0)
	for i, a := range pool {
		if a.Status != models.StatusActive {
			continue
		}
		counter := buckets[bucketKey{from: a.ToToken, to: a.FromToken}]
		// skip candidates at or before i
		start := sort.SearchInts(counter, i+1)
		for _, j := range counter[start:] {
			b := pool[j]
			if a.ID == b.ID {
				continue
			}
			key := pairKey(a.ID, b.ID)
			if _, dup := seen[key]; dup {
				continue
			}

			score, canFulfill := Score(a, b, now)
			if !canFulfill {
				continue
			}
			seen[key] = struct{}{}
			matches = append(matches, models.IntentMatch{
				IntentA:            a,
				IntentB:            b,
				CompatibilityScore: score,
				CanFulfill:         true,
			})
		}
	}

	rank(matches)
	m.logger.DebugWithComponent(logger.Matcher, "Found %d fulfillable pairs among %d intents", len(matches), len(pool))
	return matches
}

// pairKey identifies an unordered pair of intents
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// rank sorts matches by descending score, keeping the original order of ties
func rank(matches []models.IntentMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CompatibilityScore > matches[j].CompatibilityScore
	})
}
