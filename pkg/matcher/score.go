// Package matcher scores and pairs reciprocal trade intents.
package matcher

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// Score weights
const (
	BaseScore       = 40
	RatioWeight     = 30
	TimeWeight      = 15
	ExactMatchBonus = 15
	MaxScore        = 100

	// TimeHorizon is the remaining lifetime at which an intent earns the full time score
	TimeHorizon = 24 * time.Hour
)

// FulfillTolerance is the largest relative amount difference a settleable pair may have
var FulfillTolerance = decimal.RequireFromString("0.01")

var (
	ratioWeight = decimal.NewFromInt(RatioWeight)
	timeWeight  = decimal.NewFromInt(TimeWeight)
	horizon     = decimal.NewFromInt(int64(TimeHorizon))
	one         = decimal.NewFromInt(1)
)

// IsReciprocal reports whether a offers what b wants and wants what b offers
func IsReciprocal(a, b models.Intent) bool {
	return a.FromToken == b.ToToken && a.ToToken == b.FromToken
}

// amounts parses the two amounts that meet in a trade between a and b:
// what a gives and what b asks for. ok is false when either is unusable.
func amounts(a, b models.Intent) (give, want decimal.Decimal, ok bool) {
	give, err := models.ParseAmount(a.FromAmount)
	if err != nil || !give.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	want, err = models.ParseAmount(b.ToAmount)
	if err != nil || !want.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	return give, want, true
}

// timeScore is the remaining lifetime of i as a fraction of TimeHorizon, capped at 1.
// It is negative once the intent has expired.
func timeScore(i models.Intent, now time.Time) decimal.Decimal {
	remaining := decimal.NewFromInt(int64(i.Expiry.Sub(now)))
	return decimal.Min(remaining.Div(horizon), one)
}

// Score computes the 0..100 compatibility of a taking b and whether the pair
// can be settled at now. It never fails: unusable amounts score a zero ratio
// and cannot be fulfilled.
func Score(a, b models.Intent, now time.Time) (int, bool) {
	if !IsReciprocal(a, b) {
		return 0, false
	}

	sum := decimal.NewFromInt(BaseScore)

	give, want, ok := amounts(a, b)
	if ok {
		ratio := decimal.Min(give, want).Div(decimal.Max(give, want))
		sum = sum.Add(ratio.Mul(ratioWeight))
	}

	sum = sum.Add(timeScore(a, now).Add(timeScore(b, now)).Mul(timeWeight))

	if ok && give.Equal(want) {
		sum = sum.Add(decimal.NewFromInt(ExactMatchBonus))
	}

	score := sum.Round(0).IntPart()
	if score < 0 {
		score = 0
	}
	if score > MaxScore {
		score = MaxScore
	}

	return int(score), ok && withinTolerance(give, want) && !a.IsExpired(now) && !b.IsExpired(now)
}

// CanFulfill reports whether a and b are reciprocal, within tolerance and both unexpired at now
func CanFulfill(a, b models.Intent, now time.Time) bool {
	_, canFulfill := Score(a, b, now)
	return canFulfill
}

func withinTolerance(give, want decimal.Decimal) bool {
	diff := give.Sub(want).Abs()
	return diff.Div(decimal.Max(give, want)).LessThanOrEqual(FulfillTolerance)
}
