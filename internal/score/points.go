package score

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	basePoints  = decimal.NewFromInt(100)
	bonusWindow = decimal.NewFromInt(10)
	bonusRate   = decimal.NewFromInt(10)
)

// Points returns the award for a correct answer given in timeTaken seconds: 100 plus a
// speed bonus of 10 points per second left in a 10 second window. The bonus never goes
// below zero, and a negative time counts as an instant answer.
func Points(timeTaken float64) decimal.Decimal {
	if math.IsNaN(timeTaken) || math.IsInf(timeTaken, 0) {
		return basePoints
	}

	t := decimal.NewFromFloat(math.Max(timeTaken, 0))
	bonus := bonusWindow.Sub(t).Mul(bonusRate)
	if bonus.IsNegative() {
		bonus = decimal.Zero
	}

	return basePoints.Add(bonus)
}
