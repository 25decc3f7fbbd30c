package risk

import "PerpGate/internal/domain/models"

// PriceAtROI returns the price at which a position on side reaches roi percent
// (leveraged). Negative roi gives a loss bound.
//
//	price = entry * (1 ± (roi/leverage)/100)
func PriceAtROI(side models.Side, entry, roi, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	move := roi / leverage / 100
	if side == models.SideShort {
		return entry * (1 - move)
	}
	return entry * (1 + move)
}

// StopLossPrice is the loss bound stopROI percent away from entry.
func StopLossPrice(side models.Side, entry, stopROI, leverage float64) float64 {
	return PriceAtROI(side, entry, -stopROI, leverage)
}

// TakeProfitPrice is the profit bound targetROI percent away from entry.
func TakeProfitPrice(side models.Side, entry, targetROI, leverage float64) float64 {
	return PriceAtROI(side, entry, targetROI, leverage)
}

// MoreFavorable reports whether proposed strictly improves on existing for side.
// A nil existing level is always improved on. Levels never move backwards.
func MoreFavorable(side models.Side, existing *float64, proposed float64) bool {
	if proposed <= 0 {
		return false
	}
	if existing == nil || *existing <= 0 {
		return true
	}
	if side == models.SideShort {
		return proposed < *existing
	}
	return proposed > *existing
}

// Levels returns the initial stop and target for a new entry.
func (c *Controller) Levels(side models.Side, entry, leverage float64) (stop, target float64) {
	return StopLossPrice(side, entry, c.cfg.StopLossROI, leverage),
		TakeProfitPrice(side, entry, c.cfg.TakeProfitROI, leverage)
}

// BreakEvenPrice is the stop that locks in the small buffer ROI instead of a full target.
func (c *Controller) BreakEvenPrice(side models.Side, entry, leverage float64) float64 {
	return PriceAtROI(side, entry, c.cfg.BreakEvenBufferROI, leverage)
}

// TrailLevels proposes a trailed stop and target for a position currently at roi.
// The stop sits one trail distance behind roi and the target one distance ahead.
func (c *Controller) TrailLevels(side models.Side, entry, leverage, roi float64) (stop, target float64) {
	d := c.cfg.TrailDistanceROI
	return PriceAtROI(side, entry, roi-d, leverage), PriceAtROI(side, entry, roi+d, leverage)
}
