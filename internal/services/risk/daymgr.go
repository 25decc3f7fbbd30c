package risk

import (
	"sync"
	"time"

	applogger "PerpGate/pkg/logger"
)

// DayManager resets daily risk counters when the trading day rolls over in the configured timezone.
type DayManager struct {
	loc *time.Location
	ctl *Controller
	l   *applogger.Logger

	mu      sync.Mutex
	dayOpen time.Time
}

func NewDayManager(ctl *Controller, tz string, l *applogger.Logger) *DayManager {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return &DayManager{loc: loc, ctl: ctl, l: l}
}

// TodayOpen returns midnight of now's day in the manager's timezone.
func (dm *DayManager) TodayOpen(now time.Time) time.Time {
	t := now.In(dm.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, dm.loc)
}

// RolloverIfNeeded resets the controller with equityNow on the first call of a
// new trading day and reports whether it did. The first call ever only seeds the day.
func (dm *DayManager) RolloverIfNeeded(now time.Time, equityNow float64) bool {
	open := dm.TodayOpen(now)

	dm.mu.Lock()
	prev := dm.dayOpen
	if prev.Equal(open) {
		dm.mu.Unlock()
		return false
	}
	dm.dayOpen = open
	dm.mu.Unlock()

	if prev.IsZero() {
		return false
	}
	dm.ctl.Reset(equityNow, "daily rollover")
	if dm.l != nil {
		dm.l.Info("new trading day started",
			applogger.String("day_open", open.Format(time.RFC3339)),
			applogger.Float64("equity_open", equityNow),
		)
	}
	return true
}
