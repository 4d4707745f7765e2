package sync

import (
	"time"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/models"
)

// Local slot hours per cadence. Slots anchor in the user's timezone so a
// twice-daily user gets a morning and an evening pull on their clock, not
// the server's.
var cadenceSlots = map[models.SyncCadence][]int{
	models.CadenceTwiceDaily: {7, 17},
	models.CadenceFourDaily:  {7, 11, 15, 19},
}

// ShouldSyncNow decides whether a (user, platform) pull is due. Hourly
// cadence fires on any tick past the minimum gap; slotted cadences fire
// once a local slot boundary has passed since the last sync. The minimum
// gap guards both against double-runs when ticks land close to a boundary.
func ShouldSyncNow(cadence models.SyncCadence, loc *time.Location, lastSync, now time.Time, cfg *config.SyncConfig) bool {
	if lastSync.IsZero() {
		return true
	}
	gap := now.Sub(lastSync)

	switch cadence {
	case models.CadenceHourly:
		return gap >= time.Duration(cfg.MinGapHourly)
	case models.CadenceFourDaily:
		return gap >= time.Duration(cfg.MinGapFourDaily) && slotPassed(cadence, loc, lastSync, now)
	default:
		return gap >= time.Duration(cfg.MinGapTwiceDaily) && slotPassed(models.CadenceTwiceDaily, loc, lastSync, now)
	}
}

// slotPassed reports whether the most recent slot boundary at or before
// now falls after the last sync.
func slotPassed(cadence models.SyncCadence, loc *time.Location, lastSync, now time.Time) bool {
	local := now.In(loc)
	slot, ok := latestSlot(cadenceSlots[cadence], local)
	if !ok {
		// Before the first slot of the day; the governing boundary is
		// yesterday's last slot.
		hours := cadenceSlots[cadence]
		prev := time.Date(local.Year(), local.Month(), local.Day(), hours[len(hours)-1], 0, 0, 0, loc).AddDate(0, 0, -1)
		return lastSync.Before(prev)
	}
	return lastSync.Before(slot)
}

func latestSlot(hours []int, local time.Time) (time.Time, bool) {
	for i := len(hours) - 1; i >= 0; i-- {
		slot := time.Date(local.Year(), local.Month(), local.Day(), hours[i], 0, 0, 0, local.Location())
		if !slot.After(local) {
			return slot, true
		}
	}
	return time.Time{}, false
}
