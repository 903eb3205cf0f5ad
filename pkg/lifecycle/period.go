package lifecycle

import "time"

// advancePeriod moves a period boundary forward by one billing cycle,
// preserving the anniversary day-of-month across months. If the target day
// doesn't exist in the result month (e.g. Jan 31 + 1 month), the last day of
// that month is used.
func advancePeriod(t time.Time, cycle BillingCycle) time.Time {
	if cycle == CycleYearly {
		return addMonthsSafe(t, 12)
	}
	return addMonthsSafe(t, 1)
}

// addMonthsSafe adds months to a time, handling month-end edge cases.
// Standard Go pattern: use time.Date with day=1 to avoid overflow, then clip
// to the last day of the target month.
func addMonthsSafe(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetDate := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	// day=0 of month+1 is the last day of month.
	lastDay := time.Date(targetDate.Year(), targetDate.Month()+1, 0, 0, 0, 0, 0, targetDate.Location()).Day()

	actualDay := day
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(targetDate.Year(), targetDate.Month(), actualDay, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
