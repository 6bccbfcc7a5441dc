package domain

import "time"

type BillingInterval string

const (
	IntervalDaily   BillingInterval = "daily"
	IntervalWeekly  BillingInterval = "weekly"
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

func (i BillingInterval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return true
	default:
		return false
	}
}

// AddInterval advances t by count intervals. Monthly and yearly steps land on
// anchorDay clamped to the target month's length, so a Jan 31 anchor yields
// Feb 28 and then Mar 31. anchorDay <= 0 uses t's own day.
func AddInterval(t time.Time, interval BillingInterval, count int, anchorDay int) (time.Time, error) {
	if count <= 0 {
		return t, ErrInvalidIntervalCount
	}
	switch interval {
	case IntervalDaily:
		return t.AddDate(0, 0, count), nil
	case IntervalWeekly:
		return t.AddDate(0, 0, 7*count), nil
	case IntervalMonthly:
		return addMonthsClamped(t, count, anchorDay), nil
	case IntervalYearly:
		return addMonthsClamped(t, 12*count, anchorDay), nil
	default:
		return t, ErrInvalidInterval
	}
}

func addMonthsClamped(t time.Time, months int, anchorDay int) time.Time {
	if anchorDay <= 0 {
		anchorDay = t.Day()
	}
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := min(anchorDay, DaysIn(first.Year(), first.Month()))
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysIn returns the number of days in month of year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
