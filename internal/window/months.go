package window

import "time"

// AddMonths adds n calendar months to t, clamping the day to the last day of
// the resulting month (Jan 31 + 1 month is Feb 28 or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// MonthsElapsed returns the whole calendar months from ref to now. It is
// negative when ref is after now.
func MonthsElapsed(ref, now time.Time) int {
	if ref.After(now) {
		return -MonthsElapsed(now, ref)
	}
	now = now.In(ref.Location())
	ry, rm, _ := ref.Date()
	ny, nm, _ := now.Date()
	months := (ny-ry)*12 + int(nm-rm)
	for months > 0 && AddMonths(ref, months).After(now) {
		months--
	}
	return months
}

func daysIn(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
