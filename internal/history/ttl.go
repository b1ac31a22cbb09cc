package history

import (
	"fmt"
	"strings"
	"time"
)

const expiredLabel = "Expired"

// IsExpired reports whether a record created at ts is past retention at now.
func IsExpired(ts, now time.Time) bool {
	return !now.Before(ts.Add(Retention))
}

// RemainingTime renders the time left before expiry, e.g. "2d 3h 15m left".
// Zero days or hours are omitted; minutes are always shown.
func RemainingTime(ts, now time.Time) string {
	left := ts.Add(Retention).Sub(now)
	if left <= 0 {
		return expiredLabel
	}

	days := left / (24 * time.Hour)
	hours := (left % (24 * time.Hour)) / time.Hour
	minutes := (left % time.Hour) / time.Minute

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	fmt.Fprintf(&b, "%dm", minutes)
	return b.String() + " left"
}

// Live drops expired records, keeping order.
func Live(records []Record, now time.Time) []Record {
	ret := make([]Record, 0, len(records))
	for _, r := range records {
		if IsExpired(r.Timestamp, now) {
			continue
		}
		ret = append(ret, r)
	}
	return ret
}
