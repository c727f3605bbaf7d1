package daemon

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultInterval is used when a schedule cannot be interpreted.
const DefaultInterval = 30 * time.Minute

var everyNMinutes = regexp.MustCompile(`^\*/(\d+)`)

// ParseSchedule interprets the minute field of a cron expression of the
// form "*/N ...", returning an interval of N minutes. Anything else,
// including N of zero, yields DefaultInterval.
func ParseSchedule(schedule string) time.Duration {
	m := everyNMinutes.FindStringSubmatch(schedule)
	if m == nil {
		return DefaultInterval
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultInterval
	}
	return time.Duration(n) * time.Minute
}
