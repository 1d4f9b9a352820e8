package helper

import "time"

// GetTimestamp returns the current unix timestamp in seconds.
func GetTimestamp() int64 {
	return time.Now().Unix()
}

// NextHourBoundary returns the next top-of-hour instant after now. Quota
// exhaustion markers and the process-wide exclusion set both reset there.
func NextHourBoundary(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}
