package domain

import (
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// RemainingDays returns the signed number of whole days from today's date
// to expiresAt. Both sides are reduced to calendar dates, so the time of day
// in today never shifts the result.
func RemainingDays(expiresAt string, today time.Time) (int, error) {
	raw := strings.TrimSpace(expiresAt)
	expiry, err := time.Parse(DateLayout, raw)
	if err != nil {
		return 0, &MalformedDateError{Value: expiresAt, Err: err}
	}

	y, m, d := today.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	// Both are UTC midnights; Unix seconds avoid the ~292 year limit of
	// time.Duration, so far-future expiries such as 9999-12-31 stay exact.
	return int((expiry.Unix() - start.Unix()) / secondsPerDay), nil
}
