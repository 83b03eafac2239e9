package expiry

import (
	"fmt"
	"strconv"
	"time"
)

// Card expiries are stored as YYMM and are valid through the end of that
// month, UTC.

// YYMM returns the expiry in YYMM for an issue date + validity years.
func YYMM(issue time.Time, years int) string {
	t := issue.UTC()
	y := (t.Year() + years) % 100
	m := int(t.Month())
	return fmt.Sprintf("%02d%02d", y, m)
}

// CardFace returns the expiry as MM/YY for display.
func CardFace(yymm string) string {
	if ValidateYYMM(yymm) != nil {
		return ""
	}
	return yymm[2:] + "/" + yymm[:2]
}

// EndOfMonth parses YYMM into the last instant of that month, UTC.
func EndOfMonth(yymm string) (time.Time, error) {
	if err := ValidateYYMM(yymm); err != nil {
		return time.Time{}, err
	}
	yy, _ := strconv.Atoi(yymm[:2])
	mm, _ := strconv.Atoi(yymm[2:])
	firstNext := time.Date(2000+yy, time.Month(mm), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond), nil
}

// IsExpired reports whether 'at' is strictly after the end of the YYMM month.
func IsExpired(yymm string, at time.Time) (bool, error) {
	end, err := EndOfMonth(yymm)
	if err != nil {
		return false, err
	}
	return at.UTC().After(end), nil
}

// ValidateYYMM checks the YYMM shape and a month in 01..12.
func ValidateYYMM(yymm string) error {
	if len(yymm) != 4 {
		return fmt.Errorf("expiry must be YYMM (4 digits)")
	}
	for i := 0; i < 4; i++ {
		if yymm[i] < '0' || yymm[i] > '9' {
			return fmt.Errorf("expiry must be digits: YYMM")
		}
	}
	mm := int(yymm[2]-'0')*10 + int(yymm[3]-'0')
	if mm < 1 || mm > 12 {
		return fmt.Errorf("expiry month must be 01..12")
	}
	return nil
}
