package security

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidClock = errors.New("invalid HH:MM clock value")

// Clock is a time of day stored as minutes since midnight.
type Clock int

// ParseClock accepts exactly two-digit hours and minutes, "HH:MM".
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || !twoDigits(hh) || !twoDigits(mm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h := int(hh[0]-'0')*10 + int(hh[1]-'0')
	m := int(mm[0]-'0')*10 + int(mm[1]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(h*60 + m), nil
}

func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// InWindow reports whether m falls in [start, end). A window whose start is
// after its end wraps past midnight.
func InWindow(m, start, end Clock) bool {
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// IsWithinNightMode evaluates now in its own location against the window.
func IsWithinNightMode(now time.Time, start, end Clock) bool {
	return InWindow(ClockOf(now), start, end)
}
