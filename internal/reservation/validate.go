package reservation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidEmail    = errors.New("malformed email address")
	ErrInvalidDateTime = errors.New("malformed date or time")
	ErrTargetInPast    = errors.New("target time is in the past")
)

// The CLI accepts unpadded fields such as 2022-1-1 and 9:30:00.
const (
	cliDateLayout  = "2006-1-2"
	cliClockLayout = "15:4:5"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z\d]+([-_.][A-Za-z\d]+)*@([A-Za-z\d]+[-.])+[A-Za-z\d]{2,4}$`)

func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// ParseTarget turns the optional CLI date (2006-01-02) and time (15:04:05)
// arguments into a target instant. With no date the zero time is returned so
// NewRequest falls back to the submission time. A date without a time keeps the
// current time of day, and only the date is required not to be in the past.
func ParseTarget(date, clock string, now time.Time) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		if clock != "" {
			return time.Time{}, fmt.Errorf("%w: time given without a date", ErrInvalidDateTime)
		}
		return time.Time{}, nil
	}

	loc := now.Location()
	if clock == "" {
		day, err := time.ParseInLocation(cliDateLayout, date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		if day.Before(today) {
			return time.Time{}, ErrTargetInPast
		}
		return time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, loc), nil
	}

	target, err := time.ParseInLocation(cliDateLayout+" "+cliClockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
	}
	if target.Before(now.Truncate(time.Second)) {
		return time.Time{}, ErrTargetInPast
	}
	return target, nil
}
