package server

import (
	"errors"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

var errInvalidTime = errors.New("invalid_time")

// parseOptionalTime accepts RFC3339 or a bare date. A bare date is read in
// loc and expands to the start or the last instant of that day.
func parseOptionalTime(value string, endOfDay bool, loc *time.Location) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if parsed, err := time.ParseInLocation(dateOnlyLayout, trimmed, loc); err == nil {
		if endOfDay {
			parsed = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return &parsed, nil
	}
	return nil, errInvalidTime
}

// parseRange reads a start/end pair, reporting the offending field.
func parseRange(startValue, endValue string, startField, endField string, loc *time.Location) (*time.Time, *time.Time, error) {
	start, err := parseOptionalTime(startValue, false, loc)
	if err != nil {
		return nil, nil, newValidationError(startField, "invalid_"+startField, "invalid "+startField)
	}
	end, err := parseOptionalTime(endValue, true, loc)
	if err != nil {
		return nil, nil, newValidationError(endField, "invalid_"+endField, "invalid "+endField)
	}
	return start, end, nil
}
