// Package timewindow evaluates day-of-week and time-of-day restrictions.
//
// Restrictions on a rule combine disjunctively: the request is admitted when
// any enabled entry permits it, so "weekdays 9-5" and "weekends 10-2" can
// coexist on one rule. Evaluation is UTC; a per-entry timezone is stored but
// not applied in v1.
package timewindow

import (
	"strconv"
	"strings"
	"time"

	"github.com/half-blood-labs/route-shield/internal/logging"
	"github.com/half-blood-labs/route-shield/internal/model"
)

// Evaluate decides whether now falls inside any of the rule's restrictions.
// An empty list is permissive.
func Evaluate(restrictions []model.TimeRestriction, now time.Time) model.Reason {
	enabled := 0
	for _, r := range restrictions {
		if !r.Enabled {
			continue
		}
		enabled++
		if Permits(r, now) {
			return model.ReasonAllowed
		}
	}
	if enabled == 0 {
		return model.ReasonAllowed
	}
	return model.ReasonTimeRestricted
}

// Permits reports whether a single restriction admits now. The day and time
// components must both pass; either is permissive when unset.
func Permits(r model.TimeRestriction, now time.Time) bool {
	now = now.UTC()

	if len(r.DaysOfWeek) > 0 && !dayPermitted(r.DaysOfWeek, now) {
		return false
	}

	if r.StartTime == "" || r.EndTime == "" {
		return true
	}
	start, ok := parseClock(r.StartTime)
	if !ok {
		logging.Warnw("unparseable time restriction start, treating as permissive",
			"restriction_id", r.ID, "start_time", r.StartTime)
		return true
	}
	end, ok := parseClock(r.EndTime)
	if !ok {
		logging.Warnw("unparseable time restriction end, treating as permissive",
			"restriction_id", r.ID, "end_time", r.EndTime)
		return true
	}

	cur := now.Hour()*3600 + now.Minute()*60 + now.Second()
	switch {
	case start < end:
		return cur >= start && cur <= end
	case start > end:
		// window wraps midnight
		return cur >= start || cur <= end
	default:
		return true
	}
}

// dayPermitted checks now's ISO day (Mon=1 .. Sun=7) against the list.
func dayPermitted(days []int, now time.Time) bool {
	day := int(now.Weekday())
	if day == 0 {
		day = 7
	}
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return h*3600 + m*60 + sec, true
}
