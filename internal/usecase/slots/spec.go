package slots

import (
	"fmt"
	"strings"
	"time"

	"post-planner-bot/internal/domain"
)

// ParseBucketSpec parses a window specification of the form
// "Sat,Sun 08:00-10:00; Fri,Mon 11:30-13:00" into window rules.
func ParseBucketSpec(spec string) ([]WindowRule, error) {
	var rules []WindowRule
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return nil, fmt.Errorf("bad window rule %q, expected \"Days HH:MM-HH:MM\"", part)
		}
		days, err := parseDays(fields[0])
		if err != nil {
			return nil, err
		}
		start, end, err := parseRange(fields[1])
		if err != nil {
			return nil, err
		}
		rules = append(rules, WindowRule{Days: days, Start: start, End: end})
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("empty window spec")
	}
	return rules, nil
}

// ParseBuckets parses the three per-priority specs into a bucket map.
func ParseBuckets(p1, p2, p3 string) (map[domain.Priority][]WindowRule, error) {
	buckets := make(map[domain.Priority][]WindowRule, 3)
	for _, entry := range []struct {
		p    domain.Priority
		spec string
	}{
		{domain.PriorityP1, p1},
		{domain.PriorityP2, p2},
		{domain.PriorityP3, p3},
	} {
		rules, err := ParseBucketSpec(entry.spec)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", entry.p, err)
		}
		buckets[entry.p] = rules
	}
	return buckets, nil
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseDays(spec string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, name := range strings.Split(spec, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if len(name) > 3 {
			name = name[:3]
		}
		day, ok := dayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		days = append(days, day)
	}
	return days, nil
}

func parseRange(spec string) (int, int, error) {
	bounds := strings.SplitN(spec, "-", 2)
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("bad time range %q", spec)
	}
	start, err := parseMinutes(bounds[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseMinutes(bounds[1])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("time range %q ends before it starts", spec)
	}
	return start, end, nil
}

func parseMinutes(spec string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("bad time %q: %w", spec, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
