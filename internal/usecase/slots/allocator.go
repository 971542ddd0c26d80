package slots

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"post-planner-bot/internal/domain"
)

// WindowRule binds a set of weekdays to one local-time window.
type WindowRule struct {
	Days  []time.Weekday
	Start int // minutes from midnight, inclusive
	End   int // minutes from midnight, exclusive
}

// Config holds the allocation rules. All windows are evaluated in the
// reference zone; a post's own timezone is used for display only.
type Config struct {
	Buckets  map[domain.Priority][]WindowRule
	Step     time.Duration
	Location *time.Location
	// Horizon bounds the forward day-by-day search.
	HorizonDays int
}

// Allocator computes non-colliding publish instants. It is a pure
// first-fit search: deterministic and reproducible for a given
// taken-slot set, not globally optimal.
type Allocator struct {
	cfg Config
}

// NewAllocator creates an allocator. Zero config fields get defaults.
func NewAllocator(cfg Config) *Allocator {
	if cfg.Step <= 0 {
		cfg.Step = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 60
	}
	return &Allocator{cfg: cfg}
}

// TakenSet indexes occupied instants with minute precision.
type TakenSet map[int64]struct{}

// NewTakenSet builds a set from the scheduled instants.
func NewTakenSet(instants ...time.Time) TakenSet {
	s := make(TakenSet, len(instants))
	for _, t := range instants {
		s.Add(t)
	}
	return s
}

// Add marks an instant as occupied.
func (s TakenSet) Add(t time.Time) {
	s[t.UTC().Truncate(time.Minute).Unix()] = struct{}{}
}

// Has reports whether the instant is occupied.
func (s TakenSet) Has(t time.Time) bool {
	_, ok := s[t.UTC().Truncate(time.Minute).Unix()]
	return ok
}

// NextSlot returns the earliest free instant strictly after now that
// falls inside the priority bucket's windows and is absent from taken.
func (a *Allocator) NextSlot(now time.Time, p domain.Priority, taken TakenSet) (time.Time, error) {
	rules, ok := a.cfg.Buckets[p]
	if !ok || len(rules) == 0 {
		return time.Time{}, domain.NewValidationError("unknown priority %q, expected P1, P2 or P3", string(p))
	}
	local := now.In(a.cfg.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.cfg.Location)
	for i := 0; i < a.cfg.HorizonDays; i++ {
		for _, candidate := range a.dayCandidates(day, rules) {
			if !candidate.After(now) {
				continue
			}
			if taken.Has(candidate) {
				continue
			}
			return candidate, nil
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("no free %s slot within %d days", p, a.cfg.HorizonDays)
}

// AllocateBatch allocates n sequential slots against a running taken
// set, so posts scheduled in one batch never collide with each other.
// Returned instants are strictly increasing.
func (a *Allocator) AllocateBatch(now time.Time, p domain.Priority, taken TakenSet, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		slot, err := a.NextSlot(now, p, taken)
		if err != nil {
			return nil, err
		}
		taken.Add(slot)
		out = append(out, slot)
	}
	return out, nil
}

// dayCandidates enumerates the day's window instants in ascending
// order, stepping at the configured granularity. Candidates are built
// from wall-clock components, not offsets from midnight, so a DST
// transition earlier in the day cannot shift them out of the window.
func (a *Allocator) dayCandidates(day time.Time, rules []WindowRule) []time.Time {
	var out []time.Time
	weekday := day.Weekday()
	stepMin := int(a.cfg.Step / time.Minute)
	if stepMin < 1 {
		stepMin = 1
	}
	for _, rule := range rules {
		if !containsDay(rule.Days, weekday) {
			continue
		}
		for m := rule.Start; m < rule.End; m += stepMin {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, a.cfg.Location)
			// A wall-clock time skipped by a DST transition normalizes
			// to an instant outside the window.
			if mins := candidate.Hour()*60 + candidate.Minute(); mins < rule.Start || mins >= rule.End {
				continue
			}
			out = append(out, candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ResolveExplicit validates a user-supplied date/time in the given
// location. Past instants are rejected with ErrScheduleInPast.
func ResolveExplicit(now time.Time, format, value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	at, err := time.ParseInLocation(format, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError("could not parse %q, expected format %s", value, format)
	}
	if !at.After(now) {
		return time.Time{}, domain.ErrScheduleInPast
	}
	return at, nil
}

// Delay converts an instant into the dispatcher delay.
func Delay(now, at time.Time) time.Duration {
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}
