package generic

import "time"

// =============================================================================
// PERIOD - Closed date range
// =============================================================================

// Period is a closed range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// YearPeriod returns Jan 1 - Dec 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// MonthStarts returns the first day of every month whose first day lies in the period.
func (p Period) MonthStarts() []TimePoint {
	var months []TimePoint
	current := StartOfMonth(p.Start.Year(), p.Start.Month())
	if current.Before(p.Start) {
		current = current.AddMonths(1)
	}
	for current.BeforeOrEqual(p.End) {
		months = append(months, current)
		current = current.AddMonths(1)
	}
	return months
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// VALIDITY INTERVAL - One episode during which a Soll bundle applied
// =============================================================================

// ValidityInterval holds the Soll values in effect for a subject during
// [ValidFrom, ValidTo]. ValidTo == nil means open-ended.
//
// INVARIANTS (per subject, see validation.go):
//   - ValidFrom is the first day of a month
//   - ValidTo, when set, is the last day of a month and after ValidFrom
//   - intervals are ordered by ValidFrom and never overlap
//   - at most one interval is open
type ValidityInterval struct {
	ID        IntervalID
	SubjectID SubjectID
	ValidFrom TimePoint
	ValidTo   *TimePoint
	Values    Values
	Note      string
}

// IsOpen reports whether the interval has no end date.
func (vi ValidityInterval) IsOpen() bool { return vi.ValidTo == nil }

// Covers returns true if t lies in [ValidFrom, ValidTo]. Both ends inclusive.
func (vi ValidityInterval) Covers(t TimePoint) bool {
	if t.Before(vi.ValidFrom) {
		return false
	}
	if vi.ValidTo != nil && t.After(*vi.ValidTo) {
		return false
	}
	return true
}

// CoversMonth applies the first-day rule: a month belongs to the interval
// that covers its first day.
func (vi ValidityInterval) CoversMonth(year int, month time.Month) bool {
	return vi.Covers(StartOfMonth(year, month))
}

// Intersects reports whether the interval shares at least one day with p.
func (vi ValidityInterval) Intersects(p Period) bool {
	if vi.ValidFrom.After(p.End) {
		return false
	}
	if vi.ValidTo != nil && vi.ValidTo.Before(p.Start) {
		return false
	}
	return true
}

// Clone returns a copy that shares no pointers with vi.
func (vi ValidityInterval) Clone() ValidityInterval {
	out := vi
	out.Values = vi.Values.Clone()
	if vi.ValidTo != nil {
		end := *vi.ValidTo
		out.ValidTo = &end
	}
	return out
}

// WithValidTo returns a copy of vi ending at end (nil reopens it).
func (vi ValidityInterval) WithValidTo(end *TimePoint) ValidityInterval {
	out := vi.Clone()
	if end == nil {
		out.ValidTo = nil
		return out
	}
	e := *end
	out.ValidTo = &e
	return out
}

// =============================================================================
// PURE LOOKUPS - Operate on a subject's ordered interval slice
// =============================================================================

// IntervalAt returns the interval covering t. Intervals must be sorted by ValidFrom.
func IntervalAt(intervals []ValidityInterval, t TimePoint) (ValidityInterval, bool) {
	// Scan from the newest: later intervals are queried more often.
	for i := len(intervals) - 1; i >= 0; i-- {
		iv := intervals[i]
		if iv.ValidFrom.After(t) {
			continue
		}
		if iv.Covers(t) {
			return iv, true
		}
		// Sorted and non-overlapping: nothing earlier can cover t.
		return ValidityInterval{}, false
	}
	return ValidityInterval{}, false
}

// LatestOf returns the interval with the greatest ValidFrom.
func LatestOf(intervals []ValidityInterval) (ValidityInterval, bool) {
	if len(intervals) == 0 {
		return ValidityInterval{}, false
	}
	latest := intervals[0]
	for _, iv := range intervals[1:] {
		if iv.ValidFrom.After(latest.ValidFrom) {
			latest = iv
		}
	}
	return latest, true
}

// Intersecting returns the intervals that share at least one day with p, in order.
func Intersecting(intervals []ValidityInterval, p Period) []ValidityInterval {
	var out []ValidityInterval
	for _, iv := range intervals {
		if iv.Intersects(p) {
			out = append(out, iv)
		}
	}
	return out
}

// Coverage summarizes which months of a year are covered by intervals.
type Coverage struct {
	Year       int
	FirstMonth time.Month // 0 when nothing is covered
	LastMonth  time.Month // 0 when nothing is covered
	Months     int
}

// CoverageOf applies the first-day rule to every month of year.
func CoverageOf(intervals []ValidityInterval, year int) Coverage {
	c := Coverage{Year: year}
	for _, start := range YearPeriod(year).MonthStarts() {
		if _, ok := IntervalAt(intervals, start); !ok {
			continue
		}
		if c.FirstMonth == 0 {
			c.FirstMonth = start.Month()
		}
		c.LastMonth = start.Month()
		c.Months++
	}
	return c
}

// MonthlySum adds up values.Total() for every month of year whose first day
// is covered. Used to derive the expected (Soll) cash flow of a year.
func MonthlySum(intervals []ValidityInterval, year int) Amount {
	total := ZeroAmount()
	for _, start := range YearPeriod(year).MonthStarts() {
		if iv, ok := IntervalAt(intervals, start); ok {
			total = total.Add(iv.Values.Total())
		}
	}
	return total
}
