package query

const secondsPerYear = 60 * 60 * 24 * 365

// TimeFilter restricts mentions by timestamp. Any combination of the three
// modes may be enabled; the predicate is the OR of the enabled modes. With no
// mode enabled the filter is inactive and postings are used unfiltered, which
// is not the same as an always-true predicate when mentions lack timestamps.
type TimeFilter struct {
	Last5y  bool
	Last10y bool
	Custom  bool

	// Custom range bounds, Unix seconds; either side may be open.
	HasMin bool
	Min    int64
	HasMax bool
	Max    int64
}

// Active reports whether any mode is enabled.
func (f *TimeFilter) Active() bool {
	return f != nil && (f.Last5y || f.Last10y || f.Custom)
}

// Matches evaluates the predicate for a mention timestamp, relative to now.
func (f *TimeFilter) Matches(tsp, now int64) bool {
	if f.Last5y && tsp >= now-5*secondsPerYear {
		return true
	}
	if f.Last10y && tsp >= now-10*secondsPerYear {
		return true
	}
	if f.Custom {
		switch {
		case f.HasMin && f.HasMax:
			return tsp >= f.Min && tsp <= f.Max
		case f.HasMin:
			return tsp >= f.Min
		case f.HasMax:
			return tsp <= f.Max
		}
	}
	return false
}
