package xbrl

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Period alias keywords. Any other non-empty alias is tried as a context id,
// then as "FYnnnn".
const (
	AliasLatest = "LATEST"
	AliasMRQ    = "MRQ"
)

var quarterEndMonth = map[string]time.Month{
	"Q1": time.March,
	"Q2": time.June,
	"Q3": time.September,
	"Q4": time.December,
}

// PreferredPeriodType returns the period type implied by an alias: fiscal
// year, quarter and MRQ aliases want durations. Anything else has no preference.
func PreferredPeriodType(alias string) PeriodType {
	a := strings.ToUpper(strings.TrimSpace(alias))
	if a == "" {
		return ""
	}
	if strings.HasPrefix(a, "FY") || a == AliasMRQ {
		return PeriodDuration
	}
	if _, ok := quarterEndMonth[a]; ok {
		return PeriodDuration
	}
	return ""
}

// ResolvePeriod maps a period alias to the matching context ids, newest first.
// Unknown or empty aliases resolve to an empty slice.
func (f *Filing) ResolvePeriod(alias string) []string {
	alias = strings.TrimSpace(alias)
	if alias == "" || len(f.Contexts) == 0 {
		return nil
	}
	if _, ok := f.Contexts[alias]; ok {
		return []string{alias}
	}

	upper := strings.ToUpper(alias)
	switch {
	case upper == AliasLatest:
		return f.resolveLatest()
	case upper == AliasMRQ:
		return f.resolveMRQ()
	}
	if month, ok := quarterEndMonth[upper]; ok {
		return f.collectDurations(func(end time.Time) bool { return end.Month() == month })
	}
	if strings.HasPrefix(upper, "FY") {
		year, err := strconv.Atoi(upper[2:])
		if err != nil || year <= 0 {
			return nil
		}
		return f.collectDurations(func(end time.Time) bool { return end.Year() == year })
	}
	return nil
}

func (f *Filing) resolveLatest() []string {
	var max *time.Time
	for _, c := range f.Contexts {
		d := c.SortDate()
		if d != nil && (max == nil || d.After(*max)) {
			max = d
		}
	}
	if max == nil {
		return nil
	}
	var ids []string
	for id, c := range f.Contexts {
		if d := c.SortDate(); d != nil && d.Equal(*max) {
			ids = append(ids, id)
		}
	}
	f.sortNewestFirst(ids)
	return ids
}

func (f *Filing) resolveMRQ() []string {
	var quarterLike, all []string
	for id, c := range f.Contexts {
		if !c.IsDuration() || c.SortDate() == nil {
			continue
		}
		all = append(all, id)
		if days, ok := c.DurationDays(); ok && days >= 70 && days <= 120 {
			quarterLike = append(quarterLike, id)
		}
	}
	ids := quarterLike
	if len(ids) == 0 {
		ids = all
	}
	f.sortNewestFirst(ids)
	return ids
}

func (f *Filing) collectDurations(match func(end time.Time) bool) []string {
	var ids []string
	for id, c := range f.Contexts {
		if !c.IsDuration() {
			continue
		}
		end := c.EndDate()
		if end != nil && match(*end) {
			ids = append(ids, id)
		}
	}
	f.sortNewestFirst(ids)
	return ids
}

// sortNewestFirst orders by sort date, then start date, both descending;
// undated contexts go last and ids break remaining ties.
func (f *Filing) sortNewestFirst(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		ci, cj := f.Contexts[ids[i]], f.Contexts[ids[j]]
		if c := compareDesc(ci.SortDate(), cj.SortDate()); c != 0 {
			return c < 0
		}
		if c := compareDesc(ci.Start, cj.Start); c != 0 {
			return c < 0
		}
		return ids[i] < ids[j]
	})
}

// compareDesc orders newer dates first and nil last.
func compareDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	}
	return 0
}
